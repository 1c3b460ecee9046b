// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"math/big"
	"testing"
)

func TestModExpUint(t *testing.T) {
	testCases := []struct {
		base, e, p uint64
	}{
		{2, 10, 17},
		{3, 0, 97},
		{0, 5, 257},
		{12345, 65535, 65537},
		{1<<62 + 7, 1<<40 + 3, 0xffffffff00000001},
	}

	for _, tc := range testCases {
		want := new(big.Int).Exp(
			new(big.Int).SetUint64(tc.base),
			new(big.Int).SetUint64(tc.e),
			new(big.Int).SetUint64(tc.p),
		).Uint64()
		if got := ModExpUint(tc.base, tc.e, tc.p); got != want {
			t.Errorf("ModExpUint(%d, %d, %d) = %d, want %d", tc.base, tc.e, tc.p, got, want)
		}
	}
}

func TestFermat(t *testing.T) {
	for _, p := range []uint64{3, 17, 97, 257} {
		for a := uint64(1); a < p; a++ {
			if ModExpUint(a, p-1, p) != 1 {
				t.Fatalf("%d^(%d-1) != 1 mod %d", a, p, p)
			}
		}
	}
}

func TestReduce(t *testing.T) {
	if got := Reduce(-1, 17); got != 16 {
		t.Errorf("Reduce(-1, 17) = %d, want 16", got)
	}
	if got := Reduce(int64(-34), 17); got != 0 {
		t.Errorf("Reduce(-34, 17) = %d, want 0", got)
	}
	if got := Reduce(uint32(20), 17); got != 3 {
		t.Errorf("Reduce(20, 17) = %d, want 3", got)
	}
}

func TestModSum(t *testing.T) {
	if got := ModSum([]uint64{16, 16, 16}, 17); got != 14 {
		t.Errorf("ModSum = %d, want 14", got)
	}
	if got := ModSum(nil, 17); got != 0 {
		t.Errorf("ModSum(nil) = %d, want 0", got)
	}
}

func TestIsPrime(t *testing.T) {
	primes := []uint64{2, 3, 5, 17, 97, 257, 65537, 0xffffffff00000001}
	for _, p := range primes {
		if !IsPrime(p) {
			t.Errorf("IsPrime(%d) = false", p)
		}
	}
	composites := []uint64{0, 1, 4, 15, 561, 65535, 65536 * 65537}
	for _, c := range composites {
		if IsPrime(c) {
			t.Errorf("IsPrime(%d) = true", c)
		}
	}
}
