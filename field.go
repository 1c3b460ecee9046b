// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Reduce maps any integer into [0, p).
func Reduce[T constraints.Integer](v T, p uint64) uint64 {
	if v < 0 {
		m := uint64(-(int64(v) % int64(p)))
		if m == 0 {
			return 0
		}
		return p - m
	}
	return uint64(v) % p
}

// MulMod returns a*b mod p without overflow.
func MulMod(a, b, p uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	_, rem := bits.Div64(hi%p, lo, p)
	return rem
}

// AddMod returns a+b mod p for a, b < p.
func AddMod(a, b, p uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 || s >= p {
		s -= p
	}
	return s
}

// ModExpUint returns base^e mod p.
func ModExpUint(base, e, p uint64) uint64 {
	if p == 1 {
		return 0
	}
	result := uint64(1)
	base %= p
	for e > 0 {
		if e&1 == 1 {
			result = MulMod(result, base, p)
		}
		e >>= 1
		if e > 0 {
			base = MulMod(base, base, p)
		}
	}
	return result
}

// ModSum returns the sum of values mod p.
func ModSum(values []uint64, p uint64) uint64 {
	var s uint64
	for _, v := range values {
		s = AddMod(s, v%p, p)
	}
	return s
}

// IsPrime reports whether n is prime. Deterministic Miller-Rabin for 64-bit
// inputs.
func IsPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	for _, sp := range []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37} {
		if n%sp == 0 {
			return n == sp
		}
	}

	d := n - 1
	r := 0
	for d&1 == 0 {
		d >>= 1
		r++
	}

witness:
	for _, a := range []uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37} {
		x := ModExpUint(a, d, n)
		if x == 1 || x == n-1 {
			continue
		}
		for i := 1; i < r; i++ {
			x = MulMod(x, x, n)
			if x == n-1 {
				continue witness
			}
		}
		return false
	}
	return true
}
