// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/luxfi/lattice/v7/schemes/bgv"
	"github.com/stretchr/testify/require"
)

func newTestContext(t testing.TB, lit ParametersLiteral) *Context {
	t.Helper()
	kc, err := NewContextFromLiteral(lit)
	if err != nil {
		t.Fatalf("failed to create context: %v", err)
	}
	return kc
}

// transparent returns a degree-1 ciphertext whose c1 is zero.
func transparent(kc *Context) *Ciphertext {
	ct := bgv.NewCiphertext(kc.Parameters().Parameters, 1, kc.Parameters().MaxLevel())
	return WrapCiphertext(ct, kc.Placement())
}

func TestParameters(t *testing.T) {
	testCases := []struct {
		name  string
		lit   ParametersLiteral
		p     uint64
		slots int
	}{
		{"T17", PN12QP275T17, 17, 8},
		{"T97", PN12QP385T97, 97, 16},
		{"T257", PN12QP495T257, 257, 128},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			params, err := NewParametersFromLiteral(tc.lit)
			require.NoError(t, err)
			require.Equal(t, tc.p, params.Modulus())
			require.Equal(t, tc.slots, params.Slots())
		})
	}

	t.Run("CompositeModulus", func(t *testing.T) {
		lit := PN12QP275T17
		lit.PlaintextModulus = 15
		_, err := NewParametersFromLiteral(lit)
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("Presets", func(t *testing.T) {
		for name, lit := range Presets {
			require.True(t, IsPrime(lit.PlaintextModulus), name)
		}
	})
}

func TestContext(t *testing.T) {
	kc := newTestContext(t, PN12QP275T17)
	p := kc.Modulus()

	t.Run("EncryptDecrypt", func(t *testing.T) {
		vals := []uint64{0, 1, 2, 3, 13, 14, 15, 16}
		ct, err := kc.EncryptValues(vals)
		require.NoError(t, err)

		got, err := kc.DecryptValues(ct)
		require.NoError(t, err)
		if diff := cmp.Diff(vals, got); diff != "" {
			t.Fatalf("decrypt mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("EncryptReducesModP", func(t *testing.T) {
		ct, err := kc.Encrypt(p + 3)
		require.NoError(t, err)
		v, err := kc.Decrypt(ct)
		require.NoError(t, err)
		require.Equal(t, uint64(3), v)
	})

	t.Run("TooManyValues", func(t *testing.T) {
		_, err := kc.EncryptValues(make([]uint64, kc.Slots()+1))
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("Arithmetic", func(t *testing.T) {
		a := []uint64{1, 2, 3, 4, 5, 6, 7, 8}
		b := []uint64{16, 15, 3, 2, 1, 0, 9, 10}

		ctA, err := kc.EncryptValues(a)
		require.NoError(t, err)
		ctB, err := kc.EncryptValues(b)
		require.NoError(t, err)

		sum, err := kc.Add(ctA, ctB)
		require.NoError(t, err)
		diff, err := kc.Sub(ctA, ctB)
		require.NoError(t, err)
		prod, err := kc.Multiply(ctA, ctB)
		require.NoError(t, err)
		require.Equal(t, 2, prod.Degree())
		prod, err = kc.Relinearize(prod)
		require.NoError(t, err)
		require.Equal(t, 1, prod.Degree())
		neg, err := kc.Negate(ctA)
		require.NoError(t, err)
		scaled, err := kc.MultiplyScalar(ctA, 5)
		require.NoError(t, err)
		shifted, err := kc.AddScalar(ctA, 10)
		require.NoError(t, err)
		plain, err := kc.MultiplyPlain(ctA, b)
		require.NoError(t, err)
		subPlain, err := kc.SubPlain(ctA, b)
		require.NoError(t, err)

		for i := range a {
			check := func(name string, ct *Ciphertext, want uint64) {
				t.Helper()
				got, err := kc.DecryptValues(ct)
				require.NoError(t, err)
				require.Equalf(t, want, got[i], "%s slot %d", name, i)
			}
			check("add", sum, (a[i]+b[i])%p)
			check("sub", diff, (a[i]+p-b[i])%p)
			check("mul", prod, a[i]*b[i]%p)
			check("neg", neg, (p-a[i])%p)
			check("scalar", scaled, a[i]*5%p)
			check("addscalar", shifted, (a[i]+10)%p)
			check("mulplain", plain, a[i]*b[i]%p)
			check("subplain", subPlain, (a[i]+p-b[i])%p)
		}
	})

	t.Run("ScalarAfterProduct", func(t *testing.T) {
		// products change the ciphertext scale; scalar ops must follow it
		x := []uint64{0, 1, 2, 3, 4, 5, 6, 7}
		ct, err := kc.EncryptValues(x)
		require.NoError(t, err)

		pow := ct
		for i := 0; i < 4; i++ {
			pow, err = kc.MultiplyRelin(pow, pow)
			require.NoError(t, err)

			neg, err := kc.Negate(pow)
			require.NoError(t, err)
			oneMinus, err := kc.AddScalar(neg, 1)
			require.NoError(t, err)
			scaled, err := kc.MultiplyScalar(pow, 3)
			require.NoError(t, err)

			e := uint64(1) << (i + 1)
			want := make([]uint64, len(x))
			wantNeg := make([]uint64, len(x))
			wantOneMinus := make([]uint64, len(x))
			wantScaled := make([]uint64, len(x))
			for j, v := range x {
				want[j] = ModExpUint(v, e, p)
				wantNeg[j] = (p - want[j]) % p
				wantOneMinus[j] = (1 + p - want[j]) % p
				wantScaled[j] = 3 * want[j] % p
			}
			n := len(x)
			require.Equal(t, want, decryptSlots(t, kc, pow, n), "x^%d", e)
			require.Equal(t, wantNeg, decryptSlots(t, kc, neg, n), "-x^%d", e)
			require.Equal(t, wantOneMinus, decryptSlots(t, kc, oneMinus, n), "1-x^%d", e)
			require.Equal(t, wantScaled, decryptSlots(t, kc, scaled, n), "3x^%d", e)
		}
	})

	t.Run("AddMany", func(t *testing.T) {
		rows := [][]uint64{{1, 0, 1}, {1, 1, 0}, {1, 1, 1}, {0, 0, 1}}
		cts, err := kc.EncryptDataset(rows)
		require.NoError(t, err)

		agg, err := kc.AddMany(cts)
		require.NoError(t, err)
		got, err := kc.DecryptValues(agg)
		require.NoError(t, err)
		require.Equal(t, []uint64{3, 2, 3}, got[:3])

		_, err = kc.AddMany(nil)
		require.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("RelinearizeDegreeOne", func(t *testing.T) {
		ct, err := kc.Encrypt(2)
		require.NoError(t, err)
		out, err := kc.Relinearize(ct)
		require.NoError(t, err)
		require.Same(t, ct, out)
	})

	t.Run("EncryptZero", func(t *testing.T) {
		ct, err := kc.EncryptZero()
		require.NoError(t, err)
		require.False(t, isTransparent(ct.Ciphertext))
		got, err := kc.DecryptValues(ct)
		require.NoError(t, err)
		require.Equal(t, make([]uint64, kc.Slots()), got)
	})

	t.Run("NoiseBudget", func(t *testing.T) {
		ct, err := kc.Encrypt(7)
		require.NoError(t, err)
		fresh, err := kc.NoiseBudget(ct)
		require.NoError(t, err)
		require.Greater(t, fresh, 0)

		sq, err := kc.MultiplyRelin(ct, ct)
		require.NoError(t, err)
		after, err := kc.NoiseBudget(sq)
		require.NoError(t, err)
		require.Less(t, after, fresh)
	})

	t.Run("Stats", func(t *testing.T) {
		before := kc.Stats()
		ct, err := kc.Encrypt(1)
		require.NoError(t, err)
		_, err = kc.ShallowCopy().MultiplyRelin(ct, ct)
		require.NoError(t, err)
		after := kc.Stats()
		require.Equal(t, before.Encryptions+1, after.Encryptions)
		require.Equal(t, before.Multiplications+1, after.Multiplications)
		require.Equal(t, before.Relinearizations+1, after.Relinearizations)
	})
}

func TestUnsupportedOperands(t *testing.T) {
	kc := newTestContext(t, PN12QP275T17)
	ct, err := kc.Encrypt(4)
	require.NoError(t, err)

	t.Run("Transparent", func(t *testing.T) {
		_, err := kc.Multiply(ct, transparent(kc))
		require.ErrorIs(t, err, ErrUnsupportedOperand)

		_, err = kc.MultiplyPlain(transparent(kc), []uint64{1})
		require.ErrorIs(t, err, ErrUnsupportedOperand)
	})

	t.Run("ZeroScalar", func(t *testing.T) {
		for _, v := range []uint64{0, kc.Modulus(), 2 * kc.Modulus()} {
			_, err := kc.MultiplyScalar(ct, v)
			require.ErrorIs(t, err, ErrUnsupportedOperand)
		}
	})

	t.Run("DegreeTwo", func(t *testing.T) {
		prod, err := kc.Multiply(ct, ct)
		require.NoError(t, err)
		_, err = kc.Multiply(prod, ct)
		require.ErrorIs(t, err, ErrUnsupportedOperand)
	})

	t.Run("Placement", func(t *testing.T) {
		dev := WrapCiphertext(ct.Ciphertext, Device)
		_, err := kc.Add(ct, dev)
		require.ErrorIs(t, err, ErrPlacement)

		_, err = kc.DecryptValues(dev)
		require.ErrorIs(t, err, ErrPlacement)

		devKC := kc.WithPlacement(Device)
		require.Equal(t, Device, devKC.Placement())
		_, err = devKC.Add(dev, dev)
		require.NoError(t, err)
		_, err = devKC.Add(dev, ct)
		require.True(t, errors.Is(err, ErrPlacement))
	})
}
