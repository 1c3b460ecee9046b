// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"
)

// Add returns a + b
func (kc *Context) Add(a, b *Ciphertext) (*Ciphertext, error) {
	if err := kc.checkPlacement(a, b); err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	out, err := kc.eval.AddNew(a.Ciphertext, b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	return kc.wrap(out), nil
}

// AddMany returns the slot-wise sum of all ciphertexts.
func (kc *Context) AddMany(cts []*Ciphertext) (*Ciphertext, error) {
	if len(cts) == 0 {
		return nil, fmt.Errorf("add many: %w: no operands", ErrInvalidParameter)
	}
	if err := kc.checkPlacement(cts...); err != nil {
		return nil, fmt.Errorf("add many: %w", err)
	}

	acc := cts[0].Ciphertext.CopyNew()
	for _, ct := range cts[1:] {
		if err := kc.eval.Add(acc, ct.Ciphertext, acc); err != nil {
			return nil, fmt.Errorf("add many: %w", err)
		}
	}
	return kc.wrap(acc), nil
}

// Sub returns a - b
func (kc *Context) Sub(a, b *Ciphertext) (*Ciphertext, error) {
	if err := kc.checkPlacement(a, b); err != nil {
		return nil, fmt.Errorf("sub: %w", err)
	}
	out, err := kc.eval.SubNew(a.Ciphertext, b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("sub: %w", err)
	}
	return kc.wrap(out), nil
}

// SubPlain returns a - values, slot-wise
func (kc *Context) SubPlain(a *Ciphertext, values []uint64) (*Ciphertext, error) {
	if err := kc.checkPlacement(a); err != nil {
		return nil, fmt.Errorf("sub plain: %w", err)
	}
	pt, err := kc.Encode(values)
	if err != nil {
		return nil, fmt.Errorf("sub plain: %w", err)
	}
	out, err := kc.eval.SubNew(a.Ciphertext, pt)
	if err != nil {
		return nil, fmt.Errorf("sub plain: %w", err)
	}
	return kc.wrap(out), nil
}

// AddScalar adds v to every slot
func (kc *Context) AddScalar(a *Ciphertext, v uint64) (*Ciphertext, error) {
	if err := kc.checkPlacement(a); err != nil {
		return nil, fmt.Errorf("add scalar: %w", err)
	}
	// scalar operands do not carry a scale; the output starts from a's
	out := a.Ciphertext.CopyNew()
	if err := kc.eval.Add(out, Reduce(v, kc.Modulus()), out); err != nil {
		return nil, fmt.Errorf("add scalar: %w", err)
	}
	return kc.wrap(out), nil
}

// Multiply returns the degree-2 tensor product a*b. The caller relinearizes.
func (kc *Context) Multiply(a, b *Ciphertext) (*Ciphertext, error) {
	if err := kc.checkPlacement(a, b); err != nil {
		return nil, fmt.Errorf("multiply: %w", err)
	}
	for _, ct := range []*Ciphertext{a, b} {
		if err := checkMultiplicand(ct); err != nil {
			return nil, fmt.Errorf("multiply: %w", err)
		}
	}
	out, err := kc.eval.MulNew(a.Ciphertext, b.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("multiply: %w", err)
	}
	kc.stats.multiplications.Add(1)
	return kc.wrap(out), nil
}

// MultiplyPlain multiplies a slot-wise by a plaintext vector
func (kc *Context) MultiplyPlain(a *Ciphertext, values []uint64) (*Ciphertext, error) {
	if err := kc.checkPlacement(a); err != nil {
		return nil, fmt.Errorf("multiply plain: %w", err)
	}
	if err := checkMultiplicand(a); err != nil {
		return nil, fmt.Errorf("multiply plain: %w", err)
	}
	pt, err := kc.Encode(values)
	if err != nil {
		return nil, fmt.Errorf("multiply plain: %w", err)
	}
	out, err := kc.eval.MulNew(a.Ciphertext, pt)
	if err != nil {
		return nil, fmt.Errorf("multiply plain: %w", err)
	}
	return kc.wrap(out), nil
}

// MultiplyScalar multiplies every slot by v. A multiplier of zero mod p
// would produce a transparent ciphertext and is refused.
func (kc *Context) MultiplyScalar(a *Ciphertext, v uint64) (*Ciphertext, error) {
	if err := kc.checkPlacement(a); err != nil {
		return nil, fmt.Errorf("multiply scalar: %w", err)
	}
	v = Reduce(v, kc.Modulus())
	if v == 0 {
		return nil, fmt.Errorf("multiply scalar: %w: zero multiplier", ErrUnsupportedOperand)
	}
	out := a.Ciphertext.CopyNew()
	if err := kc.eval.Mul(out, v, out); err != nil {
		return nil, fmt.Errorf("multiply scalar: %w", err)
	}
	return kc.wrap(out), nil
}

// Negate returns -a
func (kc *Context) Negate(a *Ciphertext) (*Ciphertext, error) {
	out, err := kc.MultiplyScalar(a, kc.Modulus()-1)
	if err != nil {
		return nil, fmt.Errorf("negate: %w", err)
	}
	return out, nil
}

// Relinearize brings a degree-2 ciphertext back to degree 1. Ciphertexts
// already at degree 1 are returned as is.
func (kc *Context) Relinearize(a *Ciphertext) (*Ciphertext, error) {
	if err := kc.checkPlacement(a); err != nil {
		return nil, fmt.Errorf("relinearize: %w", err)
	}
	if a.Degree() <= 1 {
		return a, nil
	}
	out, err := kc.eval.RelinearizeNew(a.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("relinearize: %w", err)
	}
	kc.stats.relinearizations.Add(1)
	return kc.wrap(out), nil
}

// MultiplyRelin returns relin(a*b)
func (kc *Context) MultiplyRelin(a, b *Ciphertext) (*Ciphertext, error) {
	prod, err := kc.Multiply(a, b)
	if err != nil {
		return nil, err
	}
	return kc.Relinearize(prod)
}

func checkMultiplicand(ct *Ciphertext) error {
	if ct.Degree() != 1 {
		return fmt.Errorf("%w: degree %d operand", ErrUnsupportedOperand, ct.Degree())
	}
	if isTransparent(ct.Ciphertext) {
		return fmt.Errorf("%w: transparent ciphertext", ErrUnsupportedOperand)
	}
	return nil
}

// isTransparent reports whether c1 is identically zero, in which case the
// ciphertext leaks its plaintext.
func isTransparent(ct *rlwe.Ciphertext) bool {
	for _, row := range ct.Value[1].Coeffs {
		for _, c := range row {
			if c != 0 {
				return false
			}
		}
	}
	return true
}
