// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import "fmt"

// ModExp returns x^e slot-wise mod p by square-and-multiply, relinearizing
// after every product. ModExp(x, 1) returns x itself and ModExp(x, 0) a
// fresh encryption of one.
func (c *Comparator) ModExp(x *Ciphertext, e uint64) (*Ciphertext, error) {
	return modExp(c.kc, x, e)
}

func modExp(kc *Context, x *Ciphertext, e uint64) (*Ciphertext, error) {
	if err := kc.checkPlacement(x); err != nil {
		return nil, fmt.Errorf("modexp: %w", err)
	}
	switch e {
	case 0:
		return kc.Encrypt(1)
	case 1:
		return x, nil
	}

	exp := e
	base := x
	var acc *Ciphertext
	for {
		if exp&1 == 1 {
			if acc == nil {
				// first odd bit: take the power as is
				acc = base
			} else {
				prod, err := kc.MultiplyRelin(acc, base)
				if err != nil {
					return nil, fmt.Errorf("modexp: %w", err)
				}
				acc = prod
			}
		}
		exp >>= 1
		if exp == 0 {
			break
		}
		sq, err := kc.MultiplyRelin(base, base)
		if err != nil {
			return nil, fmt.Errorf("modexp: %w", err)
		}
		base = sq
	}

	if err := checkBudget(kc, acc, "modexp", e); err != nil {
		return nil, err
	}
	return acc, nil
}

func checkBudget(kc *Context, ct *Ciphertext, op string, e uint64) error {
	budget, err := kc.NoiseBudget(ct)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if budget <= 0 {
		return &NoiseBudgetError{Op: op, Exponent: e, Budget: budget}
	}
	return nil
}
