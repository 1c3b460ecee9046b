// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import "fmt"

// EqualityTest returns EQ(x, y) = 1 - (x-y)^(p-1), which is 1 in the slots
// where x equals y and 0 elsewhere.
func (c *Comparator) EqualityTest(x *Ciphertext, y Operand) (*Ciphertext, error) {
	return equalityTest(c.kc, x, y)
}

func equalityTest(kc *Context, x *Ciphertext, y Operand) (*Ciphertext, error) {
	diff, err := difference(kc, x, y)
	if err != nil {
		return nil, fmt.Errorf("equality: %w", err)
	}

	pow, err := modExp(kc, diff, kc.Modulus()-1)
	if err != nil {
		return nil, fmt.Errorf("equality: %w", err)
	}

	neg, err := kc.Negate(pow)
	if err != nil {
		return nil, fmt.Errorf("equality: %w", err)
	}
	if neg, err = kc.Relinearize(neg); err != nil {
		return nil, fmt.Errorf("equality: %w", err)
	}

	out, err := kc.AddScalar(neg, 1)
	if err != nil {
		return nil, fmt.Errorf("equality: %w", err)
	}
	return out, nil
}
