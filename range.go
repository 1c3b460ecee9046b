// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import "fmt"

// RangeCompare returns sum_{i<k} EQ(x, i): 1 in the slots where x < k and 0
// elsewhere, for slot values below p. The k equality tests run through the
// executor.
func (c *Comparator) RangeCompare(x *Ciphertext, k uint64) (*Ciphertext, error) {
	if k == 0 || k >= c.kc.Modulus() {
		return nil, fmt.Errorf("range compare: %w: threshold %d outside (0, %d)", ErrInvalidParameter, k, c.kc.Modulus())
	}
	if err := c.kc.checkPlacement(x); err != nil {
		return nil, fmt.Errorf("range compare: %w", err)
	}

	terms := make([]*Ciphertext, k)
	err := c.exec.ForEach(int(k), func(i int, kc *Context) (err error) {
		terms[i], err = equalityTest(kc, x, Scalar(uint64(i)))
		if err != nil {
			return fmt.Errorf("term %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("range compare: %w", err)
	}

	sum, err := c.kc.AddMany(terms)
	if err != nil {
		return nil, fmt.Errorf("range compare: %w", err)
	}
	return sum, nil
}
