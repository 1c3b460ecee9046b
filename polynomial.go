// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"fmt"
	"math"
)

// PolynomialCompare returns F(x - y) where F is the less-than polynomial of
// table: 1 in the slots where x < y and 0 elsewhere, for slot values in
// [0, (p-1)/2].
func (c *Comparator) PolynomialCompare(x *Ciphertext, y Operand, table *CoefficientTable) (*Ciphertext, error) {
	if table == nil || table.Modulus() != c.kc.Modulus() {
		return nil, fmt.Errorf("polynomial compare: %w: table does not match modulus %d", ErrInvalidParameter, c.kc.Modulus())
	}

	z, err := difference(c.kc, x, y)
	if err != nil {
		return nil, fmt.Errorf("polynomial compare: %w", err)
	}

	out, err := c.EvaluateOddPolynomial(z, table)
	if err != nil {
		return nil, fmt.Errorf("polynomial compare: %w", err)
	}

	if err = checkBudget(c.kc, out, "polynomial compare", 0); err != nil {
		return nil, err
	}
	return out, nil
}

// EvaluateOddPolynomial evaluates F(z) with the Paterson-Stockmeyer method
// on w = z^2:
//
//	F(z) = z * sum_i B_i(w) * (w^s)^i + lead * z^(p-1)
//
// where each block B_i has s coefficients, s = floor(sqrt(k)) and
// k = (p-1)/2. Blocks are evaluated through the executor.
func (c *Comparator) EvaluateOddPolynomial(z *Ciphertext, table *CoefficientTable) (*Ciphertext, error) {
	kc := c.kc
	p := kc.Modulus()
	if table == nil || table.Modulus() != p {
		return nil, fmt.Errorf("paterson-stockmeyer: %w: table does not match modulus %d", ErrInvalidParameter, p)
	}

	odd := table.coeffs[:table.Len()-1]
	k := len(odd)
	s := isqrt(k)
	v := k / s
	rem := k % s

	w, err := kc.MultiplyRelin(z, z)
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}

	// powers[j] = w^j for j in [1, s]
	powers := make([]*Ciphertext, s+1)
	err = c.exec.ForEach(s, func(i int, kc *Context) (err error) {
		powers[i+1], err = modExp(kc, w, uint64(i+1))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: powers: %w", err)
	}

	nblocks := v
	if rem > 0 {
		nblocks++
	}
	blocks := make([]*Ciphertext, nblocks)
	err = c.exec.ForEach(nblocks, func(i int, kc *Context) (err error) {
		size := s
		if i == v {
			size = rem
		}
		blocks[i], err = evalBlock(kc, powers, odd[i*s:i*s+size], i)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}

	sum, err := kc.AddMany(blocks)
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}
	second, err := kc.MultiplyRelin(sum, z)
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}

	top, err := modExp(kc, z, p-1)
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}
	first, err := kc.MultiplyScalar(top, table.Leading())
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}

	out, err := kc.Add(first, second)
	if err != nil {
		return nil, fmt.Errorf("paterson-stockmeyer: %w", err)
	}
	return out, nil
}

// evalBlock returns (sum_j coeffs[j] * w^j) * (w^s)^i with s = len(powers)-1.
func evalBlock(kc *Context, powers []*Ciphertext, coeffs []uint64, i int) (*Ciphertext, error) {
	s := len(powers) - 1

	var acc *Ciphertext
	for j := 1; j < len(coeffs); j++ {
		if coeffs[j] == 0 {
			continue
		}
		term, err := kc.MultiplyScalar(powers[j], coeffs[j])
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = term
			continue
		}
		if acc, err = kc.Add(acc, term); err != nil {
			return nil, err
		}
	}

	var err error
	if acc == nil {
		if acc, err = kc.EncryptZero(); err != nil {
			return nil, err
		}
	}
	if len(coeffs) > 0 && coeffs[0] != 0 {
		if acc, err = kc.AddScalar(acc, coeffs[0]); err != nil {
			return nil, err
		}
	}

	if i == 0 {
		return acc, nil
	}

	outer, err := modExp(kc, powers[s], uint64(i))
	if err != nil {
		return nil, err
	}
	return kc.MultiplyRelin(acc, outer)
}

// isqrt returns floor(sqrt(n)), at least 1.
func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	if r < 1 {
		r = 1
	}
	return r
}
