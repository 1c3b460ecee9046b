// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ALTree/bigfloat"
	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Decode returns every slot of a plaintext
func (kc *Context) Decode(pt *rlwe.Plaintext) ([]uint64, error) {
	vals := make([]uint64, kc.Slots())
	if err := kc.ecd.Decode(pt, vals); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return vals, nil
}

// DecryptValues decrypts a ciphertext and returns every slot
func (kc *Context) DecryptValues(ct *Ciphertext) ([]uint64, error) {
	if err := kc.checkPlacement(ct); err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	pt := bgv.NewPlaintext(kc.params.Parameters, ct.Level())
	kc.dec.Decrypt(ct.Ciphertext, pt)
	return kc.Decode(pt)
}

// Decrypt decrypts a ciphertext and returns its first slot
func (kc *Context) Decrypt(ct *Ciphertext) (uint64, error) {
	vals, err := kc.DecryptValues(ct)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// NoiseBudget returns the remaining invariant noise budget of ct in bits.
// A budget of zero or less means the ciphertext no longer decrypts
// reliably.
//
// The noise is measured by decrypting, re-encoding the decoded message and
// taking the largest centered coefficient of the difference.
func (kc *Context) NoiseBudget(ct *Ciphertext) (int, error) {
	if err := kc.checkPlacement(ct); err != nil {
		return 0, fmt.Errorf("noise budget: %w", err)
	}
	kc.stats.noiseChecks.Add(1)

	level := ct.Level()
	pt := bgv.NewPlaintext(kc.params.Parameters, level)
	kc.dec.Decrypt(ct.Ciphertext, pt)

	vals, err := kc.Decode(pt)
	if err != nil {
		return 0, fmt.Errorf("noise budget: %w", err)
	}

	re := bgv.NewPlaintext(kc.params.Parameters, level)
	re.MetaData = pt.MetaData.CopyNew()
	if err = kc.ecd.Encode(vals, re); err != nil {
		return 0, fmt.Errorf("noise budget: %w", err)
	}

	ringQ := kc.params.RingQ().AtLevel(level)
	diff := ringQ.NewPoly()
	ringQ.Sub(pt.Value, re.Value, diff)
	if pt.IsNTT {
		ringQ.INTT(diff, diff)
	}

	coeffs := make([]*big.Int, kc.params.N())
	for i := range coeffs {
		coeffs[i] = new(big.Int)
	}
	ringQ.PolyToBigintCentered(diff, 1, coeffs)

	maxE := new(big.Int)
	abs := new(big.Int)
	for _, c := range coeffs {
		if abs.Abs(c).Cmp(maxE) > 0 {
			maxE.Set(abs)
		}
	}
	if maxE.Sign() == 0 {
		maxE.SetUint64(1)
	}

	return budgetBits(kc.params.Q()[:level+1], kc.Modulus(), maxE), nil
}

// budgetBits computes floor(log2(Q / (2 * t * e))) where Q is the product of
// the moduli.
func budgetBits(moduli []uint64, t uint64, e *big.Int) int {
	q := new(big.Int).SetUint64(1)
	for _, qi := range moduli {
		q.Mul(q, new(big.Int).SetUint64(qi))
	}

	den := new(big.Int).SetUint64(2 * t)
	den.Mul(den, e)

	ratio := new(big.Float).SetPrec(256).SetInt(q)
	ratio.Quo(ratio, new(big.Float).SetPrec(256).SetInt(den))
	if ratio.Sign() <= 0 {
		return math.MinInt32
	}

	ln := bigfloat.Log(ratio)
	ln.Quo(ln, bigfloat.Log(new(big.Float).SetPrec(256).SetInt64(2)))
	bits, _ := ln.Float64()
	return int(math.Floor(bits))
}
