// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Encode batch-encodes values into a plaintext at the top level. Values are
// reduced mod p and missing slots are zero.
func (kc *Context) Encode(values []uint64) (*rlwe.Plaintext, error) {
	slots := kc.Slots()
	if len(values) > slots {
		return nil, fmt.Errorf("encode: %w: %d values for %d slots", ErrInvalidParameter, len(values), slots)
	}

	p := kc.Modulus()
	buf := make([]uint64, slots)
	for i, v := range values {
		buf[i] = Reduce(v, p)
	}

	pt := bgv.NewPlaintext(kc.params.Parameters, kc.params.MaxLevel())
	if err := kc.ecd.Encode(buf, pt); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return pt, nil
}

// constant encodes v into every slot.
func (kc *Context) constant(v uint64) (*rlwe.Plaintext, error) {
	vals := make([]uint64, kc.Slots())
	for i := range vals {
		vals[i] = v
	}
	return kc.Encode(vals)
}

// Encrypt encrypts v replicated in every slot
func (kc *Context) Encrypt(v uint64) (*Ciphertext, error) {
	pt, err := kc.constant(v)
	if err != nil {
		return nil, err
	}
	return kc.encryptPlaintext(pt)
}

// EncryptValues encrypts a vector of field elements, one per slot
func (kc *Context) EncryptValues(values []uint64) (*Ciphertext, error) {
	pt, err := kc.Encode(values)
	if err != nil {
		return nil, err
	}
	return kc.encryptPlaintext(pt)
}

// EncryptZero returns a fresh encryption of the zero vector. Unlike an
// encoded zero plaintext it carries randomness in both components, so the
// result is never transparent.
func (kc *Context) EncryptZero() (*Ciphertext, error) {
	ct := bgv.NewCiphertext(kc.params.Parameters, 1, kc.params.MaxLevel())
	if err := kc.enc.EncryptZero(ct); err != nil {
		return nil, fmt.Errorf("encrypt zero: %w", err)
	}
	kc.stats.encryptions.Add(1)
	return kc.wrap(ct), nil
}

// EncryptDataset encrypts one ciphertext per row.
func (kc *Context) EncryptDataset(rows [][]uint64) ([]*Ciphertext, error) {
	out := make([]*Ciphertext, len(rows))
	for i, row := range rows {
		ct, err := kc.EncryptValues(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = ct
	}
	return out, nil
}

func (kc *Context) encryptPlaintext(pt *rlwe.Plaintext) (*Ciphertext, error) {
	ct, err := kc.enc.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	kc.stats.encryptions.Add(1)
	return kc.wrap(ct), nil
}
