// Package kanon implements encrypted threshold comparison for k-anonymity
// checks on batched BFV ciphertexts.
//
// Every slot of a ciphertext holds a field element modulo the plaintext
// prime p. On top of that, the package builds:
//   - modular exponentiation under encryption
//   - a Fermat equality test, EQ(x, y) = 1 - (x-y)^(p-1)
//   - a range comparator summing k equality tests
//   - a polynomial less-than comparator evaluated with Paterson-Stockmeyer
//
// Operations run through a Backend. The host backend fans work out over
// goroutines; the device backend in package gpu stages ciphertexts through a
// device arena and dispatches kernels on batched streams.
//
// This implementation is built on luxfi/lattice, whose BFV scheme is the
// scale-invariant mode of its unified BGV package.
//
// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause
package kanon

import (
	"fmt"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Parameters is a BFV parameter set whose plaintext modulus is the comparison
// field prime p.
type Parameters struct {
	bgv.Parameters
}

// ParametersLiteral is a user-friendly parameter specification
type ParametersLiteral struct {
	// LogN is log2 of the ring degree
	LogN int
	// LogQ lists the bit sizes of the ciphertext moduli chain
	LogQ []int
	// LogP lists the bit sizes of the key-switching auxiliary moduli
	LogP []int
	// PlaintextModulus is the field prime p. It must satisfy p = 1 mod 2n
	// for some power of two n > 4 so that slots can be batched.
	PlaintextModulus uint64
}

// Standard parameter sets
var (
	// PN15QP870T65537 is the production set for p = 65537, 32768 slots at
	// 128-bit security. Its modulus absorbs the 16 squarings of an equality
	// test and the Paterson-Stockmeyer comparator.
	PN15QP870T65537 = ParametersLiteral{
		LogN:             15,
		LogQ:             []int{54, 54, 54, 54, 54, 54, 54, 54, 54, 54, 54, 54, 54, 54, 54},
		LogP:             []int{60},
		PlaintextModulus: 0x10001,
	}

	// PN13QP218T65537 is enough for aggregation and shallow circuits only.
	// Fermat tests at p = 65537 exhaust it.
	PN13QP218T65537 = ParametersLiteral{
		LogN:             13,
		LogQ:             []int{54, 54, 54},
		LogP:             []int{56},
		PlaintextModulus: 0x10001,
	}

	// The small-field sets below exceed the 128-bit bound for N = 4096 and
	// exist for tests and demonstrations.

	// PN12QP275T17 is a small-field set, p = 17, 8 slots.
	PN12QP275T17 = ParametersLiteral{
		LogN:             12,
		LogQ:             []int{55, 55, 55, 55},
		LogP:             []int{55},
		PlaintextModulus: 17,
	}

	// PN12QP385T97 is a small-field set, p = 97, 16 slots.
	PN12QP385T97 = ParametersLiteral{
		LogN:             12,
		LogQ:             []int{55, 55, 55, 55, 55, 55},
		LogP:             []int{55},
		PlaintextModulus: 97,
	}

	// PN12QP495T257 is a small-field set, p = 257, 128 slots.
	PN12QP495T257 = ParametersLiteral{
		LogN:             12,
		LogQ:             []int{55, 55, 55, 55, 55, 55, 55, 55},
		LogP:             []int{55},
		PlaintextModulus: 257,
	}
)

// Presets maps preset names to parameter literals.
var Presets = map[string]ParametersLiteral{
	"PN15QP870T65537": PN15QP870T65537,
	"PN13QP218T65537": PN13QP218T65537,
	"PN12QP275T17":    PN12QP275T17,
	"PN12QP385T97":    PN12QP385T97,
	"PN12QP495T257":   PN12QP495T257,
}

// NewParametersFromLiteral creates Parameters from a literal specification
func NewParametersFromLiteral(lit ParametersLiteral) (params Parameters, err error) {
	if !IsPrime(lit.PlaintextModulus) || lit.PlaintextModulus < 3 {
		return Parameters{}, fmt.Errorf("%w: plaintext modulus %d is not an odd prime", ErrInvalidParameter, lit.PlaintextModulus)
	}

	params.Parameters, err = bgv.NewParametersFromLiteral(bgv.ParametersLiteral{
		LogN:             lit.LogN,
		LogQ:             lit.LogQ,
		LogP:             lit.LogP,
		PlaintextModulus: lit.PlaintextModulus,
	})
	if err != nil {
		return Parameters{}, fmt.Errorf("bfv parameters: %w", err)
	}

	return
}

// Modulus returns the field prime p
func (p Parameters) Modulus() uint64 {
	return p.PlaintextModulus()
}

// Slots returns the number of field elements packed in one ciphertext
func (p Parameters) Slots() int {
	return p.MaxSlots()
}

// KeySet holds the key material of one comparison context.
// The secret key is needed by the noise-budget check.
type KeySet struct {
	SK  *rlwe.SecretKey
	PK  *rlwe.PublicKey
	RLK *rlwe.RelinearizationKey
}

// KeyGenerator generates BFV keys
type KeyGenerator struct {
	params Parameters
	kgen   *rlwe.KeyGenerator
}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator(params Parameters) *KeyGenerator {
	return &KeyGenerator{
		params: params,
		kgen:   bgv.NewKeyGenerator(params.Parameters),
	}
}

// GenKeySet generates a secret/public key pair and the relinearization key
// derived from the secret key.
func (kg *KeyGenerator) GenKeySet() *KeySet {
	sk, pk := kg.kgen.GenKeyPairNew()
	return &KeySet{
		SK:  sk,
		PK:  pk,
		RLK: kg.kgen.GenRelinearizationKeyNew(sk),
	}
}
