// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"fmt"
	"sync/atomic"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/lattice/v7/schemes/bgv"
)

// Placement tells on which side of a transfer boundary a ciphertext lives.
type Placement int

const (
	// Host is ordinary process memory.
	Host Placement = iota
	// Device is an accelerator arena. Only contexts placed on the device may
	// operate on device ciphertexts.
	Device
)

func (p Placement) String() string {
	switch p {
	case Host:
		return "host"
	case Device:
		return "device"
	default:
		return fmt.Sprintf("placement(%d)", int(p))
	}
}

// Ciphertext is a BFV ciphertext tagged with its placement.
type Ciphertext struct {
	*rlwe.Ciphertext
	loc Placement
}

// WrapCiphertext tags a raw ciphertext with a placement.
func WrapCiphertext(ct *rlwe.Ciphertext, loc Placement) *Ciphertext {
	return &Ciphertext{Ciphertext: ct, loc: loc}
}

// Placement returns where the ciphertext lives
func (ct *Ciphertext) Placement() Placement {
	return ct.loc
}

// Copy returns a deep copy with the same placement
func (ct *Ciphertext) Copy() *Ciphertext {
	return &Ciphertext{Ciphertext: ct.Ciphertext.CopyNew(), loc: ct.loc}
}

// Stats counts the expensive engine calls made through a Context and all of
// its shallow copies.
type Stats struct {
	Encryptions      uint64
	Multiplications  uint64
	Relinearizations uint64
	NoiseChecks      uint64
}

type counters struct {
	encryptions      atomic.Uint64
	multiplications  atomic.Uint64
	relinearizations atomic.Uint64
	noiseChecks      atomic.Uint64
}

// Context bundles parameters, keys and the BFV encoder, encryptor, decryptor
// and evaluator. A Context is not safe for concurrent use; obtain one per
// goroutine with ShallowCopy.
//
// The evaluator runs in scale-invariant mode, which is how the lattice BGV
// package provides BFV.
type Context struct {
	params Parameters
	keys   *KeySet

	ecd  *bgv.Encoder
	enc  *rlwe.Encryptor
	dec  *rlwe.Decryptor
	eval *bgv.Evaluator

	loc   Placement
	stats *counters
}

// NewContext creates a host-placed context from parameters and keys.
func NewContext(params Parameters, keys *KeySet) (*Context, error) {
	if keys == nil || keys.SK == nil || keys.PK == nil || keys.RLK == nil {
		return nil, fmt.Errorf("%w: incomplete key set", ErrInvalidParameter)
	}

	return &Context{
		params: params,
		keys:   keys,
		ecd:    bgv.NewEncoder(params.Parameters),
		enc:    bgv.NewEncryptor(params.Parameters, keys.PK),
		dec:    bgv.NewDecryptor(params.Parameters, keys.SK),
		eval:   bgv.NewEvaluator(params.Parameters, rlwe.NewMemEvaluationKeySet(keys.RLK), true),
		loc:    Host,
		stats:  new(counters),
	}, nil
}

// NewContextFromLiteral builds parameters, generates a fresh key set and
// returns the resulting context.
func NewContextFromLiteral(lit ParametersLiteral) (*Context, error) {
	params, err := NewParametersFromLiteral(lit)
	if err != nil {
		return nil, err
	}
	return NewContext(params, NewKeyGenerator(params).GenKeySet())
}

// ShallowCopy returns a context sharing keys, encoder, decryptor and
// evaluator with the receiver. Those draw their scratch space from sync
// pools. The copy owns a fresh encryptor, whose noise samplers are stateful.
func (kc *Context) ShallowCopy() *Context {
	return &Context{
		params: kc.params,
		keys:   kc.keys,
		ecd:    kc.ecd,
		enc:    bgv.NewEncryptor(kc.params.Parameters, kc.keys.PK),
		dec:    kc.dec,
		eval:   kc.eval,
		loc:    kc.loc,
		stats:  kc.stats,
	}
}

// WithPlacement returns a shallow copy placed on loc.
func (kc *Context) WithPlacement(loc Placement) *Context {
	c := kc.ShallowCopy()
	c.loc = loc
	return c
}

// Placement returns the side this context operates on
func (kc *Context) Placement() Placement {
	return kc.loc
}

// Parameters returns the scheme parameters
func (kc *Context) Parameters() Parameters {
	return kc.params
}

// Keys returns the key set
func (kc *Context) Keys() *KeySet {
	return kc.keys
}

// Modulus returns the field prime p
func (kc *Context) Modulus() uint64 {
	return kc.params.Modulus()
}

// Slots returns the batch width
func (kc *Context) Slots() int {
	return kc.params.Slots()
}

// Stats returns a snapshot of the engine call counters
func (kc *Context) Stats() Stats {
	return Stats{
		Encryptions:      kc.stats.encryptions.Load(),
		Multiplications:  kc.stats.multiplications.Load(),
		Relinearizations: kc.stats.relinearizations.Load(),
		NoiseChecks:      kc.stats.noiseChecks.Load(),
	}
}

func (kc *Context) wrap(ct *rlwe.Ciphertext) *Ciphertext {
	return &Ciphertext{Ciphertext: ct, loc: kc.loc}
}

func (kc *Context) checkPlacement(cts ...*Ciphertext) error {
	for _, ct := range cts {
		if ct == nil {
			return fmt.Errorf("%w: nil ciphertext", ErrUnsupportedOperand)
		}
		if ct.loc != kc.loc {
			return fmt.Errorf("%w: %s ciphertext on %s context", ErrPlacement, ct.loc, kc.loc)
		}
	}
	return nil
}
