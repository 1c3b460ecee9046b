// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import "fmt"

// Operand is the right-hand side of a comparison: a public scalar, a public
// vector or a ciphertext.
type Operand interface {
	// sub returns x - operand.
	sub(kc *Context, x *Ciphertext) (*Ciphertext, error)
}

type scalarOperand uint64

type vectorOperand []uint64

type encryptedOperand struct {
	ct *Ciphertext
}

// Scalar is a public value broadcast to every slot
func Scalar(v uint64) Operand {
	return scalarOperand(v)
}

// Vector is a public value per slot
func Vector(values []uint64) Operand {
	return vectorOperand(values)
}

// Encrypted wraps a ciphertext operand
func Encrypted(ct *Ciphertext) Operand {
	return encryptedOperand{ct: ct}
}

// OperandCiphertext returns the ciphertext behind an encrypted operand.
func OperandCiphertext(op Operand) (*Ciphertext, bool) {
	e, ok := op.(encryptedOperand)
	if !ok {
		return nil, false
	}
	return e.ct, true
}

func (s scalarOperand) sub(kc *Context, x *Ciphertext) (*Ciphertext, error) {
	p := kc.Modulus()
	return kc.AddScalar(x, p-Reduce(uint64(s), p))
}

func (v vectorOperand) sub(kc *Context, x *Ciphertext) (*Ciphertext, error) {
	return kc.SubPlain(x, v)
}

func (e encryptedOperand) sub(kc *Context, x *Ciphertext) (*Ciphertext, error) {
	return kc.Sub(x, e.ct)
}

func difference(kc *Context, x *Ciphertext, y Operand) (*Ciphertext, error) {
	if y == nil {
		return nil, fmt.Errorf("%w: nil operand", ErrUnsupportedOperand)
	}
	return y.sub(kc, x)
}
