// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"errors"
	"fmt"
)

var (
	// ErrNoiseBudgetExhausted is returned when a result ciphertext no longer
	// decrypts correctly because its invariant noise outgrew the modulus.
	ErrNoiseBudgetExhausted = errors.New("noise budget exhausted")
	// ErrInvalidParameter is returned for out-of-domain arguments such as a
	// zero threshold or a composite modulus.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnsupportedOperand is returned when the engine refuses an operand,
	// for example a transparent ciphertext or a zero scalar multiplier.
	ErrUnsupportedOperand = errors.New("unsupported operand")
	// ErrPlacement is returned when a ciphertext is used on the wrong side of
	// a host/device boundary.
	ErrPlacement = errors.New("ciphertext placement mismatch")
)

// NoiseBudgetError reports where the noise budget ran out.
type NoiseBudgetError struct {
	Op       string
	Exponent uint64
	Budget   int
}

func (e *NoiseBudgetError) Error() string {
	if e.Exponent != 0 {
		return fmt.Sprintf("%s: exponent %d: budget %d bits: %v", e.Op, e.Exponent, e.Budget, ErrNoiseBudgetExhausted)
	}
	return fmt.Sprintf("%s: budget %d bits: %v", e.Op, e.Budget, ErrNoiseBudgetExhausted)
}

func (e *NoiseBudgetError) Unwrap() error {
	return ErrNoiseBudgetExhausted
}
