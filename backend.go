// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

// Backend executes the comparison operations on some execution resource.
// Arguments and results are host ciphertexts, so two backends built over
// the same key set are interchangeable and decrypt identically.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// EncryptDataset encrypts one ciphertext per row.
	EncryptDataset(rows [][]uint64) ([]*Ciphertext, error)
	// AddMany sums ciphertexts slot-wise.
	AddMany(cts []*Ciphertext) (*Ciphertext, error)
	// Multiply returns the relinearized product a*b.
	Multiply(a, b *Ciphertext) (*Ciphertext, error)

	ModExp(x *Ciphertext, e uint64) (*Ciphertext, error)
	EqualityTest(x *Ciphertext, y Operand) (*Ciphertext, error)
	RangeCompare(x *Ciphertext, k uint64) (*Ciphertext, error)
	PolynomialCompare(x *Ciphertext, y Operand, table *CoefficientTable) (*Ciphertext, error)

	// Close releases the backend's resources.
	Close() error
}
