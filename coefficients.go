// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrTableChecksum is returned when a serialized coefficient table fails its
// integrity check.
var ErrTableChecksum = errors.New("coefficient table checksum mismatch")

var tableMagic = [4]byte{'K', 'C', 'T', '1'}

// CoefficientTable holds the coefficients of the less-than polynomial
//
//	F(z) = sum_{j<k} alpha_j z^(2j+1) + ((p+1)/2) z^(p-1),  k = (p-1)/2
//
// which evaluates to 1 at z = x-y when x < y and to 0 otherwise, for x, y in
// [0, (p-1)/2]. The last entry is the leading coefficient. A table is
// immutable and safe to share.
type CoefficientTable struct {
	p      uint64
	coeffs []uint64
}

// PrecomputeCoefficients computes the table for the odd prime p.
//
//	alpha_j = sum_{a=1}^{(p-1)/2} a^(p-2-2j) mod p
func PrecomputeCoefficients(p uint64) (*CoefficientTable, error) {
	if p < 3 || !IsPrime(p) {
		return nil, fmt.Errorf("precompute coefficients: %w: %d is not an odd prime", ErrInvalidParameter, p)
	}

	k := (p - 1) / 2
	coeffs := make([]uint64, k+1)
	coeffs[k] = (p + 1) / 2

	workers := uint64(runtime.NumCPU())
	if workers > k {
		workers = k
	}

	var wg sync.WaitGroup
	for w := uint64(0); w < workers; w++ {
		wg.Add(1)
		go func(w uint64) {
			defer wg.Done()
			for j := w; j < k; j += workers {
				e := p - 2 - 2*j
				var s uint64
				for a := uint64(1); a <= k; a++ {
					s = AddMod(s, ModExpUint(a, e, p), p)
				}
				coeffs[j] = s
			}
		}(w)
	}
	wg.Wait()

	return &CoefficientTable{p: p, coeffs: coeffs}, nil
}

type tableEntry struct {
	once  sync.Once
	table *CoefficientTable
	err   error
}

var tableCache sync.Map

// Coefficients returns the memoized table for p. Concurrent callers for the
// same p share a single computation.
func Coefficients(p uint64) (*CoefficientTable, error) {
	v, _ := tableCache.LoadOrStore(p, new(tableEntry))
	e := v.(*tableEntry)
	e.once.Do(func() {
		e.table, e.err = PrecomputeCoefficients(p)
	})
	return e.table, e.err
}

// Modulus returns p
func (t *CoefficientTable) Modulus() uint64 {
	return t.p
}

// Len returns the number of stored coefficients, (p+1)/2
func (t *CoefficientTable) Len() int {
	return len(t.coeffs)
}

// Coeff returns the i-th coefficient
func (t *CoefficientTable) Coeff(i int) uint64 {
	return t.coeffs[i]
}

// Leading returns the coefficient of z^(p-1)
func (t *CoefficientTable) Leading() uint64 {
	return t.coeffs[len(t.coeffs)-1]
}

// Odd returns a copy of the odd-part coefficients alpha_0..alpha_{k-1}
func (t *CoefficientTable) Odd() []uint64 {
	return append([]uint64(nil), t.coeffs[:len(t.coeffs)-1]...)
}

// Eval evaluates F at z over the field.
func (t *CoefficientTable) Eval(z uint64) uint64 {
	p := t.p
	z %= p
	w := MulMod(z, z, p)

	odd := t.coeffs[:len(t.coeffs)-1]
	var g uint64
	for j := len(odd) - 1; j >= 0; j-- {
		g = AddMod(MulMod(g, w, p), odd[j], p)
	}

	return AddMod(MulMod(g, z, p), MulMod(t.Leading(), ModExpUint(z, p-1, p), p), p)
}

// Checksum returns the blake3 digest of the table encoding without its
// trailing checksum.
func (t *CoefficientTable) Checksum() [32]byte {
	return blake3.Sum256(t.body())
}

func (t *CoefficientTable) body() []byte {
	buf := make([]byte, 0, 4+8+4+8*len(t.coeffs))
	buf = append(buf, tableMagic[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, t.p)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.coeffs)))
	for _, c := range t.coeffs {
		buf = binary.LittleEndian.AppendUint64(buf, c)
	}
	return buf
}

// MarshalBinary encodes the table followed by its blake3 checksum.
func (t *CoefficientTable) MarshalBinary() ([]byte, error) {
	body := t.body()
	sum := blake3.Sum256(body)
	return append(body, sum[:]...), nil
}

// UnmarshalBinary decodes a table produced by MarshalBinary and verifies
// its checksum.
func (t *CoefficientTable) UnmarshalBinary(data []byte) error {
	const header = 4 + 8 + 4
	if len(data) < header+32 {
		return fmt.Errorf("unmarshal coefficient table: %w: %d bytes", ErrInvalidParameter, len(data))
	}

	body, sum := data[:len(data)-32], data[len(data)-32:]
	want := blake3.Sum256(body)
	if !bytes.Equal(want[:], sum) {
		return ErrTableChecksum
	}
	if !bytes.Equal(body[:4], tableMagic[:]) {
		return fmt.Errorf("unmarshal coefficient table: %w: bad magic", ErrInvalidParameter)
	}

	p := binary.LittleEndian.Uint64(body[4:12])
	n := binary.LittleEndian.Uint32(body[12:16])
	if p < 3 || uint64(n) != (p+1)/2 || len(body) != header+8*int(n) {
		return fmt.Errorf("unmarshal coefficient table: %w: p=%d n=%d", ErrInvalidParameter, p, n)
	}

	coeffs := make([]uint64, n)
	for i := range coeffs {
		coeffs[i] = binary.LittleEndian.Uint64(body[header+8*i:])
	}

	t.p = p
	t.coeffs = coeffs
	return nil
}
