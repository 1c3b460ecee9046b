// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrBackendClosed is returned by calls on a closed backend.
var ErrBackendClosed = errors.New("backend closed")

var (
	_ Backend  = (*HostBackend)(nil)
	_ Executor = (*HostBackend)(nil)
)

// HostConfig configures the host backend
type HostConfig struct {
	// Workers bounds the number of concurrently running tasks.
	Workers int
}

// DefaultHostConfig uses one worker per CPU.
func DefaultHostConfig() HostConfig {
	return HostConfig{Workers: runtime.NumCPU()}
}

// HostBackend runs tasks on a bounded set of goroutines, each with its own
// evaluation context drawn from a pool of shallow copies.
type HostBackend struct {
	kc     *Context
	sem    chan struct{}
	pool   sync.Pool
	closed atomic.Bool
}

// NewHostBackend creates a host backend over kc.
func NewHostBackend(kc *Context, cfg HostConfig) (*HostBackend, error) {
	if kc == nil {
		return nil, fmt.Errorf("host backend: %w: nil context", ErrInvalidParameter)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if kc.Placement() != Host {
		kc = kc.WithPlacement(Host)
	}

	h := &HostBackend{
		kc:  kc,
		sem: make(chan struct{}, cfg.Workers),
	}
	h.pool.New = func() any {
		return h.kc.ShallowCopy()
	}
	return h, nil
}

// Name returns "host"
func (h *HostBackend) Name() string {
	return "host"
}

// Workers returns the concurrency bound
func (h *HostBackend) Workers() int {
	return cap(h.sem)
}

// ForEach runs n tasks with at most Workers in flight.
func (h *HostBackend) ForEach(n int, task func(i int, kc *Context) error) error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		h.sem <- struct{}{}
		wg.Add(1)
		go func(i int) {
			defer func() {
				<-h.sem
				wg.Done()
			}()
			kc := h.pool.Get().(*Context)
			defer h.pool.Put(kc)
			errs[i] = task(i, kc)
		}(i)
	}
	wg.Wait()
	return FirstError(errs)
}

// call runs fn with a comparator owning a pooled context.
func (h *HostBackend) call(fn func(c *Comparator) (*Ciphertext, error)) (*Ciphertext, error) {
	if h.closed.Load() {
		return nil, ErrBackendClosed
	}
	kc := h.pool.Get().(*Context)
	defer h.pool.Put(kc)
	return fn(NewComparator(kc, h))
}

// EncryptDataset encrypts rows in parallel
func (h *HostBackend) EncryptDataset(rows [][]uint64) ([]*Ciphertext, error) {
	if h.closed.Load() {
		return nil, ErrBackendClosed
	}
	out := make([]*Ciphertext, len(rows))
	err := h.ForEach(len(rows), func(i int, kc *Context) (err error) {
		if out[i], err = kc.EncryptValues(rows[i]); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt dataset: %w", err)
	}
	return out, nil
}

// AddMany sums ciphertexts
func (h *HostBackend) AddMany(cts []*Ciphertext) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.kc.AddMany(cts)
	})
}

// Multiply returns relin(a*b)
func (h *HostBackend) Multiply(a, b *Ciphertext) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.kc.MultiplyRelin(a, b)
	})
}

// ModExp returns x^e
func (h *HostBackend) ModExp(x *Ciphertext, e uint64) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.ModExp(x, e)
	})
}

// EqualityTest returns EQ(x, y)
func (h *HostBackend) EqualityTest(x *Ciphertext, y Operand) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.EqualityTest(x, y)
	})
}

// RangeCompare returns [x < k]
func (h *HostBackend) RangeCompare(x *Ciphertext, k uint64) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.RangeCompare(x, k)
	})
}

// PolynomialCompare returns [x < y]
func (h *HostBackend) PolynomialCompare(x *Ciphertext, y Operand, table *CoefficientTable) (*Ciphertext, error) {
	return h.call(func(c *Comparator) (*Ciphertext, error) {
		return c.PolynomialCompare(x, y, table)
	})
}

// Close marks the backend closed
func (h *HostBackend) Close() error {
	h.closed.Store(true)
	return nil
}
