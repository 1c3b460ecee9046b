// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package kanon

// Executor runs independent tasks and returns once all of them finished.
// Each task receives an evaluation context it owns for the duration of the
// call. The returned error is the failure of the lowest task index, so
// results do not depend on scheduling.
type Executor interface {
	ForEach(n int, task func(i int, kc *Context) error) error
}

type sequential struct {
	kc *Context
}

// Sequential returns an executor running tasks one after the other on kc.
func Sequential(kc *Context) Executor {
	return sequential{kc: kc}
}

func (s sequential) ForEach(n int, task func(i int, kc *Context) error) error {
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		errs[i] = task(i, s.kc)
	}
	return FirstError(errs)
}

// FirstError returns the first non-nil error in index order.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Comparator evaluates comparison circuits with one context for composition
// and an executor for fan-out.
type Comparator struct {
	kc   *Context
	exec Executor
}

// NewComparator creates a comparator. A nil executor runs sequentially on kc.
func NewComparator(kc *Context, exec Executor) *Comparator {
	if exec == nil {
		exec = Sequential(kc)
	}
	return &Comparator{kc: kc, exec: exec}
}
