package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/storage"
)

// TableStore persists coefficient tables keyed by modulus. Tables that are
// missing or fail their checksum are recomputed and written back.
type TableStore struct {
	store storage.Storage
}

// NewTableStore wraps a blob store
func NewTableStore(store storage.Storage) *TableStore {
	return &TableStore{store: store}
}

func tableHandle(p uint64) storage.Handle {
	return storage.Handle(fmt.Sprintf("coeffs-%d", p))
}

// Load returns the table for modulus p.
func (s *TableStore) Load(ctx context.Context, p uint64) (*kanon.CoefficientTable, error) {
	h := tableHandle(p)

	data, err := s.store.Load(ctx, h)
	switch {
	case err == nil:
		t := new(kanon.CoefficientTable)
		if uerr := t.UnmarshalBinary(data); uerr == nil && t.Modulus() == p {
			return t, nil
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load table %d: %w", p, err)
	}

	t, err := kanon.Coefficients(p)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Save writes t under its modulus, replacing any stored table.
func (s *TableStore) Save(ctx context.Context, t *kanon.CoefficientTable) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return fmt.Errorf("save table %d: %w", t.Modulus(), err)
	}
	if err := s.store.Put(ctx, tableHandle(t.Modulus()), data); err != nil {
		return fmt.Errorf("save table %d: %w", t.Modulus(), err)
	}
	return nil
}

// Close closes the underlying store
func (s *TableStore) Close() error {
	return s.store.Close()
}
