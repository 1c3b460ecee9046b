package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/storage"
)

func keysHandle(name, fingerprint string) (storage.Handle, error) {
	h := storage.Handle(fmt.Sprintf("keys-%s-%s", name, fingerprint))
	return h, h.Validate()
}

// LoadOrCreateKeys returns the key set stored under name for params,
// generating and storing a fresh one when none exists. The boolean reports
// whether the keys were generated.
func LoadOrCreateKeys(ctx context.Context, store storage.Storage, name string, params kanon.Parameters) (*kanon.KeySet, bool, error) {
	fp, err := params.Fingerprint()
	if err != nil {
		return nil, false, fmt.Errorf("fingerprint parameters: %w", err)
	}
	h, err := keysHandle(name, fp)
	if err != nil {
		return nil, false, err
	}

	data, err := store.Load(ctx, h)
	switch {
	case err == nil:
		ks := new(kanon.KeySet)
		if err := ks.UnmarshalBinary(data); err != nil {
			return nil, false, fmt.Errorf("load keys %s: %w", h, err)
		}
		return ks, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, false, fmt.Errorf("load keys %s: %w", h, err)
	}

	ks := kanon.NewKeyGenerator(params).GenKeySet()
	data, err = ks.MarshalBinary()
	if err != nil {
		return nil, false, err
	}
	if err := store.Put(ctx, h, data); err != nil {
		return nil, false, fmt.Errorf("store keys %s: %w", h, err)
	}
	return ks, true, nil
}
