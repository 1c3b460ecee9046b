package pipeline

import (
	"fmt"
	"sync"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/gpu"
)

// Backend kinds accepted by NewBackend.
const (
	BackendHost   = "host"
	BackendDevice = "device"
)

// BackendConfig sizes the backends built by NewBackend.
type BackendConfig struct {
	Host   kanon.HostConfig
	Device gpu.Config
}

// DefaultBackendConfig returns the default host and device configurations
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		Host:   kanon.DefaultHostConfig(),
		Device: gpu.DefaultConfig(),
	}
}

// NewBackend builds the backend named kind over the key set of kc.
func NewBackend(kind string, kc *kanon.Context, cfg BackendConfig) (kanon.Backend, error) {
	switch kind {
	case BackendHost, "":
		return kanon.NewHostBackend(kc, cfg.Host)
	case BackendDevice:
		return gpu.NewBackend(kc, cfg.Device)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", kanon.ErrInvalidParameter, kind)
}

// Backends lazily builds one backend per kind and shares it between callers.
type Backends struct {
	kc       *kanon.Context
	cfg      BackendConfig
	fallback string

	mu    sync.Mutex
	built map[string]kanon.Backend
}

// NewBackends creates a lazy backend set. fallback is used for requests
// that do not name a backend.
func NewBackends(kc *kanon.Context, cfg BackendConfig, fallback string) *Backends {
	if fallback == "" {
		fallback = BackendHost
	}
	return &Backends{
		kc:       kc,
		cfg:      cfg,
		fallback: fallback,
		built:    make(map[string]kanon.Backend),
	}
}

// Get returns the backend for kind, building it on first use.
func (s *Backends) Get(kind string) (kanon.Backend, error) {
	if kind == "" {
		kind = s.fallback
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.built[kind]; ok {
		return b, nil
	}
	b, err := NewBackend(kind, s.kc, s.cfg)
	if err != nil {
		return nil, err
	}
	s.built[kind] = b
	return b, nil
}

// Close closes every backend built so far.
func (s *Backends) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for kind, b := range s.built {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.built, kind)
	}
	return first
}
