// Package gpu provides the batched device backend.
//
// The device is emulated in pure Go: ciphertexts are marshalled into a
// capacity-bounded, content-addressed arena on upload and unmarshalled into
// device-placed ciphertexts that only device contexts accept. Kernels run on
// scheduler streams, each owning its own evaluation context.
package gpu

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/lattice/v7/core/rlwe"
	"github.com/luxfi/log"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/storage"
)

// Engine errors
var (
	ErrEngineClosed = errors.New("device engine is closed")
	ErrNotResident  = errors.New("ciphertext is not resident on the device")
)

// Config holds device engine configuration
type Config struct {
	Streams      int           // Concurrent kernel streams (default: NumCPU)
	MemoryMB     int64         // Arena capacity (default: 4096)
	BatchSize    int           // Kernels collected per batch (default: 64)
	BatchTimeout time.Duration // Max wait for batch fill (default: 200µs)
	QueueSize    int           // Per-stream queue size (default: 1024)

	// Logger receives lifecycle events. Nil means log.Root().
	Logger log.Logger
}

// DefaultConfig returns configuration sized for the local machine
func DefaultConfig() Config {
	return Config{
		Streams:      runtime.NumCPU(),
		MemoryMB:     4096,
		BatchSize:    64,
		BatchTimeout: 200 * time.Microsecond,
		QueueSize:    1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Streams <= 0 {
		c.Streams = d.Streams
	}
	if c.MemoryMB <= 0 {
		c.MemoryMB = d.MemoryMB
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Logger == nil {
		c.Logger = log.Root()
	}
	return c
}

// Engine owns the device arena and the kernel scheduler.
type Engine struct {
	cfg   Config
	kc    *kanon.Context
	arena *storage.MemoryStorage
	sched *Scheduler
	log   log.Logger

	mu       sync.Mutex
	resident map[*rlwe.Ciphertext]storage.Handle

	uploads   atomic.Uint64
	downloads atomic.Uint64
	bytesIn   atomic.Uint64
	bytesOut  atomic.Uint64
	closed    atomic.Bool
}

// NewEngine creates a device engine over the key material of kc.
func NewEngine(kc *kanon.Context, cfg Config) (*Engine, error) {
	if kc == nil {
		return nil, fmt.Errorf("device engine: %w: nil context", kanon.ErrInvalidParameter)
	}
	cfg = cfg.withDefaults()

	dev := kc.WithPlacement(kanon.Device)
	e := &Engine{
		cfg:      cfg,
		kc:       dev,
		arena:    storage.NewMemoryStorage(cfg.MemoryMB),
		log:      cfg.Logger,
		resident: make(map[*rlwe.Ciphertext]storage.Handle),
	}
	e.sched = NewScheduler(dev, SchedulerConfig{
		Streams:      cfg.Streams,
		QueueSize:    cfg.QueueSize,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	})

	e.log.Info("device engine started",
		"streams", cfg.Streams,
		"arenaMB", cfg.MemoryMB,
		"slots", kc.Slots(),
		"modulus", kc.Modulus(),
	)
	return e, nil
}

// Context returns a fresh device-placed evaluation context
func (e *Engine) Context() *kanon.Context {
	return e.kc.ShallowCopy()
}

// Scheduler returns the kernel scheduler
func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

// ToDevice copies a host ciphertext into the arena and returns its
// device-placed twin.
func (e *Engine) ToDevice(ct *kanon.Ciphertext) (*kanon.Ciphertext, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if ct == nil || ct.Placement() != kanon.Host {
		return nil, fmt.Errorf("to device: %w: expected host ciphertext", kanon.ErrPlacement)
	}

	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("to device: marshal: %w", err)
	}

	ctx := context.Background()
	h, err := e.arena.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("to device: %w", err)
	}

	stored, err := e.arena.Load(ctx, h)
	if err != nil {
		e.arena.Delete(ctx, h)
		return nil, fmt.Errorf("to device: %w", err)
	}
	raw := new(rlwe.Ciphertext)
	if err := raw.UnmarshalBinary(stored); err != nil {
		e.arena.Delete(ctx, h)
		return nil, fmt.Errorf("to device: unmarshal: %w", err)
	}

	e.mu.Lock()
	e.resident[raw] = h
	e.mu.Unlock()

	e.uploads.Add(1)
	e.bytesIn.Add(uint64(len(data)))
	return kanon.WrapCiphertext(raw, kanon.Device), nil
}

// ToHost copies a device ciphertext back to host memory. The device copy
// stays resident until freed.
func (e *Engine) ToHost(ct *kanon.Ciphertext) (*kanon.Ciphertext, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if ct == nil || ct.Placement() != kanon.Device {
		return nil, fmt.Errorf("to host: %w: expected device ciphertext", kanon.ErrPlacement)
	}

	data, err := ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("to host: marshal: %w", err)
	}
	raw := new(rlwe.Ciphertext)
	if err := raw.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("to host: unmarshal: %w", err)
	}

	e.downloads.Add(1)
	e.bytesOut.Add(uint64(len(data)))
	return kanon.WrapCiphertext(raw, kanon.Host), nil
}

// Free releases the arena slot of an uploaded ciphertext.
func (e *Engine) Free(ct *kanon.Ciphertext) error {
	if ct == nil {
		return nil
	}
	e.mu.Lock()
	h, ok := e.resident[ct.Ciphertext]
	delete(e.resident, ct.Ciphertext)
	e.mu.Unlock()
	if !ok {
		return ErrNotResident
	}
	return e.arena.Delete(context.Background(), h)
}

// Sync waits for all in-flight kernels
func (e *Engine) Sync() {
	e.sched.Sync()
}

// Stats holds engine statistics
type Stats struct {
	Backend       string
	Streams       int
	ArenaBytes    int64
	ArenaCapacity int64
	Resident      int
	Uploads       uint64
	Downloads     uint64
	BytesIn       uint64
	BytesOut      uint64
	Scheduler     SchedulerStats
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	resident := len(e.resident)
	e.mu.Unlock()

	return Stats{
		Backend:       "emulated",
		Streams:       e.cfg.Streams,
		ArenaBytes:    e.arena.Size(),
		ArenaCapacity: e.arena.Capacity(),
		Resident:      resident,
		Uploads:       e.uploads.Load(),
		Downloads:     e.downloads.Load(),
		BytesIn:       e.bytesIn.Load(),
		BytesOut:      e.bytesOut.Load(),
		Scheduler:     e.sched.Stats(),
	}
}

// Close stops the scheduler and drops the arena.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	err := e.sched.Close()
	st := e.sched.Stats()
	e.log.Info("device engine closed",
		"kernels", st.TotalCompleted,
		"batched", st.TotalBatched,
		"uploads", e.uploads.Load(),
		"downloads", e.downloads.Load(),
	)

	e.mu.Lock()
	e.resident = make(map[*rlwe.Ciphertext]storage.Handle)
	e.mu.Unlock()

	if cerr := e.arena.Close(); err == nil {
		err = cerr
	}
	return err
}

// Session tracks the uploads of one backend call so they can be released
// together.
type Session struct {
	engine  *Engine
	mu      sync.Mutex
	uploads []*kanon.Ciphertext
}

// NewSession starts a call-scoped session
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// Upload moves ct to the device and records it for release.
func (s *Session) Upload(ct *kanon.Ciphertext) (*kanon.Ciphertext, error) {
	dev, err := s.engine.ToDevice(ct)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, dev)
	s.mu.Unlock()
	return dev, nil
}

// UploadAll uploads every ciphertext in order.
func (s *Session) UploadAll(cts []*kanon.Ciphertext) ([]*kanon.Ciphertext, error) {
	out := make([]*kanon.Ciphertext, len(cts))
	for i, ct := range cts {
		dev, err := s.Upload(ct)
		if err != nil {
			return nil, fmt.Errorf("upload %d: %w", i, err)
		}
		out[i] = dev
	}
	return out, nil
}

// Close frees every upload of the session.
func (s *Session) Close() {
	s.mu.Lock()
	uploads := s.uploads
	s.uploads = nil
	s.mu.Unlock()

	for _, ct := range uploads {
		s.engine.Free(ct)
	}
}
