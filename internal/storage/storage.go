// Package storage provides content-addressed blob storage for device arenas
// and coefficient tables.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
)

// Common errors.
var (
	ErrNotFound      = errors.New("blob not found")
	ErrStorageFull   = errors.New("storage capacity exceeded")
	ErrInvalidHandle = errors.New("invalid blob handle")
)

// Handle uniquely identifies a blob.
type Handle string

// ComputeHandle generates a handle from blob data.
func ComputeHandle(data []byte) Handle {
	sum := blake3.Sum256(data)
	return Handle(hex.EncodeToString(sum[:]))
}

// Validate checks that a handle is usable as a file name and a redis key
// suffix.
func (h Handle) Validate() error {
	if len(h) == 0 || len(h) > 128 {
		return fmt.Errorf("%w: length %d", ErrInvalidHandle, len(h))
	}
	for _, c := range h {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidHandle, string(h))
		}
	}
	return nil
}

// Storage defines the interface for blob storage.
type Storage interface {
	// Store saves a blob under its content handle.
	Store(ctx context.Context, data []byte) (Handle, error)
	// Put saves a blob under a caller-chosen handle, replacing any previous
	// value.
	Put(ctx context.Context, handle Handle, data []byte) error
	// Load retrieves a blob by handle.
	Load(ctx context.Context, handle Handle) ([]byte, error)
	// Delete removes a blob.
	Delete(ctx context.Context, handle Handle) error
	// Exists checks if a blob exists.
	Exists(ctx context.Context, handle Handle) (bool, error)
	// Close closes the storage.
	Close() error
}

type entry struct {
	data []byte
	refs int
}

// MemoryStorage implements capacity-bounded in-memory storage. Storing the
// same content twice takes a second reference instead of a second copy, and
// the blob is dropped when the last reference is deleted.
type MemoryStorage struct {
	mu       sync.RWMutex
	data     map[Handle]*entry
	capacity int64
	size     int64
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage(capacityMB int64) *MemoryStorage {
	return &MemoryStorage{
		data:     make(map[Handle]*entry),
		capacity: capacityMB * 1024 * 1024,
	}
}

func (s *MemoryStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	handle := ComputeHandle(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, exists := s.data[handle]; exists {
		e.refs++
		return handle, nil
	}

	if err := s.reserve(int64(len(data))); err != nil {
		return "", err
	}
	s.data[handle] = &entry{data: append([]byte(nil), data...), refs: 1}

	return handle, nil
}

func (s *MemoryStorage) Put(ctx context.Context, handle Handle, data []byte) error {
	if err := handle.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prev int64
	if e, exists := s.data[handle]; exists {
		prev = int64(len(e.data))
	}
	if err := s.reserve(int64(len(data)) - prev); err != nil {
		return err
	}
	s.data[handle] = &entry{data: append([]byte(nil), data...), refs: 1}

	return nil
}

// reserve accounts for n more bytes. Callers hold the lock.
func (s *MemoryStorage) reserve(n int64) error {
	if s.data == nil {
		return errors.New("storage closed")
	}
	if s.size+n > s.capacity {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageFull, s.size, s.capacity)
	}
	s.size += n
	return nil
}

func (s *MemoryStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[handle]
	if !exists {
		return nil, ErrNotFound
	}

	return append([]byte(nil), e.data...), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, handle Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.data[handle]
	if !exists {
		return ErrNotFound
	}

	if e.refs--; e.refs > 0 {
		return nil
	}
	s.size -= int64(len(e.data))
	delete(s.data, handle)
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.data[handle]
	return exists, nil
}

// Size returns the number of bytes held.
func (s *MemoryStorage) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Len returns the number of distinct blobs held.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Capacity returns the byte capacity
func (s *MemoryStorage) Capacity() int64 {
	return s.capacity
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	s.size = 0
	return nil
}

// FileStorage implements file-based blob storage.
type FileStorage struct {
	baseDir string
}

// NewFileStorage creates a new file-based storage.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	return &FileStorage{baseDir: baseDir}, nil
}

func (s *FileStorage) path(handle Handle) string {
	h := string(handle)
	if len(h) < 4 {
		return filepath.Join(s.baseDir, h)
	}
	// Shard by first 2 chars to avoid too many files in one directory.
	return filepath.Join(s.baseDir, h[:2], h)
}

func (s *FileStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	handle := ComputeHandle(data)

	if _, err := os.Stat(s.path(handle)); err == nil {
		return handle, nil // Already exists (dedup).
	}

	if err := s.Put(ctx, handle, data); err != nil {
		return "", err
	}
	return handle, nil
}

func (s *FileStorage) Put(ctx context.Context, handle Handle, data []byte) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	path := s.path(handle)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}

	// Write atomically via temp file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *FileStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *FileStorage) Delete(ctx context.Context, handle Handle) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	if err := os.Remove(s.path(handle)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *FileStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	if err := handle.Validate(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(handle))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat file: %w", err)
}

func (s *FileStorage) Close() error {
	return nil
}
