package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	t.Run("StoreLoad", func(t *testing.T) {
		data := []byte("ciphertext bytes")
		h, err := s.Store(ctx, data)
		require.NoError(t, err)
		require.Equal(t, ComputeHandle(data), h)

		got, err := s.Load(ctx, h)
		require.NoError(t, err)
		require.Equal(t, data, got)

		ok, err := s.Exists(ctx, h)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.Delete(ctx, h))
		_, err = s.Load(ctx, h)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Put", func(t *testing.T) {
		h := Handle("coeffs-p97")
		require.NoError(t, s.Put(ctx, h, []byte("v1")))
		require.NoError(t, s.Put(ctx, h, []byte("v2")))

		got, err := s.Load(ctx, h)
		require.NoError(t, err)
		require.Equal(t, []byte("v2"), got)
		require.NoError(t, s.Delete(ctx, h))
	})

	t.Run("InvalidHandle", func(t *testing.T) {
		for _, h := range []Handle{"", "../escape", "a/b", "sp ace"} {
			require.ErrorIs(t, s.Put(ctx, h, []byte("x")), ErrInvalidHandle, "handle %q", h)
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		require.ErrorIs(t, s.Delete(ctx, ComputeHandle([]byte("missing"))), ErrNotFound)
	})
}

func TestMemoryStorage(t *testing.T) {
	s := NewMemoryStorage(1)
	defer s.Close()
	testStorage(t, s)

	ctx := context.Background()

	t.Run("RefCount", func(t *testing.T) {
		data := []byte("shared")
		h1, err := s.Store(ctx, data)
		require.NoError(t, err)
		h2, err := s.Store(ctx, data)
		require.NoError(t, err)
		require.Equal(t, h1, h2)
		require.Equal(t, 1, s.Len())
		require.Equal(t, int64(len(data)), s.Size())

		require.NoError(t, s.Delete(ctx, h1))
		ok, _ := s.Exists(ctx, h1)
		require.True(t, ok, "second reference keeps the blob")

		require.NoError(t, s.Delete(ctx, h2))
		ok, _ = s.Exists(ctx, h1)
		require.False(t, ok)
		require.Zero(t, s.Size())
	})

	t.Run("Capacity", func(t *testing.T) {
		big := make([]byte, s.Capacity()+1)
		_, err := s.Store(ctx, big)
		require.ErrorIs(t, err, ErrStorageFull)
	})
}

func TestFileStorage(t *testing.T) {
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	testStorage(t, s)
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("KANON_REDIS")
	if addr == "" {
		t.Skip("KANON_REDIS not set")
	}
	s, err := NewRedisStorage(RedisConfig{Addr: addr}, t.Name(), 0)
	require.NoError(t, err)
	defer s.Close()
	testStorage(t, s)
}
