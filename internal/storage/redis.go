package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStorage implements Storage on Redis string keys.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStorage connects to Redis and stores blobs under
// "kanon:blob:<namespace>:". A zero ttl keeps blobs forever.
func NewRedisStorage(cfg RedisConfig, namespace string, ttl time.Duration) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStorage{
		client: client,
		prefix: "kanon:blob:" + namespace + ":",
		ttl:    ttl,
	}, nil
}

func (s *RedisStorage) key(handle Handle) string {
	return s.prefix + string(handle)
}

func (s *RedisStorage) Store(ctx context.Context, data []byte) (Handle, error) {
	handle := ComputeHandle(data)
	if err := s.client.SetNX(ctx, s.key(handle), data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return handle, nil
}

func (s *RedisStorage) Put(ctx context.Context, handle Handle, data []byte) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(handle), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("put blob: %w", err)
	}
	return nil
}

func (s *RedisStorage) Load(ctx context.Context, handle Handle) ([]byte, error) {
	if err := handle.Validate(); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load blob: %w", err)
	}
	return data, nil
}

func (s *RedisStorage) Delete(ctx context.Context, handle Handle) error {
	if err := handle.Validate(); err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.key(handle)).Result()
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStorage) Exists(ctx context.Context, handle Handle) (bool, error) {
	if err := handle.Validate(); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.key(handle)).Result()
	if err != nil {
		return false, fmt.Errorf("exists blob: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
