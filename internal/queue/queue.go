// Package queue provides job queue abstractions for encrypted comparison
// requests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common errors.
var (
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrJobNotFound    = errors.New("job not found")
	ErrConnectionLost = errors.New("queue connection lost")
	ErrQueueFull      = errors.New("queue is full")
)

// JobStatus represents the state of a job.
type JobStatus uint8

const (
	StatusPending JobStatus = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Job is a k-anonymity request: a synthetic location dataset is generated
// from (Rows, Cols, Density, Seed), encrypted, aggregated and filtered by
// the row of User, then compared against Threshold with Method.
type Job struct {
	ID        string  `json:"id"`
	Method    string  `json:"method"`
	Backend   string  `json:"backend,omitempty"`
	Rows      int     `json:"rows"`
	Cols      int     `json:"cols"`
	Density   float64 `json:"density"`
	Seed      uint64  `json:"seed"`
	User      int     `json:"user"`
	Threshold uint64  `json:"threshold"`

	Result []uint64 `json:"result,omitempty"`
	Below  []int    `json:"below,omitempty"`

	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queue defines the interface for job queue operations.
type Queue interface {
	// Push adds a job to the queue.
	Push(ctx context.Context, job *Job) error
	// Pop retrieves and removes the next job from the queue, blocking until
	// one is available or ctx is done.
	Pop(ctx context.Context) (*Job, error)
	// Update updates job status.
	Update(ctx context.Context, job *Job) error
	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*Job, error)
	// Close closes the queue connection.
	Close() error
}

// RedisQueue implements Queue using Redis.
type RedisQueue struct {
	client    *redis.Client
	queueKey  string
	jobPrefix string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(cfg RedisConfig, queueName string) (*RedisQueue, error) {
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

	return &RedisQueue{
		client:    client,
		queueKey:  "kanon:queue:" + queueName,
		jobPrefix: "kanon:job:",
	}, nil
}

func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	stamp(job)

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobPrefix+job.ID, data, 24*time.Hour)
	pipe.LPush(ctx, q.queueKey, job.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*Job, error) {
	result, err := q.client.BRPop(ctx, 0, q.queueKey).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrConnectionLost
		}
		return nil, fmt.Errorf("pop job: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	return q.Get(ctx, result[1])
}

func (q *RedisQueue) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := q.client.Set(ctx, q.jobPrefix+job.ID, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// MemoryQueue implements Queue in process memory. Jobs are stored as JSON so
// callers never share a *Job with the queue.
type MemoryQueue struct {
	mu      sync.RWMutex
	jobs    map[string][]byte
	pending chan string
	done    chan struct{}
	once    sync.Once
}

// NewMemoryQueue creates a queue holding at most size pending jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs:    make(map[string][]byte),
		pending: make(chan string, size),
		done:    make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, job *Job) error {
	stamp(job)
	if err := q.put(job); err != nil {
		return err
	}

	var err error
	select {
	case <-q.done:
		err = ErrConnectionLost
	case q.pending <- job.ID:
		return nil
	default:
		err = ErrQueueFull
	}

	q.mu.Lock()
	delete(q.jobs, job.ID)
	q.mu.Unlock()
	return err
}

func (q *MemoryQueue) Pop(ctx context.Context) (*Job, error) {
	select {
	case id := <-q.pending:
		return q.Get(ctx, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, ErrConnectionLost
	}
}

func (q *MemoryQueue) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now()
	return q.put(job)
}

func (q *MemoryQueue) put(job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	q.mu.Lock()
	q.jobs[job.ID] = data
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.RLock()
	data, ok := q.jobs[id]
	q.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Pending returns the number of queued jobs
func (q *MemoryQueue) Pending() int {
	return len(q.pending)
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

func stamp(job *Job) {
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	job.Status = StatusPending
}
