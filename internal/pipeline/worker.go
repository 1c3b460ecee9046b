package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/kanon"
	"github.com/luxfi/kanon/internal/queue"
)

// ErrPoolRunning is returned by Start on a running pool.
var ErrPoolRunning = errors.New("pool already running")

// WorkerConfig configures a WorkerPool.
type WorkerConfig struct {
	Workers      int           // Concurrent jobs (default: 1)
	MaxRows      int           // Largest accepted dataset (default: 4096)
	RetryDelay   time.Duration // Pause after a failed pop (default: 1s)
	StopTimeout  time.Duration // Grace period for Stop (default: 30s)
	Logger       log.Logger    // Nil means log.Root()
	DefaultTable uint64        // Modulus preloaded on Start, 0 for none
}

// WorkerPool pops comparison jobs from a queue and runs them.
type WorkerPool struct {
	cfg      WorkerConfig
	queue    queue.Queue
	kc       *kanon.Context
	backends *Backends
	tables   *TableStore
	log      log.Logger

	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	successCount atomic.Int64
	failureCount atomic.Int64
}

// NewWorkerPool creates a pool answering jobs of q with the key set of kc.
func NewWorkerPool(cfg WorkerConfig, q queue.Queue, kc *kanon.Context, backends *Backends, tables *TableStore) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 4096
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Root()
	}
	return &WorkerPool{
		cfg:      cfg,
		queue:    q,
		kc:       kc,
		backends: backends,
		tables:   tables,
		log:      cfg.Logger,
	}
}

// Succeeded returns the number of completed jobs
func (p *WorkerPool) Succeeded() int64 {
	return p.successCount.Load()
}

// Failed returns the number of failed jobs
func (p *WorkerPool) Failed() int64 {
	return p.failureCount.Load()
}

// Running reports whether the workers are started
func (p *WorkerPool) Running() bool {
	return p.running.Load()
}

// Start starts the worker pool.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.running.Load() {
		return ErrPoolRunning
	}
	if p.cfg.DefaultTable != 0 {
		if _, err := p.tables.Load(ctx, p.cfg.DefaultTable); err != nil {
			return fmt.Errorf("preload table: %w", err)
		}
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	p.log.Info("starting workers", "workers", p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return nil
}

// Stop gracefully stops the worker pool. Jobs in progress finish first.
func (p *WorkerPool) Stop() error {
	if !p.running.Load() {
		return nil
	}

	p.log.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool stopped",
			"succeeded", p.successCount.Load(),
			"failed", p.failureCount.Load(),
		)
	case <-time.After(p.cfg.StopTimeout):
		p.log.Warn("shutdown timeout exceeded")
		return errors.New("shutdown timeout")
	}

	p.running.Store(false)
	return nil
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.log.Debug("worker started", "worker", id)

	for {
		select {
		case <-ctx.Done():
			p.log.Debug("worker stopping", "worker", id)
			return
		default:
		}

		job, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			p.log.Warn("failed to pop job", "worker", id, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.RetryDelay):
			}
			continue
		}

		p.processJob(ctx, id, job)
	}
}

func (p *WorkerPool) processJob(ctx context.Context, id int, job *queue.Job) {
	// a started job always records its outcome, even during Stop
	ctx = context.WithoutCancel(ctx)

	p.log.Info("processing job",
		"worker", id,
		"job", job.ID,
		"method", job.Method,
		"backend", job.Backend,
		"rows", job.Rows,
		"cols", job.Cols,
	)

	job.Status = queue.StatusProcessing
	if err := p.queue.Update(ctx, job); err != nil {
		p.log.Warn("failed to update job status", "worker", id, "job", job.ID, "err", err)
	}

	res, err := p.Execute(ctx, job)
	if err != nil {
		job.Status = queue.StatusFailed
		job.Error = err.Error()
		if uerr := p.queue.Update(ctx, job); uerr != nil {
			p.log.Warn("failed to update job status", "worker", id, "job", job.ID, "err", uerr)
		}
		p.failureCount.Add(1)
		p.log.Warn("job failed", "worker", id, "job", job.ID, "err", err)
		return
	}

	job.Status = queue.StatusCompleted
	job.Result = res.Indicator
	job.Below = res.Below
	job.Error = ""
	if err := p.queue.Update(ctx, job); err != nil {
		p.log.Warn("failed to update job result", "worker", id, "job", job.ID, "err", err)
	}

	p.successCount.Add(1)
	p.log.Info("job completed",
		"worker", id,
		"job", job.ID,
		"below", len(res.Below),
		"elapsed", res.Timings.Total(),
	)
}

// Execute runs a single job and returns its result without touching the
// queue.
func (p *WorkerPool) Execute(ctx context.Context, job *queue.Job) (*Result, error) {
	if job.Rows > p.cfg.MaxRows {
		return nil, fmt.Errorf("%w: %d rows exceeds limit %d", kanon.ErrInvalidParameter, job.Rows, p.cfg.MaxRows)
	}
	if job.Cols > p.kc.Slots() {
		return nil, fmt.Errorf("%w: %d regions exceeds %d slots", kanon.ErrInvalidParameter, job.Cols, p.kc.Slots())
	}
	method, err := ParseMethod(job.Method)
	if err != nil {
		return nil, err
	}
	rows, err := GenerateDataset(job.Rows, job.Cols, job.Density, job.Seed)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}

	req := Request{
		Rows:      rows,
		User:      job.User,
		Threshold: job.Threshold,
		Method:    method,
	}
	if method.polynomial() {
		if req.Table, err = p.tables.Load(ctx, p.kc.Modulus()); err != nil {
			return nil, err
		}
	}

	b, err := p.backends.Get(job.Backend)
	if err != nil {
		return nil, err
	}
	return Run(b, p.kc.ShallowCopy(), req)
}
