package gpu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/kanon"
)

// Scheduler errors
var (
	ErrSchedulerClosed  = errors.New("scheduler is closed")
	ErrOperationTimeout = errors.New("operation timed out")
)

// Kernel names a device kernel. Batches group kernels of the same name.
type Kernel string

const (
	KernelTask    Kernel = "task"
	KernelEncrypt Kernel = "encrypt"
)

// Operation is a kernel launch waiting on a stream
type Operation struct {
	ID         uint64
	Kernel     Kernel
	SubmitTime time.Time

	fn     func(kc *kanon.Context) error
	future *Future
}

// Future represents a pending kernel result
type Future struct {
	done chan struct{}
	err  error
	mu   sync.Mutex
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Wait blocks until the kernel completes
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// WaitContext blocks until completion or context cancellation
func (f *Future) WaitContext(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready returns true if the kernel has completed
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// complete marks the future as done
func (f *Future) complete(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return // Already completed
	default:
		f.err = err
		close(f.done)
	}
}

// SchedulerConfig configures the scheduler
type SchedulerConfig struct {
	Streams      int           // Kernel streams (default: NumCPU)
	QueueSize    int           // Per-stream queue size (default: 1024)
	BatchSize    int           // Kernels per batch (default: 64)
	BatchTimeout time.Duration // Max wait for batch fill (default: 200µs)
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	d := DefaultConfig()
	return SchedulerConfig{
		Streams:      d.Streams,
		QueueSize:    d.QueueSize,
		BatchSize:    d.BatchSize,
		BatchTimeout: d.BatchTimeout,
	}
}

// Scheduler distributes kernels over streams. Each stream owns a device
// context and runs the kernels of a batch back to back, grouped by kernel.
type Scheduler struct {
	numStreams int
	contexts   []*kanon.Context

	// Per-stream work queues
	queues []chan *Operation

	// Load tracking per stream
	loads        []atomic.Int64
	completedOps []atomic.Uint64

	batchSize    int
	batchTimeout time.Duration

	// In-flight accounting for Sync
	flightMu sync.Mutex
	flightCv *sync.Cond
	inflight int

	// Control
	submitMu sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool

	// Statistics
	totalSubmitted atomic.Uint64
	totalCompleted atomic.Uint64
	totalBatched   atomic.Uint64
	totalBatches   atomic.Uint64

	nextOpID atomic.Uint64
}

var _ kanon.Executor = (*Scheduler)(nil)

// NewScheduler starts one worker per stream. Stream contexts are shallow
// copies of kc and share its placement.
func NewScheduler(kc *kanon.Context, cfg SchedulerConfig) *Scheduler {
	d := DefaultSchedulerConfig()
	if cfg.Streams <= 0 {
		cfg.Streams = d.Streams
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = d.BatchTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		numStreams:   cfg.Streams,
		contexts:     make([]*kanon.Context, cfg.Streams),
		queues:       make([]chan *Operation, cfg.Streams),
		loads:        make([]atomic.Int64, cfg.Streams),
		completedOps: make([]atomic.Uint64, cfg.Streams),
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.flightCv = sync.NewCond(&s.flightMu)

	for i := 0; i < cfg.Streams; i++ {
		s.contexts[i] = kc.ShallowCopy()
		s.queues[i] = make(chan *Operation, cfg.QueueSize)
		s.wg.Add(1)
		go s.worker(i)
	}

	return s
}

// Streams returns the number of streams
func (s *Scheduler) Streams() int {
	return s.numStreams
}

// Submit queues a kernel on the least loaded stream. It blocks while that
// stream's queue is full.
func (s *Scheduler) Submit(kernel Kernel, fn func(kc *kanon.Context) error) (*Future, error) {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()

	if s.closed.Load() {
		return nil, ErrSchedulerClosed
	}

	op := &Operation{
		ID:         s.nextOpID.Add(1),
		Kernel:     kernel,
		SubmitTime: time.Now(),
		fn:         fn,
		future:     newFuture(),
	}

	idx := s.selectStream()
	s.loads[idx].Add(1)
	s.begin()

	select {
	case s.queues[idx] <- op:
		s.totalSubmitted.Add(1)
		return op.future, nil
	case <-s.ctx.Done():
		s.loads[idx].Add(-1)
		s.end()
		return nil, ErrSchedulerClosed
	}
}

// ForEach submits n kernels and waits for all of them. The error of the
// lowest failing index is returned.
func (s *Scheduler) ForEach(n int, task func(i int, kc *kanon.Context) error) error {
	futures := make([]*Future, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		f, err := s.Submit(KernelTask, func(kc *kanon.Context) error {
			return task(i, kc)
		})
		if err != nil {
			errs[i] = err
			continue
		}
		futures[i] = f
	}

	for i, f := range futures {
		if f != nil {
			errs[i] = f.Wait()
		}
	}
	return kanon.FirstError(errs)
}

// selectStream returns the stream with the lowest load
func (s *Scheduler) selectStream() int {
	best := 0
	bestLoad := s.loads[0].Load()
	for i := 1; i < s.numStreams; i++ {
		if l := s.loads[i].Load(); l < bestLoad {
			best, bestLoad = i, l
		}
	}
	return best
}

func (s *Scheduler) begin() {
	s.flightMu.Lock()
	s.inflight++
	s.flightMu.Unlock()
}

func (s *Scheduler) end() {
	s.flightMu.Lock()
	s.inflight--
	if s.inflight == 0 {
		s.flightCv.Broadcast()
	}
	s.flightMu.Unlock()
}

// Sync blocks until no kernel is queued or running
func (s *Scheduler) Sync() {
	s.flightMu.Lock()
	for s.inflight > 0 {
		s.flightCv.Wait()
	}
	s.flightMu.Unlock()
}

// worker processes kernels for a single stream
func (s *Scheduler) worker(idx int) {
	defer s.wg.Done()

	batch := make([]*Operation, 0, s.batchSize)
	timer := time.NewTimer(s.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case op := <-s.queues[idx]:
			batch = append(batch, op)

			// Try to collect more kernels until the batch fills or times out
			timer.Reset(s.batchTimeout)
		collectLoop:
			for len(batch) < s.batchSize {
				select {
				case next := <-s.queues[idx]:
					batch = append(batch, next)
				case <-timer.C:
					break collectLoop
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

			s.processBatch(idx, batch)
			batch = batch[:0]
		}
	}
}

// processBatch runs a batch grouped by kernel, in submission order within
// each group.
func (s *Scheduler) processBatch(idx int, ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Kernel < ops[j].Kernel
	})

	kc := s.contexts[idx]
	for _, op := range ops {
		s.run(kc, idx, op)
	}

	s.totalBatches.Add(1)
	if len(ops) > 1 {
		s.totalBatched.Add(uint64(len(ops)))
	}
}

func (s *Scheduler) run(kc *kanon.Context, idx int, op *Operation) {
	err := op.fn(kc)
	if err != nil {
		err = fmt.Errorf("kernel %s #%d: %w", op.Kernel, op.ID, err)
	}
	op.future.complete(err)

	s.loads[idx].Add(-1)
	s.completedOps[idx].Add(1)
	s.totalCompleted.Add(1)
	s.end()
}

// Close shuts down the scheduler. Queued kernels fail with
// ErrSchedulerClosed.
func (s *Scheduler) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	s.cancel()
	s.submitMu.Lock()
	s.submitMu.Unlock()
	s.wg.Wait()

	// Drain remaining operations
	for idx, q := range s.queues {
		for len(q) > 0 {
			op := <-q
			op.future.complete(ErrSchedulerClosed)
			s.loads[idx].Add(-1)
			s.end()
		}
	}
	return nil
}

// SchedulerStats contains scheduler statistics
type SchedulerStats struct {
	TotalSubmitted     uint64
	TotalCompleted     uint64
	TotalBatched       uint64
	TotalBatches       uint64
	CompletedPerStream []uint64
	LoadPerStream      []int64
	QueueLengths       []int
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		TotalSubmitted:     s.totalSubmitted.Load(),
		TotalCompleted:     s.totalCompleted.Load(),
		TotalBatched:       s.totalBatched.Load(),
		TotalBatches:       s.totalBatches.Load(),
		CompletedPerStream: make([]uint64, s.numStreams),
		LoadPerStream:      make([]int64, s.numStreams),
		QueueLengths:       make([]int, s.numStreams),
	}

	for i := 0; i < s.numStreams; i++ {
		stats.CompletedPerStream[i] = s.completedOps[i].Load()
		stats.LoadPerStream[i] = s.loads[i].Load()
		stats.QueueLengths[i] = len(s.queues[i])
	}

	return stats
}
