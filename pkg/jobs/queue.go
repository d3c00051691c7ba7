package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by Offer when every buffer slot is taken.
	ErrQueueFull = errors.New("jobs: queue full")
	// ErrNotRunning is returned when a job arrives before Start or after Stop.
	ErrNotRunning = errors.New("jobs: queue not running")
)

// Job is one unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job. A returned error schedules another attempt while
// attempts remain.
type Handler func(context.Context, Job) error

// Options size the worker pool.
type Options struct {
	Workers  int
	Buffer   int
	Attempts int
	// Backoff is the wait before the second attempt; it doubles afterwards.
	Backoff time.Duration
	Logger  *zap.Logger
}

// Queue feeds jobs to a fixed pool of workers through a bounded buffer. A
// worker keeps a failing job until it succeeds or runs out of attempts, so
// jobs never overtake each other on a single-worker queue.
type Queue struct {
	name    string
	handle  Handler
	opts    Options
	pending chan Job

	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	state   int
	workers sync.WaitGroup
}

const (
	stateIdle = iota
	stateRunning
	stateStopped
)

// New builds an idle queue.
func New(name string, handle Handler, opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = opts.Workers * 4
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handle:  handle,
		opts:    opts,
		pending: make(chan Job, opts.Buffer),
	}
}

// Start launches the workers. Later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != stateIdle {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.state = stateRunning
	for i := 1; i <= q.opts.Workers; i++ {
		q.workers.Add(1)
		go q.work(i)
	}
	q.opts.Logger.Info("job queue started", zap.String("queue", q.name), zap.Int("workers", q.opts.Workers))
}

// Stop cancels in-flight jobs and waits for the workers to return. Jobs
// still buffered are dropped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.state != stateRunning {
		q.mu.Unlock()
		return
	}
	q.state = stateStopped
	q.cancel()
	q.mu.Unlock()

	q.workers.Wait()
	q.opts.Logger.Info("job queue stopped", zap.String("queue", q.name), zap.Int("dropped", len(q.pending)))
}

func (q *Queue) running() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.state != stateRunning {
		return fmt.Errorf("%s: %w", q.name, ErrNotRunning)
	}
	return nil
}

// Offer buffers job without blocking and reports ErrQueueFull when there is
// no room. Callers use it to collapse repeated triggers into one job.
func (q *Queue) Offer(job Job) error {
	if err := q.running(); err != nil {
		return err
	}
	stamp(&job)
	select {
	case q.pending <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending counts buffered jobs no worker has picked up yet.
func (q *Queue) Pending() int {
	return len(q.pending)
}

func stamp(job *Job) {
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
}

func (q *Queue) work(worker int) {
	defer q.workers.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pending:
			q.process(worker, job)
		}
	}
}

func (q *Queue) process(worker int, job Job) {
	wait := q.opts.Backoff
	for job.Attempt = 1; ; job.Attempt++ {
		err := q.handle(q.ctx, job)
		if err == nil {
			return
		}
		log := q.opts.Logger.With(
			zap.String("queue", q.name),
			zap.Int("worker", worker),
			zap.String("job_id", job.ID),
			zap.String("type", job.Type),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		if job.Attempt >= q.opts.Attempts {
			log.Error("job gave up")
			return
		}
		log.Warn("job failed, retrying", zap.Duration("backoff", wait))

		timer := time.NewTimer(wait)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		wait *= 2
	}
}
