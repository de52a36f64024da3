package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueStopped is returned when enqueueing into a queue that is not running.
var ErrQueueStopped = errors.New("queue not running")

// Job is a unit of background work.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// DeadLetterFunc receives jobs that exhausted their retries.
type DeadLetterFunc func(Job, error)

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// Backoff multiplies RetryDelay by the attempt number when set.
	Backoff    bool
	DeadLetter DeadLetterFunc
	Logger     *zap.Logger
}

// Stats are cumulative counters for a queue.
type Stats struct {
	Enqueued     uint64 `json:"enqueued"`
	Succeeded    uint64 `json:"succeeded"`
	Retried      uint64 `json:"retried"`
	DeadLettered uint64 `json:"dead_lettered"`
}

// Queue is an in-memory worker pool with bounded retries. Stopping drains every accepted job,
// including jobs waiting on a retry delay, before the workers exit.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	logger  *zap.Logger

	jobs chan Job
	ctx  context.Context
	// cancel aborts running handlers; only a parent cancellation or an expired Drain deadline uses it.
	cancel context.CancelFunc
	// stopping is closed when Drain begins so delayed retries requeue at once.
	stopping chan struct{}
	// quit is closed once no further sends can happen; workers then empty the buffer and exit.
	quit    chan struct{}
	wg      sync.WaitGroup
	retries sync.WaitGroup
	sends   sync.WaitGroup
	mu      sync.Mutex
	started bool

	enqueued     uint64
	succeeded    uint64
	retried      uint64
	deadLettered uint64
}

// NewQueue builds a queue that dispatches every job to handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("queue", name)),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Calling it twice is a no-op. Cancelling ctx aborts the queue
// without draining, so long-lived queues should be started on a background context and
// stopped explicitly.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.stopping = make(chan struct{})
	q.quit = make(chan struct{})
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop drains the queue without a deadline.
func (q *Queue) Stop() {
	_ = q.Drain(context.Background())
}

// Drain stops accepting jobs, runs everything already accepted (retries included) and waits
// for the workers to exit. When ctx expires first, running handlers are cancelled, the
// remaining jobs are dropped and ctx.Err() is returned.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	close(q.stopping)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.sends.Wait()
		q.retries.Wait()
		close(q.quit)
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		q.cancel()
		<-done
	}
	q.cancel()

	if dropped := len(q.jobs); dropped > 0 {
		q.logger.Error("queue stopped with undelivered jobs", zap.Int("dropped", dropped))
	}
	q.logger.Info("queue stopped", zap.Any("stats", q.Stats()))
	return err
}

// Enqueue pushes a job, blocking while the buffer is full until ctx or the queue is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return fmt.Errorf("%s: %w", q.name, ErrQueueStopped)
	}
	q.sends.Add(1)
	queueCtx := q.ctx
	q.mu.Unlock()
	defer q.sends.Done()

	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-queueCtx.Done():
		return fmt.Errorf("%s: %w", q.name, ErrQueueStopped)
	case q.jobs <- job:
		if job.Attempt == 0 {
			atomic.AddUint64(&q.enqueued, 1)
		}
		return nil
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:     atomic.LoadUint64(&q.enqueued),
		Succeeded:    atomic.LoadUint64(&q.succeeded),
		Retried:      atomic.LoadUint64(&q.retried),
		DeadLettered: atomic.LoadUint64(&q.deadLettered),
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.quit:
			q.drainBuffer()
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) drainBuffer() {
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		default:
			return
		}
	}
}

// process runs job until it succeeds, is dead-lettered or is handed to a delayed retry.
// Once the queue is stopping, retries run in place on this worker.
func (q *Queue) process(job Job) {
	for {
		err := q.handler(q.ctx, job)
		if err == nil {
			atomic.AddUint64(&q.succeeded, 1)
			return
		}

		job.Attempt++
		if job.Attempt > q.cfg.MaxRetries {
			atomic.AddUint64(&q.deadLettered, 1)
			q.logger.Error("job exceeded retries", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempts", job.Attempt), zap.Error(err))
			if q.cfg.DeadLetter != nil {
				q.cfg.DeadLetter(job, err)
			}
			return
		}
		atomic.AddUint64(&q.retried, 1)
		q.logger.Warn("job failed, retrying", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err))

		delay := q.cfg.RetryDelay
		if q.cfg.Backoff {
			delay *= time.Duration(job.Attempt)
		}

		q.mu.Lock()
		deferred := q.started
		if deferred {
			q.retries.Add(1)
		}
		q.mu.Unlock()
		if deferred {
			go q.requeueAfter(job, delay)
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
			q.logger.Error("job dropped during shutdown", zap.String("job_id", job.ID), zap.String("type", job.Type))
			return
		case <-timer.C:
		}
	}
}

func (q *Queue) requeueAfter(job Job, delay time.Duration) {
	defer q.retries.Done()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-q.stopping:
	case <-q.ctx.Done():
		return
	}

	select {
	case q.jobs <- job:
	case <-q.ctx.Done():
		q.logger.Error("failed to requeue job", zap.String("job_id", job.ID), zap.Error(q.ctx.Err()))
	}
}
