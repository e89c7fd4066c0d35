// Package jobs runs named background tasks with deduplication by name and
// bounded, exponentially backed-off retries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// Task is a deferred unit of work. It is only invoked by a queue worker.
type Task func(ctx context.Context) error

// Enqueuer accepts named tasks. While a task with a given name is pending or
// running, further submissions with the same name are absorbed.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, task Task) error
}

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is shutting down")
	ErrInvalidJob  = errors.New("job requires a name and a task")
)

// RetryPolicy bounds how often and how fast a failing task is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first run.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy retries up to five times: 10s, 20s, 40s, 80s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, InitialBackoff: 10 * time.Second, MaxBackoff: 30 * time.Minute}
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	return p
}

// Backoff returns the delay after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

type Options struct {
	Size    int
	Workers int
	Retry   RetryPolicy
}

// job is a single submission with its retry state.
type job struct {
	ID        string
	Name      string
	Task      Task
	Attempt   int
	CreatedAt time.Time
	NextRetry time.Time
	Done      bool
}

// Queue is an in-process job facility.
type Queue struct {
	log     *zap.SugaredLogger
	queue   chan *job
	size    int
	workers int
	retry   RetryPolicy

	mu     sync.Mutex
	names  map[string]struct{}
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue creates a queue. Call Start to begin processing.
func NewQueue(log *zap.SugaredLogger, opts Options) *Queue {
	if opts.Size <= 0 {
		opts.Size = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	retry := opts.Retry.normalize()

	log = log.Named("jobs")
	log.Infow("Initializing job queue",
		"size", opts.Size,
		"workers", opts.Workers,
		"maxAttempts", retry.MaxAttempts,
		"initialBackoff", retry.InitialBackoff.String(),
		"maxBackoff", retry.MaxBackoff.String())

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		log:     log,
		queue:   make(chan *job, opts.Size),
		size:    opts.Size,
		workers: opts.Workers,
		retry:   retry,
		names:   make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Infow("Job queue workers started", "workers", q.workers)
}

// Enqueue submits task under name. A duplicate name is accepted silently.
func (q *Queue) Enqueue(ctx context.Context, name string, task Task) error {
	if name == "" || task == nil {
		return ErrInvalidJob
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.JobsRejected.Inc()
		q.log.Errorw("Cannot enqueue, queue is shutting down", "name", name)
		return ErrQueueClosed
	}
	if _, pending := q.names[name]; pending {
		metrics.JobsDeduplicated.Inc()
		q.log.Debugw("Job already pending, submission absorbed", "name", name)
		return nil
	}

	now := time.Now()
	j := &job{
		ID:        utilities.NewSnowflakeID(),
		Name:      name,
		Task:      task,
		CreatedAt: now,
		NextRetry: now,
	}

	select {
	case q.queue <- j:
		q.names[name] = struct{}{}
		metrics.JobsEnqueued.Inc()
		q.log.Debugw("Job queued", "id", j.ID, "name", name)
		return nil
	default:
		metrics.JobsRejected.Inc()
		q.log.Errorw("Job queue is full, rejecting job", "name", name, "size", q.size)
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.size)
	}
}

// Pending reports whether a job with name is queued, running or awaiting retry.
func (q *Queue) Pending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.names[name]
	return ok
}

// Length returns the number of jobs waiting in the buffer.
func (q *Queue) Length() int {
	return len(q.queue)
}

func (q *Queue) release(name string) {
	q.mu.Lock()
	delete(q.names, name)
	q.mu.Unlock()
}

func (q *Queue) worker() {
	defer q.wg.Done()

	pending := make([]*job, 0)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.log.Info("Job queue worker shutting down")
			q.drain(pending)
			return

		case j := <-q.queue:
			q.process(j)
			if !j.Done {
				pending = append(pending, j)
			}

		case <-ticker.C:
			now := time.Now()
			remaining := pending[:0]
			for _, j := range pending {
				if now.After(j.NextRetry) {
					q.process(j)
				}
				if !j.Done {
					remaining = append(remaining, j)
				}
			}
			pending = remaining
		}
	}
}

// process runs one attempt and either finishes the job or schedules a retry.
func (q *Queue) process(j *job) {
	j.Attempt++

	err := q.run(j)
	if err == nil {
		j.Done = true
		metrics.JobsSucceeded.Inc()
		q.log.Infow("Job completed",
			"id", j.ID,
			"name", j.Name,
			"attempt", j.Attempt)
		q.release(j.Name)
		return
	}

	if j.Attempt < q.retry.MaxAttempts {
		backoff := q.retry.Backoff(j.Attempt)
		j.NextRetry = time.Now().Add(backoff)
		metrics.JobsRetried.Inc()
		q.log.Warnw("Job failed, scheduling retry",
			"id", j.ID,
			"name", j.Name,
			"attempt", j.Attempt,
			"error", err,
			"retryIn", backoff.String())
		return
	}

	j.Done = true
	metrics.JobsDead.Inc()
	q.log.Errorw("Job failed after all attempts",
		"id", j.ID,
		"name", j.Name,
		"attempts", j.Attempt,
		"error", err)
	q.release(j.Name)
}

func (q *Queue) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.Task(context.Background())
}

// drain gives every buffered job and every job awaiting retry one final attempt.
func (q *Queue) drain(pending []*job) {
buffered:
	for {
		select {
		case j := <-q.queue:
			pending = append(pending, j)
		default:
			break buffered
		}
	}
	q.log.Infow("Processing pending jobs on shutdown", "count", len(pending))
	for _, j := range pending {
		if j.Done {
			continue
		}
		j.Attempt = max(j.Attempt, q.retry.MaxAttempts-1)
		q.process(j)
	}
}

// Stop rejects new submissions and waits for the workers to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.log.Info("Stopping job queue")
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Job queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warnw("Job queue shutdown timeout, some jobs may not have been processed")
		return ctx.Err()
	}
}
