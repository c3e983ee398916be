// Package gateway runs slow chat work (evaluations, builds) off the event
// loop. Jobs are grouped into named lanes; each lane is a FIFO drained by
// its own goroutine and a global semaphore bounds how many lanes execute
// at once.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/fancybot/internal/types"
)

// Lane names used by the bot.
const (
	LaneEval  = "eval"
	LaneBuild = "build"
)

const laneBuffer = 100

var (
	ErrNotStarted = errors.New("queue not started")
	ErrStopped    = errors.New("queue stopped")
	ErrLaneFull   = errors.New("lane full")
)

// Job is one unit of background work.
type Job struct {
	ID       types.RunID
	Lane     string
	Name     string
	Fn       func(ctx context.Context) error
	Enqueued time.Time
}

// NewJob wraps fn as a job for lane.
func NewJob(lane, name string, fn func(ctx context.Context) error) *Job {
	return &Job{
		ID:       types.NewRunID(),
		Lane:     lane,
		Name:     name,
		Fn:       fn,
		Enqueued: time.Now(),
	}
}

// Queue manages per-lane FIFOs with a global concurrency semaphore.
type Queue struct {
	lanes     map[string]chan *Job
	semaphore *semaphore.Weighted
	active    atomic.Int64
	pending   atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewQueue creates a Queue that allows up to maxConcurrent jobs to execute
// simultaneously across all lanes. Values below 1 mean 1.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[string]chan *Job),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop refuses new jobs and waits up to grace for queued and running jobs
// to finish. After grace the job context is cancelled; jobs not yet
// started are dropped and Stop waits for running ones to return.
func (q *Queue) Stop(grace time.Duration) {
	q.mu.Lock()
	if q.stopped || q.cancel == nil {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("queue drain timed out, cancelling jobs", "active", q.active.Load(), "pending", q.pending.Load())
		q.cancel()
		<-done
	}
	q.cancel()
}

// Enqueue adds job to its lane, creating the lane (and its goroutine) on
// first use.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil {
		return ErrNotStarted
	}
	if q.stopped {
		return ErrStopped
	}

	lane, exists := q.lanes[job.Lane]
	if !exists {
		lane = make(chan *Job, laneBuffer)
		q.lanes[job.Lane] = lane
		q.wg.Add(1)
		go q.processLane(job.Lane, lane)
	}

	select {
	case lane <- job:
		q.pending.Add(1)
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", job.Lane, ErrLaneFull)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running each job synchronously.
func (q *Queue) processLane(name string, lane chan *Job) {
	defer q.wg.Done()
	for job := range lane {
		// active goes up before pending goes down so WaitIdle never sees a gap.
		q.active.Add(1)
		q.pending.Add(-1)
		if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
			slog.Warn("job dropped", "run_id", job.ID.Short(), "lane", name, "job", job.Name, "error", err)
			q.active.Add(-1)
			continue
		}
		q.execute(job)
		q.semaphore.Release(1)
		q.active.Add(-1)
	}
}

func (q *Queue) execute(job *Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "run_id", job.ID.Short(), "lane", job.Lane, "job", job.Name, "panic", r)
		}
	}()
	slog.Debug("job started", "run_id", job.ID.Short(), "lane", job.Lane, "job", job.Name, "waited", start.Sub(job.Enqueued))
	if err := job.Fn(q.ctx); err != nil {
		slog.Error("job failed", "run_id", job.ID.Short(), "lane", job.Lane, "job", job.Name, "error", err)
		return
	}
	slog.Debug("job finished", "run_id", job.ID.Short(), "lane", job.Lane, "job", job.Name, "duration", time.Since(start))
}

// Active reports how many dequeued jobs have not finished.
func (q *Queue) Active() int64 { return q.active.Load() }

// Pending reports how many jobs are waiting in lanes.
func (q *Queue) Pending() int64 { return q.pending.Load() }

// WaitIdle blocks until no jobs are queued or running, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 && q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
