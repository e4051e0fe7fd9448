package services

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownCategory = errors.New("unknown job category")
	ErrQueueClosed     = errors.New("dispatch queue is closed")
)

type JobCategory string

const (
	CategoryEmail        JobCategory = "email"
	CategoryNotification JobCategory = "notification"
	CategoryAnalytics    JobCategory = "analytics"
	CategoryBackup       JobCategory = "backup"
)

type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityMedium
	PriorityHigh
)

// Job is the ephemeral unit of work handed to the queue. It exists only for
// the duration of queueing and delivery; nothing about it is persisted.
type Job struct {
	ID          string      `json:"id"`
	Category    JobCategory `json:"category"`
	Priority    JobPriority `json:"priority"`
	Payload     any         `json:"payload"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	RunAt       time.Time   `json:"run_at"`
	LastError   string      `json:"last_error,omitempty"`

	seq uint64
}

type JobHandler func(ctx context.Context, job *Job) error

type EnqueueOptions struct {
	Priority    JobPriority
	Delay       time.Duration
	MaxAttempts int
}

type CategoryConfig struct {
	Concurrency   int
	RatePerMinute int
	MaxAttempts   int
	BackoffBase   time.Duration
}

type CategoryStats struct {
	Queued       int   `json:"queued"`
	Active       int   `json:"active"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// QueueEvent reports a finished delivery attempt. Events are observational
// only; nothing in scheduler state feeds off them.
type QueueEvent struct {
	Job          Job
	Err          error
	DeadLettered bool
}

const maxDeadLetters = 200

// DispatchQueue is the only path by which messages leave the system: one
// logical queue per category, each with a fixed worker pool, a rolling
// per-minute rate limit, priority ordering among due jobs, and
// retry-with-backoff ending in an inspectable dead-letter list.
type DispatchQueue struct {
	categories map[JobCategory]*categoryQueue
	logger     *slog.Logger
	observer   func(QueueEvent)
	now        func() time.Time

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

type categoryQueue struct {
	name    JobCategory
	cfg     CategoryConfig
	handler JobHandler

	mu        sync.Mutex
	cond      *sync.Cond
	ready     readyHeap
	delayed   delayedHeap
	sendTimes []time.Time
	active    int
	delivered int64
	failed    int64
	dead      []Job
	seq       uint64
	closed    bool
}

func NewDispatchQueue(
	configs map[JobCategory]CategoryConfig,
	logger *slog.Logger,
) *DispatchQueue {
	q := &DispatchQueue{
		categories: make(map[JobCategory]*categoryQueue, len(configs)),
		logger:     logger,
		now:        time.Now,
	}
	for name, cfg := range configs {
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = 1
		}
		if cfg.MaxAttempts <= 0 {
			cfg.MaxAttempts = 3
		}
		if cfg.BackoffBase <= 0 {
			cfg.BackoffBase = 30 * time.Second
		}
		cq := &categoryQueue{name: name, cfg: cfg}
		cq.cond = sync.NewCond(&cq.mu)
		q.categories[name] = cq
	}
	return q
}

// Handle registers the delivery handler for a category. Must be called
// before Start.
func (q *DispatchQueue) Handle(category JobCategory, handler JobHandler) error {
	cq, ok := q.categories[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	cq.handler = handler
	return nil
}

// SetObserver installs a hook invoked after every finished attempt, for
// logging and metrics only.
func (q *DispatchQueue) SetObserver(fn func(QueueEvent)) {
	q.observer = fn
}

func (q *DispatchQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for _, cq := range q.categories {
		if cq.handler == nil {
			q.logger.Warn("category has no handler, jobs will stay queued", "category", cq.name)
			continue
		}
		for i := 0; i < cq.cfg.Concurrency; i++ {
			q.wg.Add(1)
			go q.worker(cq)
		}
	}
}

func (q *DispatchQueue) Enqueue(
	category JobCategory,
	payload any,
	opts EnqueueOptions,
) (*Job, error) {
	cq, ok := q.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cq.cfg.MaxAttempts
	}

	now := q.now()
	job := &Job{
		ID:          uuid.NewString(),
		Category:    category,
		Priority:    opts.Priority,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  now,
		RunAt:       now.Add(opts.Delay),
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.closed {
		return nil, ErrQueueClosed
	}
	cq.seq++
	job.seq = cq.seq
	if job.RunAt.After(now) {
		heap.Push(&cq.delayed, job)
	} else {
		heap.Push(&cq.ready, job)
	}
	cq.cond.Broadcast()
	return job, nil
}

func (q *DispatchQueue) worker(cq *categoryQueue) {
	defer q.wg.Done()
	for {
		job := cq.next(q.now)
		if job == nil {
			return
		}
		err := cq.handler(context.Background(), job)
		q.finish(cq, job, err)
	}
}

// next blocks until a job is due and admitted by the rate limit, or the
// queue is closed.
func (cq *categoryQueue) next(now func() time.Time) *Job {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	for {
		if cq.closed {
			return nil
		}
		t := now()
		cq.promoteDue(t)

		if len(cq.ready) > 0 {
			if wait := cq.rateDelay(t); wait > 0 {
				cq.waitTimeout(wait)
				continue
			}
			job := heap.Pop(&cq.ready).(*Job)
			cq.sendTimes = append(cq.sendTimes, t)
			cq.active++
			return job
		}

		if len(cq.delayed) > 0 {
			if wait := cq.delayed[0].RunAt.Sub(t); wait > 0 {
				cq.waitTimeout(wait)
			}
			continue
		}

		cq.cond.Wait()
	}
}

func (cq *categoryQueue) promoteDue(t time.Time) {
	for len(cq.delayed) > 0 && !cq.delayed[0].RunAt.After(t) {
		job := heap.Pop(&cq.delayed).(*Job)
		heap.Push(&cq.ready, job)
	}
}

// rateDelay returns how long the caller must wait before the rolling
// per-minute window admits another send; zero means go ahead.
func (cq *categoryQueue) rateDelay(t time.Time) time.Duration {
	if cq.cfg.RatePerMinute <= 0 {
		return 0
	}
	windowStart := t.Add(-time.Minute)
	kept := cq.sendTimes[:0]
	for _, st := range cq.sendTimes {
		if st.After(windowStart) {
			kept = append(kept, st)
		}
	}
	cq.sendTimes = kept
	if len(cq.sendTimes) < cq.cfg.RatePerMinute {
		return 0
	}
	return cq.sendTimes[0].Add(time.Minute).Sub(t)
}

// waitTimeout waits on the condition but wakes itself after d at the latest.
func (cq *categoryQueue) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, cq.cond.Broadcast)
	cq.cond.Wait()
	timer.Stop()
}

func (q *DispatchQueue) finish(cq *categoryQueue, job *Job, err error) {
	cq.mu.Lock()
	cq.active--

	event := QueueEvent{Err: err}
	if err == nil {
		cq.delivered++
		event.Job = *job
		cq.mu.Unlock()
		q.emit(event)
		return
	}

	cq.failed++
	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts >= job.MaxAttempts {
		if len(cq.dead) >= maxDeadLetters {
			cq.dead = cq.dead[1:]
		}
		cq.dead = append(cq.dead, *job)
		event.DeadLettered = true
	} else {
		backoff := cq.cfg.BackoffBase << (job.Attempts - 1)
		job.RunAt = q.now().Add(backoff)
		heap.Push(&cq.delayed, job)
		cq.cond.Broadcast()
	}

	event.Job = *job
	cq.mu.Unlock()

	if event.DeadLettered {
		q.logger.Error("job dead-lettered",
			"category", job.Category, "job_id", job.ID,
			"attempts", job.Attempts, "error", err)
	} else {
		q.logger.Warn("job attempt failed, retrying",
			"category", job.Category, "job_id", job.ID,
			"attempt", job.Attempts, "error", err)
	}
	q.emit(event)
}

func (q *DispatchQueue) emit(event QueueEvent) {
	if q.observer != nil {
		q.observer(event)
	}
}

// Close stops accepting jobs and waits for in-flight deliveries to finish.
// Jobs still queued are dropped; the queue holds no durable state.
func (q *DispatchQueue) Close() {
	for _, cq := range q.categories {
		cq.mu.Lock()
		cq.closed = true
		cq.cond.Broadcast()
		cq.mu.Unlock()
	}
	q.wg.Wait()
}

func (q *DispatchQueue) Stats() map[JobCategory]CategoryStats {
	stats := make(map[JobCategory]CategoryStats, len(q.categories))
	for name, cq := range q.categories {
		cq.mu.Lock()
		stats[name] = CategoryStats{
			Queued:       len(cq.ready) + len(cq.delayed),
			Active:       cq.active,
			Delivered:    cq.delivered,
			Failed:       cq.failed,
			DeadLettered: int64(len(cq.dead)),
		}
		cq.mu.Unlock()
	}
	return stats
}

// DeadLetters returns a snapshot of the category's dead-lettered jobs,
// oldest first. They are retained for inspection, never redelivered.
func (q *DispatchQueue) DeadLetters(category JobCategory) ([]Job, error) {
	cq, ok := q.categories[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	cq.mu.Lock()
	defer cq.mu.Unlock()
	dead := make([]Job, len(cq.dead))
	copy(dead, cq.dead)
	return dead, nil
}

type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

type delayedHeap []*Job

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].RunAt.Before(h[j].RunAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
