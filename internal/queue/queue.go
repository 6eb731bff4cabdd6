// Package queue provides a deduplicating task queue for file indexing work.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of work a task carries.
type Kind string

const (
	// KindIndex indexes a newly created file.
	KindIndex Kind = "index"
	// KindUpdate re-indexes a modified file.
	KindUpdate Kind = "update"
	// KindDelete removes a file from the index.
	KindDelete Kind = "delete"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultMaxSize is the default queue capacity.
const DefaultMaxSize = 10000

// DefaultMaxRetries is how many attempts a task gets before failing for good.
const DefaultMaxRetries = 3

// ErrQueueFull is returned when the queue is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// ErrStopped is returned when enqueueing after Stop.
var ErrStopped = errors.New("task queue is stopped")

// Task is one unit of indexing work.
type Task struct {
	ID          string
	Kind        Kind
	Path        string
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Err         string
	Retries     int
}

// Handler processes one task. Returning an error triggers a retry until the
// retry budget is spent.
type Handler func(ctx context.Context, task *Task) error

// Stats is a snapshot of queue counters.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Queue is a bounded task queue with a single worker. Enqueueing a (kind,
// path) pair already pending is a no-op, so a burst of watcher events for
// the same file indexes it once.
type Queue struct {
	tasks      chan *Task
	handler    Handler
	maxRetries int

	mu         sync.Mutex
	pending    map[string]struct{}
	processing int
	completed  int
	failed     int
	stopped    bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxSize sets the queue capacity.
func WithMaxSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.tasks = make(chan *Task, n)
		}
	}
}

// WithMaxRetries sets the per-task retry budget.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// New creates a task queue with the given handler.
func New(handler Handler, opts ...Option) *Queue {
	q := &Queue{
		tasks:      make(chan *Task, DefaultMaxSize),
		handler:    handler,
		maxRetries: DefaultMaxRetries,
		pending:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func dedupKey(kind Kind, path string) string {
	return string(kind) + "\x00" + path
}

// Enqueue adds a task. Returns (nil, nil) when an identical task is already
// pending, ErrQueueFull when at capacity.
func (q *Queue) Enqueue(kind Kind, path string) (*Task, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil, ErrStopped
	}

	key := dedupKey(kind, path)
	if _, exists := q.pending[key]; exists {
		q.mu.Unlock()
		slog.Debug("task already pending, skipping",
			slog.String("kind", string(kind)),
			slog.String("path", path))
		return nil, nil
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Path:      path,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	select {
	case q.tasks <- task:
		slog.Info("task added",
			slog.String("id", task.ID),
			slog.String("kind", string(kind)),
			slog.String("path", path))
		return task, nil
	default:
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
		return nil, ErrQueueFull
	}
}

// Start launches the worker. It runs until the context is cancelled or Stop
// is called.
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case task := <-q.tasks:
				q.process(workerCtx, task)
			}
		}
	}()

	slog.Info("task queue started")
}

func (q *Queue) process(ctx context.Context, task *Task) {
	q.mu.Lock()
	delete(q.pending, dedupKey(task.Kind, task.Path))
	q.processing++
	q.mu.Unlock()

	now := time.Now()
	task.Status = StatusProcessing
	task.StartedAt = &now

	err := q.handler(ctx, task)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--

	if err == nil {
		done := time.Now()
		task.Status = StatusCompleted
		task.CompletedAt = &done
		q.completed++
		slog.Info("task completed", slog.String("id", task.ID))
		return
	}

	task.Err = err.Error()
	task.Retries++

	if task.Retries < q.maxRetries && ctx.Err() == nil {
		task.Status = StatusPending
		q.pending[dedupKey(task.Kind, task.Path)] = struct{}{}
		select {
		case q.tasks <- task:
			slog.Warn("task failed, retrying",
				slog.String("id", task.ID),
				slog.Int("retry", task.Retries),
				slog.Int("max_retries", q.maxRetries),
				slog.String("error", err.Error()))
			return
		default:
			delete(q.pending, dedupKey(task.Kind, task.Path))
		}
	}

	done := time.Now()
	task.Status = StatusFailed
	task.CompletedAt = &done
	q.failed++
	slog.Error("task failed permanently",
		slog.String("id", task.ID),
		slog.String("path", task.Path),
		slog.String("error", err.Error()))
}

// Stop halts the worker and rejects further enqueues. In-flight work
// finishes first.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	slog.Info("task queue stopped")
}

// GetStats returns a snapshot of the queue counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    len(q.tasks),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
	}
}
