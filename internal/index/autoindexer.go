package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	lenserrors "github.com/loclens/loclens/internal/errors"
	"github.com/loclens/loclens/internal/queue"
	"github.com/loclens/loclens/internal/watcher"
)

// AutoIndexer keeps the index in sync with watched directories. File events
// flow through the watcher's debouncer into a deduplicating task queue, whose
// worker calls back into the Indexer.
type AutoIndexer struct {
	indexer *Indexer
	watcher *watcher.FSWatcher
	queue   *queue.Queue

	mu      sync.Mutex
	stopped bool
}

// NewAutoIndexer creates an auto-indexer over the given directories.
func NewAutoIndexer(indexer *Indexer, dirs []string, opts watcher.Options) (*AutoIndexer, error) {
	w, err := watcher.NewFSWatcher(opts)
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.AddWatch(dir); err != nil {
			_ = w.Stop()
			return nil, err
		}
	}

	a := &AutoIndexer{
		indexer: indexer,
		watcher: w,
	}
	a.queue = queue.New(a.handleTask)
	return a, nil
}

// Start begins watching and processing. It returns immediately; work happens
// on background goroutines until Stop or context cancellation.
func (a *AutoIndexer) Start(ctx context.Context) {
	a.queue.Start(ctx)

	go func() {
		if err := a.watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("watcher stopped", slog.String("error", err.Error()))
		}
	}()

	go a.forwardEvents(ctx)

	slog.Info("auto-indexing started",
		slog.Int("watched_roots", len(a.watcher.Roots())))
}

func (a *AutoIndexer) forwardEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-a.watcher.Events():
			if !ok {
				return
			}
			for _, ev := range batch {
				a.enqueue(ev)
			}
		case err, ok := <-a.watcher.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (a *AutoIndexer) enqueue(ev watcher.FileEvent) {
	var kind queue.Kind
	switch ev.Operation {
	case watcher.OpCreate:
		kind = queue.KindIndex
	case watcher.OpModify:
		kind = queue.KindUpdate
	case watcher.OpDelete:
		kind = queue.KindDelete
	default:
		return
	}

	if _, err := a.queue.Enqueue(kind, ev.Path); err != nil {
		slog.Warn("failed to enqueue file event",
			slog.String("path", ev.Path),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
}

func (a *AutoIndexer) handleTask(ctx context.Context, task *queue.Task) error {
	switch task.Kind {
	case queue.KindDelete:
		return a.indexer.DeleteByPath(ctx, task.Path)

	case queue.KindIndex, queue.KindUpdate:
		// The file may be gone by the time the task runs.
		if _, err := os.Stat(task.Path); err != nil {
			slog.Debug("file vanished before indexing", slog.String("path", task.Path))
			return nil
		}
		_, err := a.indexer.IndexFile(ctx, task.Path)
		if lenserrors.GetCode(err) == lenserrors.ErrCodeUnsupportedMedia {
			return nil
		}
		return err

	default:
		return nil
	}
}

// Stop halts watching and waits for the in-flight task to finish.
// Safe to call multiple times.
func (a *AutoIndexer) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	_ = a.watcher.Stop()
	a.queue.Stop()
	slog.Info("auto-indexing stopped")
}

// Stats returns the current task queue counters.
func (a *AutoIndexer) Stats() queue.Stats {
	return a.queue.GetStats()
}
