package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher watches directories recursively via fsnotify and emits debounced
// event batches.
type FSWatcher struct {
	fsWatcher      *fsnotify.Watcher
	debouncer      *Debouncer
	ignore         []string
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	opts           Options
	mu             sync.RWMutex
	roots          []string
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewFSWatcher creates a new file system watcher.
func NewFSWatcher(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ignore := make([]string, 0, len(defaultIgnoreSubstrings)+len(opts.IgnoreSubstrings))
	ignore = append(ignore, defaultIgnoreSubstrings...)
	ignore = append(ignore, opts.IgnoreSubstrings...)

	return &FSWatcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		ignore:    ignore,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}, nil
}

// AddWatch adds a directory tree to the watch set. Call before Start.
func (w *FSWatcher) AddWatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("watch path does not exist: %w", err)
	}

	if err := w.addRecursive(absPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	w.mu.Lock()
	w.roots = append(w.roots, absPath)
	w.mu.Unlock()

	slog.Info("watching directory", slog.String("path", absPath))
	return nil
}

// Start runs the event loop until the context is cancelled or Stop is
// called.
func (w *FSWatcher) Start(ctx context.Context) error {
	go w.forwardDebouncedEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleEvent converts and filters one fsnotify event. Directory events are
// suppressed except to extend the watch set; a rename is reported as a
// delete of the old name, with fsnotify reporting the new name as a create.
func (w *FSWatcher) handleEvent(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		if isDir {
			_ = w.addRecursive(event.Name)
			return
		}
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		// Chmod and friends
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		Timestamp: time.Now(),
	})
}

func (w *FSWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) > 0 {
				w.emitEvents(events)
			}
		}
	}
}

// addRecursive adds all non-ignored directories under root to fsnotify.
func (w *FSWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *FSWatcher) shouldIgnore(path string) bool {
	for _, fragment := range w.ignore {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

func (w *FSWatcher) emitEvents(events []FileEvent) {
	// Stop closes the channel under the write lock; holding the read lock
	// across the send keeps the close from interleaving. The send never
	// blocks, so the lock is held only briefly.
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (w *FSWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true

	close(w.stopCh)
	w.debouncer.Stop()
	_ = w.fsWatcher.Close()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns how many event batches were dropped because the
// buffer was full.
func (w *FSWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Roots returns the watched root directories.
func (w *FSWatcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}
