package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Debouncer
// =============================================================================

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(2 * time.Second):
		t.Fatal("no debounced batch within deadline")
		return nil
	}
}

func TestDebouncer_CreateThenModifyIsCreate(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/a.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/a.txt", Operation: OpModify})

	events := collectBatch(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_CreateThenDeleteCancels(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/a.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/a.txt", Operation: OpDelete})
	d.Add(FileEvent{Path: "/b.txt", Operation: OpModify})

	events := collectBatch(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "/b.txt", events[0].Path)
}

func TestDebouncer_DeleteThenCreateIsModify(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/a.txt", Operation: OpDelete})
	d.Add(FileEvent{Path: "/a.txt", Operation: OpCreate})

	events := collectBatch(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_DistinctPathsInOneBatch(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/a.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/b.txt", Operation: OpCreate})

	events := collectBatch(t, d)
	assert.Len(t, events, 2)
}

func TestDebouncer_BatchPreservesArrivalOrder(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	// A rename arrives as delete(old) then create(new); the batch must
	// keep that order so downstream processing leaves the new path indexed.
	d.Add(FileEvent{Path: "/x/old.txt", Operation: OpDelete})
	d.Add(FileEvent{Path: "/x/new.txt", Operation: OpCreate})
	for i := 0; i < 6; i++ {
		d.Add(FileEvent{Path: fmt.Sprintf("/x/%d.txt", i), Operation: OpCreate})
	}

	events := collectBatch(t, d)
	require.Len(t, events, 8)
	assert.Equal(t, "/x/old.txt", events[0].Path)
	assert.Equal(t, OpDelete, events[0].Operation)
	assert.Equal(t, "/x/new.txt", events[1].Path)
	assert.Equal(t, OpCreate, events[1].Operation)
	for i := 0; i < 6; i++ {
		assert.Equal(t, fmt.Sprintf("/x/%d.txt", i), events[2+i].Path)
	}
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/a.txt", Operation: OpCreate})
}

// =============================================================================
// FSWatcher
// =============================================================================

func startWatcher(t *testing.T, dir string) *FSWatcher {
	t.Helper()
	w, err := NewFSWatcher(Options{DebounceWindow: 30 * time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, w.AddWatch(dir))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Start(ctx) }()
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func waitForEvent(t *testing.T, w *FSWatcher, match func(FileEvent) bool) FileEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case events, ok := <-w.Events():
			require.True(t, ok, "events channel closed")
			for _, ev := range events {
				if match(ev) {
					return ev
				}
			}
		case <-deadline:
			t.Fatal("expected event not observed within deadline")
		}
	}
}

func TestFSWatcher_DetectsCreate(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	ev := waitForEvent(t, w, func(ev FileEvent) bool { return ev.Path == path })
	assert.Equal(t, OpCreate, ev.Operation)
}

func TestFSWatcher_DetectsDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))

	w := startWatcher(t, dir)
	require.NoError(t, os.Remove(path))

	ev := waitForEvent(t, w, func(ev FileEvent) bool { return ev.Path == path })
	assert.Equal(t, OpDelete, ev.Operation)
}

func TestFSWatcher_IgnoresNoisePaths(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))
	visible := filepath.Join(dir, "visible.txt")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))

	ev := waitForEvent(t, w, func(ev FileEvent) bool { return true })
	assert.Equal(t, visible, ev.Path, "only the non-ignored file surfaces")
}

func TestFSWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Give fsnotify a moment to register the new directory
	time.Sleep(100 * time.Millisecond)

	inner := filepath.Join(sub, "inner.txt")
	require.NoError(t, os.WriteFile(inner, []byte("deep"), 0o644))

	ev := waitForEvent(t, w, func(ev FileEvent) bool { return ev.Path == inner })
	assert.Equal(t, OpCreate, ev.Operation)
}

func TestFSWatcher_AddWatchMissingDir(t *testing.T) {
	w, err := NewFSWatcher(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.AddWatch("/nonexistent/dir"))
}

func TestFSWatcher_StopDuringEmitDoesNotPanic(t *testing.T) {
	// Emitting races Stop closing the channels; neither side may panic
	w, err := NewFSWatcher(Options{EventBufferSize: 1})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			w.emitEvents([]FileEvent{{Path: "/race.txt", Operation: OpModify}})
			w.emitError(os.ErrClosed)
		}
	}()

	time.Sleep(time.Millisecond)
	require.NoError(t, w.Stop())
	<-done
}
