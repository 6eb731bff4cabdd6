package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestProcessesTasks(t *testing.T) {
	var processed atomic.Int32
	q := New(func(ctx context.Context, task *Task) error {
		processed.Add(1)
		return nil
	})
	q.Start(context.Background())
	defer q.Stop()

	task, err := q.Enqueue(KindIndex, "/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.NotEmpty(t, task.ID)

	waitFor(t, func() bool { return processed.Load() == 1 })
	waitFor(t, func() bool { return q.GetStats().Completed == 1 })
}

func TestDedupPendingTasks(t *testing.T) {
	release := make(chan struct{})
	var processed atomic.Int32
	q := New(func(ctx context.Context, task *Task) error {
		<-release
		processed.Add(1)
		return nil
	})

	// First task occupies the worker once started; enqueue duplicates while
	// everything is still pending.
	first, err := q.Enqueue(KindIndex, "/docs/a.txt")
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := q.Enqueue(KindIndex, "/docs/a.txt")
	require.NoError(t, err)
	assert.Nil(t, dup, "identical pending task is skipped")

	// Same path but different kind is a distinct task
	del, err := q.Enqueue(KindDelete, "/docs/a.txt")
	require.NoError(t, err)
	assert.NotNil(t, del)

	q.Start(context.Background())
	close(release)
	defer q.Stop()

	waitFor(t, func() bool { return processed.Load() == 2 })
}

func TestRetriesThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	q := New(func(ctx context.Context, task *Task) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(KindUpdate, "/docs/flaky.txt")
	require.NoError(t, err)

	waitFor(t, func() bool { return q.GetStats().Completed == 1 })
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 0, q.GetStats().Failed)
}

func TestFailsAfterRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	q := New(func(ctx context.Context, task *Task) error {
		attempts.Add(1)
		return errors.New("permanent")
	}, WithMaxRetries(3))
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(KindIndex, "/docs/bad.txt")
	require.NoError(t, err)

	waitFor(t, func() bool { return q.GetStats().Failed == 1 })
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueFull(t *testing.T) {
	q := New(func(ctx context.Context, task *Task) error { return nil },
		WithMaxSize(2))
	// Not started, so nothing drains

	_, err := q.Enqueue(KindIndex, "/docs/1.txt")
	require.NoError(t, err)
	_, err = q.Enqueue(KindIndex, "/docs/2.txt")
	require.NoError(t, err)

	_, err = q.Enqueue(KindIndex, "/docs/3.txt")
	assert.ErrorIs(t, err, ErrQueueFull)

	// Rejected task must not leave a stale dedup entry
	_, err = q.Enqueue(KindIndex, "/docs/3.txt")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStopRejectsEnqueue(t *testing.T) {
	q := New(func(ctx context.Context, task *Task) error { return nil })
	q.Start(context.Background())
	q.Stop()

	_, err := q.Enqueue(KindIndex, "/docs/late.txt")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	var once sync.Once

	q := New(func(ctx context.Context, task *Task) error {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	q.Start(context.Background())

	_, err := q.Enqueue(KindIndex, "/docs/slow.txt")
	require.NoError(t, err)

	<-started
	q.Stop()
	assert.True(t, finished.Load(), "Stop returns only after the running handler finishes")
}
