package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallel_Success(t *testing.T) {
	t.Parallel()
	var count atomic.Int32
	tasks := make([]Task, 0, 3)
	for _, name := range []string{"a", "b", "c"} {
		tasks = append(tasks, Task{Name: name, Func: func(context.Context) error {
			count.Add(1)
			return nil
		}})
	}

	require.NoError(t, RunParallel(context.Background(), tasks, 0))
	assert.Equal(t, int32(3), count.Load())
}

func TestRunParallel_EmptyTasks(t *testing.T) {
	t.Parallel()
	assert.NoError(t, RunParallel(context.Background(), nil, 0))
	assert.NoError(t, RunParallel(context.Background(), []Task{}, 2))
}

func TestRunParallel_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	err := RunParallel(context.Background(), []Task{
		{Name: "a", Func: func(context.Context) error { return errA }},
		{Name: "b", Func: func(context.Context) error { return nil }},
		{Name: "c", Func: func(context.Context) error { return errC }},
	}, 0)

	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Contains(t, err.Error(), "a: a failed")
	assert.Contains(t, err.Error(), "c: c failed")
}

func TestRunParallel_Limit(t *testing.T) {
	t.Parallel()
	var running, peak atomic.Int32
	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = Task{Name: "t", Func: func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}}
	}

	require.NoError(t, RunParallel(context.Background(), tasks, 2))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunParallel_CancelledWhileQueued(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- RunParallel(ctx, []Task{
			{Name: "blocker", Func: func(context.Context) error { <-release; return nil }},
			{Name: "queued", Func: func(context.Context) error { return nil }},
		}, 1)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	close(release)

	err := <-done
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
