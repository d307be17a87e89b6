package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil_ReadyImmediately(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	outcome, err := Until(context.Background(), Options{Name: "db", Interval: time.Hour, MaxWait: time.Hour},
		func(context.Context) (bool, error) {
			calls.Add(1)
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, Ready, outcome)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUntil_ReadyAfterChecks(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	outcome, err := Until(context.Background(), Options{Name: "db", Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second},
		func(context.Context) (bool, error) {
			return calls.Add(1) >= 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, Ready, outcome)
	assert.Equal(t, int32(3), calls.Load())
}

func TestUntil_TransientErrorsAreNotReady(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	outcome, err := Until(context.Background(), Options{Name: "db", Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second},
		func(context.Context) (bool, error) {
			if calls.Add(1) < 3 {
				return false, errors.New("connection reset")
			}
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, Ready, outcome)
}

func TestUntil_AbortFailsFast(t *testing.T) {
	t.Parallel()
	crash := errors.New("CrashLoopBackOff")
	var calls atomic.Int32
	start := time.Now()
	_, err := Until(context.Background(), Options{Name: "db", Interval: 5 * time.Millisecond, MaxWait: 5 * time.Second},
		func(context.Context) (bool, error) {
			if calls.Add(1) == 2 {
				return false, Abort(crash)
			}
			return false, nil
		})
	require.ErrorIs(t, err, crash)
	assert.False(t, IsAborted(err), "abort marker is stripped")
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestUntil_TimesOutWithinBudget(t *testing.T) {
	t.Parallel()
	interval := 20 * time.Millisecond
	maxWait := 100 * time.Millisecond

	start := time.Now()
	outcome, err := Until(context.Background(), Options{Name: "endpoint", Interval: interval, MaxWait: maxWait},
		func(context.Context) (bool, error) { return false, nil })
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, TimedOut, outcome)
	assert.GreaterOrEqual(t, elapsed, maxWait)
	assert.Less(t, elapsed, maxWait+interval+50*time.Millisecond)
}

func TestUntil_ParentCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Until(ctx, Options{Name: "db", Interval: time.Millisecond, MaxWait: time.Second},
		func(context.Context) (bool, error) { return false, nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestUntil_InvalidOptions(t *testing.T) {
	t.Parallel()
	never := func(context.Context) (bool, error) { return false, nil }
	_, err := Until(context.Background(), Options{Name: "x", MaxWait: time.Second}, never)
	require.Error(t, err)
	_, err = Until(context.Background(), Options{Name: "x", Interval: time.Second}, never)
	require.Error(t, err)
}

func TestAbort_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Abort(nil))
}
