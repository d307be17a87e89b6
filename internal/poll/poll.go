// Package poll waits for an external condition with a fixed interval and a
// hard upper bound.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Outcome is the terminal result of a wait.
type Outcome string

const (
	Ready    Outcome = "Ready"
	TimedOut Outcome = "TimedOut"
)

// Options configures a wait.
type Options struct {
	// Name identifies the wait in logs.
	Name     string
	Interval time.Duration
	MaxWait  time.Duration
}

// Condition reports whether the awaited state holds. Errors are treated as
// "not yet" unless wrapped with Abort.
type Condition func(ctx context.Context) (bool, error)

type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort marks a condition error as terminal: the wait stops immediately.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// IsAborted reports whether err was produced by Abort.
func IsAborted(err error) bool {
	var a *abortError
	return errors.As(err, &a)
}

// Until checks cond immediately and then every Interval until it holds,
// it aborts, or MaxWait elapses. An elapsed MaxWait returns TimedOut with a
// nil error; the caller decides what a timeout means. Cancellation of ctx
// returns its error.
func Until(ctx context.Context, opts Options, cond Condition) (Outcome, error) {
	if opts.Interval <= 0 {
		return "", fmt.Errorf("poll %s: interval must be positive", opts.Name)
	}
	if opts.MaxWait <= 0 {
		return "", fmt.Errorf("poll %s: max wait must be positive", opts.Name)
	}

	logger := log.FromContext(ctx).WithValues("wait", opts.Name)
	checks := 0

	err := wait.PollUntilContextTimeout(ctx, opts.Interval, opts.MaxWait, true, func(ctx context.Context) (bool, error) {
		checks++
		done, err := cond(ctx)
		if err != nil {
			if IsAborted(err) {
				return false, err
			}
			logger.V(1).Info("Condition check failed, treating as not ready", "check", checks, "error", err.Error())
			return false, nil
		}
		return done, nil
	})

	switch {
	case err == nil:
		logger.V(1).Info("Condition met", "checks", checks)
		return Ready, nil
	case IsAborted(err):
		var a *abortError
		errors.As(err, &a)
		return "", a.err
	case ctx.Err() != nil:
		return "", ctx.Err()
	case wait.Interrupted(err):
		logger.Info("Wait timed out", "maxWait", opts.MaxWait, "checks", checks)
		return TimedOut, nil
	default:
		return "", err
	}
}
