package environment

import (
	"errors"
	"fmt"
	"time"
)

// TransientClusterError is a retryable failure of an external call:
// network blips, expired credentials, rate limits, exhausted quota.
type TransientClusterError struct {
	Op  string
	Err error
}

func (e *TransientClusterError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientClusterError) Unwrap() error { return e.Err }

// PermanentClusterError is a non-retryable failure: malformed resources,
// permission denied, or a resource that entered a permanent error state.
type PermanentClusterError struct {
	Op  string
	Err error
}

func (e *PermanentClusterError) Error() string {
	return fmt.Sprintf("permanent error during %s: %v", e.Op, e.Err)
}

func (e *PermanentClusterError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientClusterError. nil stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientClusterError{Op: op, Err: err}
}

// Permanent wraps err as a PermanentClusterError. nil stays nil.
func Permanent(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PermanentClusterError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientClusterError
	return errors.As(err, &t)
}

// IsPermanent reports whether err must be surfaced without retrying.
func IsPermanent(err error) bool {
	var p *PermanentClusterError
	return errors.As(err, &p)
}

// TimedOutError reports an exceeded readiness or deletion budget.
// It is a defined terminal outcome, not a crash.
type TimedOutError struct {
	What    string
	MaxWait time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.MaxWait, e.What)
}

// ExposureTimeoutError reports that no external address was assigned in time.
// It is never retried: every new attempt may allocate another paid endpoint.
type ExposureTimeoutError struct {
	ID      string
	MaxWait time.Duration
}

func (e *ExposureTimeoutError) Error() string {
	return fmt.Sprintf("no external address assigned to %s within %s", e.ID, e.MaxWait)
}

// Is lets errors.As/Is treat exposure timeouts as timeouts.
func (e *ExposureTimeoutError) Is(target error) bool {
	_, ok := target.(*TimedOutError)
	return ok
}

// MigrationFailure reports the changeset that halted a migration run.
type MigrationFailure struct {
	Changeset string
	Detail    string
	Err       error
}

func (e *MigrationFailure) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("changeset %s failed: %s", e.Changeset, e.Detail)
	}
	return fmt.Sprintf("changeset %s failed: %v", e.Changeset, e.Err)
}

func (e *MigrationFailure) Unwrap() error { return e.Err }

// ErrSuperseded matches any SupersededError.
var ErrSuperseded = errors.New("superseded by delete event")

// SupersededError is returned by a create run that observed a later delete
// event between two phases.
type SupersededError struct {
	ID    string
	Phase Phase
}

func (e *SupersededError) Error() string {
	return fmt.Sprintf("environment %s: create superseded by delete event after %s", e.ID, e.Phase)
}

func (e *SupersededError) Is(target error) bool { return target == ErrSuperseded }

// IsTimeout reports whether err is a TimedOutError or ExposureTimeoutError.
func IsTimeout(err error) bool {
	var t *TimedOutError
	var e *ExposureTimeoutError
	return errors.As(err, &t) || errors.As(err, &e)
}
