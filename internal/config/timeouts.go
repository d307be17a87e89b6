package config

import (
	"os"
	"strconv"
	"time"

	"github.com/imamik/branchenv/internal/lifecycle"
	"github.com/imamik/branchenv/internal/util/retry"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	Ready             time.Duration // Budget for database readiness
	Endpoint          time.Duration // Budget for external address assignment
	DeleteGrace       time.Duration // Deletion time before stuck-state recovery
	Delete            time.Duration // Budget for the whole deletion
	PollInterval      time.Duration // Delay between status checks
	Call              time.Duration // Timeout of a single external call
	Changeset         time.Duration // Timeout of a single changeset attempt
	RetryMaxAttempts  int           // Maximum number of attempts per call
	RetryInitialDelay time.Duration // Initial delay between retries
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - BRANCHENV_TIMEOUT_READY (default: 12m)
//   - BRANCHENV_TIMEOUT_ENDPOINT (default: 3m)
//   - BRANCHENV_TIMEOUT_DELETE_GRACE (default: 5m)
//   - BRANCHENV_TIMEOUT_DELETE (default: 10m)
//   - BRANCHENV_POLL_INTERVAL (default: 15s)
//   - BRANCHENV_TIMEOUT_CALL (default: 30s)
//   - BRANCHENV_TIMEOUT_CHANGESET (default: 10m)
//   - BRANCHENV_RETRY_MAX_ATTEMPTS (default: 3)
//   - BRANCHENV_RETRY_INITIAL_DELAY (default: 2s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Ready:             parseDuration("BRANCHENV_TIMEOUT_READY", 12*time.Minute),
		Endpoint:          parseDuration("BRANCHENV_TIMEOUT_ENDPOINT", 3*time.Minute),
		DeleteGrace:       parseDuration("BRANCHENV_TIMEOUT_DELETE_GRACE", 5*time.Minute),
		Delete:            parseDuration("BRANCHENV_TIMEOUT_DELETE", 10*time.Minute),
		PollInterval:      parseDuration("BRANCHENV_POLL_INTERVAL", 15*time.Second),
		Call:              parseDuration("BRANCHENV_TIMEOUT_CALL", 30*time.Second),
		Changeset:         parseDuration("BRANCHENV_TIMEOUT_CHANGESET", 10*time.Minute),
		RetryMaxAttempts:  parseInt("BRANCHENV_RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: parseDuration("BRANCHENV_RETRY_INITIAL_DELAY", 2*time.Second),
	}
}

// Lifecycle returns the workflow wait budgets.
func (t *Timeouts) Lifecycle() lifecycle.Timeouts {
	return lifecycle.Timeouts{
		PollInterval: t.PollInterval,
		Ready:        t.Ready,
		Endpoint:     t.Endpoint,
		DeleteGrace:  t.DeleteGrace,
		Delete:       t.Delete,
	}
}

// RetryPolicy returns the policy for external calls.
func (t *Timeouts) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:  t.RetryMaxAttempts,
		InitialDelay: t.RetryInitialDelay,
		CallTimeout:  t.Call,
	}
}

// parseDuration parses a positive duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses a positive integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}

	return i
}
