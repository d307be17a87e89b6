package exposure

import (
	"context"
	"fmt"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/poll"
	"github.com/imamik/branchenv/internal/util/retry"
)

// Manager drives a Provider for the lifecycle orchestrator.
type Manager struct {
	provider Provider
	policy   retry.Policy
	interval time.Duration
	maxWait  time.Duration
}

// NewManager creates a manager polling every interval for at most maxWait.
func NewManager(provider Provider, policy retry.Policy, interval, maxWait time.Duration) *Manager {
	return &Manager{provider: provider, policy: policy, interval: interval, maxWait: maxWait}
}

// Provider returns the wrapped provider.
func (m *Manager) Provider() Provider { return m.provider }

// Expose requests an external address for spec. Transient failures are
// retried with backoff.
func (m *Manager) Expose(ctx context.Context, spec *environment.Spec) (Handle, error) {
	logger := log.FromContext(ctx).WithValues("environment", spec.ID(), "provider", m.provider.Name())

	var handle Handle
	err := retry.Do(ctx, func(ctx context.Context) error {
		var err error
		handle, err = m.provider.RequestExternalAddress(ctx, spec.ID(), spec.Exposure())
		return err
	}, m.policy.Options(environment.IsTransient, retry.WithOnRetry(func(attempt int, err error) {
		logger.Info("Retrying exposure request", "attempt", attempt, "error", err.Error())
	}))...)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to request external address: %w", err)
	}
	logger.V(1).Info("Exposure requested", "ref", handle.Ref)
	return handle, nil
}

// WaitForAddress polls until the address of h is assigned. It returns an
// ExposureTimeoutError when the budget is exhausted.
func (m *Manager) WaitForAddress(ctx context.Context, h Handle) (string, error) {
	var address string
	outcome, err := poll.Until(ctx, poll.Options{
		Name:     "external address",
		Interval: m.interval,
		MaxWait:  m.maxWait,
	}, func(ctx context.Context) (bool, error) {
		callCtx, cancel := m.callContext(ctx)
		defer cancel()
		addr, ok, err := m.provider.GetAssignedAddress(callCtx, h)
		if err != nil {
			if environment.IsPermanent(err) {
				return false, poll.Abort(err)
			}
			return false, err
		}
		address = addr
		return ok && addr != "", nil
	})
	if err != nil {
		return "", err
	}
	if outcome == poll.TimedOut {
		return "", &environment.ExposureTimeoutError{ID: h.ID, MaxWait: m.maxWait}
	}
	return address, nil
}

// Release frees the exposure of id, retrying transient failures.
func (m *Manager) Release(ctx context.Context, id string) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return m.provider.Release(ctx, id)
	}, m.policy.Options(environment.IsTransient)...)
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.policy.CallTimeout)
}
