package cluster

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/retry"
)

// Reconciler applies and deletes environments through an API, retrying
// transient failures with exponential backoff and surfacing permanent ones
// immediately.
type Reconciler struct {
	api    API
	policy retry.Policy
}

// NewReconciler wraps api with the given retry policy.
func NewReconciler(api API, policy retry.Policy) *Reconciler {
	return &Reconciler{api: api, policy: policy}
}

// API returns the wrapped backend.
func (r *Reconciler) API() API { return r.api }

// Apply converges the cluster to spec.
func (r *Reconciler) Apply(ctx context.Context, spec *environment.Spec) (ApplyResult, error) {
	var result ApplyResult
	err := r.do(ctx, "apply", spec.ID(), func(ctx context.Context) error {
		var err error
		result, err = r.api.ApplyResources(ctx, spec)
		return Classify("apply", err)
	})
	return result, err
}

// Delete removes the environment. Absent resources are success.
func (r *Reconciler) Delete(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.do(ctx, "delete", id, func(ctx context.Context) error {
		var err error
		result, err = r.api.DeleteNamespace(ctx, id)
		return Classify("delete", err)
	})
	return result, err
}

// Status reads the environment status once, without retries. Pollers
// treat a failed read as "not yet".
func (r *Reconciler) Status(ctx context.Context, id string) (Status, error) {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	status, err := r.api.GetResourceStatus(callCtx, id)
	return status, Classify("status", err)
}

// ClearFinalizers removes blocking metadata from the environment.
func (r *Reconciler) ClearFinalizers(ctx context.Context, id string) error {
	return r.do(ctx, "clear finalizers", id, func(ctx context.Context) error {
		return Classify("clear finalizers", r.api.ClearFinalizers(ctx, id))
	})
}

func (r *Reconciler) do(ctx context.Context, op, id string, fn func(context.Context) error) error {
	logger := log.FromContext(ctx).WithValues("environment", id, "operation", op)
	return retry.Do(ctx, fn, r.policy.Options(environment.IsTransient,
		retry.WithOnRetry(func(attempt int, err error) {
			logger.Info("Retrying cluster call", "attempt", attempt, "error", err.Error())
		}))...)
}

func (r *Reconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.policy.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.policy.CallTimeout)
}
