// Package recovery unblocks environments wedged in a terminating state.
package recovery

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/cluster"
)

// Reconciler is the subset of cluster.Reconciler recovery needs.
type Reconciler interface {
	Status(ctx context.Context, id string) (cluster.Status, error)
	ClearFinalizers(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) (cluster.DeleteResult, error)
}

// Result describes what a recovery did.
type Result struct {
	AlreadyGone       bool
	FinalizersCleared bool
	DeleteReissued    bool
}

// Recoverer clears blocking metadata and re-issues deletion.
type Recoverer struct {
	reconciler Reconciler
}

// New creates a Recoverer.
func New(r Reconciler) *Recoverer {
	return &Recoverer{reconciler: r}
}

// Recover clears finalizers of id and deletes it again. An environment that
// is already gone, or disappears while recovery runs, is success.
func (r *Recoverer) Recover(ctx context.Context, id string) (Result, error) {
	logger := log.FromContext(ctx).WithValues("environment", id)

	status, err := r.reconciler.Status(ctx, id)
	if err == nil && status.Gone() {
		logger.Info("Environment already gone, nothing to recover")
		return Result{AlreadyGone: true}, nil
	}

	logger.Info("Clearing finalizers of stuck environment")
	if err := r.reconciler.ClearFinalizers(ctx, id); err != nil {
		return Result{}, fmt.Errorf("failed to clear finalizers of %s: %w", id, err)
	}
	result := Result{FinalizersCleared: true}

	deleted, err := r.reconciler.Delete(ctx, id)
	if err != nil {
		return result, fmt.Errorf("failed to re-issue delete of %s: %w", id, err)
	}
	if deleted.AlreadyAbsent {
		result.AlreadyGone = true
		return result, nil
	}
	result.DeleteReissued = true
	return result, nil
}
