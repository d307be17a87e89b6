package cluster

import (
	"context"
	"time"

	"github.com/imamik/branchenv/internal/environment"
)

// API is the capability interface a cluster backend implements.
type API interface {
	// ApplyResources converges the cluster to spec. Repeated calls with the
	// same spec are safe and never fail on already existing resources.
	ApplyResources(ctx context.Context, spec *environment.Spec) (ApplyResult, error)

	// DeleteNamespace removes the environment. An absent environment is success.
	DeleteNamespace(ctx context.Context, id string) (DeleteResult, error)

	// GetResourceStatus reports the namespace and database state.
	GetResourceStatus(ctx context.Context, id string) (Status, error)

	// ClearFinalizers removes blocking metadata so deletion can complete.
	// Backends without such metadata implement it as a no-op.
	ClearFinalizers(ctx context.Context, id string) error
}

// ApplyResult lists what an apply touched.
type ApplyResult struct {
	Applied []string
}

// DeleteResult describes the outcome of a delete request.
type DeleteResult struct {
	AlreadyAbsent bool
}

// NamespacePhase is the observed lifecycle of the environment namespace.
type NamespacePhase string

const (
	NamespaceAbsent      NamespacePhase = "Absent"
	NamespaceActive      NamespacePhase = "Active"
	NamespaceTerminating NamespacePhase = "Terminating"
)

// DatabaseStatus is the observed readiness of the database instance.
type DatabaseStatus struct {
	Ready bool
	// Failed is set when the database entered a permanent error state,
	// e.g. a crash-looping container.
	Failed bool
	Reason string
}

// Status is one observation of an environment.
type Status struct {
	Namespace        NamespacePhase
	TerminatingSince time.Time
	Database         DatabaseStatus
}

// Gone reports whether nothing of the environment is left.
func (s Status) Gone() bool {
	return s.Namespace == NamespaceAbsent
}

// Environment is a managed environment found in the cluster.
type Environment struct {
	ID          string
	Branch      string
	Terminating bool
	CreatedAt   time.Time
}
