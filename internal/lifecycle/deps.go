package lifecycle

import (
	"context"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/exposure"
	"github.com/imamik/branchenv/internal/migration"
	"github.com/imamik/branchenv/internal/recovery"
)

// Renderer produces the desired resources of an environment.
type Renderer interface {
	Render(id, branch string) (*environment.Spec, error)
}

// Cluster converges and tears down environments. *cluster.Reconciler
// implements it.
type Cluster interface {
	Apply(ctx context.Context, spec *environment.Spec) (cluster.ApplyResult, error)
	Delete(ctx context.Context, id string) (cluster.DeleteResult, error)
	Status(ctx context.Context, id string) (cluster.Status, error)
}

// Exposer assigns and frees external addresses. *exposure.Manager
// implements it.
type Exposer interface {
	Expose(ctx context.Context, spec *environment.Spec) (exposure.Handle, error)
	WaitForAddress(ctx context.Context, h exposure.Handle) (string, error)
	Release(ctx context.Context, id string) error
}

// Migrator applies schema changesets. *migration.Driver implements it.
type Migrator interface {
	Migrate(ctx context.Context, ep migration.Endpoint, changesets []migration.Changeset) (migration.Result, error)
}

// Recoverer unblocks environments stuck in deletion. *recovery.Recoverer
// implements it.
type Recoverer interface {
	Recover(ctx context.Context, id string) (recovery.Result, error)
}

// MigrationPlan describes where and what to migrate once an environment
// has an external address.
type MigrationPlan struct {
	// Endpoint is the connection template. An empty Host means the
	// environment's external address, an empty Database the environment id.
	Endpoint   migration.Endpoint
	Changesets []migration.Changeset
}

func (p MigrationPlan) endpointFor(id, address string) migration.Endpoint {
	ep := p.Endpoint
	if ep.Host == "" {
		ep.Host = address
	}
	if ep.Database == "" {
		ep.Database = id
	}
	return ep
}
