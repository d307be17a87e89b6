package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/naming"
)

// GooseTool applies changeset directories of goose SQL migrations.
type GooseTool struct {
	// Open opens a database handle for dsn. Defaults to the pgx driver.
	Open func(dsn string) (*sql.DB, error)
}

// NewGooseTool returns a tool connecting through pgx.
func NewGooseTool() *GooseTool {
	return &GooseTool{Open: func(dsn string) (*sql.DB, error) { return sql.Open("pgx", dsn) }}
}

// RunChangeset implements Tool. Connection failures are transient; a
// failing migration is permanent.
func (g *GooseTool) RunChangeset(ctx context.Context, ep Endpoint, cs Changeset) error {
	info, err := os.Stat(cs.Dir)
	if err != nil {
		return environment.Permanent("migrate", fmt.Errorf("locate changeset %s: %w", cs.Name, err))
	}
	if !info.IsDir() {
		return environment.Permanent("migrate", fmt.Errorf("changeset %s: %s is not a directory", cs.Name, cs.Dir))
	}

	db, err := g.Open(ep.DSN())
	if err != nil {
		return environment.Permanent("migrate", fmt.Errorf("open database: %w", err))
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return environment.Transient("migrate", fmt.Errorf("ping database: %w", err))
	}

	store, err := database.NewStore(database.DialectPostgres, naming.ChangesetTable(cs.Name))
	if err != nil {
		return environment.Permanent("migrate", fmt.Errorf("configure goose store: %w", err))
	}
	provider, err := goose.NewProvider("", db, os.DirFS(cs.Dir), goose.WithStore(store))
	if err != nil {
		return environment.Permanent("migrate", fmt.Errorf("configure goose: %w", err))
	}

	results, err := provider.Up(ctx)
	if err != nil {
		var partial *goose.PartialError
		if errors.As(err, &partial) && partial.Failed != nil && partial.Failed.Source != nil {
			return environment.Permanent("migrate", fmt.Errorf("%s: %w", partial.Failed.Source.Path, partial.Err))
		}
		return environment.Permanent("migrate", fmt.Errorf("apply changeset %s: %w", cs.Name, err))
	}

	log.FromContext(ctx).V(1).Info("Applied migrations", "changeset", cs.Name, "count", len(results))
	return nil
}
