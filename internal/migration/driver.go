package migration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/retry"
)

// Changeset is one ordered, named unit of schema migration.
type Changeset struct {
	Name string `yaml:"name"`
	Dir  string `yaml:"dir"`
}

// Endpoint locates the database to migrate.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns a postgres connection URL for the endpoint.
func (e Endpoint) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
		Path:   "/" + e.Database,
	}
	if e.Password != "" {
		u.User = url.UserPassword(e.User, e.Password)
	} else {
		u.User = url.User(e.User)
	}
	sslMode := e.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	return u.String()
}

// Tool applies a single changeset.
type Tool interface {
	RunChangeset(ctx context.Context, ep Endpoint, cs Changeset) error
}

// Result records the outcome of every changeset of a run, in order.
type Result struct {
	Outcomes []environment.ChangesetOutcome
}

// Failed returns the failing changeset, if any.
func (r Result) Failed() (environment.ChangesetOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Status == environment.ChangesetFailure {
			return o, true
		}
	}
	return environment.ChangesetOutcome{}, false
}

// Driver runs changesets strictly in order and halts on the first failure.
type Driver struct {
	tool   Tool
	policy retry.Policy
}

// NewDriver creates a driver. Each changeset attempt is bounded by timeout;
// transient failures are retried per policy.
func NewDriver(tool Tool, policy retry.Policy, timeout time.Duration) *Driver {
	policy.CallTimeout = timeout
	return &Driver{tool: tool, policy: policy}
}

// Migrate applies changesets to ep. On failure the returned error is a
// *environment.MigrationFailure naming the changeset, and the result marks
// every later changeset NotRun.
func (d *Driver) Migrate(ctx context.Context, ep Endpoint, changesets []Changeset) (Result, error) {
	logger := log.FromContext(ctx).WithValues("endpoint", ep.Host)
	result := Result{Outcomes: make([]environment.ChangesetOutcome, len(changesets))}
	for i, cs := range changesets {
		result.Outcomes[i] = environment.ChangesetOutcome{Name: cs.Name, Status: environment.ChangesetNotRun}
	}

	for i, cs := range changesets {
		start := time.Now()
		err := retry.Do(ctx, func(ctx context.Context) error {
			return d.tool.RunChangeset(ctx, ep, cs)
		}, d.policy.Options(environment.IsTransient, retry.WithOnRetry(func(attempt int, err error) {
			logger.Info("Retrying changeset", "changeset", cs.Name, "attempt", attempt, "error", err.Error())
		}))...)
		result.Outcomes[i].Duration = time.Since(start)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return result, err
			}
			result.Outcomes[i].Status = environment.ChangesetFailure
			result.Outcomes[i].Detail = err.Error()
			logger.Info("Changeset failed, halting", "changeset", cs.Name, "error", err.Error())
			return result, &environment.MigrationFailure{Changeset: cs.Name, Detail: err.Error(), Err: err}
		}

		result.Outcomes[i].Status = environment.ChangesetSuccess
		logger.V(1).Info("Changeset applied", "changeset", cs.Name, "duration", result.Outcomes[i].Duration)
	}
	return result, nil
}

// Validate checks that changesets have unique non-empty names and directories.
func Validate(changesets []Changeset) error {
	seen := make(map[string]bool, len(changesets))
	var errs []error
	for i, cs := range changesets {
		if cs.Name == "" {
			errs = append(errs, fmt.Errorf("changeset %d has no name", i))
			continue
		}
		if seen[cs.Name] {
			errs = append(errs, fmt.Errorf("duplicate changeset %q", cs.Name))
		}
		seen[cs.Name] = true
		if cs.Dir == "" {
			errs = append(errs, fmt.Errorf("changeset %q has no dir", cs.Name))
		}
	}
	return errors.Join(errs...)
}
