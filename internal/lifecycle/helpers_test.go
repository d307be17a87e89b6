package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/exposure"
	"github.com/imamik/branchenv/internal/migration"
	"github.com/imamik/branchenv/internal/recovery"
	"github.com/imamik/branchenv/internal/state"
	"github.com/imamik/branchenv/internal/util/retry"
)

const testAddress = "203.0.113.10"

var testPolicy = retry.Policy{MaxAttempts: 2, InitialDelay: time.Millisecond, CallTimeout: time.Second}

func testTimeouts() Timeouts {
	return Timeouts{
		PollInterval: 2 * time.Millisecond,
		Ready:        500 * time.Millisecond,
		Endpoint:     500 * time.Millisecond,
		DeleteGrace:  40 * time.Millisecond,
		Delete:       500 * time.Millisecond,
	}
}

func object(apiVersion, kind, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion(apiVersion)
	u.SetKind(kind)
	u.SetName(name)
	return u
}

type specRenderer struct {
	calls atomic.Int32
	err   error
}

func (r *specRenderer) Render(id, _ string) (*environment.Spec, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return environment.NewSpec(id, id, []environment.Resource{
		{Role: environment.RoleNamespace, Object: object("v1", "Namespace", id)},
		{Role: environment.RoleDatabase, Object: object("postgresql.cnpg.io/v1", "Cluster", "db")},
		{Role: environment.RoleService, Object: object("v1", "Service", "db-internal")},
		{Role: environment.RoleExposure, Object: object("v1", "Service", id+"-external")},
	}), nil
}

// fakeProvider assigns testAddress on the first read unless held.
type fakeProvider struct {
	mu       sync.Mutex
	never    bool
	gate     chan struct{}
	requests int
	released []string
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) RequestExternalAddress(_ context.Context, id string, _ *unstructured.Unstructured) (exposure.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	return exposure.Handle{ID: id, Provider: "fake", Ref: id}, nil
}

func (p *fakeProvider) GetAssignedAddress(_ context.Context, _ exposure.Handle) (string, bool, error) {
	p.mu.Lock()
	never, gate := p.never, p.gate
	p.mu.Unlock()
	if never {
		return "", false, nil
	}
	if gate != nil {
		select {
		case <-gate:
		default:
			return "", false, nil
		}
	}
	return testAddress, true, nil
}

func (p *fakeProvider) Release(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	return nil
}

func (p *fakeProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

func (p *fakeProvider) releasedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

type fakeTool struct {
	mu        sync.Mutex
	fail      map[string]error
	ran       []string
	endpoints []migration.Endpoint
}

func (f *fakeTool) RunChangeset(_ context.Context, ep migration.Endpoint, cs migration.Changeset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, cs.Name)
	f.endpoints = append(f.endpoints, ep)
	return f.fail[cs.Name]
}

func (f *fakeTool) ranChangesets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ran...)
}

type countingRecoverer struct {
	inner *recovery.Recoverer
	noop  bool
	calls atomic.Int32
}

func (c *countingRecoverer) Recover(ctx context.Context, id string) (recovery.Result, error) {
	c.calls.Add(1)
	if c.noop {
		return recovery.Result{}, nil
	}
	return c.inner.Recover(ctx, id)
}

type transition struct {
	ID       string
	From, To environment.Phase
}

// recorder observes transitions and collects reports.
type recorder struct {
	mu          sync.Mutex
	transitions []transition
	reports     []environment.Report
	reached     chan transition
}

func newRecorder() *recorder {
	return &recorder{reached: make(chan transition, 256)}
}

func (r *recorder) PhaseChanged(id string, from, to environment.Phase) {
	r.mu.Lock()
	r.transitions = append(r.transitions, transition{ID: id, From: from, To: to})
	r.mu.Unlock()
	select {
	case r.reached <- transition{ID: id, From: from, To: to}:
	default:
	}
}

func (r *recorder) Finished(environment.Report) {}

func (r *recorder) Report(_ context.Context, report environment.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// phases returns the phases entered by id, in order.
func (r *recorder) phases(id string) []environment.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []environment.Phase
	for _, t := range r.transitions {
		if t.ID == id {
			out = append(out, t.To)
		}
	}
	return out
}

func (r *recorder) allReports() []environment.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]environment.Report(nil), r.reports...)
}

// await blocks until id enters phase or the timeout passes.
func (r *recorder) await(id string, phase environment.Phase, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case t := <-r.reached:
			if t.ID == id && t.To == phase {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func changesets(names ...string) []migration.Changeset {
	out := make([]migration.Changeset, len(names))
	for i, n := range names {
		out[i] = migration.Changeset{Name: n, Dir: "db/" + n}
	}
	return out
}

type harness struct {
	api       *cluster.FakeAPI
	renderer  *specRenderer
	provider  *fakeProvider
	tool      *fakeTool
	recoverer *countingRecoverer
	recorder  *recorder
	store     *state.MemoryStore
	orch      *Orchestrator
}

func newHarness(opts ...Option) (*harness, error) {
	h := &harness{
		api:      cluster.NewFakeAPI(),
		renderer: &specRenderer{},
		provider: &fakeProvider{},
		tool:     &fakeTool{fail: map[string]error{}},
		recorder: newRecorder(),
		store:    state.NewMemoryStore(),
	}
	reconciler := cluster.NewReconciler(h.api, testPolicy)
	h.recoverer = &countingRecoverer{inner: recovery.New(reconciler)}

	base := []Option{
		WithTimeouts(testTimeouts()),
		WithStore(h.store),
		WithObserver(h.recorder),
		WithReporter(h.recorder),
		WithMigrationPlan(MigrationPlan{
			Endpoint:   migration.Endpoint{Port: 5432, User: "app"},
			Changesets: changesets("system", "service"),
		}),
	}
	orch, err := New(Dependencies{
		Renderer:  h.renderer,
		Cluster:   reconciler,
		Exposure:  exposure.NewManager(h.provider, testPolicy, time.Millisecond, 300*time.Millisecond),
		Migrator:  migration.NewDriver(h.tool, testPolicy, time.Second),
		Recoverer: h.recoverer,
	}, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	h.orch = orch
	return h, nil
}

func created(branch string) environment.BranchRef {
	return environment.BranchRef{Name: branch, Event: environment.EventCreated}
}

func updated(branch string) environment.BranchRef {
	return environment.BranchRef{Name: branch, Event: environment.EventUpdated}
}

func deleted(branch string) environment.BranchRef {
	return environment.BranchRef{Name: branch, Event: environment.EventDeleted}
}
