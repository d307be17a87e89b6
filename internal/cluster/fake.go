package cluster

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/util/labels"
)

// Op names one API operation of FakeAPI.
type Op string

const (
	OpApply           Op = "apply"
	OpDelete          Op = "delete"
	OpStatus          Op = "status"
	OpClearFinalizers Op = "clearFinalizers"
)

type fakeEnv struct {
	spec        *environment.Spec
	branch      string
	applyCount  int
	reads       int
	stuck       bool
	terminating bool
	since       time.Time
}

type injected struct {
	err   error
	times int
}

// FakeAPI is an in-memory API. Environments become ready after a
// configurable number of status reads and disappear on the first status
// read after deletion unless marked stuck.
type FakeAPI struct {
	mu         sync.Mutex
	clock      clock.PassiveClock
	envs       map[string]*fakeEnv
	readyAfter int
	stuck      map[string]bool
	failures   map[string]string
	errs       map[Op]*injected
	calls      map[Op]int
}

// NewFakeAPI returns an empty fake cluster.
func NewFakeAPI() *FakeAPI {
	return NewFakeAPIWithClock(clock.RealClock{})
}

// NewFakeAPIWithClock returns an empty fake cluster using clk for timestamps.
func NewFakeAPIWithClock(clk clock.PassiveClock) *FakeAPI {
	return &FakeAPI{
		clock:    clk,
		envs:     make(map[string]*fakeEnv),
		stuck:    make(map[string]bool),
		failures: make(map[string]string),
		errs:     make(map[Op]*injected),
		calls:    make(map[Op]int),
	}
}

// SetReadyAfter makes the database report ready after n status reads.
func (f *FakeAPI) SetReadyAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readyAfter = n
}

// SetStuck makes a deleted environment stay terminating until its
// finalizers are cleared.
func (f *FakeAPI) SetStuck(id string, stuck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuck[id] = stuck
	if env, ok := f.envs[id]; ok {
		env.stuck = stuck
	}
}

// SetDatabaseFailure makes the database of id report a permanent failure.
func (f *FakeAPI) SetDatabaseFailure(id, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = reason
}

// InjectError makes the next times calls of op fail with err.
func (f *FakeAPI) InjectError(op Op, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = &injected{err: err, times: times}
}

// Calls returns how often op was invoked.
func (f *FakeAPI) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Exists reports whether any state of id is left.
func (f *FakeAPI) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.envs[id]
	return ok
}

// AppliedCount returns how often id was applied; repeated applies converge
// on a single environment.
func (f *FakeAPI) AppliedCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if env, ok := f.envs[id]; ok {
		return env.applyCount
	}
	return 0
}

// Spec returns the last applied spec of id.
func (f *FakeAPI) Spec(id string) *environment.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if env, ok := f.envs[id]; ok {
		return env.spec
	}
	return nil
}

func (f *FakeAPI) record(op Op) error {
	f.calls[op]++
	if inj, ok := f.errs[op]; ok && inj.times > 0 {
		inj.times--
		return inj.err
	}
	return nil
}

// ApplyResources implements API.
func (f *FakeAPI) ApplyResources(ctx context.Context, spec *environment.Spec) (ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpApply); err != nil {
		return ApplyResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ApplyResult{}, err
	}

	env, ok := f.envs[spec.ID()]
	if !ok || env.terminating {
		env = &fakeEnv{stuck: f.stuck[spec.ID()]}
		f.envs[spec.ID()] = env
	}
	env.spec = spec
	env.applyCount++
	if ns, ok := spec.First(environment.RoleNamespace); ok {
		env.branch = ns.GetAnnotations()[labels.AnnotationBranch]
	}

	var result ApplyResult
	for _, obj := range spec.Objects() {
		result.Applied = append(result.Applied, obj.GetKind()+"/"+obj.GetName())
	}
	return result, nil
}

// DeleteNamespace implements API.
func (f *FakeAPI) DeleteNamespace(ctx context.Context, id string) (DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpDelete); err != nil {
		return DeleteResult{}, err
	}

	env, ok := f.envs[id]
	if !ok {
		return DeleteResult{AlreadyAbsent: true}, nil
	}
	if !env.terminating {
		env.terminating = true
		env.since = f.clock.Now()
	}
	return DeleteResult{}, nil
}

// GetResourceStatus implements API.
func (f *FakeAPI) GetResourceStatus(ctx context.Context, id string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpStatus); err != nil {
		return Status{}, err
	}

	env, ok := f.envs[id]
	if !ok {
		return Status{Namespace: NamespaceAbsent}, nil
	}
	if env.terminating {
		if !env.stuck {
			delete(f.envs, id)
			return Status{Namespace: NamespaceAbsent}, nil
		}
		return Status{Namespace: NamespaceTerminating, TerminatingSince: env.since}, nil
	}

	env.reads++
	if reason, failed := f.failures[id]; failed {
		return Status{Namespace: NamespaceActive, Database: DatabaseStatus{Failed: true, Reason: reason}}, nil
	}
	if env.reads <= f.readyAfter {
		return Status{Namespace: NamespaceActive, Database: DatabaseStatus{Reason: "starting"}}, nil
	}
	return Status{Namespace: NamespaceActive, Database: DatabaseStatus{Ready: true}}, nil
}

// ClearFinalizers implements API.
func (f *FakeAPI) ClearFinalizers(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(OpClearFinalizers); err != nil {
		return err
	}
	if env, ok := f.envs[id]; ok {
		env.stuck = false
	}
	f.stuck[id] = false
	return nil
}

// ListEnvironments returns the environments the fake currently holds.
func (f *FakeAPI) ListEnvironments(ctx context.Context) ([]Environment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	envs := make([]Environment, 0, len(f.envs))
	for id, env := range f.envs {
		envs = append(envs, Environment{ID: id, Branch: env.branch, Terminating: env.terminating})
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].ID < envs[j].ID })
	return envs, nil
}
