package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/lock"
	"github.com/imamik/branchenv/internal/poll"
	"github.com/imamik/branchenv/internal/state"
	"github.com/imamik/branchenv/internal/util/naming"
)

// Dependencies are the backends a workflow drives.
type Dependencies struct {
	Renderer  Renderer
	Cluster   Cluster
	Exposure  Exposer
	Migrator  Migrator
	Recoverer Recoverer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock used for phase timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithTimeouts sets the wait budgets.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// WithResolver sets how branch names map to environment ids.
func WithResolver(r naming.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithStore persists environment state, enabling resumption after restarts.
func WithStore(s state.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLocker coordinates runs across processes.
func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithReporter replaces the default log reporter.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithObserver adds an observer of phase changes and reports.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithMigrationPlan sets the changesets applied once an environment is exposed.
func WithMigrationPlan(p MigrationPlan) Option {
	return func(o *Orchestrator) { o.plan = p }
}

// WithMetrics enables prometheus metrics.
func WithMetrics(enabled bool) Option {
	return func(o *Orchestrator) { o.enableMetrics = enabled }
}

// Orchestrator runs one workflow per environment and coalesces concurrent
// events for the same environment.
type Orchestrator struct {
	deps          Dependencies
	clock         clock.PassiveClock
	timeouts      Timeouts
	resolver      naming.Resolver
	store         state.Store
	locker        lock.Locker
	reporter      Reporter
	observers     []Observer
	plan          MigrationPlan
	enableMetrics bool

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// New creates an Orchestrator. State is kept in memory and runs are
// coordinated within the process unless a store and locker are configured.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	var errs []error
	if deps.Renderer == nil {
		errs = append(errs, errors.New("renderer is required"))
	}
	if deps.Cluster == nil {
		errs = append(errs, errors.New("cluster is required"))
	}
	if deps.Exposure == nil {
		errs = append(errs, errors.New("exposure is required"))
	}
	if deps.Migrator == nil {
		errs = append(errs, errors.New("migrator is required"))
	}
	if deps.Recoverer == nil {
		errs = append(errs, errors.New("recoverer is required"))
	}

	o := &Orchestrator{
		deps:     deps,
		clock:    clock.RealClock{},
		timeouts: DefaultTimeouts(),
		store:    state.NewMemoryStore(),
		locker:   lock.NewLocalLocker(),
		reporter: LogReporter{},
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}

	t := o.timeouts
	if t.PollInterval <= 0 || t.Ready <= 0 || t.Endpoint <= 0 || t.DeleteGrace <= 0 || t.Delete <= 0 {
		errs = append(errs, fmt.Errorf("all timeouts must be positive: %+v", t))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return o, nil
}

// run is one workflow execution for an environment. Events arriving while
// it is active either join it or queue a follow-up run behind it.
type run struct {
	id     string
	branch string

	// Guarded by Orchestrator.mu.
	event      environment.EventKind
	started    bool
	superseded bool
	closing    bool
	cancel     context.CancelFunc
	next       *run

	done   chan struct{}
	report environment.Report
	err    error
}

func (r *run) deletes() bool {
	return r.event == environment.EventDeleted || r.superseded
}

// Handle processes ref and waits for the terminal report of the run that
// serves it. A run that ends in Failed is reported, not returned as error.
func (o *Orchestrator) Handle(ctx context.Context, ref environment.BranchRef) (environment.Report, error) {
	r, prev, owner, err := o.dispatch(ref)
	if err != nil {
		return environment.Report{}, err
	}
	if owner {
		o.execute(ctx, r, prev)
	}

	select {
	case <-r.done:
		return r.report, r.err
	case <-ctx.Done():
		return environment.Report{}, ctx.Err()
	}
}

// OnBranchEvent registers ref and runs its workflow in the background.
// Registration is synchronous, so events are ordered as they arrive.
func (o *Orchestrator) OnBranchEvent(ctx context.Context, ref environment.BranchRef) error {
	r, prev, owner, err := o.dispatch(ref)
	if err != nil {
		return err
	}
	if owner {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.execute(ctx, r, prev)
		}()
	}
	return nil
}

// Wait blocks until every background run started by OnBranchEvent ended.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// State returns the persisted state of branch's environment, or nil.
func (o *Orchestrator) State(ctx context.Context, branch string) (*environment.State, error) {
	id, err := o.resolver.Resolve(branch)
	if err != nil {
		return nil, err
	}
	return o.store.Load(ctx, id)
}

// States lists all persisted environment states.
func (o *Orchestrator) States(ctx context.Context) ([]*environment.State, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) dispatch(ref environment.BranchRef) (r, prev *run, owner bool, err error) {
	if !ref.Event.IsValid() {
		return nil, nil, false, fmt.Errorf("unknown event %q for branch %s", ref.Event, ref.Name)
	}
	id, err := o.resolver.Resolve(ref.Name)
	if err != nil {
		return nil, nil, false, err
	}
	r, prev, owner = o.submit(id, ref)
	return r, prev, owner, nil
}

// submit returns the run that serves ref. When owner is true the caller
// must execute it once prev is done.
func (o *Orchestrator) submit(id string, ref environment.BranchRef) (r, prev *run, owner bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tail := o.runs[id]
	if tail == nil {
		r = newRun(id, ref)
		o.runs[id] = r
		return r, nil, true
	}
	for tail.next != nil {
		tail = tail.next
	}

	if ref.Event == environment.EventDeleted {
		if tail.closing && !tail.deletes() {
			r = newRun(id, ref)
			tail.next = r
			return r, tail, true
		}
		if !tail.deletes() {
			if tail.started {
				tail.superseded = true
				tail.cancel()
			} else {
				tail.event = environment.EventDeleted
			}
		}
		return tail, nil, false
	}

	if !tail.deletes() {
		return tail, nil, false
	}
	r = newRun(id, ref)
	tail.next = r
	return r, tail, true
}

func newRun(id string, ref environment.BranchRef) *run {
	return &run{id: id, branch: ref.Name, event: ref.Event, done: make(chan struct{})}
}

func (o *Orchestrator) start(r *run, cancel context.CancelFunc) environment.EventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.started = true
	r.cancel = cancel
	return r.event
}

func (o *Orchestrator) isSuperseded(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return r.superseded
}

// settle decides the outcome of r. A run superseded after its workflow
// stopped looking is run again as a delete instead. Otherwise r is marked
// closing, and later Delete events queue behind it.
func (o *Orchestrator) settle(ctx context.Context, r *run, report environment.Report) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r.superseded && report.Event != environment.EventDeleted && ctx.Err() == nil {
		r.event = environment.EventDeleted
		r.superseded = false
		r.started = false
		return false
	}
	r.closing = true
	return true
}

func (o *Orchestrator) finish(r *run, report environment.Report, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r.report = report
	r.err = err
	if o.runs[r.id] == r {
		if r.next != nil {
			o.runs[r.id] = r.next
		} else {
			delete(o.runs, r.id)
		}
	}
	close(r.done)
}

func (o *Orchestrator) execute(ctx context.Context, r *run, prev *run) {
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			o.finish(r, environment.Report{}, ctx.Err())
			return
		}
	}

	logger := log.FromContext(ctx).WithValues("environment", r.id, "branch", r.branch)
	ctx = log.IntoContext(ctx, logger)

	o.trackActive(1)
	defer o.trackActive(-1)

	report, err := o.attempt(ctx, r)
	for !o.settle(ctx, r, report) {
		logger.Info("Delete arrived as the run ended, decommissioning")
		report, err = o.attempt(ctx, r)
	}
	if err != nil {
		logger.Error(err, "Workflow aborted")
	} else {
		o.reporter.Report(ctx, report)
		for _, obs := range o.observers {
			obs.Finished(report)
		}
		o.recordReport(report)
	}
	o.finish(r, report, err)
}

func (o *Orchestrator) attempt(ctx context.Context, r *run) (environment.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	event := o.start(r, cancel)
	return o.runWorkflow(ctx, runCtx, r, event)
}

func (o *Orchestrator) runWorkflow(ctx, runCtx context.Context, r *run, event environment.EventKind) (environment.Report, error) {
	release, err := o.acquire(ctx, r.id)
	if err != nil {
		return environment.Report{}, fmt.Errorf("failed to lock environment %s: %w", r.id, err)
	}
	defer release()

	st, err := o.store.Load(ctx, r.id)
	if err != nil {
		return environment.Report{}, fmt.Errorf("failed to load state of %s: %w", r.id, err)
	}

	w := &workflow{o: o, run: r, event: event, state: st, startedAt: o.clock.Now()}
	if event == environment.EventDeleted {
		err = w.runDecommission(ctx)
	} else {
		err = w.runProvision(ctx, runCtx)
	}
	if err != nil {
		return environment.Report{}, err
	}
	return w.report(), nil
}

// acquire takes the cross-process lock of id, waiting for another holder
// to finish its run.
func (o *Orchestrator) acquire(ctx context.Context, id string) (func(), error) {
	release, err := o.locker.TryAcquire(ctx, id)
	if err == nil {
		return release, nil
	}
	if !errors.Is(err, lock.ErrLocked) {
		return nil, err
	}

	log.FromContext(ctx).Info("Environment is locked by another run, waiting")
	maxWait := o.timeouts.lockWait()
	outcome, err := poll.Until(ctx, poll.Options{
		Name:     "environment lock",
		Interval: o.timeouts.PollInterval,
		MaxWait:  maxWait,
	}, func(ctx context.Context) (bool, error) {
		var err error
		release, err = o.locker.TryAcquire(ctx, id)
		if errors.Is(err, lock.ErrLocked) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	if outcome == poll.TimedOut {
		return nil, &environment.TimedOutError{What: "environment lock", MaxWait: maxWait}
	}
	return release, nil
}
