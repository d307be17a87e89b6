package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/exposure"
	"github.com/imamik/branchenv/internal/poll"
)

// workflow is the mutable progress of one run.
type workflow struct {
	o         *Orchestrator
	run       *run
	event     environment.EventKind
	state     *environment.State
	startedAt time.Time

	spec       *environment.Spec
	handle     *exposure.Handle
	changesets []environment.ChangesetOutcome
	recovered  bool
}

func (w *workflow) id() string { return w.run.id }

func (w *workflow) report() environment.Report {
	report := environment.NewReport(w.state, w.event, w.startedAt, w.o.clock.Now())
	report.Changesets = w.changesets
	report.Recovered = w.recovered
	return report
}

// begin opens the run on a fresh state in phase.
func (w *workflow) begin(ctx context.Context, phase environment.Phase) {
	w.state = environment.NewState(w.id(), w.run.branch, phase, w.o.clock.Now())
	w.state.RunID = uuid.NewString()
	w.persist(ctx)
	w.notify("", phase)
}

// reenter moves an existing state into phase for a new run.
func (w *workflow) reenter(ctx context.Context, phase environment.Phase) error {
	w.state.RunID = uuid.NewString()
	if w.state.Branch == "" {
		w.state.Branch = w.run.branch
	}
	return w.transition(ctx, phase)
}

func (w *workflow) runProvision(ctx, runCtx context.Context) error {
	logger := log.FromContext(ctx)

	switch {
	case w.state == nil:
		w.begin(ctx, environment.PhasePending)
	case w.state.Phase == environment.PhaseReady && w.event == environment.EventCreated:
		if w.o.isSuperseded(w.run) {
			return w.supersede(ctx)
		}
		logger.Info("Environment is already ready", "endpoint", w.state.ExternalEndpoint)
		return nil
	case w.state.Phase.IsDeleteSide():
		logger.Info("Finishing interrupted decommission before provisioning", "phase", w.state.Phase)
		if err := w.decommission(ctx); err != nil {
			return err
		}
		if w.o.isSuperseded(w.run) {
			w.event = environment.EventDeleted
			return nil
		}
		if w.state.Phase != environment.PhaseDeleted {
			return nil
		}
		if err := w.reenter(ctx, environment.PhasePending); err != nil {
			return err
		}
	case w.state.Phase.IsTerminal():
		if err := w.reenter(ctx, environment.PhasePending); err != nil {
			return err
		}
	default:
		logger.Info("Resuming provisioning", "phase", w.state.Phase)
		w.state.RunID = uuid.NewString()
	}

	if err := w.provision(ctx, runCtx); err != nil {
		return err
	}
	if w.event != environment.EventDeleted && w.o.isSuperseded(w.run) {
		return w.supersede(ctx)
	}
	return nil
}

func (w *workflow) runDecommission(ctx context.Context) error {
	switch {
	case w.state == nil:
		w.begin(ctx, environment.PhaseDeleting)
	case w.state.Phase.IsDeleteSide():
		log.FromContext(ctx).Info("Resuming decommission", "phase", w.state.Phase)
		w.state.RunID = uuid.NewString()
	default:
		if err := w.reenter(ctx, environment.PhaseDeleting); err != nil {
			return err
		}
	}
	return w.decommission(ctx)
}

// provision advances through the create-side phases. Steps run on runCtx,
// which a superseding Delete event cancels.
func (w *workflow) provision(ctx, runCtx context.Context) error {
	for w.state.Phase.IsCreateSide() {
		if w.o.isSuperseded(w.run) {
			return w.supersede(ctx)
		}

		next, err := w.step(runCtx)
		if w.o.isSuperseded(w.run) {
			return w.supersede(ctx)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return w.fail(ctx, err)
		}
		if err := w.transition(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// step performs the component call that leads out of the current phase.
func (w *workflow) step(ctx context.Context) (environment.Phase, error) {
	o := w.o
	switch w.state.Phase {
	case environment.PhasePending:
		_, err := w.renderedSpec()
		return environment.PhaseReconciling, err

	case environment.PhaseReconciling:
		spec, err := w.renderedSpec()
		if err != nil {
			return "", err
		}
		if _, err := o.deps.Cluster.Apply(ctx, spec); err != nil {
			return "", err
		}
		return environment.PhaseWaitingReady, nil

	case environment.PhaseWaitingReady:
		return environment.PhaseExposing, w.waitReady(ctx)

	case environment.PhaseExposing:
		return environment.PhaseWaitingEndpoint, w.expose(ctx)

	case environment.PhaseWaitingEndpoint:
		if w.handle == nil {
			if err := w.expose(ctx); err != nil {
				return "", err
			}
		}
		address, err := o.deps.Exposure.WaitForAddress(ctx, *w.handle)
		if err != nil {
			return "", err
		}
		w.state.ExternalEndpoint = address
		return environment.PhaseMigrating, nil

	case environment.PhaseMigrating:
		ep := o.plan.endpointFor(w.id(), w.state.ExternalEndpoint)
		result, err := o.deps.Migrator.Migrate(ctx, ep, o.plan.Changesets)
		w.changesets = result.Outcomes
		return environment.PhaseReady, err
	}
	return "", fmt.Errorf("phase %s has no provisioning step", w.state.Phase)
}

// renderedSpec renders once per run. Rendering is pure, so resumed runs
// render again instead of persisting the spec.
func (w *workflow) renderedSpec() (*environment.Spec, error) {
	if w.spec != nil {
		return w.spec, nil
	}
	spec, err := w.o.deps.Renderer.Render(w.id(), w.state.Branch)
	if err != nil {
		return nil, err
	}
	w.spec = spec
	return spec, nil
}

func (w *workflow) expose(ctx context.Context) error {
	spec, err := w.renderedSpec()
	if err != nil {
		return err
	}
	h, err := w.o.deps.Exposure.Expose(ctx, spec)
	if err != nil {
		return err
	}
	w.handle = &h
	return nil
}

func (w *workflow) waitReady(ctx context.Context) error {
	maxWait := w.o.timeouts.Ready
	outcome, err := poll.Until(ctx, poll.Options{
		Name:     "database readiness",
		Interval: w.o.timeouts.PollInterval,
		MaxWait:  maxWait,
	}, func(ctx context.Context) (bool, error) {
		status, err := w.o.deps.Cluster.Status(ctx, w.id())
		if err != nil {
			if environment.IsPermanent(err) {
				return false, poll.Abort(err)
			}
			return false, err
		}
		if status.Database.Failed {
			return false, poll.Abort(environment.Permanent("database readiness", errors.New(status.Database.Reason)))
		}
		return status.Database.Ready, nil
	})
	if err != nil {
		return err
	}
	if outcome == poll.TimedOut {
		return &environment.TimedOutError{What: "database readiness", MaxWait: maxWait}
	}
	return nil
}

// supersede abandons provisioning in favour of teardown.
func (w *workflow) supersede(ctx context.Context) error {
	log.FromContext(ctx).Info((&environment.SupersededError{ID: w.id(), Phase: w.state.Phase}).Error())
	w.event = environment.EventDeleted
	if err := w.transition(ctx, environment.PhaseDeleting); err != nil {
		return err
	}
	return w.decommission(ctx)
}

func (w *workflow) decommission(ctx context.Context) error {
	for w.state.Phase.IsDeleteSide() {
		var next environment.Phase
		var err error
		switch w.state.Phase {
		case environment.PhaseDeleting:
			next, err = environment.PhaseWaitingGone, w.teardown(ctx)
		case environment.PhaseWaitingGone:
			next, err = environment.PhaseDeleted, w.waitGone(ctx)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return w.fail(ctx, err)
		}
		if err := w.transition(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (w *workflow) teardown(ctx context.Context) error {
	if err := w.o.deps.Exposure.Release(ctx, w.id()); err != nil {
		return fmt.Errorf("failed to release exposure: %w", err)
	}
	result, err := w.o.deps.Cluster.Delete(ctx, w.id())
	if err != nil {
		return err
	}
	if result.AlreadyAbsent {
		log.FromContext(ctx).V(1).Info("Environment was already absent")
	}
	return nil
}

// waitGone waits for the environment to disappear. Past the grace window a
// single recovery clears blocking metadata, then the rest of the delete
// budget applies.
func (w *workflow) waitGone(ctx context.Context) error {
	logger := log.FromContext(ctx)
	t := w.o.timeouts

	outcome, err := w.pollGone(ctx, t.DeleteGrace)
	if err != nil {
		return err
	}
	if outcome == poll.Ready {
		return nil
	}

	logger.Info("Environment still terminating after grace window, recovering", "grace", t.DeleteGrace.String())
	result, err := w.o.deps.Recoverer.Recover(ctx, w.id())
	w.recovered = true
	w.o.recordRecovery(err)
	if err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}
	if result.AlreadyGone {
		return nil
	}

	outcome, err = w.pollGone(ctx, t.afterGrace())
	if err != nil {
		return err
	}
	if outcome == poll.TimedOut {
		return &environment.TimedOutError{What: "environment deletion", MaxWait: t.DeleteGrace + t.afterGrace()}
	}
	return nil
}

func (w *workflow) pollGone(ctx context.Context, maxWait time.Duration) (poll.Outcome, error) {
	return poll.Until(ctx, poll.Options{
		Name:     "environment deletion",
		Interval: w.o.timeouts.PollInterval,
		MaxWait:  maxWait,
	}, func(ctx context.Context) (bool, error) {
		status, err := w.o.deps.Cluster.Status(ctx, w.id())
		if err != nil {
			if environment.IsPermanent(err) {
				return false, poll.Abort(err)
			}
			return false, err
		}
		return status.Gone(), nil
	})
}

func (w *workflow) fail(ctx context.Context, cause error) error {
	from := w.state.Phase
	if err := w.state.Fail(cause.Error(), w.o.clock.Now()); err != nil {
		return err
	}
	log.FromContext(ctx).Info("Workflow failed", "phase", from, "error", cause.Error())
	w.persist(ctx)
	w.notify(from, environment.PhaseFailed)
	return nil
}

func (w *workflow) transition(ctx context.Context, next environment.Phase) error {
	from := w.state.Phase
	if err := w.state.Transition(next, w.o.clock.Now()); err != nil {
		return err
	}
	log.FromContext(ctx).V(1).Info("Phase changed", "from", from, "to", next)
	w.persist(ctx)
	w.notify(from, next)
	return nil
}

// persist saves the state. A failed save is logged: the run continues and
// the next transition saves again.
func (w *workflow) persist(ctx context.Context) {
	if err := w.o.store.Save(ctx, w.state.Clone()); err != nil {
		log.FromContext(ctx).Error(err, "Failed to persist environment state", "phase", w.state.Phase)
	}
}

func (w *workflow) notify(from, to environment.Phase) {
	for _, obs := range w.o.observers {
		obs.PhaseChanged(w.id(), from, to)
	}
}
