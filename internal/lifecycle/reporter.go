package lifecycle

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/imamik/branchenv/internal/environment"
)

// Reporter receives the terminal report of every workflow run.
type Reporter interface {
	Report(ctx context.Context, report environment.Report)
}

// Observer follows workflow runs as they progress.
type Observer interface {
	// PhaseChanged is called after every persisted transition.
	PhaseChanged(id string, from, to environment.Phase)
	// Finished is called once per run with its terminal report.
	Finished(report environment.Report)
}

// LogReporter writes reports to the context logger.
type LogReporter struct{}

// Report implements Reporter.
func (LogReporter) Report(ctx context.Context, report environment.Report) {
	logger := log.FromContext(ctx).WithValues(
		"environment", report.ID,
		"branch", report.Branch,
		"run", report.RunID,
		"phase", report.FinalPhase,
		"duration", report.Duration().String(),
	)
	if report.Succeeded() {
		logger.Info("Workflow finished", "summary", report.Summary())
		return
	}
	logger.Info("Workflow failed",
		"failedPhase", report.FailedPhase,
		"reason", report.FailureReason,
		"summary", report.Summary(),
	)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnPhase  func(id string, from, to environment.Phase)
	OnFinish func(report environment.Report)
}

// PhaseChanged implements Observer.
func (o ObserverFuncs) PhaseChanged(id string, from, to environment.Phase) {
	if o.OnPhase != nil {
		o.OnPhase(id, from, to)
	}
}

// Finished implements Observer.
func (o ObserverFuncs) Finished(report environment.Report) {
	if o.OnFinish != nil {
		o.OnFinish(report)
	}
}
