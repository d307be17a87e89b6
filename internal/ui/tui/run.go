package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/lifecycle"
)

// WorkflowFunc runs one workflow, reporting progress to observer.
type WorkflowFunc func(ctx context.Context, observer lifecycle.Observer) (environment.Report, error)

// sender is the subset of *tea.Program the observer needs.
type sender interface {
	Send(msg tea.Msg)
}

// NewObserver returns a lifecycle.Observer that forwards progress of
// environment id to the program.
func NewObserver(p sender, id string) lifecycle.Observer {
	return lifecycle.ObserverFuncs{
		OnPhase: func(envID string, from, to environment.Phase) {
			if envID != id {
				return
			}
			p.Send(PhaseMsg{ID: envID, From: from, To: to, At: time.Now()})
		},
		OnFinish: func(report environment.Report) {
			if report.ID != id {
				return
			}
			p.Send(ReportMsg{Report: report})
		},
	}
}

// Run wraps a workflow run with a Bubble Tea progress view.
// Quitting the view cancels the workflow and waits for it to stop.
func Run(ctx context.Context, id, branch string, event environment.EventKind, fn WorkflowFunc) (environment.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(id, branch, event), tea.WithAltScreen())

	type result struct {
		report environment.Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := fn(ctx, NewObserver(p, id))
		if err != nil {
			p.Send(ErrMsg{Err: err})
		} else {
			p.Send(ReportMsg{Report: report})
		}
		done <- result{report: report, err: err}
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return environment.Report{}, fmt.Errorf("TUI error: %w", err)
	}

	if fm, ok := final.(Model); !ok || !fm.Done {
		cancel()
	}
	res := <-done
	return res.report, res.err
}
