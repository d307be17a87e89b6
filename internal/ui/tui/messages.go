// Package tui provides a Bubble Tea-based terminal UI for environment workflows.
package tui

import (
	"time"

	"github.com/imamik/branchenv/internal/environment"
)

// PhaseMsg reports a persisted phase transition.
type PhaseMsg struct {
	ID   string
	From environment.Phase
	To   environment.Phase
	At   time.Time
}

// ReportMsg carries the terminal report of the run.
type ReportMsg struct {
	Report environment.Report
}

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// ErrMsg carries an error.
type ErrMsg struct{ Err error }
