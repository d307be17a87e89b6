package environment

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChangesetStatus is the outcome of one changeset in a migration run.
type ChangesetStatus string

const (
	ChangesetSuccess ChangesetStatus = "Success"
	ChangesetFailure ChangesetStatus = "Failure"
	ChangesetNotRun  ChangesetStatus = "NotRun"
)

// ChangesetOutcome records one changeset's result.
type ChangesetOutcome struct {
	Name     string          `json:"name"`
	Status   ChangesetStatus `json:"status"`
	Detail   string          `json:"detail,omitempty"`
	Duration time.Duration   `json:"duration,omitempty"`
}

// Report is the terminal outcome of one workflow run.
type Report struct {
	RunID            string                  `json:"runID"`
	ID               string                  `json:"id"`
	Branch           string                  `json:"branch"`
	Event            EventKind               `json:"event"`
	FinalPhase       Phase                   `json:"finalPhase"`
	FailedPhase      Phase                   `json:"failedPhase,omitempty"`
	ExternalEndpoint string                  `json:"externalEndpoint,omitempty"`
	FailureReason    string                  `json:"failureReason,omitempty"`
	DurationByPhase  map[Phase]time.Duration `json:"durationByPhase"`
	Changesets       []ChangesetOutcome      `json:"changesets,omitempty"`
	Recovered        bool                    `json:"recovered,omitempty"`
	StartedAt        time.Time               `json:"startedAt"`
	FinishedAt       time.Time               `json:"finishedAt"`
}

// NewReport builds a report from a terminal state.
func NewReport(st *State, event EventKind, startedAt, finishedAt time.Time) Report {
	return Report{
		RunID:            st.RunID,
		ID:               st.ID,
		Branch:           st.Branch,
		Event:            event,
		FinalPhase:       st.Phase,
		FailedPhase:      st.FailedPhase,
		ExternalEndpoint: st.ExternalEndpoint,
		FailureReason:    st.FailureReason,
		DurationByPhase:  st.DurationByPhase(),
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
	}
}

// Succeeded returns true when the run ended where its event wanted it.
func (r Report) Succeeded() bool {
	if r.Event == EventDeleted {
		return r.FinalPhase == PhaseDeleted
	}
	return r.FinalPhase == PhaseReady
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary renders a one-line description suitable for logs and notifications.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "environment %s (branch %s): %s", r.ID, r.Branch, r.FinalPhase)
	if r.ExternalEndpoint != "" {
		fmt.Fprintf(&b, " at %s", r.ExternalEndpoint)
	}
	if r.FailureReason != "" {
		fmt.Fprintf(&b, " during %s: %s", r.FailedPhase, r.FailureReason)
	}

	phases := make([]string, 0, len(r.DurationByPhase))
	for p := range r.DurationByPhase {
		phases = append(phases, string(p))
	}
	sort.Strings(phases)
	if len(phases) > 0 {
		parts := make([]string, len(phases))
		for i, p := range phases {
			parts[i] = fmt.Sprintf("%s=%s", p, r.DurationByPhase[Phase(p)].Round(time.Millisecond))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, " "))
	}
	return b.String()
}
