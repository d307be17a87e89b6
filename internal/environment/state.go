package environment

import (
	"fmt"
	"time"
)

// PhaseRecord records one visit of a phase.
type PhaseRecord struct {
	Phase     Phase      `json:"phase"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

// State is the orchestrator's view of one environment's progress.
// It is the only mutable entity of the lifecycle and is owned by a single
// workflow run at a time.
type State struct {
	ID               string        `json:"id"`
	Branch           string        `json:"branch"`
	Phase            Phase         `json:"phase"`
	CreatedAt        time.Time     `json:"createdAt"`
	LastTransitionAt time.Time     `json:"lastTransitionAt"`
	ExternalEndpoint string        `json:"externalEndpoint,omitempty"`
	FailureReason    string        `json:"failureReason,omitempty"`
	FailedPhase      Phase         `json:"failedPhase,omitempty"`
	RunID            string        `json:"runID,omitempty"`
	History          []PhaseRecord `json:"history,omitempty"`
}

// NewState returns a state entering phase at now.
func NewState(id, branch string, phase Phase, now time.Time) *State {
	return &State{
		ID:               id,
		Branch:           branch,
		Phase:            phase,
		CreatedAt:        now,
		LastTransitionAt: now,
		History:          []PhaseRecord{{Phase: phase, StartedAt: now}},
	}
}

// TransitionError reports a move the state machine does not allow.
type TransitionError struct {
	ID   string
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("environment %s: illegal transition %s -> %s", e.ID, e.From, e.To)
}

// Transition moves the state to next, closing the current history record.
func (s *State) Transition(next Phase, now time.Time) error {
	if !s.Phase.CanTransition(next) {
		return &TransitionError{ID: s.ID, From: s.Phase, To: next}
	}

	s.closeCurrent(now)
	s.Phase = next
	s.LastTransitionAt = now
	if next == PhasePending {
		s.FailureReason = ""
		s.FailedPhase = ""
	}
	if next.IsTerminal() {
		s.History = append(s.History, PhaseRecord{Phase: next, StartedAt: now, EndedAt: &now})
	} else {
		s.History = append(s.History, PhaseRecord{Phase: next, StartedAt: now})
	}
	return nil
}

// Fail transitions to Failed and records why.
func (s *State) Fail(reason string, now time.Time) error {
	failedAt := s.Phase
	if err := s.Transition(PhaseFailed, now); err != nil {
		return err
	}
	s.FailedPhase = failedAt
	s.FailureReason = reason
	return nil
}

func (s *State) closeCurrent(now time.Time) {
	if n := len(s.History); n > 0 && s.History[n-1].EndedAt == nil {
		s.History[n-1].EndedAt = &now
	}
}

// DurationByPhase sums the time spent in each phase since the latest
// re-entry of the workflow that produced the current phase.
func (s *State) DurationByPhase() map[Phase]time.Duration {
	out := make(map[Phase]time.Duration)
	for _, rec := range s.History[s.runStart():] {
		if rec.EndedAt == nil || rec.Phase.IsTerminal() {
			continue
		}
		out[rec.Phase] += rec.EndedAt.Sub(rec.StartedAt)
	}
	return out
}

// runStart is the index of the record that opened the current run.
func (s *State) runStart() int {
	for i := len(s.History) - 1; i > 0; i-- {
		prev := s.History[i-1].Phase
		if prev.IsTerminal() {
			return i
		}
	}
	return 0
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make([]PhaseRecord, len(s.History))
	for i, rec := range s.History {
		c.History[i] = rec
		if rec.EndedAt != nil {
			ended := *rec.EndedAt
			c.History[i].EndedAt = &ended
		}
	}
	return &c
}
