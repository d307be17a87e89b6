package environment

// EventKind is the kind of a branch lifecycle event.
type EventKind string

const (
	EventCreated EventKind = "Created"
	EventUpdated EventKind = "Updated"
	EventDeleted EventKind = "Deleted"
)

// IsValid returns true for a known event kind.
func (k EventKind) IsValid() bool {
	switch k {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	default:
		return false
	}
}

// BranchRef identifies a source branch and what happened to it.
type BranchRef struct {
	Name  string    `json:"name"`
	Event EventKind `json:"event"`
}

// Phase is the lifecycle phase of an environment.
type Phase string

const (
	PhasePending         Phase = "Pending"
	PhaseReconciling     Phase = "Reconciling"
	PhaseWaitingReady    Phase = "WaitingReady"
	PhaseExposing        Phase = "Exposing"
	PhaseWaitingEndpoint Phase = "WaitingEndpoint"
	PhaseMigrating       Phase = "Migrating"
	PhaseReady           Phase = "Ready"
	PhaseFailed          Phase = "Failed"
	PhaseDeleting        Phase = "Deleting"
	PhaseWaitingGone     Phase = "WaitingGone"
	PhaseDeleted         Phase = "Deleted"
)

// ProvisionPhases is the forward chain of the Provision workflow.
var ProvisionPhases = []Phase{
	PhasePending,
	PhaseReconciling,
	PhaseWaitingReady,
	PhaseExposing,
	PhaseWaitingEndpoint,
	PhaseMigrating,
	PhaseReady,
}

// DecommissionPhases is the forward chain of the Decommission workflow.
var DecommissionPhases = []Phase{
	PhaseDeleting,
	PhaseWaitingGone,
	PhaseDeleted,
}

// IsTerminal returns true for phases that end a workflow run.
func (p Phase) IsTerminal() bool {
	return p == PhaseReady || p == PhaseFailed || p == PhaseDeleted
}

// IsCreateSide returns true for the non-terminal phases of the Provision workflow.
func (p Phase) IsCreateSide() bool {
	switch p {
	case PhasePending, PhaseReconciling, PhaseWaitingReady, PhaseExposing, PhaseWaitingEndpoint, PhaseMigrating:
		return true
	default:
		return false
	}
}

// IsDeleteSide returns true for the non-terminal phases of the Decommission workflow.
func (p Phase) IsDeleteSide() bool {
	return p == PhaseDeleting || p == PhaseWaitingGone
}

// CanTransition reports whether the state machine allows moving from p to next.
func (p Phase) CanTransition(next Phase) bool {
	if successor, ok := forwardSuccessor(p); ok && successor == next {
		return true
	}

	switch {
	case p.IsCreateSide():
		return next == PhaseFailed || next == PhaseDeleting
	case p.IsDeleteSide():
		return next == PhaseFailed
	case p == PhaseReady:
		return next == PhaseDeleting || next == PhasePending
	case p == PhaseFailed:
		return next == PhaseDeleting || next == PhasePending
	case p == PhaseDeleted:
		return next == PhasePending || next == PhaseDeleting
	}
	return false
}

func forwardSuccessor(p Phase) (Phase, bool) {
	for _, chain := range [][]Phase{ProvisionPhases, DecommissionPhases} {
		for i := 0; i < len(chain)-1; i++ {
			if chain[i] == p {
				return chain[i+1], true
			}
		}
	}
	return "", false
}
