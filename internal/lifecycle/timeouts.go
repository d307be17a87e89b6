package lifecycle

import "time"

// Timeouts bounds every wait of a workflow.
type Timeouts struct {
	// PollInterval is the delay between two status checks.
	PollInterval time.Duration
	// Ready bounds the wait for database readiness.
	Ready time.Duration
	// Endpoint bounds the wait for an external address.
	Endpoint time.Duration
	// DeleteGrace is how long a deletion may take before recovery kicks in.
	DeleteGrace time.Duration
	// Delete bounds the whole decommission wait, recovery included.
	Delete time.Duration
}

// DefaultTimeouts returns the production budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		PollInterval: 15 * time.Second,
		Ready:        12 * time.Minute,
		Endpoint:     3 * time.Minute,
		DeleteGrace:  5 * time.Minute,
		Delete:       10 * time.Minute,
	}
}

// lockWait bounds how long a run waits for another replica's run of the
// same environment.
func (t Timeouts) lockWait() time.Duration {
	return t.Ready + t.Endpoint + t.Delete
}

// afterGrace is the part of the delete budget left for recovery.
func (t Timeouts) afterGrace() time.Duration {
	if rest := t.Delete - t.DeleteGrace; rest > 0 {
		return rest
	}
	return t.PollInterval
}
