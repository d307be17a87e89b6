// Package benchmarks provides timing estimates for environment lifecycle phases.
package benchmarks

import (
	"time"

	"github.com/imamik/branchenv/internal/environment"
)

// DefaultTimings are typical phase durations observed against a small cluster.
var DefaultTimings = map[environment.Phase]time.Duration{
	environment.PhasePending:         time.Second,
	environment.PhaseReconciling:     5 * time.Second,
	environment.PhaseWaitingReady:    90 * time.Second,
	environment.PhaseExposing:        5 * time.Second,
	environment.PhaseWaitingEndpoint: 45 * time.Second,
	environment.PhaseMigrating:       30 * time.Second,
	environment.PhaseDeleting:        5 * time.Second,
	environment.PhaseWaitingGone:     60 * time.Second,
}

// Order returns the phase chain the given phase belongs to, without its
// terminal phase. Unknown and terminal phases return nil.
func Order(phase environment.Phase) []environment.Phase {
	for _, chain := range [][]environment.Phase{environment.ProvisionPhases, environment.DecommissionPhases} {
		for _, p := range chain[:len(chain)-1] {
			if p == phase {
				return chain[:len(chain)-1]
			}
		}
	}
	return nil
}

// EstimateRemaining calculates the time left in the current workflow based on
// the current phase, time spent in it and the durations of completed phases.
func EstimateRemaining(current environment.Phase, elapsed time.Duration, completed map[environment.Phase]time.Duration) time.Duration {
	return EstimateRemainingWithScale(current, elapsed, completed, PerformanceScale(current, elapsed, completed))
}

// EstimateRemainingWithScale calculates the ETA while applying a performance scale factor.
func EstimateRemainingWithScale(
	current environment.Phase,
	elapsed time.Duration,
	completed map[environment.Phase]time.Duration,
	scale float64,
) time.Duration {
	order := Order(current)
	idx := -1
	for i, p := range order {
		if p == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0
	}

	var remaining time.Duration
	if expected, ok := DefaultTimings[current]; ok {
		expected = time.Duration(float64(expected) * scale)
		if expected > elapsed {
			remaining += expected - elapsed
		}
	}

	for _, p := range order[idx+1:] {
		if _, done := completed[p]; done {
			continue
		}
		if expected, ok := DefaultTimings[p]; ok {
			remaining += time.Duration(float64(expected) * scale)
		}
	}
	return remaining
}

// PerformanceScale derives a speed multiplier from observed-vs-expected durations.
// Example: expected 90s, observed 135s => scale=1.5.
func PerformanceScale(current environment.Phase, elapsed time.Duration, completed map[environment.Phase]time.Duration) float64 {
	var expectedTotal, actualTotal time.Duration

	for phase, actual := range completed {
		expected, ok := DefaultTimings[phase]
		if !ok {
			continue
		}
		expectedTotal += expected
		actualTotal += actual
	}

	// An overrunning current phase is folded in right away so the ETA adapts quickly.
	if expected, ok := DefaultTimings[current]; ok && elapsed > expected {
		expectedTotal += expected
		actualTotal += elapsed
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}

	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.25 {
		return 0.25
	}
	if scale > 3.0 {
		return 3.0
	}
	return scale
}

// TotalEstimate returns the total estimated duration of a workflow chain.
func TotalEstimate(chain []environment.Phase) time.Duration {
	var total time.Duration
	for _, p := range chain {
		total += DefaultTimings[p]
	}
	return total
}
