// Package lifecycle drives branch environments through their provision and
// decommission workflows.
//
// One run exists per environment at a time. Runs for different
// environments share nothing but the external backends and proceed in
// parallel. A Delete event supersedes an in-flight create run: the run
// stops forward progress at the next phase boundary and continues with the
// decommission workflow instead.
//
// Phases of the provision workflow:
//
//	Pending → Reconciling → WaitingReady → Exposing → WaitingEndpoint → Migrating → Ready
//
// and of the decommission workflow:
//
//	Deleting → WaitingGone → Deleted
//
// Any non-retryable failure moves the environment to Failed and stops.
package lifecycle
