// Package environment defines the domain model shared by every stage of
// the branch environment lifecycle: branch events, lifecycle phases, the
// mutable per-environment state, the rendered resource set, terminal
// reports and the error taxonomy used to decide between retrying, failing
// and reporting a timeout.
package environment
