// Package cluster converges the external cluster with a rendered
// environment spec.
//
// API is the narrow capability interface the orchestrator depends on. KubeAPI
// implements it with client-go; FakeAPI is an in-memory implementation used
// in tests and dry runs. Reconciler wraps any API with a per-call timeout and
// bounded exponential backoff for transient failures.
package cluster
