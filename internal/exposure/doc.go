// Package exposure requests and tracks a stable externally routable
// address for a ready environment.
//
// A Provider talks to the backend that allocates addresses: KubeProvider
// uses a Service of type LoadBalancer, HCloudProvider a Hetzner Cloud load
// balancer in front of a NodePort Service. Manager adds bounded retries to
// requests and a bounded wait for address assignment. An address that is
// not assigned in time is an ExposureTimeoutError and is never retried,
// since every attempt may allocate another billable endpoint.
package exposure
