// Package render turns a base environment template into the concrete,
// environment-scoped resource set of one branch environment.
//
// Rendering is a pure function: the base template is decoded, validated,
// and overlaid with kustomize entirely in memory. Nothing touches the
// cluster, so the output can be inspected with "branchenv render".
//
// Every base resource declares its purpose with the branchenv.io/role
// annotation. A base must contain at least one database, service and
// exposure resource; credentials resources are optional.
package render
