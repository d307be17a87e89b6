// Package config loads the branchenv configuration.
//
// Structural settings live in a YAML file (branchenv.yaml, found in the
// working directory or one of its parents). Timeouts, retry parameters and
// secrets come from environment variables so the same file works across CI
// runners and the long-running webhook server.
package config
