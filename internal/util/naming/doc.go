// Package naming derives environment identifiers and the names of the
// resources owned by an environment.
//
// An environment identifier is a pure function of the branch name: the
// Create and Delete workflows run from independent triggers and must both
// arrive at the same identifier without sharing any stored state. Names
// longer than the platform limit are truncated and suffixed with a short
// content hash of the raw branch name, so two long branches that share a
// prefix still map to different environments.
package naming
