// Package async provides utilities for parallel task execution with
// error collection.
//
// [RunParallel] executes independent operations concurrently, optionally
// bounded, and reports every failure. It is used to drive many
// environments at once, where one environment's failure must not stop
// the others.
package async
