// Package retry provides exponential backoff retry logic for transient failures.
//
// The [Do] function retries an operation with configurable max attempts,
// initial delay, maximum delay and an optional per-attempt timeout. A
// retry predicate decides which errors are worth another attempt; errors
// wrapped with [Fatal] are never retried. It is used for cluster API,
// exposure provider and migration tool calls.
package retry
