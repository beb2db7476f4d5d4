// Package retry provides bounded-retry execution with exponential backoff
// and jitter for calls to unreliable dependencies.
//
// Every component that talks to the remote device API routes its calls
// through a Policy. Delays grow exponentially per attempt, are capped,
// and are perturbed by a configurable jitter ratio so that many callers
// recovering at once do not retry in lockstep.
//
// The randomness source and sleep function are injectable, which lets
// tests assert exact backoff sequences without waiting on wall-clock time.
//
// Errors wrapped with Permanent are never retried; they surface on the
// first attempt. All other errors are treated as transient.
package retry
