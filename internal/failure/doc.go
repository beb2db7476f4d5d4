// Package failure centralises error handling for operations against
// unreliable dependencies.
//
// The Reporter categorises errors, keeps a capped in-memory record of
// recent failures for diagnostics, and forwards severe errors to a
// Notifier with per-source throttling so a flapping device cannot flood
// the notification channel.
//
// Two execution helpers wrap the retry policy:
//
//   - ExecuteWithErrorHandling runs an operation with retries and
//     records the classified failure when the attempt budget is spent.
//   - ExecuteWithFallback guards an optional feature behind a flag;
//     when the primary path fails the feature is disabled for a
//     recovery window and the fallback path serves instead, with the
//     last good fallback result cached as a final safety net.
package failure
