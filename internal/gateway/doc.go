// Package gateway manages the device registry and command delivery to
// the remote device API.
//
// The gateway assumes the remote API is unreliable. Commands flow
// through the retry policy; when the attempt budget is spent the
// gateway flips into unreachable mode, queues subsequent commands in a
// capped FIFO, and serves device status from the last observed state.
// When an operator signals that connectivity is back the queue replays
// in order, halting per device on the first failure so later commands
// cannot overtake an earlier one.
//
// In-memory state is authoritative. Callers receive deep copies; the
// gateway's internal maps are never exposed directly.
package gateway
