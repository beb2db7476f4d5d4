package gateway

import "errors"

// Domain-specific errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when a device ID is not registered.
	ErrDeviceNotFound = errors.New("gateway: device not found")

	// ErrInvalidDeviceID is returned for empty or malformed device IDs.
	ErrInvalidDeviceID = errors.New("gateway: device id cannot be empty")

	// ErrInvalidDeviceType is returned when a device is registered
	// without a type.
	ErrInvalidDeviceType = errors.New("gateway: device type cannot be empty")

	// ErrInvalidRange is returned when a normal power range is negative
	// or inverted.
	ErrInvalidRange = errors.New("gateway: invalid power range")

	// ErrInvalidCommand is returned when a command has no action.
	ErrInvalidCommand = errors.New("gateway: command action cannot be empty")

	// ErrQueueFull is returned when the offline command queue is at
	// capacity. The command is NOT queued; the caller must decide
	// whether to drop or retry later.
	ErrQueueFull = errors.New("gateway: command queue full")

	// ErrStateUnavailable is returned when a device is registered but
	// has never reported state and a live read is not possible.
	ErrStateUnavailable = errors.New("gateway: no state available for device")
)
