package override

import "errors"

var (
	// ErrInvalidType is returned for unrecognised override types.
	ErrInvalidType = errors.New("override: unrecognised override type")

	// ErrInvalidUser is returned when a request has no user ID.
	ErrInvalidUser = errors.New("override: user id cannot be empty")

	// ErrInvalidDevice is returned when a device-scoped request names an
	// empty device ID.
	ErrInvalidDevice = errors.New("override: device id cannot be empty")

	// ErrInvalidReason is returned when a request has no reason.
	ErrInvalidReason = errors.New("override: reason cannot be empty")

	// ErrInvalidDuration is returned for negative durations.
	ErrInvalidDuration = errors.New("override: duration cannot be negative")

	// ErrPermissionDenied is returned when a user who is neither the
	// creator nor an admin attempts to revoke an override.
	ErrPermissionDenied = errors.New("override: permission denied")

	// ErrNotFound is returned when an override ID does not exist.
	ErrNotFound = errors.New("override: not found")
)
