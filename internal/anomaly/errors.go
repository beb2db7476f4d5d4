package anomaly

import "errors"

var (
	// ErrDeviceNotRegistered is returned when a device has no normal
	// power range on record.
	ErrDeviceNotRegistered = errors.New("anomaly: device not registered")

	// ErrInvalidDeviceID is returned for empty device IDs.
	ErrInvalidDeviceID = errors.New("anomaly: device id cannot be empty")

	// ErrInvalidRange is returned when a normal power range is negative
	// or inverted.
	ErrInvalidRange = errors.New("anomaly: invalid power range")

	// ErrNegativeReading is returned when a power sample is below zero.
	ErrNegativeReading = errors.New("anomaly: power reading cannot be negative")
)
