package remote

import "errors"

var (
	// ErrTimeout is returned when a device does not reply within the
	// configured window. Transient: the gateway retries it.
	ErrTimeout = errors.New("remote: device response timed out")

	// ErrRejected wraps an explicit error reply from a device.
	ErrRejected = errors.New("remote: device rejected request")

	// ErrMalformedResponse is returned for replies that cannot be
	// decoded.
	ErrMalformedResponse = errors.New("remote: malformed device response")
)
