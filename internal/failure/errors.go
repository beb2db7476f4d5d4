package failure

import "errors"

var (
	// ErrNoFallbackResult indicates both the primary and fallback paths
	// failed and no cached fallback result exists to serve.
	ErrNoFallbackResult = errors.New("failure: no fallback result available")

	// ErrFeatureUnknown indicates an operation referenced a feature key
	// that has never been executed or registered.
	ErrFeatureUnknown = errors.New("failure: unknown feature")
)
