package failure

import (
	"context"
	"time"
)

// Operation produces a result or an error. Used by ExecuteWithFallback
// for both the primary and fallback paths.
type Operation func(ctx context.Context) (any, error)

// featureState tracks the health of one optional feature.
type featureState struct {
	enabled    bool
	disabledAt time.Time
	lastError  string
}

// FeatureStatus is the externally visible state of a feature flag.
type FeatureStatus struct {
	Key        string    `json:"key"`
	Enabled    bool      `json:"enabled"`
	DisabledAt time.Time `json:"disabled_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// ExecuteWithFallback runs primary unless the feature identified by key
// is disabled, in which case fallback serves directly.
//
// A primary failure disables the feature for the recovery window,
// records the failure, and degrades to fallback. A successful fallback
// result is cached; if fallback itself later fails the cached value is
// served as a last resort. Once the recovery window elapses the primary
// path is tried again automatically.
func (r *Reporter) ExecuteWithFallback(ctx context.Context, key string, category Category, src Source, primary, fallback Operation) (any, error) {
	if r.featureEnabled(key) {
		result, err := primary(ctx)
		if err == nil {
			return result, nil
		}
		r.disableFeature(key, err)
		r.HandleError(category, SeverityMedium, src, err)
	}

	result, err := fallback(ctx)
	if err == nil {
		r.mu.Lock()
		r.cached[key] = result
		r.mu.Unlock()
		return result, nil
	}

	r.HandleError(category, SeverityHigh, src, err)

	r.mu.Lock()
	cached, ok := r.cached[key]
	r.mu.Unlock()
	if ok {
		r.logger.Warn("serving cached fallback result", "feature", key)
		return cached, nil
	}
	return nil, ErrNoFallbackResult
}

// featureEnabled reports whether the primary path should run, flipping
// the flag back on when the recovery window has elapsed.
func (r *Reporter) featureEnabled(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.features[key]
	if !ok {
		// Unknown features start enabled.
		return true
	}
	if st.enabled {
		return true
	}
	if r.now().Sub(st.disabledAt) >= r.recovery {
		st.enabled = true
		return true
	}
	return false
}

func (r *Reporter) disableFeature(key string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.features[key]
	if !ok {
		st = &featureState{}
		r.features[key] = st
	}
	st.enabled = false
	st.disabledAt = r.now()
	st.lastError = cause.Error()
}

// EnableFeature re-enables a feature ahead of its recovery window.
// Returns ErrFeatureUnknown for keys that have never executed.
func (r *Reporter) EnableFeature(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.features[key]
	if !ok {
		return ErrFeatureUnknown
	}
	st.enabled = true
	st.lastError = ""
	return nil
}

// FeatureStatuses returns the state of every feature flag the reporter
// has seen.
func (r *Reporter) FeatureStatuses() []FeatureStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FeatureStatus, 0, len(r.features))
	for key, st := range r.features {
		enabled := st.enabled
		if !enabled && r.now().Sub(st.disabledAt) >= r.recovery {
			enabled = true
		}
		fs := FeatureStatus{Key: key, Enabled: enabled, LastError: st.lastError}
		if !st.enabled {
			fs.DisabledAt = st.disabledAt
		}
		out = append(out, fs)
	}
	return out
}
