package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ward-core/internal/failure"
)

// handleListFailures returns recorded failures, newest first.
func (s *Server) handleListFailures(w http.ResponseWriter, _ *http.Request) {
	records := s.failures.Records()
	writeJSON(w, http.StatusOK, map[string]any{"failures": records, "count": len(records)})
}

// handleListFeatures returns the state of every tracked feature flag.
func (s *Server) handleListFeatures(w http.ResponseWriter, _ *http.Request) {
	features := s.failures.FeatureStatuses()
	writeJSON(w, http.StatusOK, map[string]any{"features": features, "count": len(features)})
}

// handleEnableFeature re-enables a feature disabled after primary-path
// failures, without waiting for the recovery window.
func (s *Server) handleEnableFeature(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.failures.EnableFeature(key); err != nil {
		if errors.Is(err, failure.ErrFeatureUnknown) {
			writeNotFound(w, "unknown feature")
			return
		}
		writeInternalError(w, "failed to enable feature")
		return
	}

	s.logger.Info("feature re-enabled", "feature", key)
	w.WriteHeader(http.StatusNoContent)
}
