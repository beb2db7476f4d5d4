package api

import (
	"net/http"
)

// handleQueueStatus returns a snapshot of the offline command queue.
func (s *Server) handleQueueStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.QueueStatus())
}

// handleCacheStatus returns a snapshot of the last-known-state cache.
func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.CacheStatus())
}

// handleAPIStatus returns remote API health as the gateway sees it.
func (s *Server) handleAPIStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.APIStatus())
}

// handleReachabilityRestored marks the remote API reachable and replays
// the offline queue. Normally triggered automatically by the MQTT
// reconnect callback; exposed for manual recovery.
func (s *Server) handleReachabilityRestored(w http.ResponseWriter, r *http.Request) {
	delivered := s.gateway.OnReachabilityRestored(r.Context())

	status := s.gateway.QueueStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": delivered,
		"remaining": status.Length,
	})
}
