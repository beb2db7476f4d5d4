package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// System metrics (no auth required for basic monitoring)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Device endpoints
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handleRegisterDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Delete("/", s.handleRemoveDevice)
					r.Post("/commands", s.handleSendCommand)
					r.Get("/status", s.handleDeviceStatus)
					r.Post("/power-samples", s.handlePowerSample)
					r.Get("/anomalies", s.handleDeviceAnomalies)
					r.Get("/monitoring", s.handleDeviceMonitoring)
					r.Post("/enable", s.handleEnableDevice)
				})
			})

			// Gateway introspection and recovery
			r.Route("/gateway", func(r chi.Router) {
				r.Get("/queue", s.handleQueueStatus)
				r.Get("/cache", s.handleCacheStatus)
				r.Get("/status", s.handleAPIStatus)
				r.Post("/reachability-restored", s.handleReachabilityRestored)
			})

			// Anomaly monitoring
			r.Get("/anomalies/statuses", s.handleMonitorStatuses)

			// Override endpoints
			r.Route("/overrides", func(r chi.Router) {
				r.Get("/", s.handleListOverrides)
				r.Post("/", s.handleCreateOverride)
				r.Get("/stats", s.handleOverrideStats)
				r.Post("/emergency-shutdown", s.handleEmergencyShutdown)
				r.Post("/clear-all", s.handleClearAllOverrides)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetOverride)
					r.Delete("/", s.handleRevokeOverride)
				})
			})

			// Failure records and feature flags
			r.Route("/failures", func(r chi.Router) {
				r.Get("/", s.handleListFailures)
			})
			r.Route("/features", func(r chi.Router) {
				r.Get("/", s.handleListFeatures)
				r.Post("/{key}/enable", s.handleEnableFeature)
			})

			// Maintenance (admin only, destructive)
			r.Post("/system/factory-reset", s.handleFactoryReset)

			// WebSocket (auth via token query parameter, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
