package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ward-core/internal/auth"
	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/override"
)

// CreateOverrideRequest is the body for override creation.
type CreateOverrideRequest struct {
	Type     override.Type  `json:"type"`
	DeviceID string         `json:"device_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"` // ignored when authentication is enabled
	Reason   string         `json:"reason"`
	Duration int            `json:"duration_seconds,omitempty"` // 0 = never expires
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EmergencyShutdownRequest is the body for an emergency shutdown.
// Listing device IDs scopes the shutdown to those devices; an empty
// list means system-wide.
type EmergencyShutdownRequest struct {
	Reason    string   `json:"reason"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// EmergencyShutdownResponse reports the shutdown outcome.
type EmergencyShutdownResponse struct {
	Overrides []override.Record `json:"overrides"`
	Devices   int               `json:"devices"`
	Queued    int               `json:"queued"`
	Failed    []string          `json:"failed,omitempty"`
}

// requesterID resolves the caller identity for override operations.
// With authentication enabled this comes from token claims; in
// development mode the request-supplied identity is trusted.
func (s *Server) requesterID(r *http.Request, fallback string) string {
	if claims := claimsFrom(r.Context()); claims != nil {
		return claims.RequesterID()
	}
	if fallback != "" {
		return fallback
	}
	return r.URL.Query().Get("user_id")
}

// handleListOverrides returns overrides, active by default. Passing
// ?history=true returns the full record set; device_id and user_id
// filter it.
func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("history") == "true" {
		records := s.overrides.History(r.URL.Query().Get("device_id"), r.URL.Query().Get("user_id"))
		writeJSON(w, http.StatusOK, map[string]any{"overrides": records, "count": len(records)})
		return
	}

	records := s.overrides.Active()
	writeJSON(w, http.StatusOK, map[string]any{"overrides": records, "count": len(records)})
}

// handleCreateOverride creates a new override.
func (s *Server) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req CreateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Duration < 0 {
		writeBadRequest(w, "duration_seconds cannot be negative")
		return
	}

	rec, err := s.overrides.Create(r.Context(), override.Request{
		Type:     req.Type,
		DeviceID: req.DeviceID,
		UserID:   s.requesterID(r, req.UserID),
		Reason:   req.Reason,
		Duration: time.Duration(req.Duration) * time.Second,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleGetOverride returns a single override by ID.
func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.overrides.Get(id)
	if err != nil {
		writeNotFound(w, "override not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleRevokeOverride revokes an override. Only the creator or an
// admin may revoke; revoking an already-revoked override is a no-op.
func (s *Server) handleRevokeOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.overrides.Revoke(r.Context(), id, s.requesterID(r, ""))
	if err != nil {
		switch {
		case errors.Is(err, override.ErrNotFound):
			writeNotFound(w, "override not found")
		case errors.Is(err, override.ErrPermissionDenied):
			writeForbidden(w, "only the creator or an admin may revoke this override")
		default:
			writeInternalError(w, "failed to revoke override")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleClearAllOverrides revokes every active override. Admin only.
func (s *Server) handleClearAllOverrides(w http.ResponseWriter, r *http.Request) {
	count, err := s.overrides.ClearAll(r.Context(), s.requesterID(r, ""))
	if err != nil {
		if errors.Is(err, override.ErrPermissionDenied) {
			writeForbidden(w, "only an admin may clear all overrides")
			return
		}
		writeInternalError(w, "failed to clear overrides")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

// handleOverrideStats returns registry statistics.
func (s *Server) handleOverrideStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.overrides.Stats())
}

// handleEmergencyShutdown records an emergency shutdown override, then
// issues a power-off command to the covered devices: every registered
// device for a system-wide shutdown, or only the listed ones when the
// request names device IDs. Admin only when authentication is enabled.
//
// Commands for unreachable devices queue in the gateway; the response
// distinguishes delivered, queued, and failed devices so the operator
// knows what actually went dark.
func (s *Server) handleEmergencyShutdown(w http.ResponseWriter, r *http.Request) {
	if claims := claimsFrom(r.Context()); claims != nil && claims.Role != auth.RoleAdmin {
		writeForbidden(w, "emergency shutdown requires admin role")
		return
	}

	var req EmergencyShutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		writeBadRequest(w, "reason is required")
		return
	}

	records, err := s.overrides.CreateEmergencyShutdown(r.Context(),
		s.requesterID(r, override.AdminUserID), req.Reason, req.DeviceIDs...)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	targets := req.DeviceIDs
	if len(targets) == 0 {
		for _, dev := range s.gateway.Devices() {
			targets = append(targets, dev.ID)
		}
	}

	resp := EmergencyShutdownResponse{Overrides: records}
	cmd := gateway.Command{
		Action: "power_off",
		Params: map[string]any{"reason": "emergency_shutdown"},
	}
	for _, deviceID := range targets {
		resp.Devices++
		result, err := s.gateway.SendCommand(r.Context(), deviceID, cmd)
		switch {
		case err != nil:
			s.logger.Error("emergency shutdown command failed", "device_id", deviceID, "error", err)
			resp.Failed = append(resp.Failed, deviceID)
		case result.Queued:
			resp.Queued++
		}
	}

	s.logger.Warn("emergency shutdown executed",
		"overrides", len(records),
		"devices", resp.Devices,
		"queued", resp.Queued,
		"failed", len(resp.Failed),
	)

	writeJSON(w, http.StatusOK, resp)
}
