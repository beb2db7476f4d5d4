package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ward-core/internal/anomaly"
)

// PowerSampleRequest is the body for power sample ingestion.
type PowerSampleRequest struct {
	Watts float64 `json:"watts"`
}

// handlePowerSample runs one power reading through the anomaly monitor.
//
// An active anomaly_ignore override for the device (or system-wide)
// suppresses the check entirely — no strike, no protective shutdown.
func (s *Server) handlePowerSample(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PowerSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if s.overrides.IsAnomalyDetectionIgnored(id) {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_id": id,
			"value":     req.Watts,
			"checked":   false,
			"reason":    "anomaly detection ignored by active override",
		})
		return
	}

	result, err := s.monitor.Check(r.Context(), id, req.Watts)
	if err != nil {
		switch {
		case errors.Is(err, anomaly.ErrDeviceNotRegistered):
			writeNotFound(w, "device not monitored")
		case errors.Is(err, anomaly.ErrNegativeReading), errors.Is(err, anomaly.ErrInvalidDeviceID):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "anomaly check failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeviceAnomalies returns a device's detection history, newest first.
func (s *Server) handleDeviceAnomalies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.monitor.Status(id); err != nil {
		writeNotFound(w, "device not monitored")
		return
	}

	records := s.monitor.History(id)
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": records, "count": len(records)})
}

// handleDeviceMonitoring returns the monitoring state for one device.
func (s *Server) handleDeviceMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := s.monitor.Status(id)
	if err != nil {
		writeNotFound(w, "device not monitored")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleEnableDevice re-enables a device disabled by repeated anomalies.
// The strike count resets; detection history is kept.
func (s *Server) handleEnableDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.monitor.EnableDevice(id); err != nil {
		writeNotFound(w, "device not monitored")
		return
	}

	s.logger.Info("device re-enabled", "device_id", id)

	status, err := s.monitor.Status(id)
	if err != nil {
		writeInternalError(w, "failed to read monitoring status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMonitorStatuses returns the monitoring state for every watched device.
func (s *Server) handleMonitorStatuses(w http.ResponseWriter, _ *http.Request) {
	statuses := s.monitor.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{"devices": statuses, "count": len(statuses)})
}
