package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/override"
)

// RegisterDeviceRequest is the body for device registration.
type RegisterDeviceRequest struct {
	ID    string             `json:"id"`
	Type  string             `json:"type"`
	Range gateway.PowerRange `json:"normal_power_range"`
}

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.gateway.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleRegisterDevice registers a device with the gateway and starts
// anomaly monitoring against its normal power range.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	dev, err := s.gateway.RegisterDevice(req.ID, req.Type, req.Range)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.monitor.RegisterDevice(dev.ID, dev.Range); err != nil {
		s.logger.Error("failed to register device with anomaly monitor", "device_id", dev.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, dev)
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.gateway.Device(id)
	if err != nil {
		if errors.Is(err, gateway.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleRemoveDevice removes a device from the gateway and stops
// monitoring it.
func (s *Server) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.gateway.RemoveDevice(id); err != nil {
		if errors.Is(err, gateway.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	s.monitor.UnregisterDevice(id)

	w.WriteHeader(http.StatusNoContent)
}

// handleSendCommand sends a command to a device through the gateway.
//
// Commands for devices under a manual control override are refused;
// operators holding the device expect automation to stay out of the way.
// Commands issued while the remote API is unreachable are queued and
// reported with 202 Accepted.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd gateway.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if rec := s.overrides.ActiveFor(override.TypeDeviceControl, id); rec != nil {
		writeError(w, http.StatusConflict, ErrCodeConflict,
			"device is under manual control override "+rec.ID)
		return
	}

	result, err := s.gateway.SendCommand(r.Context(), id, cmd)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, gateway.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, ErrCodeConflict, "command queue full")
		case errors.Is(err, gateway.ErrInvalidCommand), errors.Is(err, gateway.ErrInvalidDeviceID):
			writeBadRequest(w, err.Error())
		default:
			writeError(w, http.StatusBadGateway, ErrCodeInternal, "command delivery failed: "+err.Error())
		}
		return
	}

	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// handleDeviceStatus returns device state, live when possible and cached
// (marked stale) when the remote API is unreachable.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := s.gateway.GetDeviceStatus(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, gateway.ErrStateUnavailable):
			writeError(w, http.StatusServiceUnavailable, ErrCodeNotFound, "no state available for device")
		default:
			writeBadRequest(w, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, state)
}
