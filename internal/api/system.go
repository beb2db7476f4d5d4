package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/ward-core/internal/auth"
)

// FactoryResetRequest defines the options for a factory reset.
type FactoryResetRequest struct {
	ClearOverrides bool   `json:"clear_overrides"`
	ClearAnomalies bool   `json:"clear_anomalies"`
	Confirm        string `json:"confirm"`
}

// FactoryResetResponse reports what was deleted.
type FactoryResetResponse struct {
	Status  string         `json:"status"`
	Deleted map[string]int `json:"deleted"`
}

// handleFactoryReset clears selected data from the database in a single
// transaction, then refreshes the in-memory override registry.
//
// This is a destructive operation — the request must include an exact
// confirmation string as a safety guard, and requires the admin role
// when authentication is enabled.
func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	if claims := claimsFrom(r.Context()); claims != nil && claims.Role != auth.RoleAdmin {
		writeForbidden(w, "factory reset requires admin role")
		return
	}
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "database not configured")
		return
	}

	var req FactoryResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	// Safety guard: require exact confirmation string.
	if req.Confirm != "FACTORY RESET" {
		writeBadRequest(w, `confirm field must be exactly "FACTORY RESET"`)
		return
	}

	// Must select at least one category.
	if !req.ClearOverrides && !req.ClearAnomalies {
		writeBadRequest(w, "at least one clear_* option must be true")
		return
	}

	ctx := r.Context()
	deleted := make(map[string]int)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("factory reset: failed to begin transaction", "error", err)
		writeInternalError(w, "failed to begin transaction")
		return
	}
	defer tx.Rollback() //nolint:errcheck // rollback is a no-op after commit

	// Helper to execute a DELETE and record the count.
	deleteFrom := func(table string) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM "+table)
		if err != nil {
			return err
		}
		n, _ := result.RowsAffected() //nolint:errcheck // SQLite always reports affected rows
		deleted[table] = int(n)
		return nil
	}

	if req.ClearOverrides {
		if err := deleteFrom("override_records"); err != nil {
			s.logger.Error("factory reset: failed to clear override_records", "error", err)
			writeInternalError(w, "failed to clear overrides")
			return
		}
	}

	if req.ClearAnomalies {
		if err := deleteFrom("anomaly_records"); err != nil {
			s.logger.Error("factory reset: failed to clear anomaly_records", "error", err)
			writeInternalError(w, "failed to clear anomaly records")
			return
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("factory reset: failed to commit transaction", "error", err)
		writeInternalError(w, "failed to commit factory reset")
		return
	}

	s.logger.Info("factory reset committed", "deleted", deleted)

	// Refresh the in-memory override registry after the DB wipe.
	if req.ClearOverrides {
		if err := s.overrides.Load(ctx); err != nil {
			s.logger.Warn("factory reset: failed to reload override registry", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, FactoryResetResponse{
		Status:  "ok",
		Deleted: deleted,
	})
}
