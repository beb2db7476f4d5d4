package anomaly

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteRepository persists anomaly records to SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new anomaly record repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a detection into the audit trail.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO anomaly_records (id, device_id, observed_at, range_min, range_max, actual_value, severity, reason, action_taken)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID,
		rec.ObservedAt.UTC().Format(time.RFC3339),
		rec.RangeMin, rec.RangeMax, rec.ActualValue,
		string(rec.Severity), rec.Reason, rec.ActionTaken,
	)
	if err != nil {
		return fmt.Errorf("inserting anomaly record: %w", err)
	}
	return nil
}

// ListByDevice returns a device's detections, newest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, observed_at, range_min, range_max, actual_value, severity, reason, action_taken
		 FROM anomaly_records
		 WHERE device_id = ?
		 ORDER BY observed_at DESC
		 LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying anomaly records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var observedAt, severity string
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &observedAt,
			&rec.RangeMin, &rec.RangeMax, &rec.ActualValue,
			&severity, &rec.Reason, &rec.ActionTaken); err != nil {
			return nil, fmt.Errorf("scanning anomaly record: %w", err)
		}
		rec.Severity = Severity(severity)
		rec.ObservedAt, err = time.Parse(time.RFC3339, observedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing observed_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating anomaly records: %w", err)
	}

	return records, nil
}
