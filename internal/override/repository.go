package override

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteRepository persists override records to SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new override record repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new override record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	var metadataJSON *string
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling override metadata: %w", err)
		}
		s := string(b)
		metadataJSON = &s
	}

	var expiresAt *string
	if rec.ExpiresAt != nil {
		s := rec.ExpiresAt.UTC().Format(time.RFC3339)
		expiresAt = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO override_records (id, type, device_id, user_id, reason, status, metadata, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Type), nullableString(rec.DeviceID),
		rec.UserID, rec.Reason, string(rec.Status),
		metadataJSON,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting override record: %w", err)
	}
	return nil
}

// UpdateStatus changes an override's lifecycle state.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE override_records SET status = ? WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("updating override status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns all override records in creation order, oldest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, device_id, user_id, reason, status, metadata, created_at, expires_at
		 FROM override_records
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying override records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating override records: %w", err)
	}

	return records, nil
}

// scanRecord maps one row to a Record.
func scanRecord(rows *sql.Rows) (*Record, error) {
	var rec Record
	var recType, status, createdAt string
	var deviceID, metadataJSON, expiresAt sql.NullString

	if err := rows.Scan(&rec.ID, &recType, &deviceID, &rec.UserID, &rec.Reason,
		&status, &metadataJSON, &createdAt, &expiresAt); err != nil {
		return nil, fmt.Errorf("scanning override record: %w", err)
	}

	rec.Type = Type(recType)
	rec.Status = Status(status)
	if deviceID.Valid {
		rec.DeviceID = deviceID.String
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshalling override metadata: %w", err)
		}
	}

	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.CreatedAt = created

	if expiresAt.Valid {
		expires, err := time.Parse(time.RFC3339, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing expires_at: %w", err)
		}
		rec.ExpiresAt = &expires
	}

	return &rec, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
