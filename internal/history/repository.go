package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrDeviceRequired is returned when an entry or query has no device ID.
var ErrDeviceRequired = errors.New("history: device id is required")

// Entry is one recorded property value.
type Entry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Property  string    `json:"property"`
	Value     any       `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Query selects history rows for a device. Property narrows the result to
// one property; Limit defaults to 50 and is capped at 200.
type Query struct {
	DeviceID string
	Property string
	Limit    int
}

// Repository stores and retrieves reading history.
type Repository interface {
	Record(ctx context.Context, e Entry) error
	History(ctx context.Context, q Query) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the reading_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts an entry. A zero CreatedAt means now.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.DeviceID == "" {
		return ErrDeviceRequired
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	value, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO reading_history (device_id, property, value, unit, created_at) VALUES (?, ?, ?, ?, ?)",
		e.DeviceID, e.Property, string(value), e.Unit, e.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting reading history: %w", err)
	}
	return nil
}

// History returns entries for the device, newest first.
func (r *SQLiteRepository) History(ctx context.Context, q Query) ([]Entry, error) {
	if q.DeviceID == "" {
		return nil, ErrDeviceRequired
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, device_id, property, value, unit, created_at
		FROM reading_history
		WHERE device_id = ?`
	args := []any{q.DeviceID}
	if q.Property != "" {
		query += " AND property = ?"
		args = append(args, q.Property)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reading history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var value string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Property, &value, &e.Unit, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reading history: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reading history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: prune age must be positive")
	}

	cutoff := time.Now().Add(-olderThan).UTC().UnixNano()
	result, err := r.db.ExecContext(ctx, "DELETE FROM reading_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting reading history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
