// Package history persists every change notification to SQLite and serves
// recent history for the read API.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homely-sync/internal/notify"
	"github.com/nerrad567/homely-sync/internal/snapshot"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// recordTimeout bounds one insert on the dispatcher goroutine.
	recordTimeout = 5 * time.Second

	// timeLayout is fixed width so stored times sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrInvalidQuery is returned for queries without a location.
var ErrInvalidQuery = errors.New("history: invalid query")

// Entry is one stored change.
type Entry struct {
	ID         int64           `json:"id"`
	LocationID string          `json:"location_id"`
	Seq        uint64          `json:"seq"`
	DeviceID   string          `json:"device_id,omitempty"`
	Capability string          `json:"capability"`
	Old        any             `json:"old"`
	New        any             `json:"new"`
	Reason     string          `json:"reason,omitempty"`
	Source     snapshot.Source `json:"source"`
	ObservedAt time.Time       `json:"observed_at,omitzero"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Query selects history entries. Empty DeviceID and Capability match all.
type Query struct {
	LocationID string
	DeviceID   string
	Capability string
	Since      time.Time
	Limit      int // default 50, max 500
}

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Repository stores changes in the change_history table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repository on an open, migrated connection.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts one batch of changes in a single transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - changes: Changes as published by the snapshot store
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Record(ctx context.Context, changes []snapshot.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting history transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO change_history
			(location_id, seq, device_id, capability, old_value, new_value, reason, source, observed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		oldJSON, err := encodeValue(c.Old)
		if err != nil {
			return err
		}
		newJSON, err := encodeValue(c.New)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			c.Key.LocationID,
			int64(c.Seq), //nolint:gosec // sequence numbers stay far below MaxInt64
			c.Key.DeviceID,
			c.Key.Capability,
			oldJSON,
			newJSON,
			c.Reason,
			string(c.Source),
			formatTime(c.Timestamp),
			c.At.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("inserting history row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	return nil
}

// Query returns matching entries ordered newest first.
func (r *Repository) Query(ctx context.Context, q Query) ([]Entry, error) {
	if q.LocationID == "" {
		return nil, fmt.Errorf("%w: location id is required", ErrInvalidQuery)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, location_id, seq, device_id, capability, old_value, new_value,
			reason, source, observed_at, recorded_at
		FROM change_history
		WHERE location_id = ?`
	args := []any{q.LocationID}
	if q.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, q.DeviceID)
	}
	if q.Capability != "" {
		query += " AND capability = ?"
		args = append(args, q.Capability)
	}
	if !q.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, q.Since.UTC().Format(timeLayout))
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                  Entry
			seq                int64
			oldJSON, newJSON   sql.NullString
			observed, recorded sql.NullString
			source             string
		)
		if err := rows.Scan(&e.ID, &e.LocationID, &seq, &e.DeviceID, &e.Capability,
			&oldJSON, &newJSON, &e.Reason, &source, &observed, &recorded); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		e.Seq = uint64(seq) //nolint:gosec // stored from a uint64
		e.Source = snapshot.Source(source)
		if e.Old, err = decodeValue(oldJSON); err != nil {
			return nil, err
		}
		if e.New, err = decodeValue(newJSON); err != nil {
			return nil, err
		}
		e.ObservedAt = parseTime(observed)
		e.RecordedAt = parseTime(recorded)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before now-olderThan.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM change_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Handler returns a notifier handler that records each change. Failures are
// logged and the change is lost; history is best effort.
func (r *Repository) Handler(logger Logger) notify.Handler {
	return func(c snapshot.Change) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.Record(ctx, []snapshot.Change{c}); err != nil && logger != nil {
			logger.Warn("recording change history failed", "key", c.Key.String(), "location_id", c.Key.LocationID, "error", err)
		}
	}
}

func encodeValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding history value: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeValue(s sql.NullString) (any, error) {
	if !s.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("decoding history value: %w", err)
	}
	return v, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
