package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// AttendanceRepository provides PostgreSQL-backed attendance storage.
// The table is append-only; rows are never updated or deleted.
type AttendanceRepository struct {
	pool   *Pool
	window time.Duration
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
// A positive window makes Append refuse entries for students who already
// have one inside it, backstopping the in-process guard when several
// server processes share the database.
func NewAttendanceRepository(pool *Pool, window time.Duration) *AttendanceRepository {
	return &AttendanceRepository{pool: pool, window: window}
}

// MostRecent returns the latest entry for a student.
func (r *AttendanceRepository) MostRecent(ctx context.Context, studentID string) (*database.AttendanceEntry, error) {
	query := `
		SELECT id, student_id, ts, method, confidence, override
		FROM attendance
		WHERE student_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`

	var e database.AttendanceEntry
	var method string

	err := r.pool.QueryRow(ctx, query, studentID).Scan(
		&e.ID,
		&e.StudentID,
		&e.Timestamp,
		&method,
		&e.Confidence,
		&e.Override,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent entry: %w", err)
	}

	e.Method = database.Method(method)
	return &e, nil
}

// ListSince returns all entries at or after the given time, oldest first.
func (r *AttendanceRepository) ListSince(ctx context.Context, since time.Time) ([]database.AttendanceEntry, error) {
	query := `
		SELECT id, student_id, ts, method, confidence, override
		FROM attendance
		WHERE ts >= $1
		ORDER BY ts
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query attendance entries: %w", err)
	}
	defer rows.Close()

	var entries []database.AttendanceEntry
	for rows.Next() {
		var e database.AttendanceEntry
		var method string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Timestamp, &method, &e.Confidence, &e.Override); err != nil {
			return nil, fmt.Errorf("scan attendance entry: %w", err)
		}
		e.Method = database.Method(method)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance entries: %w", err)
	}
	return entries, nil
}

// Append stores a new attendance entry. With a window configured the insert
// carries a NOT EXISTS predicate over the window, so the database itself
// rejects a second entry even when the in-process guard was bypassed by a
// concurrent server process.
func (r *AttendanceRepository) Append(ctx context.Context, entry database.AttendanceEntry) error {
	if r.window <= 0 {
		query := `
			INSERT INTO attendance (id, student_id, ts, method, confidence, override)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := r.pool.Exec(ctx, query,
			entry.ID,
			entry.StudentID,
			entry.Timestamp,
			string(entry.Method),
			entry.Confidence,
			entry.Override,
		)
		if err != nil {
			return fmt.Errorf("append attendance entry: %w", err)
		}
		return nil
	}

	query := `
		INSERT INTO attendance (id, student_id, ts, method, confidence, override)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM attendance WHERE student_id = $2 AND ts > $7
		)
	`
	result, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.StudentID,
		entry.Timestamp,
		string(entry.Method),
		entry.Confidence,
		entry.Override,
		entry.Timestamp.Add(-r.window),
	)
	if err != nil {
		return fmt.Errorf("append attendance entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("append attendance entry: %w", err)
	}
	if affected == 0 {
		return database.ErrDuplicateEntry
	}
	return nil
}
