package database

import (
	"context"
	"time"
)

// StudentReader provides read-only access to student records.
type StudentReader interface {
	// Get retrieves a student by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*Student, error)
	// List returns all students ordered by ID.
	List(ctx context.Context) ([]Student, error)
	// Count returns the total number of registered students.
	Count(ctx context.Context) (int, error)
	// GetCardEmbedding retrieves the stored identity-card embedding for a
	// student and model. Returns ErrNotFound if missing.
	GetCardEmbedding(ctx context.Context, studentID, model string) (*CardEmbedding, error)
}

// StudentWriter provides write access to student records.
type StudentWriter interface {
	StudentReader

	// Save inserts or updates a student record.
	Save(ctx context.Context, student Student) error
	// SaveCardEmbedding stores a card embedding, replacing any existing one
	// for the same student and model.
	SaveCardEmbedding(ctx context.Context, emb CardEmbedding) error
}

// AttendanceReader provides read access to the attendance ledger.
type AttendanceReader interface {
	// MostRecent returns the latest accepted entry for a student, or
	// ErrNotFound if the student has never checked in.
	MostRecent(ctx context.Context, studentID string) (*AttendanceEntry, error)
	// ListSince returns all entries with a timestamp at or after the given
	// time, ordered by timestamp.
	ListSince(ctx context.Context, since time.Time) ([]AttendanceEntry, error)
}

// AttendanceWriter provides append access to the attendance ledger.
// Entries are never updated or deleted.
type AttendanceWriter interface {
	// Append stores a new attendance entry.
	Append(ctx context.Context, entry AttendanceEntry) error
}
