// Package ledger provides the append-only attendance ledger and the
// duplicate-suppression guard in front of it.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// Store is the persistence backend for attendance entries.
type Store interface {
	MostRecent(ctx context.Context, studentID string) (*database.AttendanceEntry, error)
	ListSince(ctx context.Context, since time.Time) ([]database.AttendanceEntry, error)
	Append(ctx context.Context, entry database.AttendanceEntry) error
}

// Ledger wraps the attendance store with per-student serialization so that
// a guard check followed by an append is atomic for one student. Different
// students never contend.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a ledger over the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the per-student lock and returns its release function. The
// caller holds it across the guard check and any subsequent append.
func (l *Ledger) Lock(studentID string) func() {
	l.mu.Lock()
	m, ok := l.locks[studentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[studentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// MostRecent returns the latest accepted entry for a student, or
// database.ErrNotFound if there is none.
func (l *Ledger) MostRecent(ctx context.Context, studentID string) (*database.AttendanceEntry, error) {
	return l.store.MostRecent(ctx, studentID)
}

// ListSince returns all entries at or after the given time.
func (l *Ledger) ListSince(ctx context.Context, since time.Time) ([]database.AttendanceEntry, error) {
	return l.store.ListSince(ctx, since)
}

// Append stores a new attendance entry, assigning an ID and timestamp if
// the caller did not. The caller must hold the student's lock.
func (l *Ledger) Append(ctx context.Context, entry database.AttendanceEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append attendance entry: %w", err)
	}
	return nil
}
