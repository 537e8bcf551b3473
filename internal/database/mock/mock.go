// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// StudentStore is an in-memory implementation of database.StudentWriter.
type StudentStore struct {
	mu       sync.RWMutex
	students map[string]*database.Student
	cards    map[string]map[string]*database.CardEmbedding // studentID -> model -> embedding

	// Error injection
	GetError     error
	ListError    error
	SaveError    error
	GetCardError error
}

// NewStudentStore creates a new in-memory student store.
func NewStudentStore() *StudentStore {
	return &StudentStore{
		students: make(map[string]*database.Student),
		cards:    make(map[string]map[string]*database.CardEmbedding),
	}
}

// Get retrieves a student by ID.
func (m *StudentStore) Get(ctx context.Context, id string) (*database.Student, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

// List returns all students ordered by ID.
func (m *StudentStore) List(ctx context.Context) ([]database.Student, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Count returns the number of stored students.
func (m *StudentStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

// Save inserts or updates a student record.
func (m *StudentStore) Save(ctx context.Context, student database.Student) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now()
	}
	m.students[student.ID] = &student
	return nil
}

// GetCardEmbedding retrieves a stored card embedding.
func (m *StudentStore) GetCardEmbedding(ctx context.Context, studentID, model string) (*database.CardEmbedding, error) {
	if m.GetCardError != nil {
		return nil, m.GetCardError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	models, ok := m.cards[studentID]
	if !ok {
		return nil, database.ErrNotFound
	}
	emb, ok := models[model]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *emb
	return &copied, nil
}

// SaveCardEmbedding stores a card embedding.
func (m *StudentStore) SaveCardEmbedding(ctx context.Context, emb database.CardEmbedding) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if emb.CreatedAt.IsZero() {
		emb.CreatedAt = time.Now()
	}
	if m.cards[emb.StudentID] == nil {
		m.cards[emb.StudentID] = make(map[string]*database.CardEmbedding)
	}
	m.cards[emb.StudentID][emb.Model] = &emb
	return nil
}

// AttendanceStore is an in-memory append-only attendance ledger.
type AttendanceStore struct {
	mu      sync.RWMutex
	entries []database.AttendanceEntry

	// Window makes Append refuse entries inside the suppression window,
	// mirroring the windowed insert of the PostgreSQL repository.
	Window time.Duration

	// Error injection
	MostRecentError error
	AppendError     error
	ListError       error
}

// NewAttendanceStore creates a new in-memory attendance store.
func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{}
}

// MostRecent returns the latest entry for a student.
func (m *AttendanceStore) MostRecent(ctx context.Context, studentID string) (*database.AttendanceEntry, error) {
	if m.MostRecentError != nil {
		return nil, m.MostRecentError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *database.AttendanceEntry
	for i := range m.entries {
		e := &m.entries[i]
		if e.StudentID != studentID {
			continue
		}
		if latest == nil || e.Timestamp.After(latest.Timestamp) {
			latest = e
		}
	}
	if latest == nil {
		return nil, database.ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

// ListSince returns all entries at or after the given time.
func (m *AttendanceStore) ListSince(ctx context.Context, since time.Time) ([]database.AttendanceEntry, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceEntry
	for _, e := range m.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Append stores a new entry.
func (m *AttendanceStore) Append(ctx context.Context, entry database.AttendanceEntry) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Window > 0 {
		cutoff := entry.Timestamp.Add(-m.Window)
		for _, e := range m.entries {
			if e.StudentID == entry.StudentID && e.Timestamp.After(cutoff) {
				return database.ErrDuplicateEntry
			}
		}
	}
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of all stored entries, for test assertions.
func (m *AttendanceStore) Entries() []database.AttendanceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AttendanceEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
