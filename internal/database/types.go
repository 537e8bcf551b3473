package database

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateEntry is returned when an attendance append is refused because
// the student already has an entry inside the suppression window. The store
// enforces this independently of the in-process guard so that multiple
// server processes sharing one database still produce a single entry.
var ErrDuplicateEntry = errors.New("attendance entry already recorded within window")

// Method identifies which verification path accepted a check-in.
type Method string

const (
	MethodFace        Method = "face"
	MethodICConsensus Method = "ic_consensus"
	MethodManual      Method = "manual"
)

// Student represents a registered person. The registration subsystem owns
// these records; verification treats them as read-only.
type Student struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email,omitempty"`
	PortalEnabled    bool      `json:"portal_enabled"`
	Eligible         bool      `json:"eligible"`
	PrimaryEmbedding []float32 `json:"primary_embedding,omitempty"` // empty if the student never registered a face
	Dim              int       `json:"dim,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CardEmbedding is a face embedding extracted from a student's identity
// card at card-scan time, one per verification model.
type CardEmbedding struct {
	StudentID string    `json:"student_id"`
	Model     string    `json:"model"`
	Embedding []float32 `json:"embedding,omitempty"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// AttendanceEntry is the durable, append-only record of an accepted
// check-in. Entries are never mutated.
type AttendanceEntry struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	Timestamp  time.Time `json:"timestamp"`
	Method     Method    `json:"method"`
	Confidence float64   `json:"confidence"`
	Override   bool      `json:"override"` // set when a staff member approved the check-in manually
}
