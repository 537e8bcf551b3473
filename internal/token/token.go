// Package token handles the machine-readable check-in token carried in a
// student's QR code. Decoding the QR symbol itself is the scanner's job;
// this package owns the payload format and its resolution to a student.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// ErrMalformed is returned for payloads that are not valid check-in tokens.
var ErrMalformed = errors.New("malformed token payload")

// ErrUnknownStudent is returned when a token names a student that is not
// registered.
var ErrUnknownStudent = errors.New("token does not match a registered student")

// ErrNotEligible is returned when a token names a registered student who is
// not cleared to check in.
var ErrNotEligible = errors.New("student is not eligible to check in")

// Payload is the JSON document embedded in a student's QR code.
type Payload struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
}

// Parse decodes a raw token. Raw student IDs typed by staff are accepted
// alongside JSON payloads so manual entry shares the resolution path.
func Parse(raw string) (*Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	if strings.HasPrefix(raw, "{") {
		var p Payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if p.StudentID == "" {
			return nil, ErrMalformed
		}
		return &p, nil
	}

	// Bare student ID.
	return &Payload{StudentID: raw}, nil
}

// Encode produces the JSON payload embedded into a generated QR code.
func Encode(studentID, name string) ([]byte, error) {
	if studentID == "" {
		return nil, ErrMalformed
	}
	data, err := json.Marshal(Payload{StudentID: studentID, Name: name})
	if err != nil {
		return nil, fmt.Errorf("encode token payload: %w", err)
	}
	return data, nil
}

// Resolver resolves raw tokens against the student store.
type Resolver struct {
	students database.StudentReader
}

// NewResolver creates a token resolver over the student store.
func NewResolver(students database.StudentReader) *Resolver {
	return &Resolver{students: students}
}

// Resolve parses a raw token and looks up the student it names. Students
// with a cleared eligibility flag do not resolve; their attempts escalate
// to a staff decision instead of entering the biometric path.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*database.Student, error) {
	payload, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	student, err := r.students.Get(ctx, payload.StudentID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnknownStudent
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	if !student.Eligible {
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, student.ID)
	}
	return student, nil
}
