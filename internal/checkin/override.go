package checkin

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// ErrOverrideNotFound is returned when a decision targets an unknown or
// already-resolved override request.
var ErrOverrideNotFound = errors.New("override request not found")

// OverrideStatus represents the lifecycle state of an override request.
type OverrideStatus string

// OverrideStatus constants define the lifecycle states of an override request.
const (
	OverrideStatusPending   OverrideStatus = "pending"
	OverrideStatusApproved  OverrideStatus = "approved"
	OverrideStatusDeclined  OverrideStatus = "declined"
	OverrideStatusCancelled OverrideStatus = "cancelled"
)

// Decision is a staff member's ruling on a pending override request.
type Decision struct {
	Approve bool `json:"approve"`
	// StudentID identifies the student when the attempt arrived with an
	// unresolvable token. Ignored when the request already has one.
	StudentID string `json:"student_id,omitempty"`
	StaffID   string `json:"staff_id,omitempty"`
	Note      string `json:"note,omitempty"`
}

// OverrideRequest is a check-in attempt escalated to a staff member.
type OverrideRequest struct {
	ID          string               `json:"id"`
	RawToken    string               `json:"raw_token,omitempty"`
	StudentID   string               `json:"student_id,omitempty"`
	StudentName string               `json:"student_name,omitempty"`
	Reason      string               `json:"reason"`
	Candidates  []database.Candidate `json:"candidates,omitempty"`
	Status      OverrideStatus       `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`

	decision chan Decision
	mu       sync.RWMutex
}

// GetStatus returns the current request status.
func (r *OverrideRequest) GetStatus() OverrideStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// Await blocks until a staff decision arrives or the context is done.
// The status transition happens under the request mutex in both deliver
// and the cancellation branch, so exactly one side wins: a decision that
// left pending before the cancellation took hold is honored, and a
// cancelled request no longer accepts decisions.
func (r *OverrideRequest) Await(ctx context.Context) (Decision, error) {
	select {
	case d := <-r.decision:
		return d, nil
	case <-ctx.Done():
		r.mu.Lock()
		if r.Status != OverrideStatusPending {
			// deliver won the race; its decision is already in the
			// buffered channel and must not be dropped.
			r.mu.Unlock()
			return <-r.decision, nil
		}
		r.Status = OverrideStatusCancelled
		r.mu.Unlock()
		return Decision{}, ctx.Err()
	}
}

func (r *OverrideRequest) deliver(d Decision) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status != OverrideStatusPending {
		return false
	}
	if d.Approve {
		r.Status = OverrideStatusApproved
	} else {
		r.Status = OverrideStatusDeclined
	}
	// Status left pending above, so this is the only send; the buffer
	// guarantees it never blocks under the mutex.
	r.decision <- d
	return true
}

// OverrideManager tracks pending override requests awaiting staff decisions.
type OverrideManager struct {
	requests map[string]*OverrideRequest
	mu       sync.RWMutex
}

// NewOverrideManager creates a new override manager.
func NewOverrideManager() *OverrideManager {
	return &OverrideManager{
		requests: make(map[string]*OverrideRequest),
	}
}

// Create registers a new pending override request for a check-in attempt.
func (m *OverrideManager) Create(rawToken string, student *database.Student, reason string, candidates []database.Candidate) *OverrideRequest {
	req := &OverrideRequest{
		ID:         uuid.NewString(),
		RawToken:   rawToken,
		Reason:     reason,
		Candidates: candidates,
		Status:     OverrideStatusPending,
		CreatedAt:  time.Now().UTC(),
		decision:   make(chan Decision, 1),
	}
	if student != nil {
		req.StudentID = student.ID
		req.StudentName = student.Name
	}

	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	return req
}

// Get retrieves an override request by ID.
func (m *OverrideManager) Get(id string) *OverrideRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id]
}

// List returns all tracked override requests, newest first.
func (m *OverrideManager) List() []*OverrideRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*OverrideRequest, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Pending returns only requests still awaiting a decision, newest first.
func (m *OverrideManager) Pending() []*OverrideRequest {
	all := m.List()
	out := all[:0]
	for _, req := range all {
		if req.GetStatus() == OverrideStatusPending {
			out = append(out, req)
		}
	}
	return out
}

// Resolve delivers a staff decision to a pending request. It returns
// ErrOverrideNotFound when the request is unknown or no longer pending.
func (m *OverrideManager) Resolve(id string, d Decision) error {
	req := m.Get(id)
	if req == nil {
		return ErrOverrideNotFound
	}
	if !req.deliver(d) {
		return ErrOverrideNotFound
	}
	return nil
}

// Delete removes a request from tracking.
func (m *OverrideManager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
}
