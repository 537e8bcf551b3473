package checkin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

func TestOverrideManagerResolveDeliversDecision(t *testing.T) {
	m := NewOverrideManager()
	student := &database.Student{ID: "s-1", Name: "Ada Lovelace"}
	req := m.Create("raw-token", student, "consensus rejected", nil)

	if req.StudentID != "s-1" || req.StudentName != "Ada Lovelace" {
		t.Errorf("request = %q/%q, want student fields copied", req.StudentID, req.StudentName)
	}
	if req.GetStatus() != OverrideStatusPending {
		t.Errorf("status = %q, want pending", req.GetStatus())
	}

	done := make(chan Decision, 1)
	go func() {
		d, err := req.Await(context.Background())
		if err != nil {
			t.Errorf("Await() error = %v", err)
		}
		done <- d
	}()

	if err := m.Resolve(req.ID, Decision{Approve: true, StaffID: "staff-1"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	select {
	case d := <-done:
		if !d.Approve || d.StaffID != "staff-1" {
			t.Errorf("decision = %+v, want approval from staff-1", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await did not receive the decision")
	}
	if req.GetStatus() != OverrideStatusApproved {
		t.Errorf("status = %q, want approved", req.GetStatus())
	}
}

func TestOverrideManagerResolveUnknownID(t *testing.T) {
	m := NewOverrideManager()
	if err := m.Resolve("missing", Decision{Approve: true}); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("Resolve() error = %v, want ErrOverrideNotFound", err)
	}
}

func TestOverrideManagerSecondResolveRejected(t *testing.T) {
	m := NewOverrideManager()
	req := m.Create("", nil, "token unresolved", nil)

	if err := m.Resolve(req.ID, Decision{Approve: false}); err != nil {
		t.Fatalf("first Resolve() error = %v", err)
	}
	if err := m.Resolve(req.ID, Decision{Approve: true}); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("second Resolve() error = %v, want ErrOverrideNotFound", err)
	}
	if req.GetStatus() != OverrideStatusDeclined {
		t.Errorf("status = %q, want declined after first decision", req.GetStatus())
	}
}

func TestOverrideRequestAwaitCancelled(t *testing.T) {
	m := NewOverrideManager()
	req := m.Create("", nil, "token unresolved", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := req.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await() error = %v, want context.Canceled", err)
	}
	if req.GetStatus() != OverrideStatusCancelled {
		t.Errorf("status = %q, want cancelled", req.GetStatus())
	}
	if err := m.Resolve(req.ID, Decision{Approve: true}); !errors.Is(err, ErrOverrideNotFound) {
		t.Errorf("Resolve() after cancellation error = %v, want ErrOverrideNotFound", err)
	}
}

func TestOverrideRequestDecisionBeforeCancellationIsHonored(t *testing.T) {
	// A decision that landed while the attempt was still pending must never
	// be dropped, even when Await observes the cancellation first. Both
	// select cases are ready here, so looping covers either branch.
	for i := 0; i < 50; i++ {
		m := NewOverrideManager()
		req := m.Create("", nil, "token unresolved", nil)

		if err := m.Resolve(req.ID, Decision{Approve: true, StaffID: "staff-4"}); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		d, err := req.Await(ctx)
		if err != nil {
			t.Fatalf("Await() error = %v, decision was dropped", err)
		}
		if !d.Approve || d.StaffID != "staff-4" {
			t.Fatalf("decision = %+v, want the delivered approval", d)
		}
		if req.GetStatus() != OverrideStatusApproved {
			t.Fatalf("status = %q, want approved", req.GetStatus())
		}
	}
}

func TestOverrideManagerPendingOrdering(t *testing.T) {
	m := NewOverrideManager()
	first := m.Create("t1", nil, "a", nil)
	second := m.Create("t2", nil, "b", nil)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	third := m.Create("t3", nil, "c", nil)
	third.CreatedAt = first.CreatedAt.Add(2 * time.Second)

	if err := m.Resolve(second.ID, Decision{Approve: false}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	pending := m.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending() returned %d requests, want 2", len(pending))
	}
	if pending[0].ID != third.ID || pending[1].ID != first.ID {
		t.Errorf("pending order = [%s %s], want newest first", pending[0].RawToken, pending[1].RawToken)
	}

	m.Delete(first.ID)
	if m.Get(first.ID) != nil {
		t.Error("deleted request still retrievable")
	}
}
