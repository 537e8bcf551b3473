package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// Guard suppresses repeat check-ins inside the configured window. Only
// accepted entries start a window; rejected attempts leave no trace.
type Guard struct {
	ledger *Ledger
	window time.Duration
}

// CheckResult reports whether a check-in may proceed. Suppression is a
// regular outcome, not an error, so staff can distinguish "already checked
// in" from "identity not recognized".
type CheckResult struct {
	Allowed   bool
	LastEntry *database.AttendanceEntry // set when suppressed
}

// NewGuard creates a guard over the ledger. A zero or negative window
// disables suppression entirely.
func NewGuard(l *Ledger, window time.Duration) *Guard {
	return &Guard{ledger: l, window: window}
}

// Window returns the configured suppression window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Check queries the most recent accepted entry for the student and
// suppresses the attempt when it falls inside the window. The caller must
// hold the student's ledger lock for the check-then-append sequence to be
// atomic.
func (g *Guard) Check(ctx context.Context, studentID string, now time.Time) (CheckResult, error) {
	if g.window <= 0 {
		return CheckResult{Allowed: true}, nil
	}

	last, err := g.ledger.MostRecent(ctx, studentID)
	if errors.Is(err, database.ErrNotFound) {
		return CheckResult{Allowed: true}, nil
	}
	if err != nil {
		return CheckResult{}, fmt.Errorf("query last entry: %w", err)
	}

	if now.Sub(last.Timestamp) < g.window {
		return CheckResult{Allowed: false, LastEntry: last}, nil
	}
	return CheckResult{Allowed: true}, nil
}
