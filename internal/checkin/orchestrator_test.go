package checkin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/grad-gate/internal/consensus"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/database/mock"
	"github.com/kozaktomas/grad-gate/internal/ledger"
	"github.com/kozaktomas/grad-gate/internal/token"
)

type fakeResolver struct {
	students map[string]*database.Student
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, raw string) (*database.Student, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.students[raw]
	if !ok {
		return nil, fmt.Errorf("unknown student %q", raw)
	}
	return s, nil
}

type fakeProbes struct {
	image []byte
	err   error
}

func (f *fakeProbes) Capture(ctx context.Context) ([]byte, error) {
	return f.image, f.err
}

type fakeExtractor struct {
	vec []float32
	err error
}

func (f *fakeExtractor) ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeConsensus struct {
	result *consensus.Result
	err    error
	calls  int
}

func (f *fakeConsensus) Verify(ctx context.Context, probeImage []byte, studentID string) (*consensus.Result, error) {
	f.calls++
	return f.result, f.err
}

type spyAnnouncer struct {
	announced []string
}

func (s *spyAnnouncer) Announce(student *database.Student) {
	s.announced = append(s.announced, student.ID)
}

type fixture struct {
	orch      *Orchestrator
	store     *mock.AttendanceStore
	overrides *OverrideManager
	announcer *spyAnnouncer
	resolver  *fakeResolver
	extractor *fakeExtractor
	consensus *fakeConsensus
}

// identityVec is the stored reference; matchVec is close to it, mismatchVec
// orthogonal (cosine distance 1.0).
var (
	identityVec = []float32{1, 0, 0}
	mismatchVec = []float32{0, 1, 0}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	student := &database.Student{
		ID:               "s-1",
		Name:             "Ada Lovelace",
		Eligible:         true,
		PrimaryEmbedding: identityVec,
		Dim:              3,
	}
	store := mock.NewAttendanceStore()
	led := ledger.New(store)
	f := &fixture{
		store:     store,
		overrides: NewOverrideManager(),
		announcer: &spyAnnouncer{},
		resolver:  &fakeResolver{students: map[string]*database.Student{"s-1": student}},
		extractor: &fakeExtractor{vec: identityVec},
		consensus: &fakeConsensus{result: &consensus.Result{Accepted: true, Matched: 3, Votes: make([]consensus.Vote, 4), Evaluated: 4}},
	}
	f.orch = New(Options{
		Resolver:       f.resolver,
		Probes:         &fakeProbes{image: []byte("probe")},
		Extractor:      f.extractor,
		Consensus:      f.consensus,
		Ledger:         led,
		Guard:          ledger.NewGuard(led, 60*time.Second),
		Overrides:      f.overrides,
		Announcer:      f.announcer,
		FaceThreshold:  0.4,
		CaptureTimeout: time.Second,
	})
	return f
}

func TestProcessFaceMatchAccepts(t *testing.T) {
	f := newFixture(t)

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected accepted outcome, got reason %q", out.Reason)
	}
	if out.Method != database.MethodFace {
		t.Errorf("method = %q, want %q", out.Method, database.MethodFace)
	}
	if out.Confidence < 99 {
		t.Errorf("confidence = %.2f, want near 100 for an identical embedding", out.Confidence)
	}
	if entries := f.store.Entries(); len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if f.consensus.calls != 0 {
		t.Errorf("consensus ran %d times on a primary face match, want 0", f.consensus.calls)
	}
	if len(f.announcer.announced) != 1 || f.announcer.announced[0] != "s-1" {
		t.Errorf("announced = %v, want [s-1]", f.announcer.announced)
	}
	last := out.Trail[len(out.Trail)-1]
	if last.To != StateAccepted {
		t.Errorf("final transition = %+v, want to %s", last, StateAccepted)
	}
}

func TestProcessRepeatWithinWindowRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Process(ctx, Request{RawToken: "s-1"}); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("second attempt within the window was accepted")
	}
	if out.Reason != ReasonDuplicate {
		t.Errorf("reason = %q, want %q", out.Reason, ReasonDuplicate)
	}
	if entries := f.store.Entries(); len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestProcessRepeatAfterWindowAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Process(ctx, Request{RawToken: "s-1"}); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	// Move the orchestrator clock past the window instead of sleeping.
	f.orch.now = func() time.Time { return time.Now().UTC().Add(61 * time.Second) }

	out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("attempt after the window expired was rejected: %q", out.Reason)
	}
	if entries := f.store.Entries(); len(entries) != 2 {
		t.Errorf("ledger has %d entries, want 2", len(entries))
	}
}

func TestProcessFaceMissConsensusAccepts(t *testing.T) {
	f := newFixture(t)
	f.extractor.vec = mismatchVec

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected consensus acceptance, got reason %q", out.Reason)
	}
	if out.Method != database.MethodICConsensus {
		t.Errorf("method = %q, want %q", out.Method, database.MethodICConsensus)
	}
	if out.Confidence != 75 {
		t.Errorf("confidence = %.2f, want 75 for 3/4 votes", out.Confidence)
	}
	if f.consensus.calls != 1 {
		t.Errorf("consensus ran %d times, want 1", f.consensus.calls)
	}
}

func TestProcessExtractorFailureFallsThroughToConsensus(t *testing.T) {
	f := newFixture(t)
	f.extractor.err = errors.New("embedding server down")

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected consensus acceptance, got reason %q", out.Reason)
	}
	if out.Method != database.MethodICConsensus {
		t.Errorf("method = %q, want %q", out.Method, database.MethodICConsensus)
	}
}

func TestProcessNoReferenceEmbeddingSkipsFaceCompare(t *testing.T) {
	f := newFixture(t)
	f.resolver.students["s-1"].PrimaryEmbedding = nil

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted || out.Method != database.MethodICConsensus {
		t.Errorf("outcome = accepted=%v method=%q, want consensus acceptance", out.Accepted, out.Method)
	}
}

func decideOverride(t *testing.T, m *OverrideManager, d Decision) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if pending := m.Pending(); len(pending) > 0 {
			if err := m.Resolve(pending[0].ID, d); err != nil {
				t.Errorf("Resolve() error = %v", err)
			}
			return
		}
		select {
		case <-deadline:
			t.Error("no override request appeared")
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestProcessConsensusRejectEscalatesAndApproveAccepts(t *testing.T) {
	f := newFixture(t)
	f.extractor.vec = mismatchVec
	f.consensus.result = &consensus.Result{Accepted: false, Matched: 1, Votes: make([]consensus.Vote, 4), Evaluated: 4}

	go decideOverride(t, f.overrides, Decision{Approve: true, StaffID: "staff-7"})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("approved override was rejected: %q", out.Reason)
	}
	if out.Method != database.MethodManual {
		t.Errorf("method = %q, want %q", out.Method, database.MethodManual)
	}
	entries := f.store.Entries()
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if !entries[0].Override {
		t.Error("manual entry missing override audit flag")
	}
}

func TestProcessOverrideDeclineRejects(t *testing.T) {
	f := newFixture(t)
	f.extractor.vec = mismatchVec
	f.consensus.err = errors.New("all models unavailable")
	f.consensus.result = nil

	go decideOverride(t, f.overrides, Decision{Approve: false, Note: "could not confirm identity"})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("declined override was accepted")
	}
	if out.Reason != ReasonOverrideDeclined {
		t.Errorf("reason = %q, want %q", out.Reason, ReasonOverrideDeclined)
	}
	if entries := f.store.Entries(); len(entries) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(entries))
	}
}

func TestProcessInsufficientVotesEscalates(t *testing.T) {
	f := newFixture(t)
	f.extractor.vec = mismatchVec
	f.consensus.result = &consensus.Result{Evaluated: 1, Votes: make([]consensus.Vote, 4)}
	f.consensus.err = consensus.ErrInsufficientVotes

	go decideOverride(t, f.overrides, Decision{Approve: false})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("insufficient votes must not auto-accept")
	}
	sawOverride := false
	for _, tr := range out.Trail {
		if tr.To == StateManualOverride {
			sawOverride = true
		}
	}
	if !sawOverride {
		t.Error("insufficient votes did not escalate to manual override")
	}
}

func TestProcessCancelledContextRejectsPendingOverride(t *testing.T) {
	f := newFixture(t)
	f.extractor.vec = mismatchVec
	f.consensus.result = &consensus.Result{Accepted: false, Matched: 0, Votes: make([]consensus.Vote, 4), Evaluated: 4}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		deadline := time.After(2 * time.Second)
		for len(f.overrides.Pending()) == 0 {
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()
	}()
	defer cancel()

	out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("cancelled override was accepted")
	}
	if out.Reason != ReasonOverrideExpired {
		t.Errorf("reason = %q, want %q", out.Reason, ReasonOverrideExpired)
	}
}

func TestProcessUnresolvedTokenEscalatesWithTypedID(t *testing.T) {
	f := newFixture(t)

	go decideOverride(t, f.overrides, Decision{Approve: true, StudentID: "s-1", StaffID: "staff-2"})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "not-a-student"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.Accepted {
		t.Fatalf("override with typed ID was rejected: %q", out.Reason)
	}
	if out.StudentID != "s-1" {
		t.Errorf("student ID = %q, want s-1", out.StudentID)
	}
	if out.Method != database.MethodManual {
		t.Errorf("method = %q, want %q", out.Method, database.MethodManual)
	}
}

func TestProcessUnresolvedTokenApprovedForUnknownIDRejects(t *testing.T) {
	f := newFixture(t)

	go decideOverride(t, f.overrides, Decision{Approve: true, StudentID: "still-unknown"})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "not-a-student"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("approval naming an unknown student was accepted")
	}
	if entries := f.store.Entries(); len(entries) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(entries))
	}
}

func TestProcessIneligibleStudentNeverAutoAccepts(t *testing.T) {
	f := newFixture(t)

	students := mock.NewStudentStore()
	if err := students.Save(context.Background(), database.Student{
		ID:               "s-1",
		Name:             "Ada Lovelace",
		Eligible:         false,
		PrimaryEmbedding: identityVec,
		Dim:              3,
	}); err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	f.orch.resolver = token.NewResolver(students)

	go decideOverride(t, f.overrides, Decision{Approve: true, StudentID: "s-1", StaffID: "staff-3"})

	out, err := f.orch.Process(context.Background(), Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatalf("ineligible student was accepted via method %q", out.Method)
	}
	sawOverride, sawFace := false, false
	for _, tr := range out.Trail {
		if tr.To == StateManualOverride {
			sawOverride = true
		}
		if tr.To == StateFaceCompare {
			sawFace = true
		}
	}
	if !sawOverride {
		t.Error("ineligible student did not escalate to manual override")
	}
	if sawFace {
		t.Error("ineligible student entered the biometric path")
	}
	if entries := f.store.Entries(); len(entries) != 0 {
		t.Errorf("ledger has %d entries, want 0", len(entries))
	}
}

func TestProcessManualPathStillSubjectToDuplicateGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.orch.Process(ctx, Request{RawToken: "s-1"}); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	f.extractor.vec = mismatchVec
	f.consensus.result = &consensus.Result{Accepted: false, Votes: make([]consensus.Vote, 4), Evaluated: 4}
	// The fast duplicate check fires before biometrics, so the manual
	// path is never reached here; the outcome must still be duplicate.
	out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if out.Reason != ReasonDuplicate {
		t.Errorf("reason = %q, want %q", out.Reason, ReasonDuplicate)
	}
	if entries := f.store.Entries(); len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestProcessStoreRefusedDuplicateRejects(t *testing.T) {
	// The store enforces the window on its own; a second entry slipping past
	// the in-process guard (say, from another server sharing the database)
	// must surface as a duplicate rejection, not an error.
	f := newFixture(t)
	f.store.Window = 60 * time.Second
	f.orch.guard = ledger.NewGuard(ledger.New(f.store), 0)
	ctx := context.Background()

	if _, err := f.orch.Process(ctx, Request{RawToken: "s-1"}); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if out.Accepted {
		t.Fatal("store-refused duplicate was accepted")
	}
	if out.Reason != ReasonDuplicate {
		t.Errorf("reason = %q, want %q", out.Reason, ReasonDuplicate)
	}
	if entries := f.store.Entries(); len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestProcessConcurrentAttemptsAppendOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	outcomes := make(chan *Outcome, workers)
	for i := 0; i < workers; i++ {
		go func() {
			out, err := f.orch.Process(ctx, Request{RawToken: "s-1"})
			if err != nil {
				t.Errorf("Process() error = %v", err)
			}
			outcomes <- out
		}()
	}

	accepted := 0
	for i := 0; i < workers; i++ {
		if out := <-outcomes; out != nil && out.Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("%d attempts accepted, want exactly 1", accepted)
	}
	if entries := f.store.Entries(); len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestProcessEveryStagePathTerminates(t *testing.T) {
	// Sweep the product of stage behaviors. Every combination must end in
	// a terminal outcome; none may hang or fall through silently.
	resolves := []bool{true, false}
	faces := []string{"match", "miss", "error"}
	consensuses := []string{"accept", "reject", "insufficient", "error"}
	decisions := []string{"approve", "decline", "cancel"}

	for _, resolved := range resolves {
		for _, face := range faces {
			for _, cons := range consensuses {
				for _, dec := range decisions {
					name := fmt.Sprintf("resolved=%v/face=%s/consensus=%s/override=%s", resolved, face, cons, dec)
					t.Run(name, func(t *testing.T) {
						f := newFixture(t)
						token := "s-1"
						if !resolved {
							token = "garbage"
						}
						switch face {
						case "miss":
							f.extractor.vec = mismatchVec
						case "error":
							f.extractor.err = errors.New("extractor down")
						}
						switch cons {
						case "accept":
							f.consensus.result = &consensus.Result{Accepted: true, Matched: 4, Votes: make([]consensus.Vote, 4), Evaluated: 4}
						case "reject":
							f.consensus.result = &consensus.Result{Accepted: false, Votes: make([]consensus.Vote, 4), Evaluated: 4}
						case "insufficient":
							f.consensus.result = &consensus.Result{Evaluated: 0, Votes: make([]consensus.Vote, 4)}
							f.consensus.err = consensus.ErrInsufficientVotes
						case "error":
							f.consensus.result = nil
							f.consensus.err = errors.New("consensus down")
						}

						ctx, cancel := context.WithCancel(context.Background())
						defer cancel()
						go func() {
							deadline := time.After(2 * time.Second)
							for len(f.overrides.Pending()) == 0 {
								select {
								case <-deadline:
									return
								case <-time.After(2 * time.Millisecond):
								}
							}
							switch dec {
							case "approve":
								f.overrides.Resolve(f.overrides.Pending()[0].ID, Decision{Approve: true, StudentID: "s-1"})
							case "decline":
								f.overrides.Resolve(f.overrides.Pending()[0].ID, Decision{Approve: false})
							case "cancel":
								cancel()
							}
						}()

						done := make(chan struct{})
						var out *Outcome
						var err error
						go func() {
							out, err = f.orch.Process(ctx, Request{RawToken: token})
							close(done)
						}()

						select {
						case <-done:
						case <-time.After(5 * time.Second):
							t.Fatal("attempt did not terminate")
						}
						if err != nil {
							t.Fatalf("Process() error = %v", err)
						}
						last := out.Trail[len(out.Trail)-1].To
						if last != StateAccepted && last != StateRejected {
							t.Errorf("terminal state = %s, want accepted or rejected", last)
						}
						if out.Accepted != (last == StateAccepted) {
							t.Errorf("Accepted=%v disagrees with terminal state %s", out.Accepted, last)
						}
					})
				}
			}
		}
	}
}
