package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/grad-gate/internal/consensus"
	"github.com/kozaktomas/grad-gate/internal/constants"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/embedding"
	"github.com/kozaktomas/grad-gate/internal/ledger"
)

// State identifies a stage of the check-in verification flow.
type State string

// Verification states. Every attempt walks a path from StateStart to
// exactly one of StateAccepted or StateRejected.
const (
	StateStart          State = "start"
	StateQRResolve      State = "qr_resolve"
	StateFaceCompare    State = "face_compare"
	StateICConsensus    State = "ic_consensus"
	StateManualOverride State = "manual_override"
	StateAccepted       State = "accepted"
	StateRejected       State = "rejected"
)

// Rejection reasons surfaced on terminal outcomes.
const (
	ReasonDuplicate        = "duplicate"
	ReasonOverrideDeclined = "override_declined"
	ReasonOverrideExpired  = "override_expired"
)

// Transition records one observable state change of an attempt.
type Transition struct {
	From State  `json:"from"`
	To   State  `json:"to"`
	Note string `json:"note,omitempty"`
}

// Request is a single check-in attempt arriving at a station.
type Request struct {
	// RawToken is the scanned QR payload or a bare student ID.
	RawToken string
	// ProbeImage is an already-captured probe photo. When empty the
	// orchestrator captures one through its ProbeSource.
	ProbeImage []byte
}

// Outcome is the terminal result of a check-in attempt.
type Outcome struct {
	AttemptID   string           `json:"attempt_id"`
	StudentID   string           `json:"student_id,omitempty"`
	StudentName string           `json:"student_name,omitempty"`
	Accepted    bool             `json:"accepted"`
	Method      database.Method  `json:"method,omitempty"`
	Confidence  float64          `json:"confidence"`
	Reason      string           `json:"reason,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Votes       []consensus.Vote `json:"votes,omitempty"`
	Trail       []Transition     `json:"trail"`
}

// Orchestrator drives a check-in attempt through token resolution, the
// primary face comparison, the identity-card consensus fallback, and the
// manual override escalation. It owns the single attendance append for an
// accepted attempt.
type Orchestrator struct {
	resolver  TokenResolver
	probes    ProbeSource
	extractor FaceExtractor
	consensus ConsensusVerifier
	ledger    *ledger.Ledger
	guard     *ledger.Guard
	overrides *OverrideManager
	announcer Announcer
	index     *database.FaceIndex

	primaryModel   string
	faceThreshold  float64
	captureTimeout time.Duration

	now func() time.Time
}

// Options configure an Orchestrator. Announcer and Index are optional.
type Options struct {
	Resolver       TokenResolver
	Probes         ProbeSource
	Extractor      FaceExtractor
	Consensus      ConsensusVerifier
	Ledger         *ledger.Ledger
	Guard          *ledger.Guard
	Overrides      *OverrideManager
	Announcer      Announcer
	Index          *database.FaceIndex
	PrimaryModel   string
	FaceThreshold  float64
	CaptureTimeout time.Duration
}

// New creates a check-in orchestrator.
func New(opts Options) *Orchestrator {
	if opts.PrimaryModel == "" {
		opts.PrimaryModel = "facenet"
	}
	if opts.FaceThreshold <= 0 {
		opts.FaceThreshold = embedding.DefaultFaceThreshold
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = 10 * time.Second
	}
	return &Orchestrator{
		resolver:       opts.Resolver,
		probes:         opts.Probes,
		extractor:      opts.Extractor,
		consensus:      opts.Consensus,
		ledger:         opts.Ledger,
		guard:          opts.Guard,
		overrides:      opts.Overrides,
		announcer:      opts.Announcer,
		index:          opts.Index,
		primaryModel:   opts.PrimaryModel,
		faceThreshold:  opts.FaceThreshold,
		captureTimeout: opts.CaptureTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// attempt carries per-request working state through the stages.
type attempt struct {
	id      string
	req     Request
	student *database.Student
	probe   []byte
	state   State
	trail   []Transition
	votes   []consensus.Vote
}

func (a *attempt) move(to State, note string) {
	a.trail = append(a.trail, Transition{From: a.state, To: to, Note: note})
	log.Printf("checkin %s: %s -> %s (%s)", a.id, a.state, to, note)
	a.state = to
}

// Process runs one attempt to a terminal outcome. It blocks while a manual
// override is pending; cancelling ctx resolves a pending attempt as
// rejected. An error is returned only for collaborator failures that leave
// no terminal state to report, such as a failed ledger append.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Outcome, error) {
	a := &attempt{
		id:    uuid.NewString(),
		req:   req,
		probe: req.ProbeImage,
		state: StateStart,
	}

	a.move(StateQRResolve, "token scanned")
	student, err := o.resolver.Resolve(ctx, req.RawToken)
	if err != nil {
		return o.manualOverride(ctx, a, fmt.Sprintf("token unresolved: %v", err))
	}
	a.student = student

	// Fast duplicate rejection before any biometric work. The check
	// repeats under the per-student lock at append time, so a race
	// between two stations still yields a single entry.
	check, err := o.guard.Check(ctx, student.ID, o.now())
	if err != nil {
		return nil, fmt.Errorf("duplicate check for %s: %w", student.ID, err)
	}
	if !check.Allowed {
		return o.reject(a, ReasonDuplicate, suppressedNote(check)), nil
	}

	a.move(StateFaceCompare, "identity resolved")
	if score, ok := o.faceCompare(ctx, a); ok {
		return o.accept(ctx, a, database.MethodFace, embedding.Confidence(score), false)
	}
	return o.icConsensus(ctx, a)
}

// faceCompare runs the primary one-model face check. Any failure mode moves
// the attempt to the identity-card consensus fallback rather than rejecting.
func (o *Orchestrator) faceCompare(ctx context.Context, a *attempt) (float64, bool) {
	if len(a.student.PrimaryEmbedding) == 0 {
		a.move(StateICConsensus, "no reference embedding on file")
		return 0, false
	}

	if err := o.ensureProbe(ctx, a); err != nil {
		a.move(StateICConsensus, fmt.Sprintf("probe capture failed: %v", err))
		return 0, false
	}

	probeVec, err := o.extractProbe(ctx, a.probe)
	if err != nil {
		a.move(StateICConsensus, fmt.Sprintf("probe embedding failed: %v", err))
		return 0, false
	}

	score, err := embedding.Distance(a.student.PrimaryEmbedding, probeVec)
	if err != nil {
		a.move(StateICConsensus, fmt.Sprintf("distance undefined: %v", err))
		return 0, false
	}

	if embedding.Decide(score, o.faceThreshold) {
		return score, true
	}

	a.move(StateICConsensus, fmt.Sprintf("face distance %.3f above threshold %.2f", score, o.faceThreshold))
	return 0, false
}

// icConsensus runs the multi-model identity-card fallback. Acceptance needs
// enough matching votes; anything short of that escalates to staff.
func (o *Orchestrator) icConsensus(ctx context.Context, a *attempt) (*Outcome, error) {
	if a.probe == nil {
		if err := o.ensureProbe(ctx, a); err != nil {
			return o.manualOverride(ctx, a, fmt.Sprintf("probe capture failed: %v", err))
		}
	}

	res, err := o.consensus.Verify(ctx, a.probe, a.student.ID)
	if res != nil {
		a.votes = res.Votes
	}
	switch {
	case errors.Is(err, consensus.ErrInsufficientVotes):
		return o.manualOverride(ctx, a, fmt.Sprintf("insufficient votes: %d model(s) evaluable", res.Evaluated))
	case err != nil:
		return o.manualOverride(ctx, a, fmt.Sprintf("consensus failed: %v", err))
	case res.Accepted:
		confidence := float64(res.Matched) / float64(len(res.Votes)) * 100
		return o.accept(ctx, a, database.MethodICConsensus, confidence, false)
	default:
		return o.manualOverride(ctx, a, fmt.Sprintf("consensus rejected: %d/%d votes matched", res.Matched, len(res.Votes)))
	}
}

// manualOverride parks the attempt until a staff decision arrives or the
// context is done. Decline, timeout, and cancellation all reject.
func (o *Orchestrator) manualOverride(ctx context.Context, a *attempt, why string) (*Outcome, error) {
	a.move(StateManualOverride, why)

	req := o.overrides.Create(a.req.RawToken, a.student, why, o.suggestCandidates(ctx, a))
	decision, err := req.Await(ctx)
	if err != nil {
		return o.reject(a, ReasonOverrideExpired, err.Error()), nil
	}
	if !decision.Approve {
		return o.reject(a, ReasonOverrideDeclined, decision.Note), nil
	}

	if a.student == nil {
		student, err := o.resolver.Resolve(ctx, decision.StudentID)
		if err != nil {
			return o.reject(a, ReasonOverrideDeclined, fmt.Sprintf("approved for unknown student %q", decision.StudentID)), nil
		}
		a.student = student
	}

	return o.accept(ctx, a, database.MethodManual, 0, true)
}

// accept appends the attendance entry and finishes the attempt. The
// duplicate check reruns under the student's lock so that concurrent
// attempts for the same student produce exactly one entry.
func (o *Orchestrator) accept(ctx context.Context, a *attempt, method database.Method, confidence float64, override bool) (*Outcome, error) {
	unlock := o.ledger.Lock(a.student.ID)
	defer unlock()

	now := o.now()
	check, err := o.guard.Check(ctx, a.student.ID, now)
	if err != nil {
		return nil, fmt.Errorf("duplicate check for %s: %w", a.student.ID, err)
	}
	if !check.Allowed {
		return o.reject(a, ReasonDuplicate, suppressedNote(check)), nil
	}

	entry := database.AttendanceEntry{
		StudentID:  a.student.ID,
		Timestamp:  now,
		Method:     method,
		Confidence: confidence,
		Override:   override,
	}
	if err := o.ledger.Append(ctx, entry); err != nil {
		// The store refuses entries inside the window on its own, so a
		// concurrent server process that won the race shows up here.
		if errors.Is(err, database.ErrDuplicateEntry) {
			return o.reject(a, ReasonDuplicate, "entry already recorded"), nil
		}
		return nil, fmt.Errorf("append attendance for %s: %w", a.student.ID, err)
	}

	a.move(StateAccepted, string(method))
	if o.announcer != nil {
		o.announcer.Announce(a.student)
	}

	return &Outcome{
		AttemptID:   a.id,
		StudentID:   a.student.ID,
		StudentName: a.student.Name,
		Accepted:    true,
		Method:      method,
		Confidence:  confidence,
		Timestamp:   now,
		Votes:       a.votes,
		Trail:       a.trail,
	}, nil
}

func (o *Orchestrator) reject(a *attempt, reason, note string) *Outcome {
	a.move(StateRejected, note)
	out := &Outcome{
		AttemptID: a.id,
		Reason:    reason,
		Timestamp: o.now(),
		Votes:     a.votes,
		Trail:     a.trail,
	}
	if a.student != nil {
		out.StudentID = a.student.ID
		out.StudentName = a.student.Name
	}
	return out
}

// ensureProbe captures a probe image if the request did not carry one.
func (o *Orchestrator) ensureProbe(ctx context.Context, a *attempt) error {
	if a.probe != nil {
		return nil
	}
	if o.probes == nil {
		return errors.New("no probe source configured")
	}
	cctx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	defer cancel()
	probe, err := o.probes.Capture(cctx)
	if err != nil {
		return err
	}
	a.probe = probe
	return nil
}

func (o *Orchestrator) extractProbe(ctx context.Context, probe []byte) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	defer cancel()
	return o.extractor.ExtractFace(ectx, o.primaryModel, probe)
}

// suggestCandidates offers staff a shortlist of students whose reference
// faces sit near the probe. Best effort; an empty list is fine.
func (o *Orchestrator) suggestCandidates(ctx context.Context, a *attempt) []database.Candidate {
	if o.index == nil || a.student != nil || a.probe == nil {
		return nil
	}
	vec, err := o.extractProbe(ctx, a.probe)
	if err != nil {
		return nil
	}
	candidates, err := o.index.Search(vec, constants.LookupCandidates, database.LookupThreshold)
	if err != nil {
		return nil
	}
	return candidates
}

func suppressedNote(check ledger.CheckResult) string {
	if check.LastEntry == nil {
		return "recent check-in on record"
	}
	return fmt.Sprintf("already checked in at %s", check.LastEntry.Timestamp.Format(time.RFC3339))
}
