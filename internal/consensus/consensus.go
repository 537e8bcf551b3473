// Package consensus implements the multi-model identity-card fallback
// verifier. Each configured embedding model casts an independent vote; the
// votes are reduced to a single accept/reject decision.
package consensus

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/embedding"
)

// ErrInsufficientVotes is returned when fewer models could be evaluated
// than the consensus threshold requires. It is the verifier's only hard
// failure and signals escalation to manual override.
var ErrInsufficientVotes = errors.New("insufficient consensus votes")

// Extractor produces a face embedding from an image using a named model.
type Extractor interface {
	ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error)
}

// CardStore provides the stored identity-card embeddings.
type CardStore interface {
	GetCardEmbedding(ctx context.Context, studentID, model string) (*database.CardEmbedding, error)
}

// Vote is one model's judgement. Evaluated is false when the model could
// not produce a comparison at all; a detected-but-unmatched face is an
// evaluated no-match, not a failure.
type Vote struct {
	Model     string  `json:"model"`
	Distance  float64 `json:"distance"`
	Match     bool    `json:"match"`
	Evaluated bool    `json:"evaluated"`
	Err       error   `json:"-"`
}

// Result aggregates the votes of one verification call.
type Result struct {
	Accepted  bool   `json:"accepted"`
	Votes     []Vote `json:"votes"`
	Matched   int    `json:"matched"`
	Evaluated int    `json:"evaluated"`
}

// Verifier fans a probe image out to N models and reduces their votes.
type Verifier struct {
	extractor  Extractor
	cards      CardStore
	models     []string
	thresholds func(model string) float64
	required   int
	timeout    time.Duration
}

// New creates a consensus verifier. required is the minimum number of
// matching votes to accept; timeout bounds each model call.
func New(extractor Extractor, cards CardStore, models []string, thresholds func(string) float64, required int, timeout time.Duration) *Verifier {
	return &Verifier{
		extractor:  extractor,
		cards:      cards,
		models:     models,
		thresholds: thresholds,
		required:   required,
		timeout:    timeout,
	}
}

// Verify compares the probe image against the student's stored card
// embeddings across all models. Votes are computed concurrently and joined
// before the decision. Returns ErrInsufficientVotes when fewer than the
// required number of models could be evaluated.
func (v *Verifier) Verify(ctx context.Context, probeImage []byte, studentID string) (*Result, error) {
	votes := make([]Vote, len(v.models))

	var wg sync.WaitGroup
	for i, model := range v.models {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			votes[i] = v.castVote(ctx, model, probeImage, studentID)
		}(i, model)
	}
	wg.Wait()

	result := &Result{Votes: votes}
	for _, vote := range votes {
		if !vote.Evaluated {
			if vote.Err != nil {
				log.Printf("consensus: model %s not evaluated for %s: %v", vote.Model, studentID, vote.Err)
			}
			continue
		}
		result.Evaluated++
		if vote.Match {
			result.Matched++
		}
	}

	if result.Evaluated < v.required {
		return result, ErrInsufficientVotes
	}

	result.Accepted = result.Matched >= v.required
	return result, nil
}

// castVote runs a single model: extract the probe embedding, fetch the
// stored card embedding, compare with the model's own threshold.
func (v *Verifier) castVote(ctx context.Context, model string, probeImage []byte, studentID string) Vote {
	vote := Vote{Model: model}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	probe, err := v.extractor.ExtractFace(ctx, model, probeImage)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFaceDetected) {
			// The model looked and saw nobody: an evaluated no-match.
			vote.Evaluated = true
			vote.Distance = 2.0
			return vote
		}
		vote.Err = err
		return vote
	}

	card, err := v.cards.GetCardEmbedding(ctx, studentID, model)
	if err != nil {
		vote.Err = err
		return vote
	}

	distance, err := embedding.Distance(card.Embedding, probe)
	if err != nil {
		vote.Err = err
		return vote
	}

	vote.Evaluated = true
	vote.Distance = distance
	vote.Match = distance <= v.thresholds(model)
	return vote
}
