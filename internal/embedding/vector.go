// Package embedding provides face embedding comparison and extraction.
package embedding

import (
	"errors"
	"math"
)

// ErrInvalidEmbedding is returned when input vectors are empty or their
// lengths do not match.
var ErrInvalidEmbedding = errors.New("invalid embedding vector")

// DefaultFaceThreshold is the cosine distance threshold for the primary
// face match. Distances below it count as a match.
const DefaultFaceThreshold = 0.4

// Distance computes the cosine distance between two vectors.
// Returns a value between 0 (identical) and 2 (opposite).
// Cosine distance = 1 - cosine similarity.
func Distance(reference, probe []float32) (float64, error) {
	if len(reference) == 0 || len(probe) == 0 || len(reference) != len(probe) {
		return 0, ErrInvalidEmbedding
	}

	var dotProduct, normA, normB float64
	for i := range reference {
		dotProduct += float64(reference[i]) * float64(probe[i])
		normA += float64(reference[i]) * float64(reference[i])
		normB += float64(probe[i]) * float64(probe[i])
	}

	if normA == 0 || normB == 0 {
		return 0, ErrInvalidEmbedding
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return 1 - similarity, nil
}

// Decide applies a threshold to a cosine distance. Lower distance means a
// closer match, so a score strictly below the threshold is a match.
func Decide(score, threshold float64) bool {
	return score < threshold
}

// Confidence converts a cosine distance into a percentage for display and
// audit records. Distances above 1 map to zero.
func Confidence(score float64) float64 {
	c := (1 - score) * 100
	if c < 0 {
		return 0
	}
	return c
}
