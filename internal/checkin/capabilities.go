package checkin

import (
	"context"

	"github.com/kozaktomas/grad-gate/internal/consensus"
	"github.com/kozaktomas/grad-gate/internal/database"
)

// TokenResolver resolves a raw check-in token to a registered student.
type TokenResolver interface {
	Resolve(ctx context.Context, raw string) (*database.Student, error)
}

// ProbeSource captures a live probe image from the station camera.
type ProbeSource interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FaceExtractor produces a face embedding from an image using a named model.
type FaceExtractor interface {
	ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error)
}

// ConsensusVerifier runs the multi-model identity-card fallback check.
type ConsensusVerifier interface {
	Verify(ctx context.Context, probeImage []byte, studentID string) (*consensus.Result, error)
}

// Announcer speaks a student's name after an accepted check-in.
type Announcer interface {
	Announce(student *database.Student)
}
