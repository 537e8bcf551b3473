// Package announce generates spoken check-in announcements. Synthesis runs
// fire-and-forget; a failed announcement never affects the check-in outcome.
package announce

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

const defaultTemplate = "{name}, welcome to the ceremony."

// Provider defines the interface for speech synthesis backends.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Sink receives synthesized audio, typically the venue playback collaborator.
type Sink interface {
	Play(audio []byte) error
}

// Announcer formats and speaks a student's name after an accepted check-in.
type Announcer struct {
	provider Provider
	sink     Sink
	template string
	timeout  time.Duration
}

// New creates an announcer. An empty template uses the default.
func New(provider Provider, sink Sink, template string) *Announcer {
	if template == "" {
		template = defaultTemplate
	}
	return &Announcer{
		provider: provider,
		sink:     sink,
		template: template,
		timeout:  10 * time.Second,
	}
}

// Announce synthesizes and plays the announcement in the background.
// Errors are logged and swallowed.
func (a *Announcer) Announce(student *database.Student) {
	if a == nil || a.provider == nil || student == nil {
		return
	}

	text := strings.ReplaceAll(a.template, "{name}", student.Name)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		audio, err := a.provider.Synthesize(ctx, text)
		if err != nil {
			log.Printf("announce: synthesis failed for %s via %s: %v", student.ID, a.provider.Name(), err)
			return
		}
		if a.sink == nil {
			return
		}
		if err := a.sink.Play(audio); err != nil {
			log.Printf("announce: playback failed for %s: %v", student.ID, err)
		}
	}()
}
