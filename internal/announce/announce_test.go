package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

type fakeProvider struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, text)
	return []byte("audio"), nil
}

type fakeSink struct {
	mu     sync.Mutex
	played [][]byte
	done   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{done: make(chan struct{}, 1)}
}

func (f *fakeSink) Play(audio []byte) error {
	f.mu.Lock()
	f.played = append(f.played, audio)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return nil
}

func TestAnnounceUsesTemplate(t *testing.T) {
	provider := &fakeProvider{}
	sink := newFakeSink()
	a := New(provider, sink, "Now arriving: {name}!")

	a.Announce(&database.Student{ID: "S1", Name: "Alice Tan"})

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never reached the sink")
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.texts) != 1 || provider.texts[0] != "Now arriving: Alice Tan!" {
		t.Errorf("unexpected synthesized texts %v", provider.texts)
	}
}

func TestAnnounceSynthesisFailureIsSwallowed(t *testing.T) {
	provider := &fakeProvider{err: errors.New("quota exceeded")}
	a := New(provider, newFakeSink(), "")

	// Must not panic or block the caller.
	a.Announce(&database.Student{ID: "S1", Name: "Alice"})
	time.Sleep(50 * time.Millisecond)
}

func TestAnnounceNilProviderIsNoop(t *testing.T) {
	a := New(nil, newFakeSink(), "")
	a.Announce(&database.Student{ID: "S1", Name: "Alice"})

	var nilAnnouncer *Announcer
	nilAnnouncer.Announce(&database.Student{ID: "S1", Name: "Alice"})
}
