package announce

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileSink drops synthesized audio into a spool directory. The station's
// audio player watches the directory and plays files as they appear.
type FileSink struct {
	dir string
}

// NewFileSink creates a file sink, creating the spool directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool directory %s: %w", dir, err)
	}
	return &FileSink{dir: dir}, nil
}

// Play writes the audio to a uniquely named file. Files sort by name in
// arrival order.
func (s *FileSink) Play(audio []byte) error {
	name := fmt.Sprintf("%d-%s.audio", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("writing announcement audio: %w", err)
	}
	return nil
}
