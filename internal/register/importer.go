// Package register imports student rosters in bulk. It embeds reference
// portraits concurrently so a full graduating class registers in minutes.
package register

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/imaging"
)

// Extractor produces a face embedding from an image using a named model.
type Extractor interface {
	ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error)
}

// Options configure a bulk import.
type Options struct {
	// Concurrency is the number of parallel embedding workers (default 5).
	Concurrency int
	// Model is the embedding model for reference portraits.
	Model string
	// Progress enables the terminal progress bar.
	Progress bool
}

// Result summarizes a bulk import.
type Result struct {
	Imported int
	Failed   int
	Errors   []string
}

// Importer registers students from a directory of portrait files.
type Importer struct {
	store     database.StudentWriter
	extractor Extractor
	index     *database.FaceIndex
}

// New creates an importer. The index may be nil when lookup-by-face is not
// needed.
func New(store database.StudentWriter, extractor Extractor, index *database.FaceIndex) *Importer {
	return &Importer{store: store, extractor: extractor, index: index}
}

// portraitEntry is one roster file to process.
type portraitEntry struct {
	path    string
	student database.Student
}

// importResult carries one worker's outcome back to the collector.
type importResult struct {
	index int
	err   error
}

// ParseFilename splits a roster filename into student ID and name. The
// convention is "<id>__<name>.<ext>", with underscores in the name part
// standing for spaces: "s-1042__Ada_Lovelace.jpg".
func ParseFilename(filename string) (id, name string, err error) {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	parts := strings.SplitN(base, "__", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("filename %q does not match <id>__<name>.<ext>", filepath.Base(filename))
	}
	return parts[0], strings.ReplaceAll(parts[1], "_", " "), nil
}

// ImportDir registers every portrait in a directory. Files that fail to
// parse or embed are reported in the result and do not stop the import.
func (im *Importer) ImportDir(ctx context.Context, dir string, opts Options) (*Result, error) {
	entries, err := im.scanDir(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &Result{}, nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	model := opts.Model
	if model == "" {
		model = "facenet"
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(len(entries),
			progressbar.OptionSetDescription(fmt.Sprintf("Registering students (%d workers)", concurrency)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("students"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
		)
	}

	resultsChan := make(chan importResult, len(entries))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range entries {
		wg.Add(1)
		go func(idx int, entry portraitEntry) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			err := im.importOne(ctx, model, entry)
			resultsChan <- importResult{index: idx, err: err}
			if bar != nil {
				bar.Add(1)
			}
		}(i, entries[i])
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	result := &Result{}
	for r := range resultsChan {
		if r.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", filepath.Base(entries[r.index].path), r.err))
			continue
		}
		result.Imported++
	}
	sort.Strings(result.Errors)
	return result, nil
}

func (im *Importer) scanDir(dir string) ([]portraitEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading roster directory: %w", err)
	}

	var entries []portraitEntry
	for _, de := range dirEntries {
		if de.IsDir() || !isImageFile(de.Name()) {
			continue
		}
		id, name, err := ParseFilename(de.Name())
		if err != nil {
			// Collected as a failure so the operator sees it.
			entries = append(entries, portraitEntry{path: filepath.Join(dir, de.Name())})
			continue
		}
		entries = append(entries, portraitEntry{
			path:    filepath.Join(dir, de.Name()),
			student: database.Student{ID: id, Name: name, Eligible: true},
		})
	}
	return entries, nil
}

func (im *Importer) importOne(ctx context.Context, model string, entry portraitEntry) error {
	if entry.student.ID == "" {
		_, _, err := ParseFilename(entry.path)
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		return fmt.Errorf("reading portrait: %w", err)
	}
	normalized, err := imaging.Normalize(data, imaging.MaxDimension)
	if err != nil {
		return fmt.Errorf("normalizing portrait: %w", err)
	}

	vec, err := im.extractor.ExtractFace(ctx, model, normalized)
	if err != nil {
		return fmt.Errorf("embedding portrait: %w", err)
	}

	student := entry.student
	student.PrimaryEmbedding = vec
	student.Dim = len(vec)

	if err := im.store.Save(ctx, student); err != nil {
		return fmt.Errorf("saving student: %w", err)
	}
	if im.index != nil {
		if err := im.index.Add(&student); err != nil {
			return fmt.Errorf("indexing student: %w", err)
		}
	}
	return nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
