// Package report summarizes the attendance ledger for ceremony staff.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
)

// Summary aggregates attendance for a ceremony.
type Summary struct {
	Since          time.Time               `json:"since"`
	GeneratedAt    time.Time               `json:"generated_at"`
	Registered     int                     `json:"registered"`
	CheckedIn      int                     `json:"checked_in"`
	ByMethod       map[database.Method]int `json:"by_method"`
	Overrides      []OverrideEntry         `json:"overrides"`
	MeanConfidence float64                 `json:"mean_confidence"`
}

// OverrideEntry is one manually approved check-in, kept for audit.
type OverrideEntry struct {
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Generator builds attendance summaries.
type Generator struct {
	students   database.StudentReader
	attendance database.AttendanceReader
}

// New creates a report generator.
func New(students database.StudentReader, attendance database.AttendanceReader) *Generator {
	return &Generator{students: students, attendance: attendance}
}

// Generate summarizes all attendance recorded since the given time. Entries
// are deduplicated per student; only the earliest entry counts toward the
// method breakdown.
func (g *Generator) Generate(ctx context.Context, since time.Time) (*Summary, error) {
	entries, err := g.attendance.ListSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	registered, err := g.students.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	summary := &Summary{
		Since:       since,
		GeneratedAt: time.Now().UTC(),
		Registered:  registered,
		ByMethod:    make(map[database.Method]int),
	}

	seen := make(map[string]bool)
	var confidenceSum float64
	var confidenceCount int
	for _, entry := range entries {
		if seen[entry.StudentID] {
			continue
		}
		seen[entry.StudentID] = true

		summary.CheckedIn++
		summary.ByMethod[entry.Method]++
		if entry.Method != database.MethodManual {
			confidenceSum += entry.Confidence
			confidenceCount++
		}
		if entry.Override {
			summary.Overrides = append(summary.Overrides, OverrideEntry{
				StudentID:   entry.StudentID,
				StudentName: g.studentName(ctx, entry.StudentID),
				Timestamp:   entry.Timestamp,
			})
		}
	}
	if confidenceCount > 0 {
		summary.MeanConfidence = confidenceSum / float64(confidenceCount)
	}

	return summary, nil
}

func (g *Generator) studentName(ctx context.Context, id string) string {
	student, err := g.students.Get(ctx, id)
	if err != nil {
		return ""
	}
	return student.Name
}
