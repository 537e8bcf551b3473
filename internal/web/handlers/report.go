package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/report"
)

// ReportHandler exposes attendance summaries and the raw ledger to staff.
type ReportHandler struct {
	generator  *report.Generator
	attendance database.AttendanceReader
}

// NewReportHandler creates a new report handler.
func NewReportHandler(generator *report.Generator, attendance database.AttendanceReader) *ReportHandler {
	return &ReportHandler{generator: generator, attendance: attendance}
}

// parseSince reads the optional "since" query parameter. An absent
// parameter means the start of the current day in UTC.
func parseSince(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse(time.RFC3339, raw)
}

// Summary returns the aggregated attendance report.
func (h *ReportHandler) Summary(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "since must be RFC 3339")
		return
	}

	summary, err := h.generator.Generate(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Entries returns the raw attendance entries since the given time.
func (h *ReportHandler) Entries(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "since must be RFC 3339")
		return
	}

	entries, err := h.attendance.ListSince(r.Context(), since)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list attendance")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
