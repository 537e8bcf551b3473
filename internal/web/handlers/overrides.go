package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/grad-gate/internal/checkin"
)

// OverridesHandler exposes pending manual override requests to staff.
type OverridesHandler struct {
	overrides *checkin.OverrideManager
}

// NewOverridesHandler creates a new overrides handler.
func NewOverridesHandler(overrides *checkin.OverrideManager) *OverridesHandler {
	return &OverridesHandler{overrides: overrides}
}

// List returns override requests awaiting a decision, newest first.
func (h *OverridesHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"overrides": h.overrides.Pending(),
	})
}

// Get returns a single override request by ID.
func (h *OverridesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req := h.overrides.Get(id)
	if req == nil {
		respondError(w, http.StatusNotFound, "override request not found")
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// Decide delivers a staff decision to a pending override request. The
// parked check-in attempt resumes with the decision.
func (h *OverridesHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var decision checkin.Decision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := h.overrides.Resolve(id, decision); err != nil {
		if errors.Is(err, checkin.ErrOverrideNotFound) {
			respondError(w, http.StatusNotFound, "override request not found or already decided")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("override %s decided: approve=%v staff=%s", sanitizeForLog(id), decision.Approve, sanitizeForLog(decision.StaffID))
	respondJSON(w, http.StatusOK, map[string]any{
		"id":       id,
		"approved": decision.Approve,
	})
}
