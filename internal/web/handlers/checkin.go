package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/grad-gate/internal/checkin"
	"github.com/kozaktomas/grad-gate/internal/constants"
	"github.com/kozaktomas/grad-gate/internal/imaging"
)

// Processor runs a check-in attempt to a terminal outcome.
type Processor interface {
	Process(ctx context.Context, req checkin.Request) (*checkin.Outcome, error)
}

// CheckinHandler handles check-in attempts arriving from stations.
type CheckinHandler struct {
	processor Processor
}

// NewCheckinHandler creates a new check-in handler.
func NewCheckinHandler(processor Processor) *CheckinHandler {
	return &CheckinHandler{processor: processor}
}

// Process handles a check-in attempt. Stations either POST a multipart form
// with a "token" field and an optional "probe" image, or a JSON body with
// just the token when the station camera is wired to the server directly.
func (h *CheckinHandler) Process(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.processor.Process(r.Context(), req)
	if err != nil {
		log.Printf("check-in failed: %v", err)
		respondError(w, http.StatusInternalServerError, "check-in failed")
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

func (h *CheckinHandler) parseRequest(w http.ResponseWriter, r *http.Request) (checkin.Request, bool) {
	var req checkin.Request

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
			respondError(w, http.StatusBadRequest, "failed to parse multipart form")
			return req, false
		}
		req.RawToken = r.FormValue("token")

		if file, _, err := r.FormFile("probe"); err == nil {
			defer file.Close()
			data, err := io.ReadAll(file)
			if err != nil {
				respondError(w, http.StatusBadRequest, "failed to read probe image")
				return req, false
			}
			normalized, err := imaging.Normalize(data, imaging.MaxDimension)
			if err != nil {
				respondError(w, http.StatusBadRequest, "probe is not a valid image")
				return req, false
			}
			req.ProbeImage = normalized
		}
	} else {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, errInvalidRequestBody)
			return req, false
		}
		req.RawToken = body.Token
	}

	if strings.TrimSpace(req.RawToken) == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return req, false
	}
	return req, true
}
