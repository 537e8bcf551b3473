package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/grad-gate/internal/constants"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/embedding"
	"github.com/kozaktomas/grad-gate/internal/imaging"
	"github.com/kozaktomas/grad-gate/internal/token"
)

// Extractor produces a face embedding from an image using a named model.
type Extractor interface {
	ExtractFace(ctx context.Context, model string, imageData []byte) ([]float32, error)
}

// StudentsHandler handles student registration and lookup endpoints.
type StudentsHandler struct {
	store        database.StudentWriter
	extractor    Extractor
	index        *database.FaceIndex
	primaryModel string
}

// NewStudentsHandler creates a new students handler.
func NewStudentsHandler(store database.StudentWriter, extractor Extractor, index *database.FaceIndex, primaryModel string) *StudentsHandler {
	return &StudentsHandler{
		store:        store,
		extractor:    extractor,
		index:        index,
		primaryModel: primaryModel,
	}
}

// List returns all registered students. An optional q parameter filters by
// name, matched case- and diacritics-insensitively so staff can find
// "José García" by typing "jose".
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list students")
		return
	}
	if q := database.NormalizeName(r.URL.Query().Get("q")); q != "" {
		filtered := students[:0]
		for _, s := range students {
			if strings.Contains(database.NormalizeName(s.Name), q) {
				filtered = append(filtered, s)
			}
		}
		students = filtered
	}
	// Embeddings are large and useless to the console.
	for i := range students {
		students[i].PrimaryEmbedding = nil
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"students": students,
		"count":    len(students),
	})
}

// Get returns a single student by ID.
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	student, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load student")
		return
	}
	student.PrimaryEmbedding = nil
	respondJSON(w, http.StatusOK, student)
}

// Register creates or updates a student. A multipart form carries the
// student fields and an optional reference portrait, which is normalized
// and embedded before the record is stored.
func (h *StudentsHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	student := database.Student{
		ID:       r.FormValue("id"),
		Name:     r.FormValue("name"),
		Email:    r.FormValue("email"),
		Eligible: true,
	}
	if student.ID == "" || student.Name == "" {
		respondError(w, http.StatusBadRequest, "id and name are required")
		return
	}
	if v := r.FormValue("eligible"); v != "" {
		eligible, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "eligible must be a boolean")
			return
		}
		student.Eligible = eligible
	}

	portrait, present, ok := h.readImage(w, r, "portrait")
	if !ok {
		return
	}
	if present {
		vec, err := h.extractor.ExtractFace(r.Context(), h.primaryModel, portrait)
		if err != nil {
			if errors.Is(err, embedding.ErrNoFaceDetected) {
				respondError(w, http.StatusBadRequest, "no face detected in portrait")
				return
			}
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to embed portrait: %v", err))
			return
		}
		student.PrimaryEmbedding = vec
		student.Dim = len(vec)
	}

	if err := h.store.Save(r.Context(), student); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save student")
		return
	}

	if h.index != nil && len(student.PrimaryEmbedding) > 0 {
		if err := h.index.Add(&student); err != nil {
			log.Printf("failed to index student %s: %v", sanitizeForLog(student.ID), err)
		}
	}

	log.Printf("registered student %s", sanitizeForLog(student.ID))
	respondJSON(w, http.StatusCreated, map[string]any{
		"id":       student.ID,
		"embedded": len(student.PrimaryEmbedding) > 0,
	})
}

// RegisterCard stores an identity-card face embedding for one consensus
// model. Staff scan the card once per model at registration time.
func (h *StudentsHandler) RegisterCard(w http.ResponseWriter, r *http.Request) {
	studentID := chi.URLParam(r, "id")

	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	model := r.FormValue("model")
	if model == "" {
		respondError(w, http.StatusBadRequest, "model is required")
		return
	}
	if _, err := h.store.Get(r.Context(), studentID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load student")
		return
	}

	card, present, ok := h.readImage(w, r, "card")
	if !ok {
		return
	}
	if !present {
		respondError(w, http.StatusBadRequest, "card image is required")
		return
	}

	vec, err := h.extractor.ExtractFace(r.Context(), model, card)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFaceDetected) {
			respondError(w, http.StatusBadRequest, "no face detected on card")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to embed card: %v", err))
		return
	}

	emb := database.CardEmbedding{
		StudentID: studentID,
		Model:     model,
		Embedding: vec,
		Dim:       len(vec),
	}
	if err := h.store.SaveCardEmbedding(r.Context(), emb); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save card embedding")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"student_id": studentID,
		"model":      model,
		"dim":        emb.Dim,
	})
}

// Lookup finds students whose reference faces sit near an uploaded probe.
// Staff use it when a QR token cannot be read.
func (h *StudentsHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		respondError(w, http.StatusServiceUnavailable, "face index not available")
		return
	}
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	probe, present, ok := h.readImage(w, r, "probe")
	if !ok {
		return
	}
	if !present {
		respondError(w, http.StatusBadRequest, "probe image is required")
		return
	}

	vec, err := h.extractor.ExtractFace(r.Context(), h.primaryModel, probe)
	if err != nil {
		if errors.Is(err, embedding.ErrNoFaceDetected) {
			respondError(w, http.StatusBadRequest, "no face detected in probe")
			return
		}
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to embed probe: %v", err))
		return
	}

	candidates, err := h.index.Search(vec, constants.LookupCandidates, database.LookupThreshold)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
	})
}

// Token returns the QR payload for a student, for badge printing.
func (h *StudentsHandler) Token(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	student, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "student not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load student")
		return
	}

	payload, err := token.Encode(student.ID, student.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// readImage pulls a named file out of the parsed multipart form and
// normalizes it. It reports whether the file was present at all and
// whether processing succeeded; on failure it writes the error response.
func (h *StudentsHandler) readImage(w http.ResponseWriter, r *http.Request, field string) (data []byte, present, ok bool) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, false, true
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read %s", field))
		return nil, true, false
	}
	normalized, err := imaging.Normalize(raw, imaging.MaxDimension)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("%s is not a valid image", field))
		return nil, true, false
	}
	return normalized, true, true
}
