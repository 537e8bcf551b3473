package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/grad-gate/internal/checkin"
	"github.com/kozaktomas/grad-gate/internal/database"
)

func overridesRouter(h *OverridesHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/overrides", h.List)
	r.Get("/overrides/{id}", h.Get)
	r.Post("/overrides/{id}/decision", h.Decide)
	return r
}

func TestOverridesListAndGet(t *testing.T) {
	manager := checkin.NewOverrideManager()
	req1 := manager.Create("tok-1", &database.Student{ID: "s-1", Name: "Ada Lovelace"}, "consensus rejected", nil)
	router := overridesRouter(NewOverridesHandler(manager))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overrides", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listResp struct {
		Overrides []checkin.OverrideRequest `json:"overrides"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listResp); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(listResp.Overrides) != 1 || listResp.Overrides[0].ID != req1.ID {
		t.Errorf("list = %+v, want the pending request", listResp.Overrides)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overrides/"+req1.ID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/overrides/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want 404", rec.Code)
	}
}

func TestOverridesDecide(t *testing.T) {
	manager := checkin.NewOverrideManager()
	pending := manager.Create("tok-1", nil, "token unresolved", nil)
	router := overridesRouter(NewOverridesHandler(manager))

	decided := make(chan checkin.Decision, 1)
	go func() {
		d, err := pending.Await(t.Context())
		if err != nil {
			t.Errorf("Await() error = %v", err)
		}
		decided <- d
	}()

	body := `{"approve": true, "student_id": "s-1", "staff_id": "staff-9"}`
	req := httptest.NewRequest(http.MethodPost, "/overrides/"+pending.ID+"/decision", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	select {
	case d := <-decided:
		if !d.Approve || d.StudentID != "s-1" || d.StaffID != "staff-9" {
			t.Errorf("decision = %+v, want approval by staff-9 for s-1", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decision never reached the waiting attempt")
	}

	// A second decision on the same request must 404.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/overrides/"+pending.ID+"/decision", strings.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("repeat decide status = %d, want 404", rec.Code)
	}
}

func TestOverridesDecideBadBody(t *testing.T) {
	manager := checkin.NewOverrideManager()
	pending := manager.Create("tok-1", nil, "token unresolved", nil)
	router := overridesRouter(NewOverridesHandler(manager))

	req := httptest.NewRequest(http.MethodPost, "/overrides/"+pending.ID+"/decision", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
