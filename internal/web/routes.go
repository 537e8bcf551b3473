package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/grad-gate/internal/web/handlers"
	"github.com/kozaktomas/grad-gate/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	checkinHandler := handlers.NewCheckinHandler(s.deps.Orchestrator)
	overridesHandler := handlers.NewOverridesHandler(s.deps.Overrides)
	studentsHandler := handlers.NewStudentsHandler(s.deps.Students, s.deps.Extractor, s.deps.Index, s.deps.PrimaryModel)
	reportHandler := handlers.NewReportHandler(s.deps.Reports, s.deps.Attendance)

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Station endpoints. Stations are trusted devices on the venue
		// network; they submit check-in attempts without staff credentials.
		r.Post("/checkin", checkinHandler.Process)

		// Staff endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff(s.config.Web.StaffToken))

			// Manual overrides
			r.Get("/overrides", overridesHandler.List)
			r.Get("/overrides/{id}", overridesHandler.Get)
			r.Post("/overrides/{id}/decision", overridesHandler.Decide)

			// Students
			r.Get("/students", studentsHandler.List)
			r.Post("/students", studentsHandler.Register)
			r.Get("/students/{id}", studentsHandler.Get)
			r.Get("/students/{id}/token", studentsHandler.Token)
			r.Post("/students/{id}/card", studentsHandler.RegisterCard)
			r.Post("/students/lookup", studentsHandler.Lookup)

			// Attendance
			r.Get("/report", reportHandler.Summary)
			r.Get("/attendance", reportHandler.Entries)
		})
	})
}
