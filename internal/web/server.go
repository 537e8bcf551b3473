package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/grad-gate/internal/checkin"
	"github.com/kozaktomas/grad-gate/internal/config"
	"github.com/kozaktomas/grad-gate/internal/database"
	"github.com/kozaktomas/grad-gate/internal/report"
	"github.com/kozaktomas/grad-gate/internal/web/handlers"
	"github.com/kozaktomas/grad-gate/internal/web/middleware"
)

// Deps are the collaborators the server exposes over HTTP.
type Deps struct {
	Orchestrator *checkin.Orchestrator
	Overrides    *checkin.OverrideManager
	Students     database.StudentWriter
	Attendance   database.AttendanceReader
	Extractor    handlers.Extractor
	Index        *database.FaceIndex
	Reports      *report.Generator
	PrimaryModel string
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps, host string, port int) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Set up routes
	s.setupRoutes()

	// Create HTTP server. The write timeout leaves room for a check-in
	// attempt parked on a manual override decision.
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
