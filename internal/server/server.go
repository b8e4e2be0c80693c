package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

// Server exposes a read-only JSON view of a running or completed study.
// It never mutates storage, so it can run alongside the scheduler or be
// pointed at a finished database afterwards.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	store     store.Store
	goals     []model.Goal
	startTime time.Time
}

// New creates a Server with all routes registered. goals determines the
// optimization direction used by the best-trial endpoint.
func New(st store.Store, goals []model.Goal, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		store:     st,
		goals:     goals,
		startTime: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/study", s.handleStudy)
		r.Get("/trials", s.handleTrials)
		r.Get("/trials/{id}", s.handleTrial)
		r.Get("/best", s.handleBest)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}
