// Package server provides the HTTP API: question answering, passage search,
// ingestion and status.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/indexer"
	"github.com/fstsettat/formabot/internal/search"
	"github.com/fstsettat/formabot/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrCatalogDisabled is returned by Service.Formations when no catalog is configured.
var ErrCatalogDisabled = errors.New("catalog is disabled")

// Service runs ingestion and reports status on behalf of the handlers.
type Service interface {
	Ingest(ctx context.Context) (*indexer.RunResult, error)
	Status(ctx context.Context) (*Status, error)
	Formations(ctx context.Context) ([]storage.FormationSummary, error)
}

// Server is the HTTP server for the question answering API.
type Server struct {
	engine  *search.Engine
	service Service
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(engine *search.Engine, service Service, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		service: service,
		config:  cfg,
		logger:  logger,
	}
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(2 * time.Minute)).Post("/ask", s.handleAsk)
		r.With(middleware.Timeout(30 * time.Second)).Post("/search", s.handleSearch)
		r.Post("/ingest", s.handleIngest)
		r.Get("/status", s.handleStatus)
		r.Get("/formations", s.handleFormations)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
