// Package api exposes the analysis engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"repolens/internal/analysis"
	"repolens/internal/logging"
	"repolens/internal/store"
)

// Submitter is the orchestrator surface the API needs.
type Submitter interface {
	SubmitAsync(req analysis.BatchRequest) (string, error)
	Cancel(analysisID string) bool
	InFlightCount() int
}

// Results is the read-side store surface the API needs.
type Results interface {
	GetRecord(analysisID string) (*analysis.Record, error)
	ListRecords(opts store.ListOptions) ([]*analysis.Record, error)
	GetBatch(batchID string) (*analysis.BatchResult, error)
}

// Server is the HTTP API server.
type Server struct {
	router    *http.ServeMux
	server    *http.Server
	addr      string
	logger    *logging.Logger
	engine    Submitter
	results   Results
	tokenHash string
	startTime time.Time
}

// NewServer creates the HTTP server. When tokenHash is non-empty every
// API route requires a matching bearer token; health stays open.
func NewServer(addr string, engine Submitter, results Results, tokenHash string, logger *logging.Logger) *Server {
	s := &Server{
		addr:      addr,
		logger:    logger,
		engine:    engine,
		results:   results,
		tokenHash: tokenHash,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.applyMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/status", s.handleStatus)

	s.router.HandleFunc("/api/v1/analyze", s.handleAnalyze)
	s.router.HandleFunc("/api/v1/results", s.handleListResults)
	s.router.HandleFunc("/api/v1/results/", s.handleResultRoutes)
	s.router.HandleFunc("/api/v1/batches/", s.handleGetBatch)
}

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", map[string]interface{}{
		"addr": s.addr,
	})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server", nil)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	// Reverse order: the last wrap runs first.
	handler = AuthMiddleware(s.tokenHash)(handler)
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	return handler
}
