// Package metrics provides the broker's Prometheus metrics and the HTTP
// server exposing them
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthFunc reports component health; a nil error means healthy
type HealthFunc func(ctx context.Context) error

// Server provides HTTP server for Prometheus metrics
type Server struct {
	port   int
	health HealthFunc
	server *http.Server
	log    zerolog.Logger
}

// NewServer creates a new metrics server. health may be nil.
func NewServer(port int, health HealthFunc, log zerolog.Logger) *Server {
	return &Server{
		port:   port,
		health: health,
		log:    log.With().Str("component", "metrics_server").Logger(),
	}
}

// Handler returns the HTTP handler serving /metrics and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	var detail string
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			status, code, detail = "unhealthy", http.StatusServiceUnavailable, err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "error": detail})
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("Starting metrics server")

	// Start in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.log.Info().Msg("Shutting down metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info().Msg("Metrics server shutdown complete")
	return nil
}
