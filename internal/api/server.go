// Package api exposes the observability HTTP surface: health, a JSON stats
// snapshot, and Prometheus metrics. It has no scraping endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/soccerdata/tmfetch/internal/monitor"
	"github.com/soccerdata/tmfetch/internal/session"
)

// Server wires HTTP handlers to the monitor and session pool.
type Server struct {
	router   chi.Router
	mon      *monitor.Monitor
	sessions *session.Manager
	logger   *zap.Logger
}

// NewServer constructs a Server.
func NewServer(mon *monitor.Monitor, sessions *session.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{mon: mon, sessions: sessions, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/stats", s.stats)
	r.Method(http.MethodGet, "/metrics", monitor.Handler())
	s.router = r
	return s
}

// Handler returns the HTTP handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context finishes, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("stats server listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown stats server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("stats server: %w", err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statsPayload is the snapshot query answered to external monitoring.
type statsPayload struct {
	monitor.Snapshot
	SessionPool session.Stats `json:"session_pool"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	payload := statsPayload{
		Snapshot:    s.mon.Snapshot(),
		SessionPool: s.sessions.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode stats payload", zap.Error(err))
	}
}
