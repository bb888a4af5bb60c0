package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-forumsync/internal/stats"
	"go.uber.org/zap"
)

// Probe reports the health and current state of the running session.
type Probe interface {
	Healthy() error
	Status() any
}

// Server is the local operator endpoint of the CLI: metrics, health and
// session status.
type Server struct {
	log   *zap.Logger
	probe Probe
	srv   *http.Server
}

func NewServer(l *zap.Logger, addr string, su *stats.StatsUpdater, probe Probe) *Server {
	s := &Server{
		log:   l,
		probe: probe,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", su.Handler())
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /status", s.status)

	var h http.Handler = handlers.CombinedLoggingHandler(zap.NewStdLog(l).Writer(), mux)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: h,
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() error {
	s.log.Info("starting admin server", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down admin server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.probe.Healthy(); err != nil {
		s.log.Warn("health check failed", zap.Error(err))
		s.writeJson(w, http.StatusServiceUnavailable, errorResponse{
			StatusCode: http.StatusServiceUnavailable,
			Message:    err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeJson(w, http.StatusOK, s.probe.Status())
}

type errorResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}
