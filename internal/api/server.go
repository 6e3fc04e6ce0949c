// Package api exposes the HTTP interface of the deploy status server.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/prospectbase/deployctl/internal/compose"
	"github.com/prospectbase/deployctl/internal/config"
	"github.com/prospectbase/deployctl/internal/history"
	"github.com/prospectbase/deployctl/internal/telemetry"
)

// Server wires HTTP handlers to the compose runner and history store.
type Server struct {
	router chi.Router
	runner compose.Runner
	store  history.Store
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runner compose.Runner, store history.Store, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = history.NoOpStore{}
	}
	s := &Server{
		runner: runner,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(telemetry.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/version", s.version)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.AuthEnabled {
			r.Use(apiKeyMiddleware(cfg.Server.APIKey))
		}
		r.Get("/deployments", s.listDeployments)
		r.Get("/services", s.listServices)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	services, err := s.runner.Ps(r.Context())
	if err != nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "cannot list services")
		return
	}
	for _, svc := range services {
		if !svc.Running() {
			writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{
				"status":  "not ready",
				"service": svc.Service,
				"state":   svc.State,
			})
			return
		}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRecent(r.Context(), s.cfg.Environment, 20)
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, "failed to fetch deployment history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"deployments": records})
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, s.logger, http.StatusServiceUnavailable, "compose runner not configured")
		return
	}
	services, err := s.runner.Ps(r.Context())
	if err != nil {
		writeError(w, s.logger, http.StatusInternalServerError, "failed to list services")
		return
	}
	if services == nil {
		services = []compose.Service{}
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]any{"services": services})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, logger, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeErrorNoLog(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}

func writeErrorNoLog(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
