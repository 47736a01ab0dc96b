// Package server provides the HTTP API for submitting and observing content jobs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/server/middleware"
	"github.com/jonathan/seo-workflows/internal/server/ratelimit"
	"github.com/jonathan/seo-workflows/internal/types"
)

// DefaultEventInterval is how often the events stream polls a job
const DefaultEventInterval = time.Second

// JobService is the job lifecycle the API exposes
type JobService interface {
	Submit(ctx context.Context, pipeline types.PipelineType, input json.RawMessage, ownerID uuid.UUID) (uuid.UUID, error)
	Resubmit(ctx context.Context, jobID, ownerID uuid.UUID) (uuid.UUID, error)
	GetJob(ctx context.Context, jobID, ownerID uuid.UUID) (*types.Job, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, limit int) ([]*types.Job, error)
	Cancel(ctx context.Context, jobID, ownerID uuid.UUID) error
}

// FileStore serves a job's published artifacts
type FileStore interface {
	List(ctx context.Context, ownerID, jobID uuid.UUID) ([]artifacts.FileInfo, error)
	Get(ctx context.Context, ownerID, jobID uuid.UUID, filename string) ([]byte, error)
}

// Config holds server configuration
type Config struct {
	Port int
	// EventInterval defaults to DefaultEventInterval
	EventInterval time.Duration
	RateLimit     ratelimit.Config
}

// Deps are the collaborators the handlers call
type Deps struct {
	Jobs   JobService
	Files  FileStore
	Tokens middleware.TokenValidator
	// Health reports whether backing services are reachable; optional
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer    *http.Server
	jobs          JobService
	files         FileStore
	health        func(ctx context.Context) error
	limiter       *ratelimit.Limiter
	eventInterval time.Duration
	logger        *slog.Logger
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Jobs == nil || deps.Files == nil || deps.Tokens == nil {
		return nil, errors.New("server: jobs, files and tokens are required")
	}
	if cfg.EventInterval <= 0 {
		cfg.EventInterval = DefaultEventInterval
	}

	s := &Server{
		jobs:          deps.Jobs,
		files:         deps.Files,
		health:        deps.Health,
		limiter:       ratelimit.NewLimiter(cfg.RateLimit),
		eventInterval: cfg.EventInterval,
		logger:        logging.NewComponentLogger(deps.Logger, "server"),
	}

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Auth(deps.Tokens)(s.withRateLimit(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /jobs/{pipeline}", authed(s.handleSubmit))
	mux.Handle("GET /jobs", authed(s.handleListJobs))
	mux.Handle("GET /jobs/{id}", authed(s.handleGetJob))
	mux.Handle("POST /jobs/{id}/cancel", authed(s.handleCancel))
	mux.Handle("POST /jobs/{id}/retry", authed(s.handleRetry))
	mux.Handle("GET /jobs/{id}/files", authed(s.handleListFiles))
	mux.Handle("GET /jobs/{id}/files/{filename}", authed(s.handleGetFile))
	mux.Handle("GET /jobs/{id}/events", authed(s.handleEvents))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withLogging(s.withCORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// no WriteTimeout: event streams stay open until the job ends
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer s.limiter.Stop()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit throttles submissions per authenticated owner
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		allowed, info := s.limiter.Allow(client, r.Method, r.URL.Path)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			retry := int(info.RetryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			s.logger.Warn("rate limit exceeded",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
				slog.Int("retry_after_s", retry),
			)
			s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"retry_after": retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID keys rate limits by owner, falling back to the remote IP
func clientID(r *http.Request) string {
	if owner, ok := middleware.OwnerID(r.Context()); ok {
		return owner.String()
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusRecorder captures the response status for access logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the logging wrapper
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", logging.Error(err))
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", logging.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}
