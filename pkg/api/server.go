// Package api exposes the run engine over REST.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/testpilot/pkg/engine"
	"github.com/odvcencio/testpilot/pkg/logging"
)

// Server is the testpilot API server.
type Server struct {
	runs            *engine.Service
	log             *logging.Logger
	defaultHeadless bool
	httpServer      *http.Server
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to listen on (default: :8080)
	Address string

	// Runs is the run engine
	Runs *engine.Service

	// Logger for request-level events (optional)
	Logger *logging.Logger

	// Metrics registry exposed at /metrics (optional)
	Metrics *prometheus.Registry

	// HeadedByDefault makes runs open a visible browser window unless the
	// request says otherwise. Off means runs default to headless.
	HeadedByDefault bool
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}

	s := &Server{
		runs:            cfg.Runs,
		log:             cfg.Logger,
		defaultHeadless: !cfg.HeadedByDefault,
	}

	router := chi.NewRouter()
	router.Use(withCORS)
	router.Use(s.withLogging)

	router.Get("/healthz", s.handleHealthz)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	router.Route("/api/v1", func(r chi.Router) {
		// Shared run views are public; the token is the capability.
		r.Get("/share/{shareToken}", s.handleGetSharedRun)
		r.Post("/share/{shareToken}/verify", s.handleVerifyFix)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/tests/{testID}/run", s.handleStartRun)
			r.Get("/tests/{testID}/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)
		})
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Middleware

type contextKey string

const userIDKey contextKey = "userID"

// requireUser rejects requests without an authenticated user. Identity arrives
// in the X-User-ID header, set by the gateway in front of this service.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug(logging.CategoryAPI, "http_request", "", r.Method+" "+r.URL.Path, map[string]any{
			"remote":     r.RemoteAddr,
			"durationMs": time.Since(start).Milliseconds(),
		})
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helpers
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps engine error kinds onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case engine.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
