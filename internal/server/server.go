// Package server exposes the HTTP API: query submission, health, and cache
// administration.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/aravula7/agentic-rag-analytics/internal/cache"
	"github.com/aravula7/agentic-rag-analytics/internal/metrics"
	"github.com/aravula7/agentic-rag-analytics/internal/pipeline"
)

// Runner processes one query request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Response
}

// CacheAdmin is the management surface of the result cache.
type CacheAdmin interface {
	ReadStats(ctx context.Context) (*cache.Stats, error)
	Clear(ctx context.Context) (int64, error)
}

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Presigner issues time-limited download URLs for stored artifacts.
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Server handles the HTTP API.
type Server struct {
	runner   Runner
	cache    CacheAdmin // nil when caching is disabled
	db       Pinger
	presign  Presigner
	origins  []string
	version  string
	log      *slog.Logger
}

// New creates a Server. origins is the CORS allowlist; empty allows any.
func New(runner Runner, cacheAdmin CacheAdmin, db Pinger, presign Presigner, origins []string, version string, log *slog.Logger) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{runner: runner, cache: cacheAdmin, db: db, presign: presign, origins: origins, version: version, log: log}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/health", s.handleHealth)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
		r.Get("/reports/url", s.handleReportURL)
	})

	return r
}

// handleQuery runs a question through the pipeline. The status code reflects
// the outcome: 400 for an unusable request, 500 when the pipeline failed
// fatally, 200 otherwise, including the negative "no database access needed"
// classification.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	// Caching defaults to on; the decode only overrides it when the field is
	// present in the body.
	req := pipeline.Request{UseCache: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	resp := s.runner.Run(r.Context(), req)

	status := http.StatusOK
	if resp.Fatal() {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	dbStatus := "ok"
	if err := s.db.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		dbStatus = err.Error()
	}

	writeJSON(w, code, map[string]string{
		"status":   status,
		"database": dbStatus,
		"version":  s.version,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}
	stats, err := s.cache.ReadStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read cache stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}
	removed, err := s.cache.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cache: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// handleReportURL issues a presigned download URL for a stored artifact. Only
// keys under the artifact prefixes are presignable.
func (s *Server) handleReportURL(w http.ResponseWriter, r *http.Request) {
	if s.presign == nil {
		writeError(w, http.StatusServiceUnavailable, "presigning is not available")
		return
	}
	key := r.URL.Query().Get("key")
	if !strings.HasPrefix(key, "reports/") && !strings.HasPrefix(key, "queries/") {
		writeError(w, http.StatusBadRequest, "key must be under reports/ or queries/")
		return
	}
	if strings.Contains(key, "..") {
		writeError(w, http.StatusBadRequest, "invalid key")
		return
	}

	url, err := s.presign.PresignedURL(r.Context(), key, time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to presign: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "url": url})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
