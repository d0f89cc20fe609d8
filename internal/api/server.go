// Package api is the HTTP operator surface: enqueue and inspect jobs over a
// chi + huma JSON API, plus /healthz and /metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/yusufsahin/queuepgskip/internal/config"
	"github.com/yusufsahin/queuepgskip/internal/store"
)

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store       *store.Store
	cfg         *config.Config
	rateLimiter *ipRateLimiter
}

// NewServer creates a Server.
func NewServer(s *store.Store, cfg *config.Config) *Server {
	evictTTL := cfg.RateLimitEvictTTL
	if evictTTL == 0 {
		evictTTL = 15 * time.Minute
	}
	// 60 enqueues per minute per IP, burst of 10.
	rl := newIPRateLimiter(rate.Limit(1), 10, evictTTL)
	return &Server{
		store:       s,
		cfg:         cfg,
		rateLimiter: rl,
	}
}

// Close releases server resources (the rate limiter's background sweeper).
func (srv *Server) Close() {
	srv.rateLimiter.stop()
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	var db *pgxpool.Pool
	if srv.store != nil {
		db = srv.store.Pool()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	// 1 MB global body limit — enqueue bodies are two paths, anything larger
	// is malformed.
	r.Use(middleware.RequestSize(1 << 20))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(db))
	r.Handle("/metrics", promhttp.Handler())

	apiRouter := chi.NewRouter()
	// Enqueue is write traffic; per-IP limited. Reads are not.
	apiRouter.Use(srv.enqueueRateLimit())
	humaConfig := huma.DefaultConfig("queuepgskip API", "0.1.0")
	humaConfig.Info.Description = "Durable file-transfer job queue over Postgres SKIP LOCKED"
	api := humachi.New(apiRouter, humaConfig)
	registerJobRoutes(api, srv.store)

	r.Mount("/api/v1", apiRouter)

	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the DB is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func healthzHandler(db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		statusCode := http.StatusOK

		if db == nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		} else if err := db.Ping(r.Context()); err != nil {
			slog.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
			resp.Status = "degraded"
			resp.DB = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
		}
	}
}
