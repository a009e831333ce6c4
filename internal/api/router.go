// Package api exposes the ingestion service over JSON/HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/rpattn/sitepolygons/internal/ingestion"
	"github.com/rpattn/sitepolygons/internal/middleware"
)

// DefaultMaxUploadBytes bounds request bodies when no limit is configured.
const DefaultMaxUploadBytes int64 = 64 << 20

type RouterConfig struct {
	AllowedOrigins []string
	MaxUploadBytes int64
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter wires every route behind CORS, request logging and actor
// extraction.
func NewRouter(service *ingestion.Service, logger *slog.Logger, cfg RouterConfig) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, logger: logger, maxUploadBytes: cfg.MaxUploadBytes}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadBytes
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	r := chi.NewRouter()
	r.Use(corsHandler.Handler)
	r.Use(middleware.LoggingMiddleware(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1/site-polygons", func(r chi.Router) {
		r.Use(middleware.ActorMiddleware)

		r.Post("/upload", h.Upload)
		r.Put("/status", h.UpdateStatus)
		r.Get("/lineage/{primaryUuid}", h.Lineage)
		r.Get("/lineage/{primaryUuid}/updates", h.History)

		r.Post("/{uuid}/versions", h.CreateVersion)
		r.Put("/{uuid}/activate", h.Activate)
		r.Get("/{uuid}/duplicates", h.Duplicates)
		r.Get("/{uuid}/diff/{targetUuid}", h.Diff)
	})
	return r
}
