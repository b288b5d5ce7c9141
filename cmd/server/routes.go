package main

import (
	"log/slog"
	"net/http"
	"time"

	"hls-supervisor/internal/livestream"
	"hls-supervisor/internal/platform/logger"
	"hls-supervisor/internal/platform/metrics"
	"hls-supervisor/internal/platform/ratelimit"

	"github.com/go-chi/chi/v5"
)

// newRouter builds the HTTP surface. The publish hooks come from the ingest
// server on a single address and must always be answered, so only the
// sessions listing sits behind the per-IP limiter.
func newRouter(h *livestream.Handler, ctl *livestream.Controller, log *slog.Logger, met *metrics.Metrics, sessionsLimit int) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))

	if met != nil {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			met.Handler(func() { met.SetActiveSessions(ctl.ActiveSessions()) }).ServeHTTP(w, r)
		})
	}
	r.Get("/healthz", h.Healthz)

	r.Route("/rtmp", func(r chi.Router) {
		r.Post("/auth", h.PublishAuth)
		r.Post("/done", h.PublishDone)
		r.With(ratelimit.PerIP(sessionsLimit, time.Minute)).Get("/sessions", h.ListSessions)
		r.Get("/hls/{key}/{fileName}", h.GetArtifact)
	})
	r.Get("/hls/{key}/{fileName}", h.GetArtifact)
	r.Get("/hls/{key}/{resolution}/{fileName}", h.GetRenditionArtifact)

	return r
}
