package livestream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"hls-supervisor/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Hook response bodies expected by the ingest server.
const (
	bodyOK         = "OK"
	bodyDone       = "DONE"
	bodyInvalidKey = "Invalid stream key"
)

// Handler exposes the publish hooks and artifact endpoints using go-chi.
type Handler struct {
	ctl       *Controller
	artifacts *ArtifactServer
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(ctl *Controller, artifacts *ArtifactServer, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{ctl: ctl, artifacts: artifacts, log: log, metrics: m}
}

// OnPublishStart decides whether the ingest server may accept a publish and
// starts the transcoder when it may.
func (h *Handler) OnPublishStart(app string, key StreamKey, tcURL string) (int, string) {
	h.log.Info("on_publish",
		slog.String("app", app),
		slog.String("stream_key", string(key)),
		slog.String("tcurl", tcURL))

	_, err := h.ctl.StartSession(key)
	switch {
	case err == nil:
		return http.StatusOK, bodyOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden, bodyInvalidKey
	case errors.Is(err, ErrIO):
		return http.StatusInternalServerError, "Server error: cannot create output directory"
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Failed to start transcoder for stream key %s", key)
	}
}

// OnPublishDone stops the session for key. It always succeeds.
func (h *Handler) OnPublishDone(app string, key StreamKey) (int, string) {
	h.log.Info("on_publish_done",
		slog.String("app", app),
		slog.String("stream_key", string(key)))
	h.ctl.StopSession(key)
	return http.StatusOK, bodyDone
}

// PublishAuth handles POST /rtmp/auth. Params: app, name (stream key), tcurl.
func (h *Handler) PublishAuth(w http.ResponseWriter, r *http.Request) {
	status, body := h.OnPublishStart(r.FormValue("app"), StreamKey(r.FormValue("name")), r.FormValue("tcurl"))
	writeText(w, status, body)
}

// PublishDone handles POST /rtmp/done. Params: app, name (stream key).
func (h *Handler) PublishDone(w http.ResponseWriter, r *http.Request) {
	status, body := h.OnPublishDone(r.FormValue("app"), StreamKey(r.FormValue("name")))
	writeText(w, status, body)
}

// GetArtifact handles GET /rtmp/hls/{key}/{fileName} and GET /hls/{key}/{fileName}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	key, okKey := pathParam(r, "key")
	name, okName := pathParam(r, "fileName")
	if !okKey || !okName {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.serveArtifact(w, r, StreamKey(key), "", name)
}

// GetRenditionArtifact handles GET /hls/{key}/{resolution}/{fileName}.
func (h *Handler) GetRenditionArtifact(w http.ResponseWriter, r *http.Request) {
	key, okKey := pathParam(r, "key")
	res, okRes := pathParam(r, "resolution")
	name, okName := pathParam(r, "fileName")
	if !okKey || !okRes || !okName {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.serveArtifact(w, r, StreamKey(key), RenditionID(res), name)
}

// ListSessions handles GET /rtmp/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.ctl.Sessions()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(sessions); err != nil {
		h.log.Debug("write sessions response", slog.String("error", err.Error()))
	}
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

func (h *Handler) serveArtifact(w http.ResponseWriter, r *http.Request, key StreamKey, rendition RenditionID, name string) {
	art, err := h.artifacts.Open(key, rendition, name)
	if err != nil {
		switch {
		case errors.Is(err, ErrForbidden):
			h.log.Warn("artifact request escapes stream directory",
				slog.String("event", "artifact.forbidden"),
				slog.String("stream_key", string(key)),
				slog.String("rendition", string(rendition)),
				slog.String("file", name),
				slog.String("remote", r.RemoteAddr),
				slog.String("error", err.Error()))
			if h.metrics != nil {
				h.metrics.IncArtifactsForbidden()
			}
			w.WriteHeader(http.StatusForbidden)
		case errors.Is(err, ErrNotFound):
			h.log.Debug("artifact not found",
				slog.String("stream_key", string(key)),
				slog.String("rendition", string(rendition)),
				slog.String("file", name))
			w.WriteHeader(http.StatusNotFound)
		default:
			h.log.Error("open artifact failed",
				slog.String("stream_key", string(key)),
				slog.String("file", name),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	defer art.Close()

	w.Header().Set("Content-Type", art.ContentType)
	kind := "segment"
	if art.IsManifest() {
		// Live playlists are rewritten every segment.
		w.Header().Set("Cache-Control", "no-cache")
		kind = "manifest"
	}
	http.ServeContent(w, r, art.Name, art.ModTime, art.File)
	if h.metrics != nil {
		h.metrics.IncArtifactsServed(kind)
	}
}

// pathParam returns the decoded chi URL parameter. chi routes on RawPath when
// the request carries one, so only then is the value still escaped.
func pathParam(r *http.Request, name string) (string, bool) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		var err error
		if v, err = url.PathUnescape(v); err != nil {
			return "", false
		}
	}
	if v == "" {
		return "", false
	}
	return v, true
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
