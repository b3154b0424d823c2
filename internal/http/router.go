// Package http serves the status surface and the assistant endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ai-stream-fusion-service/internal/service/assistant"
	"ai-stream-fusion-service/internal/service/coordinator"
	"ai-stream-fusion-service/internal/video"
)

const maxBodyBytes = 64 << 10

// SnapshotSource provides the state published by the coordinator.
type SnapshotSource interface {
	Snapshot() coordinator.Snapshot
}

// FrameSource provides the most recently displayed frame.
type FrameSource interface {
	Latest() *video.Frame
}

// Assistant answers questions and synthesizes speech.
type Assistant interface {
	Ask(ctx context.Context, question string) string
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Deps are the collaborators the router serves. Frames and Assistant are
// optional; Ready defaults to always ready.
type Deps struct {
	State       SnapshotSource
	Frames      FrameSource
	Assistant   Assistant
	Ready       func() bool
	JPEGQuality int
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(deps Deps) http.Handler {
	if deps.Ready == nil {
		deps.Ready = func() bool { return true }
	}
	if deps.JPEGQuality <= 0 {
		deps.JPEGQuality = video.DefaultJPEGQuality
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	// Health endpoints
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !deps.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", h.state)
		r.Get("/debug", h.debug)
		r.Get("/frame.jpg", h.frame)
		r.Post("/chat", h.chat)
		r.Post("/speak", h.speak)
	})

	return r
}

type handlers struct {
	deps Deps
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *handlers) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.State.Snapshot())
}

type debugResponse struct {
	Lines []string `json:"lines"`
}

func (h *handlers) debug(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.State.Snapshot()
	lines := make([]string, 0, len(snap.Debug))
	for _, e := range snap.Debug {
		lines = append(lines, e.String())
	}
	writeJSON(w, http.StatusOK, debugResponse{Lines: lines})
}

func (h *handlers) frame(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Frames == nil {
		writeError(w, http.StatusNotFound, "no frame available")
		return
	}
	f := h.deps.Frames.Latest()
	if f == nil {
		writeError(w, http.StatusNotFound, "no frame available")
		return
	}
	data, err := f.JPEG(h.deps.JPEGQuality)
	if err != nil {
		log.Error().Err(err).Uint64("frameSeq", f.Seq).Msg("Failed to encode frame")
		writeError(w, http.StatusInternalServerError, "failed to encode frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	if h.deps.Assistant == nil {
		writeError(w, http.StatusNotImplemented, "assistant not configured")
		return
	}
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: h.deps.Assistant.Ask(r.Context(), req.Question)})
}

type speakRequest struct {
	Text string `json:"text"`
}

func (h *handlers) speak(w http.ResponseWriter, r *http.Request) {
	if h.deps.Assistant == nil {
		writeError(w, http.StatusNotImplemented, "assistant not configured")
		return
	}
	var req speakRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := h.deps.Assistant.Speak(r.Context(), req.Text)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, assistant.ErrNoSynthesizer):
			status = http.StatusNotImplemented
		case errors.Is(err, context.Canceled):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(audio)
}
