package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/dictation"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/storage/sqlite"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// OutcomeStore serves session history
type OutcomeStore interface {
	GetRecentOutcomes(ctx context.Context, limit int) ([]*sqlite.OutcomeRecord, error)
	GetStats(ctx context.Context, since time.Time) (*sqlite.OutcomeStats, error)
}

// Handler handles API requests
type Handler struct {
	service  *dictation.Service
	outcomes OutcomeStore
	options  Options
	logger   *logger.Logger

	// live dictation sockets; hijacked connections are invisible to
	// http.Server.Shutdown
	socketsMu sync.Mutex
	sockets   map[*websocket.Conn]struct{}
	closing   bool
}

// NewHandler creates a new API handler
func NewHandler(service *dictation.Service, outcomes OutcomeStore, options Options, log *logger.Logger) *Handler {
	if options.MaxUploadBytes <= 0 {
		options.MaxUploadBytes = 50 << 20
	}
	return &Handler{
		service:  service,
		outcomes: outcomes,
		options:  options,
		logger:   log.Named("api-handler"),
		sockets:  make(map[*websocket.Conn]struct{}),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"streaming_enabled": h.options.StreamingEnabled,
		"time":              time.Now().UTC(),
	})
}

type modelsResponse struct {
	Default string         `json:"default"`
	Models  []models.Model `json:"models"`
}

// GetModels handles GET /api/v1/models
func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	catalog := h.service.Catalog()
	h.writeJSON(w, http.StatusOK, modelsResponse{
		Default: catalog.Default().ID,
		Models:  catalog.List(),
	})
}

type transcriptionResponse struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// CreateTranscription handles POST /api/v1/transcriptions with a multipart
// "file" (PCM16 mono WAV) and an optional "model"
func (h *Handler) CreateTranscription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.options.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	modelID := r.FormValue("model")
	model, err := h.service.Catalog().Resolve(modelID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	text, err := h.service.TranscribeReader(r.Context(), model.ID, file)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, audio.ErrNotWAV), errors.Is(err, dictation.ErrFormatMismatch):
			status = http.StatusUnsupportedMediaType
		case errors.Is(err, context.Canceled):
			return
		}
		h.logger.Warn("Transcription request failed",
			logger.String("model", model.ID),
			logger.Error(err))
		h.writeError(w, status, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, transcriptionResponse{Model: model.ID, Text: text})
}

// GetRecentSessions handles GET /api/v1/sessions?limit=N
func (h *Handler) GetRecentSessions(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		h.writeError(w, http.StatusServiceUnavailable, "session history is disabled")
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSessionLimit)
	}

	records, err := h.outcomes.GetRecentOutcomes(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to get recent sessions", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": records,
		"count":    len(records),
	})
}

// GetSessionStats handles GET /api/v1/sessions/stats?window=24h
func (h *Handler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		h.writeError(w, http.StatusServiceUnavailable, "session history is disabled")
		return
	}

	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	stats, err := h.outcomes.GetStats(r.Context(), time.Now().Add(-window))
	if err != nil {
		h.logger.Error("Failed to get session stats", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}
