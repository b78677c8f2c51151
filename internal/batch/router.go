// Package batch implements file transcription against the configured
// providers and dispatches to them by model provider.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Router dispatches batch transcription to the transcriber registered for
// the model's provider
type Router struct {
	transcribers map[models.Provider]transcription.BatchTranscriber
	logger       *logger.Logger
}

// NewRouter creates an empty router
func NewRouter(log *logger.Logger) *Router {
	return &Router{
		transcribers: make(map[models.Provider]transcription.BatchTranscriber),
		logger:       log.Named("batch-router"),
	}
}

// Register sets the transcriber for a provider, replacing any previous one
func (r *Router) Register(provider models.Provider, t transcription.BatchTranscriber) {
	r.transcribers[provider] = t
}

// Supports reports whether a transcriber is registered for provider
func (r *Router) Supports(provider models.Provider) bool {
	_, ok := r.transcribers[provider]
	return ok
}

// Transcribe implements transcription.BatchTranscriber
func (r *Router) Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error) {
	t, ok := r.transcribers[model.Provider]
	if !ok {
		return "", fmt.Errorf("no batch transcriber for provider %q", model.Provider)
	}

	start := time.Now()
	text, err := t.Transcribe(ctx, audioPath, model)
	if err != nil {
		return "", err
	}

	r.logger.Info("Batch transcription complete",
		logger.String("model", model.ID),
		logger.String("provider", string(model.Provider)),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("chars", len(text)))

	return text, nil
}
