package transcription

import (
	"context"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Factory picks a session strategy from a model's capabilities
type Factory struct {
	Batch BatchTranscriber

	// NewStreamer returns a fresh streaming transcriber per session. Nil
	// disables streaming.
	NewStreamer func() StreamingTranscriber

	Catalog  *models.Catalog
	Options  StreamingOptions
	Logger   *logger.Logger
	Observer Observer
}

// StreamingEnabled reports whether streaming sessions can be created
func (f *Factory) StreamingEnabled() bool {
	return f.NewStreamer != nil
}

// NewSession returns a StreamingSession for streaming-capable models and a
// FileSession otherwise. Either way a streaming-only model is transcribed
// in batch with its catalog fallback.
func (f *Factory) NewSession(model models.Model) Session {
	log := f.Logger
	if log == nil {
		log = logger.NewNop()
	}

	var fallback *models.Model
	if f.Catalog != nil {
		if fb, ok := f.Catalog.FallbackFor(model); ok {
			fallback = &fb
		}
	}

	if model.SupportsStreaming && f.StreamingEnabled() {
		return NewStreamingSession(f.NewStreamer(), f.Batch, fallback, f.Options, log, f.Observer)
	}

	// Streaming-only models reach the batch API through their fallback
	s := NewFileSession(f.Batch, log, f.Observer)
	s.fallback = fallback
	return s
}

// Start creates and prepares a session
func (f *Factory) Start(ctx context.Context, model models.Model) (Session, ChunkFunc, error) {
	session := f.NewSession(model)
	onChunk, err := session.Prepare(ctx, model)
	if err != nil {
		session.Cancel()
		return nil, nil, err
	}
	return session, onChunk, nil
}
