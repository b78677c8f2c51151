package transcription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultFinalizeTimeout = 15 * time.Second
)

// StreamingOptions bounds the network phases of a streaming session
type StreamingOptions struct {
	ConnectTimeout  time.Duration
	FinalizeTimeout time.Duration
}

func (o StreamingOptions) withDefaults() StreamingOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return o
}

// streamHandle is what the chunk callback sees. The session clears it on
// Transcribe and Cancel, after which late chunks are dropped.
type streamHandle struct {
	StreamingTranscriber
}

// StreamingSession streams audio while recording and falls back to batch
// transcription of the recorded file, exactly once, when the stream fails.
type StreamingSession struct {
	id       string
	streamer StreamingTranscriber
	batch    BatchTranscriber
	fallback *models.Model
	opts     StreamingOptions
	logger   *logger.Logger
	observer Observer

	model       models.Model
	prepared    bool
	transcribed bool

	ctx    context.Context
	cancel context.CancelFunc

	sink atomic.Pointer[streamHandle]

	// connected is closed by the connect goroutine after connectErr and
	// connectTime are written. Neither is read before that.
	connected   chan struct{}
	connectErr  error
	connectTime time.Duration

	releaseOnce sync.Once
}

var _ Session = (*StreamingSession)(nil)

// NewStreamingSession creates a session that owns streamer for its whole
// lifetime. fallback, when non-nil, replaces the active model for batch
// transcription (streaming-only models are rejected by batch APIs).
func NewStreamingSession(
	streamer StreamingTranscriber,
	batch BatchTranscriber,
	fallback *models.Model,
	opts StreamingOptions,
	log *logger.Logger,
	observer Observer,
) *StreamingSession {
	if observer == nil {
		observer = nopObserver{}
	}
	id := uuid.NewString()
	return &StreamingSession{
		id:        id,
		streamer:  streamer,
		batch:     batch,
		fallback:  fallback,
		opts:      opts.withDefaults(),
		logger:    log.Named("streaming-session").WithSessionID(id),
		observer:  observer,
		connected: make(chan struct{}),
	}
}

// ID returns the session identifier used in logs and reports
func (s *StreamingSession) ID() string {
	return s.id
}

// Prepare returns the chunk callback immediately and connects in the
// background. Chunks sent before the connection is up are queued by the
// streaming transcriber.
func (s *StreamingSession) Prepare(ctx context.Context, model models.Model) (ChunkFunc, error) {
	if s.prepared {
		return nil, &PreconditionError{Op: "prepare", Reason: "session already prepared"}
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if !model.SupportsStreaming {
		return nil, fmt.Errorf("model %s does not support streaming", model.ID)
	}

	s.model = model
	s.prepared = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.sink.Store(&streamHandle{StreamingTranscriber: s.streamer})

	go s.connect(s.ctx, model)

	sink := &s.sink
	return func(chunk []byte) {
		if h := sink.Load(); h != nil {
			h.SendAudioChunk(chunk)
		}
	}, nil
}

func (s *StreamingSession) connect(ctx context.Context, model models.Model) {
	defer close(s.connected)

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	err := s.streamer.Start(ctx, model)
	s.connectTime = time.Since(start)

	if err != nil {
		s.connectErr = &ConnectionError{Model: model.ID, Err: err}
		s.logger.Error("Failed to start streaming, will fall back to batch",
			logger.String("model", model.String()),
			logger.Duration("elapsed", s.connectTime),
			logger.Error(err))
		return
	}

	s.logger.Info("Streaming connected",
		logger.String("model", model.String()),
		logger.Duration("elapsed", s.connectTime))
}

// Transcribe waits for the background connection attempt to settle, then
// either finalizes the stream or falls back to batch transcription.
func (s *StreamingSession) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if !s.prepared {
		return "", &PreconditionError{Op: "transcribe", Reason: "session was not prepared"}
	}
	if s.transcribed {
		return "", &PreconditionError{Op: "transcribe", Reason: "transcribe already called"}
	}
	s.transcribed = true
	defer s.cancel()

	// Capture has stopped; nothing more goes to the stream.
	s.sink.Store(nil)

	start := time.Now()
	report := Report{SessionID: s.id, Model: s.model}

	connectTime, streamErr, err := s.awaitConnect(ctx)
	if err != nil {
		return "", s.abandon(err)
	}
	report.ConnectTime = connectTime

	if streamErr == nil {
		text, err := s.finalize(ctx)
		if err != nil && ctx.Err() != nil {
			return "", s.abandon(ctx.Err())
		}
		if err == nil {
			s.logger.Info("Streaming transcript received",
				logger.Int("length", len(text)))

			report.Path = PathStreaming
			report.Duration = time.Since(start)
			report.TranscriptLen = len(text)
			s.observer.ObserveSession(report)
			return text, nil
		}
		streamErr = err
		s.logger.Error("Streaming failed, falling back to batch", logger.Error(err))
	}

	s.release()

	text, err := s.runFallback(ctx, audioPath, &report)

	report.Path = PathFallback
	report.StreamingErr = streamErr
	report.Err = err
	report.Duration = time.Since(start)
	report.TranscriptLen = len(text)
	s.observer.ObserveSession(report)

	if err != nil {
		return "", err
	}
	return text, nil
}

// awaitConnect joins the connect goroutine. The last result is non-nil
// only when ctx ended first, in which case the connect outcome is unknown.
func (s *StreamingSession) awaitConnect(ctx context.Context) (time.Duration, error, error) {
	select {
	case <-s.connected:
		return s.connectTime, s.connectErr, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// abandon gives up on a session whose caller went away. No fallback runs
// and no outcome is reported.
func (s *StreamingSession) abandon(err error) error {
	s.release()
	s.logger.Warn("Transcription abandoned by caller", logger.Error(err))
	return err
}

func (s *StreamingSession) finalize(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FinalizeTimeout)
	defer cancel()

	text, err := s.streamer.StopAndGetFinalText(ctx)
	if err != nil {
		return "", &FinalizeError{Err: err}
	}
	return text, nil
}

// runFallback performs the single batch attempt. Its outcome is final.
func (s *StreamingSession) runFallback(ctx context.Context, audioPath string, report *Report) (string, error) {
	batchModel := s.model
	if s.fallback != nil {
		batchModel = *s.fallback
	}
	report.BatchModel = batchModel.ID

	s.logger.Info("Using batch fallback",
		logger.String("model", s.model.String()),
		logger.String("batch_model", batchModel.String()))

	text, err := s.batch.Transcribe(ctx, audioPath, batchModel)
	if err != nil {
		err = &BatchError{Model: batchModel.ID, Err: err}
		s.logger.Error("Batch fallback failed", logger.Error(err))
		return "", err
	}
	return text, nil
}

// Cancel detaches the chunk callback, abandons a pending connection attempt
// and closes the streaming transcriber. Repeated calls do nothing more.
func (s *StreamingSession) Cancel() {
	s.sink.Store(nil)
	if s.cancel != nil {
		s.cancel()
	}
	s.release()
}

// release closes the streaming transcriber at most once per session
func (s *StreamingSession) release() {
	s.releaseOnce.Do(s.streamer.Cancel)
}
