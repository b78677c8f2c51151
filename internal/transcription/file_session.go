package transcription

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

// FileSession records to file and uploads after stop. It has no use for
// live chunks.
type FileSession struct {
	id       string
	batch    BatchTranscriber
	logger   *logger.Logger
	observer Observer

	// fallback replaces a streaming-only model, which batch APIs reject
	fallback *models.Model

	model       models.Model
	prepared    bool
	transcribed bool
}

var _ Session = (*FileSession)(nil)

// NewFileSession creates a batch-only session
func NewFileSession(batch BatchTranscriber, log *logger.Logger, observer Observer) *FileSession {
	if observer == nil {
		observer = nopObserver{}
	}
	id := uuid.NewString()
	return &FileSession{
		id:       id,
		batch:    batch,
		logger:   log.Named("file-session").WithSessionID(id),
		observer: observer,
	}
}

// ID returns the session identifier used in logs and reports
func (s *FileSession) ID() string {
	return s.id
}

// Prepare stores the model. The returned callback is always nil.
func (s *FileSession) Prepare(_ context.Context, model models.Model) (ChunkFunc, error) {
	if s.prepared {
		return nil, &PreconditionError{Op: "prepare", Reason: "session already prepared"}
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	s.model = model
	s.prepared = true
	return nil, nil
}

// Transcribe hands the recorded file to the batch transcriber
func (s *FileSession) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if !s.prepared {
		return "", &PreconditionError{Op: "transcribe", Reason: "session was not prepared"}
	}
	if s.transcribed {
		return "", &PreconditionError{Op: "transcribe", Reason: "transcribe already called"}
	}
	s.transcribed = true

	batchModel := s.model
	if s.model.StreamingOnly && s.fallback != nil {
		batchModel = *s.fallback
	}

	start := time.Now()
	text, err := s.batch.Transcribe(ctx, audioPath, batchModel)
	if err != nil {
		err = &BatchError{Model: batchModel.ID, Err: err}
		s.logger.Error("Batch transcription failed",
			logger.String("model", batchModel.ID),
			logger.Error(err))
	}

	s.observer.ObserveSession(Report{
		SessionID:     s.id,
		Model:         s.model,
		BatchModel:    batchModel.ID,
		Path:          PathBatch,
		Err:           err,
		Duration:      time.Since(start),
		TranscriptLen: len(text),
	})

	if err != nil {
		return "", err
	}
	return text, nil
}

// Cancel is a no-op: there is nothing to release
func (s *FileSession) Cancel() {}
