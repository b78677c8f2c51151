package transcription

import (
	"context"
	"errors"
	"testing"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

func TestFileSession_PrepareNeverReturnsCallback(t *testing.T) {
	for _, m := range []models.Model{batchModel, streamingModel, streamingOnlyModel} {
		s := NewFileSession(&fakeBatch{}, logger.NewNop(), nil)
		onChunk, err := s.Prepare(context.Background(), m)
		if err != nil {
			t.Fatalf("Prepare(%s): %v", m.ID, err)
		}
		if onChunk != nil {
			t.Fatalf("Prepare(%s) returned a callback", m.ID)
		}
	}
}

func TestFileSession_TranscribeDelegatesToBatch(t *testing.T) {
	batch := &fakeBatch{text: "transcript"}
	obs := &recordingObserver{}
	s := NewFileSession(batch, logger.NewNop(), obs)

	if _, err := s.Prepare(context.Background(), batchModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	text, err := s.Transcribe(context.Background(), "rec.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "transcript" {
		t.Fatalf("text = %q", text)
	}

	calls := batch.callsSnapshot()
	if len(calls) != 1 || calls[0].model != batchModel.ID || calls[0].path != "rec.wav" {
		t.Fatalf("calls = %+v", calls)
	}

	report, ok := obs.last()
	if !ok || report.Path != PathBatch || report.SessionID != s.ID() {
		t.Fatalf("report = %+v", report)
	}
}

func TestFileSession_TranscribeWithoutPrepare(t *testing.T) {
	batch := &fakeBatch{}
	s := NewFileSession(batch, logger.NewNop(), nil)

	_, err := s.Transcribe(context.Background(), "rec.wav")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
	if len(batch.callsSnapshot()) != 0 {
		t.Fatal("batch must not be called without Prepare")
	}
}

func TestFileSession_BatchFailureIsWrapped(t *testing.T) {
	cause := errors.New("quota exceeded")
	s := NewFileSession(&fakeBatch{err: cause}, logger.NewNop(), nil)
	if _, err := s.Prepare(context.Background(), batchModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err := s.Transcribe(context.Background(), "rec.wav")
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("err = %v, want BatchError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("BatchError should unwrap to the cause")
	}
}

func TestFileSession_PrepareRejectsInvalidModel(t *testing.T) {
	s := NewFileSession(&fakeBatch{}, logger.NewNop(), nil)
	if _, err := s.Prepare(context.Background(), models.Model{ID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFileSession_CancelIsNoop(t *testing.T) {
	s := NewFileSession(&fakeBatch{text: "a"}, logger.NewNop(), nil)
	s.Cancel()
	if _, err := s.Prepare(context.Background(), batchModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	s.Cancel()
	if _, err := s.Transcribe(context.Background(), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	s.Cancel()
}
