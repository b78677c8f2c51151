package transcription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStreamingSession(streamer *fakeStreamer, batch *fakeBatch, fallback *models.Model, obs Observer) *StreamingSession {
	return NewStreamingSession(streamer, batch, fallback, StreamingOptions{
		ConnectTimeout:  2 * time.Second,
		FinalizeTimeout: 2 * time.Second,
	}, logger.NewNop(), obs)
}

func waitConnected(t *testing.T, s *StreamingSession) {
	t.Helper()
	select {
	case <-s.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect attempt did not settle")
	}
}

func TestStreamingSession_PrepareThenCancelClosesAtMostOnce(t *testing.T) {
	streamer := &fakeStreamer{}
	s := newTestStreamingSession(streamer, &fakeBatch{}, nil, nil)

	onChunk, err := s.Prepare(context.Background(), streamingModel)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if onChunk == nil {
		t.Fatal("streaming session must return a chunk callback")
	}

	s.Cancel()
	s.Cancel()
	waitConnected(t, s)

	if _, _, cancels := streamer.counts(); cancels != 1 {
		t.Fatalf("cancels = %d, want 1", cancels)
	}
}

func TestStreamingSession_CancelBeforePrepareIsSafe(t *testing.T) {
	streamer := &fakeStreamer{}
	s := newTestStreamingSession(streamer, &fakeBatch{}, nil, nil)

	s.Cancel()
	s.Cancel()

	if starts, _, cancels := streamer.counts(); starts != 0 || cancels > 1 {
		t.Fatalf("starts=%d cancels=%d", starts, cancels)
	}
}

func TestStreamingSession_ConnectFailureUsesFallbackModel(t *testing.T) {
	streamer := &fakeStreamer{startErr: errors.New("handshake rejected")}
	batch := &fakeBatch{text: "from batch"}
	fallback := batchModel
	obs := &recordingObserver{}
	s := newTestStreamingSession(streamer, batch, &fallback, obs)

	if _, err := s.Prepare(context.Background(), streamingOnlyModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	waitConnected(t, s)

	text, err := s.Transcribe(context.Background(), "/tmp/rec.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "from batch" {
		t.Fatalf("text = %q", text)
	}

	calls := batch.callsSnapshot()
	if len(calls) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(calls))
	}
	if calls[0].model != "whisper-1" || calls[0].path != "/tmp/rec.wav" {
		t.Fatalf("batch call = %+v", calls[0])
	}
	if _, finalizes, _ := streamer.counts(); finalizes != 0 {
		t.Fatalf("finalize must not be called after a failed connect, got %d", finalizes)
	}

	report, ok := obs.last()
	if !ok {
		t.Fatal("expected a report")
	}
	if report.Path != PathFallback || report.BatchModel != "whisper-1" {
		t.Fatalf("report = %+v", report)
	}
	var connErr *ConnectionError
	if !errors.As(report.StreamingErr, &connErr) {
		t.Fatalf("StreamingErr = %v, want ConnectionError", report.StreamingErr)
	}
}

func TestStreamingSession_ConnectFailureWithoutFallbackUsesActiveModel(t *testing.T) {
	streamer := &fakeStreamer{startErr: errors.New("boom")}
	batch := &fakeBatch{text: "ok"}
	s := newTestStreamingSession(streamer, batch, nil, nil)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	waitConnected(t, s)

	if _, err := s.Transcribe(context.Background(), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	calls := batch.callsSnapshot()
	if len(calls) != 1 || calls[0].model != streamingModel.ID {
		t.Fatalf("batch calls = %+v", calls)
	}
}

func TestStreamingSession_FinalizeSuccessSkipsBatch(t *testing.T) {
	streamer := &fakeStreamer{finalText: "hello world"}
	batch := &fakeBatch{text: "unused"}
	obs := &recordingObserver{}
	s := newTestStreamingSession(streamer, batch, nil, obs)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	text, err := s.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
	if n := len(batch.callsSnapshot()); n != 0 {
		t.Fatalf("batch calls = %d, want 0", n)
	}
	if _, finalizes, _ := streamer.counts(); finalizes != 1 {
		t.Fatalf("finalizes = %d, want 1", finalizes)
	}

	report, _ := obs.last()
	if report.Path != PathStreaming || report.TranscriptLen != len("hello world") {
		t.Fatalf("report = %+v", report)
	}
}

func TestStreamingSession_FinalizeFailureCancelsOnceThenFallsBack(t *testing.T) {
	streamer := &fakeStreamer{finalErr: errors.New("server closed")}
	batch := &fakeBatch{text: "recovered"}
	s := newTestStreamingSession(streamer, batch, nil, nil)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	waitConnected(t, s)

	text, err := s.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "recovered" {
		t.Fatalf("text = %q", text)
	}
	if _, _, cancels := streamer.counts(); cancels != 1 {
		t.Fatalf("cancels = %d, want 1", cancels)
	}
	if n := len(batch.callsSnapshot()); n != 1 {
		t.Fatalf("batch calls = %d, want 1", n)
	}

	// Cancelling afterwards must not release the streamer again
	s.Cancel()
	s.Cancel()
	if _, _, cancels := streamer.counts(); cancels != 1 {
		t.Fatalf("cancels after Cancel = %d, want 1", cancels)
	}
}

func TestStreamingSession_TranscribeJoinsSlowConnectFailure(t *testing.T) {
	streamer := &fakeStreamer{
		startDelay: 500 * time.Millisecond,
		startErr:   errors.New("connection refused"),
	}
	batch := &fakeBatch{text: "batch text"}
	s := newTestStreamingSession(streamer, batch, nil, nil)

	start := time.Now()
	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Prepare blocked for %v", elapsed)
	}

	time.Sleep(10 * time.Millisecond)

	text, err := s.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "batch text" {
		t.Fatalf("text = %q", text)
	}
	if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
		t.Fatalf("Transcribe returned after %v, before the connect outcome was known", elapsed)
	}
	if _, finalizes, _ := streamer.counts(); finalizes != 0 {
		t.Fatalf("finalize called %d times on a doomed connection", finalizes)
	}
	if n := len(batch.callsSnapshot()); n != 1 {
		t.Fatalf("batch calls = %d, want 1", n)
	}
}

func TestStreamingSession_ConnectTimeoutFallsBack(t *testing.T) {
	streamer := &fakeStreamer{startDelay: time.Minute}
	batch := &fakeBatch{text: "batch"}
	s := NewStreamingSession(streamer, batch, nil, StreamingOptions{
		ConnectTimeout:  50 * time.Millisecond,
		FinalizeTimeout: time.Second,
	}, logger.NewNop(), nil)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	text, err := s.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "batch" {
		t.Fatalf("text = %q", text)
	}
	if _, finalizes, _ := streamer.counts(); finalizes != 0 {
		t.Fatalf("finalizes = %d, want 0", finalizes)
	}
}

func TestStreamingSession_FallbackFailureIsTerminal(t *testing.T) {
	streamer := &fakeStreamer{finalErr: errors.New("finalize timeout")}
	batch := &fakeBatch{err: errors.New("503 from provider")}
	obs := &recordingObserver{}
	s := newTestStreamingSession(streamer, batch, nil, obs)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	_, err := s.Transcribe(context.Background(), "a.wav")
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("err = %v, want BatchError", err)
	}
	if batchErr.Model != streamingModel.ID {
		t.Fatalf("BatchError.Model = %q", batchErr.Model)
	}
	if n := len(batch.callsSnapshot()); n != 1 {
		t.Fatalf("batch calls = %d, want exactly 1", n)
	}

	report, _ := obs.last()
	var finErr *FinalizeError
	if !errors.As(report.StreamingErr, &finErr) || report.Err == nil {
		t.Fatalf("report = %+v", report)
	}

	// A second Transcribe is rejected rather than retried
	_, err = s.Transcribe(context.Background(), "a.wav")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("second Transcribe err = %v, want PreconditionError", err)
	}
	if n := len(batch.callsSnapshot()); n != 1 {
		t.Fatalf("batch calls after second Transcribe = %d, want 1", n)
	}
}

func TestStreamingSession_TranscribeBeforePrepare(t *testing.T) {
	s := newTestStreamingSession(&fakeStreamer{}, &fakeBatch{}, nil, nil)

	_, err := s.Transcribe(context.Background(), "a.wav")
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v, want PreconditionError", err)
	}
}

func TestStreamingSession_PrepareRejectsNonStreamingModelAndSecondCall(t *testing.T) {
	s := newTestStreamingSession(&fakeStreamer{}, &fakeBatch{}, nil, nil)
	if _, err := s.Prepare(context.Background(), batchModel); err == nil {
		t.Fatal("expected error for a model without streaming support")
	}

	s = newTestStreamingSession(&fakeStreamer{}, &fakeBatch{}, nil, nil)
	defer s.Cancel()
	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	_, err := s.Prepare(context.Background(), streamingModel)
	var pre *PreconditionError
	if !errors.As(err, &pre) {
		t.Fatalf("second Prepare err = %v, want PreconditionError", err)
	}
}

func TestStreamingSession_ForwardsChunksUntilDetached(t *testing.T) {
	streamer := &fakeStreamer{finalText: "done"}
	s := newTestStreamingSession(streamer, &fakeBatch{}, nil, nil)

	onChunk, err := s.Prepare(context.Background(), streamingModel)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	onChunk([]byte{1})
	onChunk([]byte{2})
	onChunk([]byte{3})

	if _, err := s.Transcribe(context.Background(), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	// Chunks arriving after Transcribe are dropped
	onChunk([]byte{4})

	chunks := streamer.receivedChunks()
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c[0] != byte(i+1) {
			t.Fatalf("chunk %d = %v, out of order", i, c)
		}
	}
}

func TestStreamingSession_CallbackIsInertAfterCancel(t *testing.T) {
	streamer := &fakeStreamer{}
	s := newTestStreamingSession(streamer, &fakeBatch{}, nil, nil)

	onChunk, err := s.Prepare(context.Background(), streamingModel)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	s.Cancel()
	onChunk([]byte{9})

	if n := len(streamer.receivedChunks()); n != 0 {
		t.Fatalf("chunks after cancel = %d, want 0", n)
	}
}

func TestStreamingSession_LogsFallbackTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	streamer := &fakeStreamer{startErr: errors.New("nope")}
	s := NewStreamingSession(streamer, &fakeBatch{text: "x"}, nil, StreamingOptions{}, logger.Wrap(zap.New(core)), nil)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := s.Transcribe(context.Background(), "a.wav"); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if logs.FilterMessage("Failed to start streaming, will fall back to batch").Len() != 1 {
		t.Fatalf("expected connect failure log, got %v", logs.All())
	}
	entries := logs.FilterMessage("Using batch fallback").All()
	if len(entries) != 1 {
		t.Fatalf("expected one fallback log, got %d", len(entries))
	}
	if entries[0].LoggerName != "streaming-session" {
		t.Fatalf("logger name = %q", entries[0].LoggerName)
	}
}

func TestStreamingSession_CallerDeadlineDuringConnectSkipsFallback(t *testing.T) {
	streamer := &fakeStreamer{startDelay: 500 * time.Millisecond}
	batch := &fakeBatch{text: "from batch"}
	obs := &recordingObserver{}
	s := newTestStreamingSession(streamer, batch, nil, obs)

	if _, err := s.Prepare(context.Background(), streamingModel); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Transcribe(ctx, "a.wav")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		t.Fatalf("caller deadline reported as connection failure: %v", err)
	}
	if calls := batch.callsSnapshot(); len(calls) != 0 {
		t.Fatalf("batch calls = %d, want 0", len(calls))
	}
	if _, finalizes, cancels := streamer.counts(); finalizes != 0 || cancels != 1 {
		t.Fatalf("finalizes=%d cancels=%d", finalizes, cancels)
	}
	if _, ok := obs.last(); ok {
		t.Fatal("abandoned session must not report an outcome")
	}

	waitConnected(t, s)
	s.Cancel()
	if _, _, cancels := streamer.counts(); cancels != 1 {
		t.Fatalf("cancels = %d after Cancel, want 1", cancels)
	}
}
