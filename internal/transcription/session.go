package transcription

import (
	"context"
	"time"

	"github.com/yegors/co-scribe/internal/models"
)

// ChunkFunc receives captured audio chunks in arrival order. The chunk is
// owned by the callee once passed in.
type ChunkFunc func(chunk []byte)

// Session is one recording-to-transcript lifecycle. Its methods must be
// driven from a single goroutine.
type Session interface {
	// Prepare stores the model and returns a chunk callback, or nil when the
	// implementation only consumes the recorded file. Called once, before
	// any audio is captured.
	Prepare(ctx context.Context, model models.Model) (ChunkFunc, error)

	// Transcribe returns the final text once capture has stopped and the
	// audio file at audioPath is complete. Called at most once.
	Transcribe(ctx context.Context, audioPath string) (string, error)

	// Cancel aborts in-flight work and releases resources. Safe to call any
	// number of times, in any state.
	Cancel()
}

// BatchTranscriber transcribes a finished audio file
type BatchTranscriber interface {
	Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error)
}

// StreamingTranscriber drives one persistent streaming connection
type StreamingTranscriber interface {
	// Start establishes the connection. Fails if the endpoint rejects the
	// model or cannot be reached.
	Start(ctx context.Context, model models.Model) error

	// SendAudioChunk queues audio. It never blocks on the network and may
	// be called before Start completes.
	SendAudioChunk(chunk []byte)

	// StopAndGetFinalText flushes queued audio and returns the transcript.
	StopAndGetFinalText(ctx context.Context) (string, error)

	// Cancel closes the connection. Idempotent.
	Cancel()
}

// Path names the route that produced (or failed to produce) a transcript
type Path string

const (
	PathBatch     Path = "batch"     // file session, batch only
	PathStreaming Path = "streaming" // streaming finalized successfully
	PathFallback  Path = "fallback"  // streaming failed, batch fallback used
)

// Report describes a finished session for observability. It never carries
// transcript text.
type Report struct {
	SessionID     string
	Model         models.Model
	BatchModel    string // model used for batch, empty on the streaming path
	Path          Path
	StreamingErr  error // connection or finalize failure that caused fallback
	Err           error // terminal error returned to the caller
	ConnectTime   time.Duration
	Duration      time.Duration
	TranscriptLen int
}

// Observer receives a Report when Transcribe returns
type Observer interface {
	ObserveSession(report Report)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(report Report)

// ObserveSession calls f(report)
func (f ObserverFunc) ObserveSession(report Report) { f(report) }

// Observers fans a report out to several observers
type Observers []Observer

// ObserveSession forwards the report to every non-nil observer
func (o Observers) ObserveSession(report Report) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveSession(report)
		}
	}
}

type nopObserver struct{}

func (nopObserver) ObserveSession(Report) {}
