package transcription

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/models"
)

type fakeStreamer struct {
	startDelay time.Duration
	startErr   error
	finalText  string
	finalErr   error

	mu        sync.Mutex
	starts    int
	finalizes int
	cancels   int
	chunks    [][]byte
	model     models.Model
}

func (f *fakeStreamer) Start(ctx context.Context, model models.Model) error {
	f.mu.Lock()
	f.starts++
	f.model = model
	f.mu.Unlock()

	if f.startDelay > 0 {
		select {
		case <-time.After(f.startDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.startErr
}

func (f *fakeStreamer) SendAudioChunk(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
}

func (f *fakeStreamer) StopAndGetFinalText(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizes++
	return f.finalText, f.finalErr
}

func (f *fakeStreamer) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeStreamer) counts() (starts, finalizes, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.finalizes, f.cancels
}

func (f *fakeStreamer) receivedChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.chunks))
	copy(out, f.chunks)
	return out
}

type batchCall struct {
	path  string
	model string
}

type fakeBatch struct {
	text string
	err  error

	mu    sync.Mutex
	calls []batchCall
}

func (f *fakeBatch) Transcribe(_ context.Context, audioPath string, model models.Model) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batchCall{path: audioPath, model: model.ID})
	return f.text, f.err
}

func (f *fakeBatch) callsSnapshot() []batchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]batchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type recordingObserver struct {
	mu      sync.Mutex
	reports []Report
}

func (o *recordingObserver) ObserveSession(r Report) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func (o *recordingObserver) last() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.reports) == 0 {
		return Report{}, false
	}
	return o.reports[len(o.reports)-1], true
}

var (
	streamingModel = models.Model{
		ID:                "realtime",
		DisplayName:       "Realtime",
		Provider:          models.ProviderOpenAI,
		Name:              "gpt-4o-transcribe",
		SupportsStreaming: true,
	}
	streamingOnlyModel = models.Model{
		ID:                "realtime-only",
		Provider:          models.ProviderOpenAI,
		Name:              "gpt-4o-realtime-preview",
		SupportsStreaming: true,
		StreamingOnly:     true,
		FallbackID:        "whisper-1",
	}
	batchModel = models.Model{
		ID:       "whisper-1",
		Provider: models.ProviderOpenAI,
		Name:     "whisper-1",
	}
)
