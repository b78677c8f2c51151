package dictation

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

const testRate = 16000 // 32 bytes per ms

var (
	batchModel  = models.Model{ID: "whisper-1", Provider: models.ProviderOpenAI, Name: "whisper-1"}
	streamModel = models.Model{ID: "realtime", Provider: models.ProviderOpenAI, Name: "gpt-4o-transcribe", SupportsStreaming: true}
)

// fileBatch reads the PCM payload of the file it is asked to transcribe
type fileBatch struct {
	mu    sync.Mutex
	text  string
	pcm   []byte
	paths []string
}

func (b *fileBatch) Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, data, err := audio.ReadWAV(f)
	if err != nil {
		return "", err
	}
	pcm, _ := io.ReadAll(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pcm = pcm
	b.paths = append(b.paths, audioPath)
	return b.text, nil
}

type chunkStreamer struct {
	mu      sync.Mutex
	text    string
	chunks  [][]byte
	cancels int
}

func (s *chunkStreamer) Start(ctx context.Context, model models.Model) error { return nil }

func (s *chunkStreamer) SendAudioChunk(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
}

func (s *chunkStreamer) StopAndGetFinalText(ctx context.Context) (string, error) {
	return s.text, nil
}

func (s *chunkStreamer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

type countingActivity struct {
	mu       sync.Mutex
	active   int
	finished int
}

func (a *countingActivity) RecordingStarted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active++
}

func (a *countingActivity) RecordingFinished() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active--
	a.finished++
}

type fixture struct {
	svc      *Service
	batch    *fileBatch
	streamer *chunkStreamer
	activity *countingActivity
	dir      string
}

func newFixture(t *testing.T, keep bool) *fixture {
	t.Helper()

	catalog, err := models.NewCatalog([]models.Model{batchModel, streamModel}, "")
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	f := &fixture{
		batch:    &fileBatch{text: "from batch"},
		streamer: &chunkStreamer{text: "from stream"},
		activity: &countingActivity{},
		dir:      t.TempDir(),
	}
	factory := &transcription.Factory{
		Batch:       f.batch,
		NewStreamer: func() transcription.StreamingTranscriber { return f.streamer },
		Catalog:     catalog,
		Logger:      logger.NewNop(),
	}

	f.svc, err = NewService(Config{
		SampleRate:     testRate,
		ChunkMs:        10,
		RecordingsDir:  f.dir,
		KeepRecordings: keep,
	}, factory, catalog, f.activity, logger.NewNop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func pcm(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestRecording_BatchModelTranscribesFile(t *testing.T) {
	f := newFixture(t, false)

	rec, err := f.svc.Start(context.Background(), "whisper-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Streaming() {
		t.Fatal("batch model must not stream")
	}

	data := pcm(1000)
	rec.Write(data[:300])
	rec.Write(data[300:])

	text, err := rec.Stop(context.Background())
	if err != nil || text != "from batch" {
		t.Fatalf("Stop = %q, %v", text, err)
	}
	if !bytes.Equal(f.batch.pcm, data) {
		t.Fatal("batch saw a different payload")
	}
	if len(f.files(t)) != 0 {
		t.Fatalf("recording not removed: %v", f.files(t))
	}
	if f.activity.active != 0 || f.activity.finished != 1 {
		t.Fatalf("activity = %+v", f.activity)
	}
}

func TestRecording_StreamingForwardsFixedChunksInOrder(t *testing.T) {
	f := newFixture(t, true)

	rec, err := f.svc.Start(context.Background(), "realtime")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !rec.Streaming() {
		t.Fatal("streaming model should stream")
	}

	data := pcm(1000) // 10ms chunks are 320 bytes
	rec.Write(data[:100])
	rec.Write(data[100:700])
	rec.Write(data[700:])

	text, err := rec.Stop(context.Background())
	if err != nil || text != "from stream" {
		t.Fatalf("Stop = %q, %v", text, err)
	}

	f.streamer.mu.Lock()
	chunks := f.streamer.chunks
	f.streamer.mu.Unlock()

	var joined []byte
	for i, c := range chunks {
		if i < len(chunks)-1 && len(c) != 320 {
			t.Fatalf("chunk %d len = %d", i, len(c))
		}
		joined = append(joined, c...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatal("streamed audio differs from captured audio")
	}

	// Kept recordings stay on disk
	if files := f.files(t); len(files) != 1 || files[0] != rec.ID()+".wav" {
		t.Fatalf("files = %v", files)
	}
}

func TestRecording_CancelRemovesFile(t *testing.T) {
	f := newFixture(t, true)

	rec, err := f.svc.Start(context.Background(), "realtime")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.Write(pcm(500))

	rec.Cancel()
	rec.Cancel()

	if len(f.files(t)) != 0 {
		t.Fatal("cancelled recording should be deleted even when keeping recordings")
	}
	if err := rec.Write(pcm(10)); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Write after cancel = %v", err)
	}
	if _, err := rec.Stop(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop after cancel = %v", err)
	}
	if f.streamer.cancels == 0 {
		t.Fatal("session was not cancelled")
	}
	if f.activity.active != 0 {
		t.Fatalf("active = %d", f.activity.active)
	}
}

func TestService_DefaultAndUnknownModel(t *testing.T) {
	f := newFixture(t, false)

	rec, err := f.svc.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.Model().ID != "whisper-1" {
		t.Fatalf("default model = %s", rec.Model().ID)
	}
	rec.Cancel()

	if _, err := f.svc.Start(context.Background(), "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestService_TranscribeFileReplaysAudio(t *testing.T) {
	f := newFixture(t, false)

	src := filepath.Join(t.TempDir(), "input.wav")
	w, err := audio.CreateWAV(src, audio.PCM16Mono(testRate))
	if err != nil {
		t.Fatalf("CreateWAV: %v", err)
	}
	data := pcm(2000)
	w.Write(data)
	w.Close()

	text, err := f.svc.TranscribeFile(context.Background(), "realtime", src)
	if err != nil || text != "from stream" {
		t.Fatalf("TranscribeFile = %q, %v", text, err)
	}

	var joined []byte
	for _, c := range f.streamer.chunks {
		joined = append(joined, c...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatal("replayed audio differs from the file")
	}
}

func TestService_TranscribeFileRejectsFormat(t *testing.T) {
	f := newFixture(t, false)

	src := filepath.Join(t.TempDir(), "input.wav")
	w, _ := audio.CreateWAV(src, audio.PCM16Mono(44100))
	w.Write(pcm(100))
	w.Close()

	if _, err := f.svc.TranscribeFile(context.Background(), "whisper-1", src); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("err = %v, want ErrFormatMismatch", err)
	}
	if len(f.files(t)) != 0 {
		t.Fatal("no recording should be created")
	}
}
