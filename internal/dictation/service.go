// Package dictation drives transcription sessions from captured audio: it
// owns the recording file, feeds live chunks to the session and cleans up
// once the transcript is in.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// ErrFormatMismatch is returned when a replayed file does not match the
// capture format
var ErrFormatMismatch = errors.New("audio format does not match capture format")

// Config holds capture settings
type Config struct {
	SampleRate     int
	ChunkMs        int
	RecordingsDir  string // empty uses a directory under os.TempDir
	KeepRecordings bool
}

// Activity is notified when recordings start and finish
type Activity interface {
	RecordingStarted()
	RecordingFinished()
}

type nopActivity struct{}

func (nopActivity) RecordingStarted()  {}
func (nopActivity) RecordingFinished() {}

// Service creates recordings bound to transcription sessions
type Service struct {
	config   Config
	format   audio.Format
	factory  *transcription.Factory
	catalog  *models.Catalog
	activity Activity
	logger   *logger.Logger
}

// NewService creates the service and its recordings directory
func NewService(config Config, factory *transcription.Factory, catalog *models.Catalog, activity Activity, log *logger.Logger) (*Service, error) {
	if config.RecordingsDir == "" {
		config.RecordingsDir = filepath.Join(os.TempDir(), "co-scribe")
	}
	if config.ChunkMs <= 0 {
		config.ChunkMs = 40
	}
	if err := os.MkdirAll(config.RecordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	if activity == nil {
		activity = nopActivity{}
	}

	return &Service{
		config:   config,
		format:   audio.PCM16Mono(config.SampleRate),
		factory:  factory,
		catalog:  catalog,
		activity: activity,
		logger:   log.Named("dictation"),
	}, nil
}

// Format returns the PCM format recordings expect
func (s *Service) Format() audio.Format {
	return s.format
}

// Catalog returns the model catalog
func (s *Service) Catalog() *models.Catalog {
	return s.catalog
}

// Start opens a recording for the model (the default when modelID is empty)
// and prepares its transcription session
func (s *Service) Start(ctx context.Context, modelID string) (*Recording, error) {
	model, err := s.catalog.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	path := filepath.Join(s.config.RecordingsDir, id+".wav")

	wav, err := audio.CreateWAV(path, s.format)
	if err != nil {
		return nil, err
	}

	session, onChunk, err := s.factory.Start(ctx, model)
	if err != nil {
		wav.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	rec := &Recording{
		id:       id,
		model:    model,
		wav:      wav,
		session:  session,
		onChunk:  onChunk,
		keep:     s.config.KeepRecordings,
		activity: s.activity,
		logger:   s.logger.With(logger.String("recording_id", id), logger.String("model", model.ID)),
	}
	if onChunk != nil {
		rec.chunker = audio.NewChunker(s.format, s.config.ChunkMs)
	}

	s.activity.RecordingStarted()
	rec.logger.Info("Recording started", logger.Bool("streaming", onChunk != nil))

	return rec, nil
}

// TranscribeFile replays a PCM16 mono WAV file through a recording in
// capture-sized chunks and returns the transcript
func (s *Service) TranscribeFile(ctx context.Context, modelID, wavPath string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	return s.TranscribeReader(ctx, modelID, f)
}

// TranscribeReader is TranscribeFile for an already open WAV stream
func (s *Service) TranscribeReader(ctx context.Context, modelID string, r io.Reader) (string, error) {
	format, data, err := audio.ReadWAV(r)
	if err != nil {
		return "", err
	}
	if format != s.format {
		return "", fmt.Errorf("%w: got %d Hz, %d channel(s), %d-bit; want %d Hz mono 16-bit",
			ErrFormatMismatch, format.SampleRate, format.Channels, format.BitsPerSample, s.format.SampleRate)
	}

	rec, err := s.Start(ctx, modelID)
	if err != nil {
		return "", err
	}

	buf := make([]byte, s.format.BytesPerMs()*s.config.ChunkMs)
	for {
		n, err := io.ReadFull(data, buf)
		if n > 0 {
			if werr := rec.Write(buf[:n]); werr != nil {
				rec.Cancel()
				return "", werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			rec.Cancel()
			return "", fmt.Errorf("failed to read audio: %w", err)
		}
		if ctx.Err() != nil {
			rec.Cancel()
			return "", ctx.Err()
		}
	}

	return rec.Stop(ctx)
}
