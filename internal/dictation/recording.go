package dictation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/audio"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// ErrNotRecording is returned by Write and Stop once the recording has been
// stopped or cancelled
var ErrNotRecording = errors.New("recording is not active")

type recordingState int

const (
	stateRecording recordingState = iota
	stateStopped
	stateCancelled
)

// Recording is one capture bound to one transcription session. Write, Stop
// and Cancel may be called from different goroutines.
type Recording struct {
	id       string
	model    models.Model
	wav      *audio.WAVWriter
	session  transcription.Session
	onChunk  transcription.ChunkFunc
	chunker  *audio.Chunker // nil without a live callback
	keep     bool
	activity Activity
	logger   *logger.Logger

	mu    sync.Mutex
	state recordingState
}

// ID returns the recording ID
func (r *Recording) ID() string {
	return r.id
}

// Model returns the model requested for the recording
func (r *Recording) Model() models.Model {
	return r.model
}

// Streaming reports whether audio is forwarded live
func (r *Recording) Streaming() bool {
	return r.onChunk != nil
}

// Write appends PCM audio to the recording file and forwards it, in arrival
// order, to the live session in fixed-duration chunks
func (r *Recording) Write(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != stateRecording {
		return ErrNotRecording
	}

	if _, err := r.wav.Write(chunk); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}

	if r.chunker != nil {
		for _, c := range r.chunker.Write(chunk) {
			r.onChunk(c)
		}
	}
	return nil
}

// Stop finalizes the recording file and returns the session's transcript.
// The file is removed afterwards unless recordings are kept.
func (r *Recording) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.state = stateStopped

	if r.chunker != nil {
		if rest := r.chunker.Flush(); rest != nil {
			r.onChunk(rest)
		}
	}
	bytesWritten := r.wav.Written()
	r.mu.Unlock()

	defer r.activity.RecordingFinished()

	if err := r.wav.Close(); err != nil {
		r.session.Cancel()
		r.removeFile()
		return "", err
	}

	start := time.Now()
	text, err := r.session.Transcribe(ctx, r.wav.Path())
	r.session.Cancel()

	if !r.keep {
		r.removeFile()
	}

	if err != nil {
		r.logger.Error("Transcription failed", logger.Error(err))
		return "", err
	}

	r.logger.Info("Recording transcribed",
		logger.Int("audio_bytes", bytesWritten),
		logger.Duration("transcribe_time", time.Since(start)),
		logger.Int("chars", len(text)))

	return text, nil
}

// Cancel aborts the session and deletes the recording file. Safe to call at
// any time; a no-op once stopped or cancelled.
func (r *Recording) Cancel() {
	r.mu.Lock()
	if r.state != stateRecording {
		r.mu.Unlock()
		return
	}
	r.state = stateCancelled
	r.mu.Unlock()

	r.session.Cancel()
	r.wav.Close()
	r.removeFile()
	r.activity.RecordingFinished()

	r.logger.Info("Recording cancelled")
}

func (r *Recording) removeFile() {
	if err := os.Remove(r.wav.Path()); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("Failed to remove recording", logger.Error(err))
	}
}
