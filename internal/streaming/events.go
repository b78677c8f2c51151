package streaming

import "fmt"

const inputAudioFormat = "pcm16"

// Client events
const (
	eventSessionUpdate = "transcription_session.update"
	eventAppend        = "input_audio_buffer.append"
	eventCommit        = "input_audio_buffer.commit"
)

// Server events
const (
	eventSessionCreated      = "transcription_session.created"
	eventSessionUpdated      = "transcription_session.updated"
	eventCommitted           = "input_audio_buffer.committed"
	eventTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	eventTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	eventTranscriptFailed    = "conversation.item.input_audio_transcription.failed"
	eventError               = "error"
	errorCodeCommitEmpty     = "input_audio_buffer_commit_empty"
)

// SessionUpdate configures a transcription-only realtime session
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig is the session payload of SessionUpdate
type SessionConfig struct {
	InputAudioFormat         string                `json:"input_audio_format"`
	InputAudioTranscription  TranscriptionConfig   `json:"input_audio_transcription"`
	TurnDetection            *TurnDetectionConfig  `json:"turn_detection"`
	InputAudioNoiseReduction *NoiseReductionConfig `json:"input_audio_noise_reduction,omitempty"`
}

// TranscriptionConfig selects the transcription model
type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// TurnDetectionConfig represents turn detection configuration. It is sent as
// null: the client commits the buffer itself on finalize.
type TurnDetectionConfig struct {
	Type string `json:"type"`
}

// NoiseReductionConfig represents noise reduction configuration
type NoiseReductionConfig struct {
	Type string `json:"type"`
}

type appendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type commitEvent struct {
	Type string `json:"type"`
}

// serverEvent is the union of the server events the client reacts to
type serverEvent struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	ItemID     string    `json:"item_id"`
	Delta      string    `json:"delta"`
	Transcript string    `json:"transcript"`
	Error      *APIError `json:"error"`
}

// APIError is an error reported by the realtime API
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime api error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("realtime api error: %s", e.Message)
}
