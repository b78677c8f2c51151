package sqlite

import "time"

// OutcomeRecord is the stored result of one transcription session. It holds
// routing and timing only, never transcript text.
type OutcomeRecord struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	ModelID        string    `json:"model_id"`
	BatchModel     string    `json:"batch_model,omitempty"`
	Path           string    `json:"path"` // "batch", "streaming" or "fallback"
	Success        bool      `json:"success"`
	StreamingError string    `json:"streaming_error,omitempty"`
	Error          string    `json:"error,omitempty"`
	ConnectMs      int64     `json:"connect_ms"`
	DurationMs     int64     `json:"duration_ms"`
	TranscriptLen  int       `json:"transcript_len"`
	CreatedAt      time.Time `json:"created_at"`
}

// OutcomeStats aggregates outcomes over a time window
type OutcomeStats struct {
	Since         time.Time      `json:"since"`
	Total         int            `json:"total"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	ByPath        map[string]int `json:"by_path"`
	FallbackRate  float64        `json:"fallback_rate"` // fallback / (streaming + fallback)
	AvgDurationMs float64        `json:"avg_duration_ms"`
}
