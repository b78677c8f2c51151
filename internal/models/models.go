package models

import (
	"fmt"
)

// Provider identifies the backend that serves a model
type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderGemini  Provider = "gemini"
	ProviderWhisper Provider = "whisper" // self-hosted whisper.cpp / faster-whisper server
)

// Known reports whether the provider has a batch transcriber
func (p Provider) Known() bool {
	switch p {
	case ProviderOpenAI, ProviderGemini, ProviderWhisper:
		return true
	}
	return false
}

// Realtime reports whether the provider offers a streaming transcription API
func (p Provider) Realtime() bool {
	return p == ProviderOpenAI
}

// Model describes a transcription model. It is never mutated after the
// catalog is built and is passed around by value.
type Model struct {
	ID                string   `toml:"id" json:"id"`
	DisplayName       string   `toml:"display_name" json:"display_name"`
	Provider          Provider `toml:"provider" json:"provider"`
	Name              string   `toml:"name" json:"name"` // provider-side model identifier
	Language          string   `toml:"language" json:"language,omitempty"`
	Prompt            string   `toml:"prompt" json:"-"`
	SupportsStreaming bool     `toml:"supports_streaming" json:"supports_streaming"`
	StreamingOnly     bool     `toml:"streaming_only" json:"streaming_only"` // rejected by the batch API
	FallbackID        string   `toml:"fallback" json:"fallback,omitempty"`
}

// String returns the display name, falling back to the ID
func (m Model) String() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ID
}

// Validate checks that the descriptor is usable by the collaborators
func (m Model) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model id is required")
	}
	if m.Name == "" {
		return fmt.Errorf("model %s: provider model name is required", m.ID)
	}
	if !m.Provider.Known() {
		return fmt.Errorf("model %s: unknown provider %q", m.ID, m.Provider)
	}
	if m.SupportsStreaming && !m.Provider.Realtime() {
		return fmt.Errorf("model %s: provider %s has no streaming API", m.ID, m.Provider)
	}
	if m.StreamingOnly {
		if !m.SupportsStreaming {
			return fmt.Errorf("model %s: streaming_only requires supports_streaming", m.ID)
		}
		if m.FallbackID == "" {
			return fmt.Errorf("model %s: streaming_only requires a fallback model", m.ID)
		}
	}
	return nil
}

// BatchCapable reports whether the batch API accepts this model
func (m Model) BatchCapable() bool {
	return !m.StreamingOnly
}
