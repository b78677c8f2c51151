package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Config represents the complete service configuration
type Config struct {
	DefaultModel string `toml:"default_model"`

	Logging   LoggingConfig   `toml:"logging"`
	Server    ServerConfig    `toml:"server"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Gemini    GeminiConfig    `toml:"gemini"`
	Whisper   WhisperConfig   `toml:"whisper"`
	Streaming StreamingConfig `toml:"streaming"`
	Audio     AudioConfig     `toml:"audio"`
	Storage   StorageConfig   `toml:"storage"`

	Models []models.Model `toml:"models"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Address            string `toml:"address"`
	MaxConnections     int    `toml:"max_connections"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`
	MaxUploadMB        int    `toml:"max_upload_mb"`

	CORSAllowedOrigins []string `toml:"cors_allowed_origins"` // empty allows any origin
}

// OpenAIConfig contains OpenAI batch and realtime settings
type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	RealtimeURL    string `toml:"realtime_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// GeminiConfig contains Gemini settings
type GeminiConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Instruction    string `toml:"instruction"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// WhisperConfig contains settings for a Whisper-compatible server
type WhisperConfig struct {
	Endpoint       string `toml:"endpoint"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
	RetryBackoffMs int    `toml:"retry_backoff_ms"`
}

// StreamingConfig contains streaming session settings
type StreamingConfig struct {
	Enabled            bool   `toml:"enabled"`
	ConnectTimeoutMs   int    `toml:"connect_timeout_ms"`
	FinalizeTimeoutMs  int    `toml:"finalize_timeout_ms"`
	HandshakeTimeoutMs int    `toml:"handshake_timeout_ms"`
	BufferChunks       int    `toml:"buffer_chunks"`
	NoiseReduction     string `toml:"noise_reduction"` // "", near_field, far_field
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate     int    `toml:"sample_rate"`
	ChunkMs        int    `toml:"chunk_ms"`
	RecordingsDir  string `toml:"recordings_dir"`
	KeepRecordings bool   `toml:"keep_recordings"`
}

// StorageConfig contains outcome store settings
type StorageConfig struct {
	Path                 string `toml:"path"`
	RetentionDays        int    `toml:"retention_days"`
	PruneIntervalMinutes int    `toml:"prune_interval_minutes"`
}

// Default returns the configuration used for keys absent from the file
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Address:            ":8080",
			MaxConnections:     256,
			ReadTimeoutSeconds: 30,
			MaxUploadMB:        50,
		},
		OpenAI: OpenAIConfig{
			TimeoutSeconds: 120,
			MaxRetries:     2,
		},
		Gemini: GeminiConfig{
			TimeoutSeconds: 120,
		},
		Whisper: WhisperConfig{
			TimeoutSeconds: 120,
			MaxRetries:     3,
			RetryBackoffMs: 1000,
		},
		Streaming: StreamingConfig{
			Enabled:            true,
			ConnectTimeoutMs:   10000,
			FinalizeTimeoutMs:  15000,
			HandshakeTimeoutMs: 10000,
			BufferChunks:       1500,
		},
		Audio: AudioConfig{
			SampleRate: 24000,
			ChunkMs:    40,
		},
		Storage: StorageConfig{
			Path:                 "data/co-scribe.db",
			RetentionDays:        30,
			PruneIntervalMinutes: 60,
		},
	}
}

// DefaultModels is the catalog used when the file configures none
func DefaultModels() []models.Model {
	return []models.Model{
		{
			ID:          "whisper-1",
			DisplayName: "OpenAI Whisper",
			Provider:    models.ProviderOpenAI,
			Name:        "whisper-1",
		},
		{
			ID:                "gpt-4o-transcribe",
			DisplayName:       "GPT-4o Transcribe",
			Provider:          models.ProviderOpenAI,
			Name:              "gpt-4o-transcribe",
			SupportsStreaming: true,
		},
		{
			ID:                "gpt-4o-mini-transcribe",
			DisplayName:       "GPT-4o mini Transcribe",
			Provider:          models.ProviderOpenAI,
			Name:              "gpt-4o-mini-transcribe",
			SupportsStreaming: true,
		},
	}
}

// Load reads the TOML file at path (skipped when empty), loads envFile into
// the environment when it exists, overlays secrets from the environment and
// validates the result.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	cfg.applyEnv()

	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides secrets and a few deployment knobs from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("WHISPER_API_KEY"); v != "" {
		c.Whisper.APIKey = v
	}
	if v := os.Getenv("WHISPER_ENDPOINT"); v != "" {
		c.Whisper.Endpoint = v
	}
	if v := os.Getenv("COSCRIBE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("COSCRIBE_ADDRESS"); v != "" {
		c.Server.Address = v
	}
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage: path is required")
	}

	catalog, err := c.Catalog()
	if err != nil {
		return fmt.Errorf("models: %w", err)
	}
	for _, p := range catalog.Providers() {
		if p == models.ProviderWhisper && c.Whisper.Endpoint == "" {
			return fmt.Errorf("models: whisper models require whisper.endpoint")
		}
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address is required")
	}
	if s.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be positive, got %d", s.MaxConnections)
	}
	if s.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", s.MaxUploadMB)
	}
	return nil
}

// Validate validates streaming configuration
func (s *StreamingConfig) Validate() error {
	if s.ConnectTimeoutMs <= 0 || s.FinalizeTimeoutMs <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if s.BufferChunks < 1 {
		return fmt.Errorf("buffer_chunks must be positive, got %d", s.BufferChunks)
	}
	switch s.NoiseReduction {
	case "", "near_field", "far_field":
	default:
		return fmt.Errorf("unknown noise_reduction %q", s.NoiseReduction)
	}
	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000, got %d", a.SampleRate)
	}
	if a.ChunkMs < 10 || a.ChunkMs > 1000 {
		return fmt.Errorf("chunk_ms must be between 10 and 1000, got %d", a.ChunkMs)
	}
	return nil
}

// Catalog builds the model catalog from the configured models
func (c *Config) Catalog() (*models.Catalog, error) {
	return models.NewCatalog(c.Models, c.DefaultModel)
}

// GetConnectTimeout returns the streaming connect bound
func (s *StreamingConfig) GetConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMs) * time.Millisecond
}

// GetFinalizeTimeout returns the streaming finalize bound
func (s *StreamingConfig) GetFinalizeTimeout() time.Duration {
	return time.Duration(s.FinalizeTimeoutMs) * time.Millisecond
}

// GetHandshakeTimeout returns the WebSocket handshake bound
func (s *StreamingConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMs) * time.Millisecond
}

// GetRetryBackoff returns the base delay between whisper retries
func (w *WhisperConfig) GetRetryBackoff() time.Duration {
	return time.Duration(w.RetryBackoffMs) * time.Millisecond
}

// GetReadTimeout returns the HTTP read header timeout
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

// GetRetention returns the outcome retention window
func (s *StorageConfig) GetRetention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// GetPruneInterval returns how often old outcomes are pruned
func (s *StorageConfig) GetPruneInterval() time.Duration {
	return time.Duration(s.PruneIntervalMinutes) * time.Minute
}

// Seconds converts a seconds setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
