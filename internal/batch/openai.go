package batch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

// OpenAIConfig holds OpenAI batch transcription settings
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // empty for the public API
	Timeout    time.Duration
	MaxRetries int
}

// OpenAITranscriber transcribes files with the OpenAI audio API
type OpenAITranscriber struct {
	client openai.Client
	config OpenAIConfig
	logger *logger.Logger
}

// NewOpenAITranscriber creates a transcriber for the OpenAI audio API
func NewOpenAITranscriber(config OpenAIConfig, log *logger.Logger) *OpenAITranscriber {
	if config.APIKey == "" {
		log.Warn("OpenAI API key is empty - OpenAI transcription will not work")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
		option.WithRequestTimeout(config.Timeout),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &OpenAITranscriber{
		client: openai.NewClient(opts...),
		config: config,
		logger: log.Named("openai-batch"),
	}
}

// Transcribe uploads the file and returns the transcript text
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error) {
	if t.config.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key is required for batch transcription")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(model.Name),
	}
	if model.Language != "" {
		params.Language = openai.String(model.Language)
	}
	if model.Prompt != "" {
		params.Prompt = openai.String(model.Prompt)
	}

	start := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription request failed: %w", err)
	}

	t.logger.Debug("OpenAI transcription complete",
		logger.String("model", model.Name),
		logger.Duration("elapsed", time.Since(start)))

	return resp.Text, nil
}
