package batch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
	"google.golang.org/genai"
)

const defaultGeminiInstruction = "Transcribe this audio verbatim. Return only the transcript text, with no commentary."

// GeminiConfig holds Gemini batch transcription settings
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Instruction string
	Timeout     time.Duration
}

// GeminiTranscriber transcribes files by sending inline audio to a Gemini
// model. The genai client is created on first successful use; a failed
// build is retried by the next request.
type GeminiTranscriber struct {
	config GeminiConfig
	logger *logger.Logger

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiTranscriber creates a Gemini transcriber
func NewGeminiTranscriber(config GeminiConfig, log *logger.Logger) *GeminiTranscriber {
	if config.Instruction == "" {
		config.Instruction = defaultGeminiInstruction
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	return &GeminiTranscriber{
		config: config,
		logger: log.Named("gemini-batch"),
	}
}

func (t *GeminiTranscriber) genaiClient(ctx context.Context) (*genai.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		return t.client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  t.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if t.config.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: t.config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	t.client = client
	return client, nil
}

// Transcribe sends the audio file with a transcription instruction
func (t *GeminiTranscriber) Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error) {
	if t.config.APIKey == "" {
		return "", fmt.Errorf("Gemini API key is required for batch transcription")
	}

	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}

	client, err := t.genaiClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	instruction := t.config.Instruction
	if model.Language != "" {
		instruction += " The spoken language is " + model.Language + "."
	}
	if model.Prompt != "" {
		instruction += " Vocabulary hints: " + model.Prompt
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromBytes(data, "audio/wav"),
		}, genai.RoleUser),
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model.Name, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription request failed: %w", err)
	}

	t.logger.Debug("Gemini transcription complete",
		logger.String("model", model.Name),
		logger.Duration("elapsed", time.Since(start)))

	return strings.TrimSpace(resp.Text()), nil
}
