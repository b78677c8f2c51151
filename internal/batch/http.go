package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

// HTTPConfig holds settings for a Whisper-compatible transcription server
type HTTPConfig struct {
	Endpoint     string // e.g. http://localhost:8080/v1/audio/transcriptions
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // base delay, doubled per attempt
}

// StatusError is a non-2xx response from the transcription server
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription server returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed on retry
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPTranscriber posts files to a Whisper-compatible multipart endpoint
// such as whisper.cpp or faster-whisper servers
type HTTPTranscriber struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *logger.Logger
}

type whisperResponse struct {
	Text string `json:"text"`
}

// NewHTTPTranscriber creates a Whisper-compatible transcriber
func NewHTTPTranscriber(config HTTPConfig, log *logger.Logger) (*HTTPTranscriber, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	return &HTTPTranscriber{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log.Named("whisper-batch"),
	}, nil
}

// Transcribe uploads the file, retrying transient failures with exponential
// backoff
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath string, model models.Model) (string, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to read audio file: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := t.config.RetryBackoff << (attempt - 1)
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			t.logger.Warn("Retrying transcription request",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff),
				logger.Error(lastErr))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := t.doRequest(ctx, filepath.Base(audioPath), data, model)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if !isRetryable(ctx, err) {
			break
		}
	}

	return "", fmt.Errorf("transcription failed: %w", lastErr)
}

func (t *HTTPTranscriber) doRequest(ctx context.Context, filename string, data []byte, model models.Model) (string, error) {
	body, contentType, err := createMultipartRequest(filename, data, model)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var parsed whisperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return strings.TrimSpace(parsed.Text), nil
}

func createMultipartRequest(filename string, data []byte, model models.Model) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"model":           model.Name,
		"response_format": "json",
		"language":        model.Language,
		"prompt":          model.Prompt,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	// Transport failures are retried, malformed responses are not
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
