package streaming

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/co-scribe/internal/models"
	"github.com/yegors/co-scribe/pkg/logger"
)

const (
	DefaultURL              = "wss://api.openai.com/v1/realtime?intent=transcription"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferChunks     = 1500
)

var (
	// ErrClosed is returned once the client has been cancelled
	ErrClosed = errors.New("streaming client closed")
	// ErrNotStarted is returned when finalizing a client that never connected
	ErrNotStarted = errors.New("streaming client not started")
	// ErrDegraded is returned by finalize when queued audio had to be dropped
	ErrDegraded = errors.New("outbound audio buffer overflowed, stream is incomplete")
)

// Config holds realtime connection settings
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferChunks     int
	NoiseReduction   string // near_field, far_field or empty for none
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.BufferChunks <= 0 {
		c.BufferChunks = DefaultBufferChunks
	}
	return c
}

type frame struct {
	audio  []byte
	commit bool
}

// Client streams audio to the OpenAI realtime transcription API over a
// single WebSocket. A Client serves one session and is not reusable.
type Client struct {
	config Config
	logger *logger.Logger

	outbound chan frame
	ctx      context.Context
	cancel   context.CancelFunc

	started    atomic.Bool
	closed     atomic.Bool
	degraded   atomic.Bool
	finalizing atomic.Bool
	cancelOnce sync.Once

	mu          sync.Mutex
	conn        *websocket.Conn
	changed     chan struct{}
	ready       bool
	err         error
	committed   []string
	commitEmpty bool
	completed   map[string]string
	failed      map[string]string
	readDone    chan struct{}
}

// NewClient creates an unconnected client
func NewClient(config Config, log *logger.Logger) *Client {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:    config,
		logger:    log.Named("realtime-client"),
		outbound:  make(chan frame, config.BufferChunks),
		ctx:       ctx,
		cancel:    cancel,
		changed:   make(chan struct{}),
		completed: make(map[string]string),
		failed:    make(map[string]string),
		readDone:  make(chan struct{}),
	}
}

// Start dials the realtime endpoint and configures the transcription
// session. ctx bounds only the dial and handshake.
func (c *Client) Start(ctx context.Context, model models.Model) error {
	if c.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required for streaming transcription")
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("streaming client already started")
	}
	if c.closed.Load() {
		return ErrClosed
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.config.URL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if len(body) > 0 {
				return fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	update := SessionUpdate{
		Type: eventSessionUpdate,
		Session: SessionConfig{
			InputAudioFormat: inputAudioFormat,
			InputAudioTranscription: TranscriptionConfig{
				Model:    model.Name,
				Language: model.Language,
				Prompt:   model.Prompt,
			},
		},
	}
	if c.config.NoiseReduction != "" {
		update.Session.InputAudioNoiseReduction = &NoiseReductionConfig{Type: c.config.NoiseReduction}
	}

	if err := c.writeJSON(update); err != nil {
		c.Cancel()
		return fmt.Errorf("failed to send session update: %w", err)
	}

	go c.readLoop()

	if err := c.await(ctx, func() (bool, error) { return c.ready, c.err }); err != nil {
		c.Cancel()
		return fmt.Errorf("transcription session rejected: %w", err)
	}

	go c.writeLoop()

	c.logger.Debug("Realtime transcription session configured",
		logger.String("model", model.Name),
		logger.Int("queued_chunks", len(c.outbound)))

	return nil
}

// SendAudioChunk queues a copy of chunk for sending. When the queue is full
// the chunk is dropped and the stream is marked degraded.
func (c *Client) SendAudioChunk(chunk []byte) {
	if len(chunk) == 0 || c.closed.Load() || c.finalizing.Load() {
		return
	}

	audio := make([]byte, len(chunk))
	copy(audio, chunk)

	select {
	case c.outbound <- frame{audio: audio}:
	default:
		if !c.degraded.Swap(true) {
			c.logger.Warn("Outbound audio buffer full, dropping chunks",
				logger.Int("buffer_chunks", c.config.BufferChunks))
		}
	}
}

// StopAndGetFinalText commits the audio buffer behind all queued audio and
// waits for every committed item to be transcribed. The connection is
// closed on return.
func (c *Client) StopAndGetFinalText(ctx context.Context) (string, error) {
	defer c.Cancel()

	if !c.started.Load() {
		return "", ErrNotStarted
	}
	if c.closed.Load() {
		return "", ErrClosed
	}
	if c.degraded.Load() {
		return "", ErrDegraded
	}
	c.finalizing.Store(true)

	select {
	case c.outbound <- frame{commit: true}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.ctx.Done():
		return "", ErrClosed
	}

	err := c.await(ctx, func() (bool, error) {
		if c.err != nil {
			return false, c.err
		}
		if c.commitEmpty {
			return true, nil
		}
		if len(c.committed) == 0 {
			return false, nil
		}
		for _, id := range c.committed {
			_, done := c.completed[id]
			_, failed := c.failed[id]
			if !done && !failed {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]string, 0, len(c.committed))
	for _, id := range c.committed {
		if reason, ok := c.failed[id]; ok {
			return "", fmt.Errorf("transcription of item %s failed: %s", id, reason)
		}
		if text := strings.TrimSpace(c.completed[id]); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Cancel closes the connection. Safe to call any number of times and
// concurrently with every other method.
func (c *Client) Cancel() {
	c.cancelOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	})
}

// await blocks until cond reports done or an error, the read loop exits,
// ctx is done, or the client is cancelled. cond runs with mu held.
func (c *Client) await(ctx context.Context, cond func() (bool, error)) error {
	for {
		c.mu.Lock()
		done, err := cond()
		changed := c.changed
		c.mu.Unlock()

		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-changed:
		case <-c.readDone:
			c.mu.Lock()
			done, err := cond()
			c.mu.Unlock()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			return fmt.Errorf("connection closed before transcript completed")
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

// notifyLocked wakes every waiter. mu must be held.
func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.notifyLocked()
	c.mu.Unlock()
}

func (c *Client) writeJSON(v any) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.outbound:
			var err error
			if f.commit {
				err = c.writeJSON(commitEvent{Type: eventCommit})
			} else {
				err = c.writeJSON(appendEvent{
					Type:  eventAppend,
					Audio: base64.StdEncoding.EncodeToString(f.audio),
				})
			}
			if err != nil {
				if !c.closed.Load() {
					c.logger.Warn("Failed to send to realtime API", logger.Error(err))
				}
				c.fail(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Realtime read loop ended", logger.Error(err))
			}
			c.fail(fmt.Errorf("realtime connection lost: %w", err))
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug("Skipping malformed realtime event", logger.Error(err))
			continue
		}
		c.handle(ev)
	}
}

func (c *Client) handle(ev serverEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case eventSessionUpdated:
		c.ready = true
	case eventCommitted:
		c.committed = append(c.committed, ev.ItemID)
	case eventTranscriptCompleted:
		c.completed[ev.ItemID] = ev.Transcript
	case eventTranscriptFailed:
		reason := "unknown error"
		if ev.Error != nil {
			reason = ev.Error.Message
		}
		c.failed[ev.ItemID] = reason
	case eventError:
		if ev.Error != nil && ev.Error.Code == errorCodeCommitEmpty {
			c.commitEmpty = true
			break
		}
		apiErr := ev.Error
		if apiErr == nil {
			apiErr = &APIError{Message: "unspecified error"}
		}
		if c.err == nil {
			c.err = apiErr
		}
	case eventSessionCreated, eventTranscriptDelta:
		return
	default:
		return
	}

	c.notifyLocked()
}
