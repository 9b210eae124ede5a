// Package stream is the websocket client for the local streaming
// transcription backend. One connection carries exactly one session.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dictamic/internal/domain"
	"dictamic/internal/ports"
)

// Config controls the streaming connection.
type Config struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	// FinalTimeout bounds the wait for transcript.final after End.
	FinalTimeout time.Duration
	QueueSize    int
}

// Client implements ports.StreamingClient.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
	newID  func() string

	events chan domain.TranscriptEvent
	closed chan struct{}

	mu        sync.Mutex
	live      *session
	dialing   bool
	closeOnce sync.Once
}

var _ ports.StreamingClient = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "ws://127.0.0.1:8111/stream"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = 15 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: logger.With("component", "stream"),
		newID:  uuid.NewString,
		events: make(chan domain.TranscriptEvent, 64),
		closed: make(chan struct{}),
	}
}

// Events is shared by all sessions; every event carries its session id.
func (c *Client) Events() <-chan domain.TranscriptEvent {
	return c.events
}

// ActiveSession returns the id of the live session, if any.
func (c *Client) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == nil {
		return ""
	}
	return c.live.id
}

// Begin dials the backend and opens a new session.
func (c *Client) Begin(ctx context.Context, params ports.BeginParams) (string, error) {
	c.mu.Lock()
	if c.live != nil || c.dialing {
		c.mu.Unlock()
		return "", domain.ErrSessionActive
	}
	c.dialing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.dialing = false
		c.mu.Unlock()
	}()

	wsURL, err := buildStreamURL(c.cfg.URL)
	if err != nil {
		return "", err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, _, err := c.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, wsURL, err)
	}

	s := &session{
		id:   c.newID(),
		conn: conn,
		out:  make(chan []byte, c.cfg.QueueSize),
		done: make(chan struct{}),
	}

	start, _ := json.Marshal(startFrame{
		Type:       "session.start",
		SessionID:  s.id,
		SampleRate: params.SampleRate,
		Language:   params.Language,
		Model:      params.Model,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, start); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("%w: send session.start: %v", domain.ErrConnection, err)
	}

	c.mu.Lock()
	c.live = s
	c.mu.Unlock()

	go c.writeLoop(s)
	go c.readLoop(s)

	c.logger.Info("stream session started", "session_id", s.id, "sample_rate", params.SampleRate, "model", params.Model)
	return s.id, nil
}

// SendChunk never blocks: a full queue drops the frame.
func (c *Client) SendChunk(chunk domain.StreamChunk) {
	if !chunk.Valid() {
		return
	}
	s := c.current()
	if s == nil || s.stopping() {
		return
	}

	frame, err := json.Marshal(chunkFrame{
		Type:        "audio.chunk",
		SessionID:   s.id,
		PCM16Base64: base64.StdEncoding.EncodeToString(chunk.PCM16),
		T0MS:        chunk.T0MS,
		T1MS:        chunk.T1MS,
	})
	if err != nil {
		c.logger.Warn("encode audio chunk failed", "session_id", s.id, "error", err)
		return
	}

	select {
	case s.out <- frame:
	case <-s.done:
	default:
		c.logger.Warn("audio chunk dropped, send queue full", "session_id", s.id, "t0_ms", chunk.T0MS)
	}
}

// End asks the backend to finalize. The result arrives on Events.
func (c *Client) End() error {
	s := c.current()
	if s == nil {
		return domain.ErrNoActiveSession
	}
	if !s.markStopping() {
		return nil
	}

	frame, _ := json.Marshal(stopFrame{Type: "session.stop", SessionID: s.id})
	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case s.out <- frame:
	case <-s.done:
		return fmt.Errorf("%w: session closed before stop", domain.ErrConnection)
	case <-timer.C:
		c.fail(s, errors.New("send queue stalled"))
		return fmt.Errorf("%w: session.stop not sent", domain.ErrConnection)
	}

	finalTimer := time.AfterFunc(c.cfg.FinalTimeout, func() {
		c.fail(s, errors.New("timed out waiting for final transcript"))
	})
	s.mu.Lock()
	s.finalTimer = finalTimer
	s.mu.Unlock()
	return nil
}

// Cancel tears the live session down without waiting for a response.
// Nothing is emitted for it afterwards.
func (c *Client) Cancel() {
	c.mu.Lock()
	s := c.live
	c.live = nil
	c.mu.Unlock()

	if s != nil {
		s.teardown()
		c.logger.Info("stream session cancelled", "session_id", s.id)
	}
}

// Close cancels any live session and unblocks pending event delivery.
func (c *Client) Close() {
	c.Cancel()
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// release detaches s if it is still live. Only the caller that wins may emit
// the terminal event for s.
func (c *Client) release(s *session) bool {
	c.mu.Lock()
	owned := c.live == s
	if owned {
		c.live = nil
	}
	c.mu.Unlock()
	s.teardown()
	return owned
}

func (c *Client) isLive(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live == s
}

func (c *Client) fail(s *session, cause error) {
	if c.release(s) {
		c.logger.Warn("stream session failed", "session_id", s.id, "error", cause)
		c.emitTerminal(domain.TranscriptEvent{
			SessionID: s.id,
			Kind:      domain.TranscriptKindError,
			Err:       fmt.Errorf("%w: %v", domain.ErrConnection, cause),
		})
	}
}

func (c *Client) emitPartial(event domain.TranscriptEvent) {
	select {
	case c.events <- event:
	default:
	}
}

func (c *Client) emitTerminal(event domain.TranscriptEvent) {
	select {
	case c.events <- event:
	case <-c.closed:
	}
}

func (c *Client) writeLoop(s *session) {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.fail(s, fmt.Errorf("write: %w", err))
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(s, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *Client) readLoop(s *session) {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			c.fail(s, fmt.Errorf("read: %w", err))
			return
		}
		if !c.isLive(s) {
			return
		}

		var msg inboundFrame
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("invalid frame from backend", "session_id", s.id, "error", err)
			continue
		}
		if msg.SessionID != "" && msg.SessionID != s.id {
			c.logger.Debug("dropping frame for stale session", "session_id", msg.SessionID, "live", s.id, "type", msg.Type)
			continue
		}

		switch msg.Type {
		case "session.started":
			c.logger.Debug("backend acknowledged session", "session_id", s.id)
		case "transcript.partial":
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}
			s.setPartial(text)
			c.emitPartial(domain.TranscriptEvent{SessionID: s.id, Kind: domain.TranscriptKindPartial, Text: text})
		case "transcript.final":
			if c.release(s) {
				c.emitTerminal(finalEvent(s.id, msg, s.lastPartial()))
			}
			return
		case "session.error":
			message := strings.TrimSpace(msg.Message)
			if message == "" {
				message = "backend reported an unknown error"
			}
			if c.release(s) {
				c.emitTerminal(domain.TranscriptEvent{
					SessionID: s.id,
					Kind:      domain.TranscriptKindError,
					Err:       fmt.Errorf("%w: %s", domain.ErrTranscription, message),
				})
			}
			return
		default:
			c.logger.Debug("ignoring frame", "session_id", s.id, "type", msg.Type)
		}
	}
}

// finalEvent promotes the last partial when the final text is empty.
func finalEvent(sessionID string, msg inboundFrame, partial string) domain.TranscriptEvent {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = partial
	}
	if text == "" {
		return domain.TranscriptEvent{SessionID: sessionID, Kind: domain.TranscriptKindError, Err: domain.ErrEmptyTranscript}
	}
	return domain.TranscriptEvent{SessionID: sessionID, Kind: domain.TranscriptKindFinal, Text: text, LatencyMS: msg.LatencyMS}
}

type session struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}

	mu         sync.Mutex
	partial    string
	ending     bool
	finalTimer *time.Timer
	closeOnce  sync.Once
}

func (s *session) setPartial(text string) {
	s.mu.Lock()
	s.partial = text
	s.mu.Unlock()
}

func (s *session) lastPartial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial
}

func (s *session) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ending
}

func (s *session) markStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending {
		return false
	}
	s.ending = true
	return true
}

func (s *session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.finalTimer != nil {
			s.finalTimer.Stop()
		}
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

type startFrame struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Language   string `json:"language"`
	Model      string `json:"model"`
}

type chunkFrame struct {
	Type        string `json:"type"`
	SessionID   string `json:"session_id"`
	PCM16Base64 string `json:"pcm16_base64"`
	T0MS        int64  `json:"t0_ms"`
	T1MS        int64  `json:"t1_ms"`
}

type stopFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type inboundFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Message   string   `json:"message"`
	Code      string   `json:"code"`
	LatencyMS *float64 `json:"latency_ms"`
}

// buildStreamURL accepts ws(s) or http(s) bases and defaults the path to /stream.
func buildStreamURL(raw string) (string, error) {
	base := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid stream url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/stream"
	}
	return u.String(), nil
}
