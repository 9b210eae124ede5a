package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"dictamic/internal/domain"
	"dictamic/internal/hotkey"
	"dictamic/internal/insertion"
	"dictamic/internal/ports"
	"dictamic/internal/queue"
)

const (
	inboxSize      = 64
	focusTimeout   = 300 * time.Millisecond
	pumpDrainLimit = 2 * time.Second
)

// Config controls capture and stop behaviour.
type Config struct {
	Audio     ports.AudioConfig
	ChunkSize int
	StopGrace time.Duration
}

// Inserter places finalized text into the target application.
type Inserter interface {
	Insert(ctx context.Context, req insertion.Request) (insertion.Result, error)
}

// Dispatcher runs insertion work off the authority loop, one task at a time.
type Dispatcher interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// LatencySource reports the rolling latency window.
type LatencySource interface {
	Summary() domain.LatencySummary
}

// SessionRecorder receives session counters. *metrics.Metrics satisfies it.
type SessionRecorder interface {
	RecordSession(outcome string, duration time.Duration)
	RecordDroppedChunk()
}

// Deps are the collaborators of a SessionController. Archive, Focus, Rules,
// Latency, Notifier and Metrics are optional.
type Deps struct {
	Settings  ports.Settings
	Audio     ports.AudioCapture
	Archive   ports.AudioArchive
	Stream    ports.StreamingClient
	Focus     ports.FocusTracker
	Rules     ports.RulesEngine
	Inserter  Inserter
	Queue     Dispatcher
	Events    ports.EventSink
	Latency   LatencySource
	Notifier  ports.Notifier
	Scheduler ports.Scheduler
	Metrics   SessionRecorder
	Logger    *slog.Logger
	Now       func() time.Time
}

// SessionController is the session authority. Trigger edges, timers and
// transcript events are serialized through Run; nothing else mutates the
// current session.
type SessionController struct {
	deps      Deps
	cfg       Config
	logger    *slog.Logger
	finalizer transcriptFinalizer

	inbox   chan message
	stopped chan struct{}

	machine   *hotkey.Machine
	armCancel func() bool
	current   *activeSession

	statusMu sync.RWMutex
	status   domain.Status
}

func NewSessionController(deps Deps, cfg Config) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 3200
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &SessionController{
		deps:      deps,
		cfg:       cfg,
		logger:    deps.Logger,
		finalizer: newTranscriptFinalizer(deps.Rules, deps.Settings, deps.Events, deps.Logger),
		inbox:     make(chan message, inboxSize),
		stopped:   make(chan struct{}),
		machine:   hotkey.NewMachine(),
		status:    domain.Status{State: domain.SessionStateIdle},
	}
}

// HandleEdge queues one trigger edge. It blocks only while the inbox is full.
func (c *SessionController) HandleEdge(edge domain.TriggerEdge) {
	c.post(message{kind: msgEdge, edge: edge})
}

// Cancel discards the in-flight session, if any.
func (c *SessionController) Cancel() {
	c.post(message{kind: msgCancel})
}

// Status returns the last published state.
func (c *SessionController) Status() domain.Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *SessionController) post(msg message) {
	select {
	case c.inbox <- msg:
	case <-c.stopped:
	}
}

// tryPost is for producers that must never block, such as timer callbacks
// racing a shutdown or the capture pump.
func (c *SessionController) tryPost(msg message) {
	select {
	case c.inbox <- msg:
	case <-c.stopped:
	default:
		c.logger.Warn("controller inbox full, dropping message", "kind", msg.kind)
	}
}

// Run is the session authority loop. It returns when ctx is cancelled.
func (c *SessionController) Run(ctx context.Context) error {
	defer close(c.stopped)
	transcripts := c.deps.Stream.Events()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		case event, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			c.handleTranscript(ctx, event)
		}
	}
}

func (c *SessionController) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgEdge:
		in := hotkey.Input{
			Edge:     msg.edge,
			Mode:     c.deps.Settings.RecordingMode(),
			Reserved: c.deps.Settings.TriggerKey() == domain.ReservedFunctionKey,
			Busy:     c.busy(),
		}
		c.apply(ctx, c.machine.Handle(in), msg.edge.At)
	case msgArmFired:
		now := c.deps.Now()
		d := c.machine.FireArm(msg.token, now, c.busy())
		if d.Action == hotkey.ActionNone && d.Ignored != hotkey.IgnoreStaleArm {
			c.logger.Debug("deferred arm rejected", "reason", d.Ignored)
			c.publish(domain.SessionStateIdle, domain.SessionReasonArmCancelled, "")
			return
		}
		c.apply(ctx, d, now)
	case msgGraceElapsed:
		s := c.current
		if s == nil || s.ID != msg.sessionID || s.State != domain.SessionStateStopping {
			return
		}
		s.graceCancel = nil
		c.endStream(s)
	case msgCaptureFailed:
		s := c.current
		if s == nil || s.ID != msg.sessionID || s.State != domain.SessionStateActive {
			return
		}
		c.deps.Events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", msg.err))
		c.machine.Abort()
		c.stop(s, c.deps.Now())
	case msgCancel:
		if c.machine.Phase() == hotkey.PhaseArming {
			c.machine.Abort()
			c.cancelArm()
			c.publish(domain.SessionStateIdle, domain.SessionReasonArmCancelled, "")
			return
		}
		if s := c.current; s != nil {
			if s.State == domain.SessionStateActive {
				c.machine.Abort()
			}
			c.discard(s, c.deps.Now())
		}
	}
}

func (c *SessionController) apply(ctx context.Context, d hotkey.Decision, at time.Time) {
	switch d.Action {
	case hotkey.ActionScheduleArm:
		c.cancelArm()
		token := d.Token
		c.armCancel = c.after(d.Delay, func() { c.tryPost(message{kind: msgArmFired, token: token}) })
		c.publish(domain.SessionStateArming, domain.SessionReasonArming, "")
	case hotkey.ActionCancelArm:
		c.cancelArm()
		c.publish(domain.SessionStateIdle, domain.SessionReasonArmCancelled, "")
	case hotkey.ActionStart:
		c.armCancel = nil
		c.start(ctx, d.Mode, at)
	case hotkey.ActionStop:
		if s := c.current; s != nil {
			c.stop(s, at)
		}
	case hotkey.ActionDiscard:
		if s := c.current; s != nil {
			c.discard(s, at)
		}
	default:
		if d.Ignored != "" {
			c.logger.Debug("trigger edge ignored", "reason", d.Ignored, "phase", c.machine.Phase().String())
		}
	}
}

func (c *SessionController) start(ctx context.Context, mode domain.RecordingMode, at time.Time) {
	target := c.captureTarget(ctx)

	id, err := c.deps.Stream.Begin(ctx, ports.BeginParams{
		SampleRate: c.cfg.Audio.SampleRate,
		Language:   c.deps.Settings.Language(),
		Model:      c.deps.Settings.Model(),
		Target:     target,
	})
	if err != nil {
		c.machine.Abort()
		c.fail(nil, domain.ErrorCodeConnection, domain.SessionReasonConnectionFailed, err)
		return
	}

	captureCtx, cancel := context.WithCancel(ctx)
	audio, err := c.deps.Audio.Start(captureCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		c.deps.Stream.Cancel()
		c.machine.Abort()
		c.fail(nil, domain.ErrorCodeStartup, domain.SessionReasonCaptureFailed, err)
		return
	}

	s := &activeSession{
		Session: domain.Session{
			ID:        id,
			State:     domain.SessionStateActive,
			Mode:      mode,
			StartedAt: at,
			Target:    target,
		},
		cancel:   cancel,
		audio:    audio,
		pumpDone: make(chan struct{}),
		captured: true,
	}
	if c.deps.Archive != nil {
		rec, err := c.deps.Archive.Open(id, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels)
		if err != nil {
			c.logger.Warn("audio archive unavailable", "session_id", id, "error", err)
		} else {
			s.recording = rec
		}
	}
	c.current = s

	sink := pumpSink{
		send:      c.deps.Stream.SendChunk,
		recording: s.recording,
		onDrop:    c.recordDroppedChunk,
		onFailure: func(err error) {
			c.tryPost(message{kind: msgCaptureFailed, sessionID: id, err: err})
		},
		onArchiveFailure: func(err error) {
			c.logger.Warn("audio archive write failed, recording truncated", "session_id", id, "error", err)
		},
	}
	go pumpAudioChunks(audio, c.cfg.ChunkSize, c.cfg.Audio.SampleRate, c.cfg.Audio.Channels, sink, s.pumpDone)

	c.logger.Info("session started", "session_id", id, "mode", string(mode), "target", target.Name)
	c.publish(domain.SessionStateActive, domain.SessionReasonRecordingStarted, id)
}

// captureTarget reads the foreground app before any UI side effect.
func (c *SessionController) captureTarget(ctx context.Context) domain.TargetContext {
	if c.deps.Focus == nil {
		return domain.TargetContext{}
	}
	ctx, cancel := context.WithTimeout(ctx, focusTimeout)
	defer cancel()
	target, err := c.deps.Focus.Frontmost(ctx)
	if err != nil {
		c.logger.Debug("could not capture target application", "error", err)
		return domain.TargetContext{}
	}
	return target
}

func (c *SessionController) stop(s *activeSession, at time.Time) {
	s.State = domain.SessionStateStopping
	s.StoppedAt = at
	s.stopIssuedAt = at
	c.publish(domain.SessionStateStopping, domain.SessionReasonTranscribing, s.ID)

	if err := c.stopCapture(s); err != nil {
		c.deps.Events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		c.logger.Warn("audio stop failed", "session_id", s.ID, "error", err)
	}

	if c.cfg.StopGrace > 0 {
		id := s.ID
		s.graceCancel = c.after(c.cfg.StopGrace, func() {
			c.tryPost(message{kind: msgGraceElapsed, sessionID: id})
		})
		return
	}
	c.endStream(s)
}

func (c *SessionController) endStream(s *activeSession) {
	if err := c.deps.Stream.End(); err != nil {
		c.fail(s, domain.ErrorCodeConnection, domain.SessionReasonConnectionFailed, err)
	}
}

// discard cancels the session end to end: no End, no insertion, no history.
func (c *SessionController) discard(s *activeSession, at time.Time) {
	s.State = domain.SessionStateDiscarded
	if s.StoppedAt.IsZero() {
		s.StoppedAt = at
	}
	_ = c.stopCapture(s)
	c.cancelGrace(s)
	c.deps.Stream.Cancel()
	if s.recording != nil {
		_ = os.Remove(s.recording.Path())
	}

	c.logger.Info("session discarded", "session_id", s.ID, "duration_ms", s.Duration().Milliseconds())
	c.recordSession("discarded", s.Duration())
	c.current = nil
	c.publish(domain.SessionStateDiscarded, domain.SessionReasonRecordingDiscarded, "")
}

// stopCapture stops the recorder and waits for the pump to drain. Safe to
// call more than once.
func (c *SessionController) stopCapture(s *activeSession) error {
	if !s.captured {
		return nil
	}
	s.captured = false

	err := s.audio.Stop()
	select {
	case <-s.pumpDone:
	case <-time.After(pumpDrainLimit):
		c.logger.Warn("audio pump did not drain", "session_id", s.ID)
	}
	s.cancel()
	if s.recording != nil {
		if closeErr := s.recording.Close(); closeErr != nil {
			c.logger.Warn("closing audio archive failed", "session_id", s.ID, "error", closeErr)
		}
	}
	return err
}

func (c *SessionController) handleTranscript(ctx context.Context, event domain.TranscriptEvent) {
	s := c.current
	if s == nil || event.SessionID != s.ID {
		c.logger.Debug("dropping transcript event for stale session", "session_id", event.SessionID, "kind", string(event.Kind))
		return
	}

	switch event.Kind {
	case domain.TranscriptKindPartial:
		text := strings.TrimSpace(event.Text)
		if text == "" {
			return
		}
		c.deps.Events.PartialTranscript(text)
	case domain.TranscriptKindFinal:
		c.complete(ctx, s, event)
	case domain.TranscriptKindError:
		switch {
		case errors.Is(event.Err, domain.ErrEmptyTranscript):
			c.fail(s, domain.ErrorCodeTranscription, domain.SessionReasonNoTranscript, event.Err)
		case errors.Is(event.Err, domain.ErrConnection):
			c.fail(s, domain.ErrorCodeConnection, domain.SessionReasonConnectionFailed, event.Err)
		default:
			c.fail(s, domain.ErrorCodeTranscription, domain.SessionReasonTranscriptionFailed, event.Err)
		}
	}
}

func (c *SessionController) complete(ctx context.Context, s *activeSession, event domain.TranscriptEvent) {
	if s.State == domain.SessionStateActive {
		// The backend finalized before the user stopped.
		c.machine.Abort()
		s.StoppedAt = c.deps.Now()
		s.stopIssuedAt = s.StoppedAt
	}
	_ = c.stopCapture(s)
	c.cancelGrace(s)

	raw := strings.TrimSpace(event.Text)
	s.State = domain.SessionStateCompleted
	c.current = nil
	c.recordSession("completed", s.Duration())
	c.logger.Info("transcript received", "session_id", s.ID, "duration_ms", s.Duration().Milliseconds())
	c.publish(domain.SessionStateCompleted, domain.SessionReasonTranscriptDelivered, "")

	target := s.Target
	stopIssuedAt := s.stopIssuedAt
	task := func(taskCtx context.Context) error {
		formatted := c.finalizer.Finalize(raw)
		result, err := c.deps.Inserter.Insert(taskCtx, insertion.Request{
			Text:         formatted,
			Target:       target,
			StopIssuedAt: stopIssuedAt,
		})
		if err != nil {
			c.deps.Events.SessionError(domain.ErrorCodeInsertion, err.Error())
			return fmt.Errorf("insert transcript: %w", err)
		}
		c.deps.Events.FinalTranscript(domain.InsertResult{
			RawTranscript: raw,
			InsertedText:  result.Text,
			Method:        string(result.Method),
			Polished:      result.Polished,
		})
		if c.deps.Latency != nil {
			c.deps.Events.LatencyUpdated(c.deps.Latency.Summary())
		}
		return nil
	}
	if err := c.deps.Queue.Enqueue(ctx, task); err != nil {
		c.logger.Error("could not queue insertion", "session_id", s.ID, "error", err)
		c.deps.Events.SessionError(domain.ErrorCodeInsertion, err.Error())
	}
}

// fail ends s (or a session that never started, when s is nil) as errored.
func (c *SessionController) fail(s *activeSession, code domain.ErrorCode, reason domain.SessionStateReason, err error) {
	var duration time.Duration
	if s != nil {
		if s.State == domain.SessionStateActive {
			c.machine.Abort()
		}
		_ = c.stopCapture(s)
		c.cancelGrace(s)
		s.State = domain.SessionStateErrored
		duration = s.Duration()
		c.logger.Warn("session failed", "session_id", s.ID, "reason", string(reason), "error", err)
		c.current = nil
	} else {
		c.logger.Warn("session could not start", "reason", string(reason), "error", err)
	}

	c.recordSession("errored", duration)
	c.deps.Events.SessionError(code, err.Error())
	if c.deps.Notifier != nil && reason != domain.SessionReasonNoTranscript {
		c.deps.Notifier.Notify("Dictation failed", err.Error())
	}
	c.publish(domain.SessionStateErrored, reason, "")
}

func (c *SessionController) shutdown() {
	c.cancelArm()
	if s := c.current; s != nil {
		_ = c.stopCapture(s)
		c.cancelGrace(s)
		c.deps.Stream.Cancel()
		c.current = nil
	}
	c.setStatus(domain.Status{State: domain.SessionStateIdle})
}

func (c *SessionController) busy() bool {
	return c.current != nil && c.current.State == domain.SessionStateStopping
}

func (c *SessionController) cancelArm() {
	if c.armCancel != nil {
		c.armCancel()
		c.armCancel = nil
	}
}

func (c *SessionController) cancelGrace(s *activeSession) {
	if s.graceCancel != nil {
		s.graceCancel()
		s.graceCancel = nil
	}
}

func (c *SessionController) after(d time.Duration, f func()) func() bool {
	if c.deps.Scheduler != nil {
		return c.deps.Scheduler.AfterFunc(d, f)
	}
	return time.AfterFunc(d, f).Stop
}

func (c *SessionController) publish(state domain.SessionState, reason domain.SessionStateReason, sessionID string) {
	status := domain.Status{
		State:     state,
		Active:    state.InFlight(),
		SessionID: sessionID,
		Message:   string(reason),
	}
	if state.Terminal() {
		// Terminal states are momentary; the controller is idle again.
		status.State = domain.SessionStateIdle
	}
	c.setStatus(status)
	c.deps.Events.SessionStateChanged(state, reason)
}

func (c *SessionController) setStatus(status domain.Status) {
	c.statusMu.Lock()
	c.status = status
	c.statusMu.Unlock()
}

func (c *SessionController) recordSession(outcome string, duration time.Duration) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordSession(outcome, duration)
	}
}

func (c *SessionController) recordDroppedChunk() {
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordDroppedChunk()
	}
}
