package domain

import (
	"strings"
	"time"
)

// ReservedFunctionKey is the platform keycode of the fn key. Non-hold modes
// on this key trigger system side effects, so it is always driven in hold mode.
const ReservedFunctionKey = 63

// RecordingMode selects how trigger edges map to session start/stop.
type RecordingMode string

const (
	RecordingModeHold      RecordingMode = "hold"
	RecordingModeToggle    RecordingMode = "toggle"
	RecordingModeDoubleTap RecordingMode = "double_tap"
)

// ParseRecordingMode accepts enum values and the display labels used by the
// settings surface. Unknown values fall back to hold.
func ParseRecordingMode(value string) RecordingMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "toggle", "toggle (click to talk)":
		return RecordingModeToggle
	case "double_tap", "doubletap", "double tap", "double-tap":
		return RecordingModeDoubleTap
	default:
		return RecordingModeHold
	}
}

// EffectiveMode applies the reserved-key override to a stored preference.
func EffectiveMode(triggerKey int, stored RecordingMode) RecordingMode {
	if triggerKey == ReservedFunctionKey {
		return RecordingModeHold
	}
	switch stored {
	case RecordingModeToggle, RecordingModeDoubleTap:
		return stored
	default:
		return RecordingModeHold
	}
}

// InsertionMode selects how final text reaches the focused application.
type InsertionMode string

const (
	InsertionModeClipboardOnly       InsertionMode = "clipboard_only"
	InsertionModeDirectThenClipboard InsertionMode = "direct_then_clipboard"
)

func ParseInsertionMode(value string) InsertionMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "direct", "direct_then_clipboard", "direct-then-clipboard":
		return InsertionModeDirectThenClipboard
	default:
		return InsertionModeClipboardOnly
	}
}

// SessionState models the push-to-talk lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateArming    SessionState = "arming"
	SessionStateActive    SessionState = "active"
	SessionStateStopping  SessionState = "stopping"
	SessionStateCompleted SessionState = "completed"
	SessionStateDiscarded SessionState = "discarded"
	SessionStateErrored   SessionState = "errored"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionStateCompleted, SessionStateDiscarded, SessionStateErrored:
		return true
	default:
		return false
	}
}

// InFlight reports whether the state blocks a new session from arming.
func (s SessionState) InFlight() bool {
	switch s {
	case SessionStateArming, SessionStateActive, SessionStateStopping:
		return true
	default:
		return false
	}
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold             SessionStateReason = "mic_cold"
	SessionReasonArming              SessionStateReason = "arming"
	SessionReasonArmCancelled        SessionStateReason = "arm_cancelled"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonTranscribing        SessionStateReason = "transcribing"
	SessionReasonTranscriptDelivered SessionStateReason = "transcript_delivered"
	SessionReasonRecordingDiscarded  SessionStateReason = "recording_discarded"
	SessionReasonNoTranscript        SessionStateReason = "no_transcript"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonConnectionFailed    SessionStateReason = "connection_failed"
	SessionReasonCaptureFailed       SessionStateReason = "capture_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeConnection    ErrorCode = "connection"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeInsertion     ErrorCode = "insertion"
)

// TriggerEdge is one physical transition of the trigger key.
type TriggerEdge struct {
	Pressed bool      `json:"pressed"`
	At      time.Time `json:"at"`
}

// TargetContext identifies the application that held focus at arm time.
type TargetContext struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

func (t TargetContext) IsZero() bool {
	return t.PID == 0 && t.Name == ""
}

// Same compares by process id when both sides carry one, by name otherwise.
func (t TargetContext) Same(other TargetContext) bool {
	if t.IsZero() || other.IsZero() {
		return false
	}
	if t.PID != 0 && other.PID != 0 {
		return t.PID == other.PID
	}
	return strings.EqualFold(t.Name, other.Name)
}

// Session is one arm-to-completion unit of capture, transcription and insertion.
type Session struct {
	ID        string
	State     SessionState
	Mode      RecordingMode
	StartedAt time.Time
	StoppedAt time.Time
	Target    TargetContext
}

func (s *Session) Duration() time.Duration {
	if s.StoppedAt.IsZero() {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}

// StreamChunk is one slice of captured PCM16 mono audio.
type StreamChunk struct {
	PCM16      []byte
	SampleRate int
	T0MS       int64
	T1MS       int64
}

func (c StreamChunk) Valid() bool {
	return len(c.PCM16) > 0 && c.T1MS > c.T0MS
}

// TranscriptKind identifies the variant of a TranscriptEvent.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
	TranscriptKindError   TranscriptKind = "error"
)

// TranscriptEvent represents inbound transcription output for one session.
type TranscriptEvent struct {
	SessionID string
	Kind      TranscriptKind
	Text      string
	LatencyMS *float64
	Err       error
}

// FormattedText is the output of the text formatter.
type FormattedText struct {
	Text            string `json:"text"`
	CommandPriority bool   `json:"commandPriority"`
}

// HistoryEntry is one persisted transcript. Entries are never rewritten.
type HistoryEntry struct {
	Timestamp time.Time `json:"ts"`
	Text      string    `json:"text"`
}

// LatencySummary reports the rolling latency window; nil fields are absent.
type LatencySummary struct {
	Last  *float64 `json:"last,omitempty"`
	P50   *float64 `json:"p50,omitempty"`
	P95   *float64 `json:"p95,omitempty"`
	Count int      `json:"count"`
}

// InsertResult is returned once a transcript has been placed into the target.
type InsertResult struct {
	RawTranscript string `json:"rawTranscript"`
	InsertedText  string `json:"insertedText"`
	Method        string `json:"method"`
	Polished      bool   `json:"polished"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState `json:"state"`
	Active    bool         `json:"active"`
	SessionID string       `json:"sessionId,omitempty"`
	Message   string       `json:"message,omitempty"`
}
