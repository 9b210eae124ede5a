package ports

import (
	"context"
	"io"
	"time"

	"dictamic/internal/domain"
)

// Settings is the read side of the user-facing configuration surface.
// It is consulted on every decision, never cached by callers.
type Settings interface {
	TriggerKey() int
	RecordingMode() domain.RecordingMode
	Language() string
	Model() string
	InsertionMode() domain.InsertionMode
	SpokenCommands() bool
	AsyncPolish() bool
	LatencyOverlay() bool
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session producing s16le PCM.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// AudioArchive optionally records a session's PCM for later re-transcription.
type AudioArchive interface {
	Open(sessionID string, sampleRate int, channels int) (AudioRecording, error)
}

// AudioRecording receives the PCM of a single session.
type AudioRecording interface {
	Write(pcm16 []byte) error
	Close() error
	Path() string
}

// BeginParams describes a new streaming session.
type BeginParams struct {
	SampleRate int
	Language   string
	Model      string
	Target     domain.TargetContext
}

// StreamingClient owns at most one live transcription session at a time.
type StreamingClient interface {
	Begin(ctx context.Context, params BeginParams) (string, error)
	SendChunk(chunk domain.StreamChunk)
	End() error
	Cancel()
	Events() <-chan domain.TranscriptEvent
}

// FileTranscriber is the non-streaming collaborator: transcribe a file on disk.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

// RulesEngine transforms transcripts using user substitution rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Polisher rewrites text for readability. Callers bound it with a timeout.
type Polisher interface {
	Polish(ctx context.Context, text string) (string, error)
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// Keyboard simulates input into the focused application.
type Keyboard interface {
	Paste() error
	Type(ctx context.Context, text string) error
}

// FocusTracker reports and changes the foreground application.
type FocusTracker interface {
	Frontmost(ctx context.Context) (domain.TargetContext, error)
	Activate(ctx context.Context, target domain.TargetContext) error
}

// PermissionChecker reports whether input simulation is allowed.
type PermissionChecker interface {
	CanSimulateInput(ctx context.Context) bool
}

// HistoryStore is the append-only transcript log.
type HistoryStore interface {
	Append(entry domain.HistoryEntry) error
}

// LatencySink receives end-to-end latency samples in milliseconds.
type LatencySink interface {
	Add(ms float64)
}

// Notifier shows user-visible failure indicators outside the app window.
type Notifier interface {
	Notify(title string, message string)
}

// Scheduler runs deferred work; the returned func cancels it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) (cancel func() bool)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(result domain.InsertResult)
	SessionError(code domain.ErrorCode, detail string)
	LatencyUpdated(summary domain.LatencySummary)
}
