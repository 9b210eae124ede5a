package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"dictamic/internal/bootstrap"
	"dictamic/internal/config"
	"dictamic/internal/domain"
)

const (
	eventSession = "dictamic:session"
	eventPartial = "dictamic:partial"
	eventFinal   = "dictamic:final"
	eventError   = "dictamic:error"
	eventLatency = "dictamic:latency"

	defaultHistoryLimit = 200
)

var errArchiveDisabled = errors.New("session audio archive is disabled (set DICTAMIC_AUDIO_ARCHIVE_DIR)")

// App is the Wails application root. It is also the backend's event sink.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services *bootstrap.Services
	bootErr  error

	emit func(ctx context.Context, name string, data ...interface{})
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.services = &services
	services.Start(runCtx)
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) shutdown(context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.services != nil {
		a.services.Close()
	}
}

// PressTrigger and ReleaseTrigger drive a session from the UI button, the
// same way the global hotkey does.
func (a *App) PressTrigger() error {
	return a.edge(true)
}

func (a *App) ReleaseTrigger() error {
	return a.edge(false)
}

// CancelSession discards an in-progress recording.
func (a *App) CancelSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.Cancel()
	return nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateErrored, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

func (a *App) GetSettings() (config.Settings, error) {
	if err := a.requireReady(); err != nil {
		return config.Settings{}, err
	}
	return a.services.Settings.Snapshot(), nil
}

// UpdateSettings replaces the user settings. Changes apply from the next
// decision; an in-flight session keeps its mode.
func (a *App) UpdateSettings(next config.Settings) (config.Settings, error) {
	if err := a.requireReady(); err != nil {
		return config.Settings{}, err
	}
	return a.services.Settings.Update(func(s *config.Settings) { *s = next }), nil
}

func (a *App) GetHistory(limit int) ([]domain.HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.History.List(historyLimit(limit))
}

func (a *App) SearchHistory(query string, limit int) ([]domain.HistoryEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.History.Search(query, historyLimit(limit))
}

func (a *App) ClearHistory() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.History.Clear()
}

func (a *App) GetLatency() (domain.LatencySummary, error) {
	if err := a.requireReady(); err != nil {
		return domain.LatencySummary{}, err
	}
	return a.services.Latency.Summary(), nil
}

// TranscribeFile sends an audio file on disk to the backend's HTTP endpoint.
func (a *App) TranscribeFile(path string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	text, err := a.services.Files.TranscribeFile(a.ctx, path)
	if err != nil {
		a.SessionError(domain.ErrorCodeTranscription, err.Error())
		return "", err
	}
	return text, nil
}

// RetranscribeLast re-runs the most recently archived session.
func (a *App) RetranscribeLast() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	if a.services.Archive == nil {
		return "", errArchiveDisabled
	}
	path, err := a.services.Archive.Latest()
	if err != nil {
		return "", fmt.Errorf("find last recording: %w", err)
	}
	return a.TranscribeFile(path)
}

func (a *App) ListModels() ([]string, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Files.ListModels(a.ctx)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"streamURL":        cfg.Backend.StreamURL,
		"backendURL":       cfg.Backend.HTTPBaseURL,
		"polishBackend":    cfg.Polish.Backend,
		"rulesFile":        cfg.Rules.Path,
		"historyFile":      a.services.History.Path(),
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"metricsAddr":      cfg.Metrics.Addr,
	}
}

func (a *App) edge(pressed bool) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Controller.HandleEdge(domain.TriggerEdge{Pressed: pressed, At: time.Now()})
	return nil
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.send(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	a.send(eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits the inserted transcript.
func (a *App) FinalTranscript(result domain.InsertResult) {
	a.send(eventFinal, result)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// LatencyUpdated feeds the overlay; it is silent while the overlay is off.
func (a *App) LatencyUpdated(summary domain.LatencySummary) {
	if a.services == nil || !a.services.Settings.LatencyOverlay() {
		return
	}
	a.send(eventLatency, summary)
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold, domain.SessionReasonArmCancelled:
		return "Mic cold"
	case domain.SessionReasonArming:
		return "Hold to dictate..."
	case domain.SessionReasonRecordingStarted:
		return "Recording"
	case domain.SessionReasonTranscribing:
		return "Recording stopped. Transcribing..."
	case domain.SessionReasonTranscriptDelivered:
		return "Inserting transcript"
	case domain.SessionReasonRecordingDiscarded:
		return "Recording discarded"
	case domain.SessionReasonNoTranscript:
		return "No transcript captured"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonConnectionFailed:
		return "Transcription backend unreachable"
	case domain.SessionReasonCaptureFailed:
		return "Microphone capture failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeConnection:
		return "Connection error"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeInsertion:
		return "Insertion failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
