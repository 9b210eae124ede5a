package config

import (
	"runtime"
	"strings"
	"sync"

	"dictamic/internal/domain"
)

// Settings is the user-editable configuration consumed on every decision.
type Settings struct {
	TriggerKey     int                  `json:"triggerKey"`
	RecordingMode  domain.RecordingMode `json:"recordingMode"`
	Language       string               `json:"language"`
	Model          string               `json:"model"`
	InsertionMode  domain.InsertionMode `json:"insertionMode"`
	SpokenCommands bool                 `json:"spokenCommands"`
	AsyncPolish    bool                 `json:"asyncPolish"`
	LatencyOverlay bool                 `json:"latencyOverlay"`
}

// SettingsStore is the concurrency-safe holder behind ports.Settings.
// Readers always see a consistent snapshot; writes come from the UI surface.
type SettingsStore struct {
	mu       sync.RWMutex
	settings Settings
}

func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{settings: normalize(initial)}
}

func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to a copy and stores the normalized result.
func (s *SettingsStore) Update(fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	fn(&next)
	s.settings = normalize(next)
	return s.settings
}

func (s *SettingsStore) TriggerKey() int { return s.Snapshot().TriggerKey }

// RecordingMode returns the effective mode, with the reserved-key override applied.
func (s *SettingsStore) RecordingMode() domain.RecordingMode {
	snap := s.Snapshot()
	return domain.EffectiveMode(snap.TriggerKey, snap.RecordingMode)
}

func (s *SettingsStore) Language() string                    { return s.Snapshot().Language }
func (s *SettingsStore) Model() string                       { return s.Snapshot().Model }
func (s *SettingsStore) InsertionMode() domain.InsertionMode { return s.Snapshot().InsertionMode }
func (s *SettingsStore) SpokenCommands() bool                { return s.Snapshot().SpokenCommands }
func (s *SettingsStore) AsyncPolish() bool                   { return s.Snapshot().AsyncPolish }
func (s *SettingsStore) LatencyOverlay() bool                { return s.Snapshot().LatencyOverlay }

func normalize(in Settings) Settings {
	out := in
	out.RecordingMode = domain.ParseRecordingMode(string(in.RecordingMode))
	out.InsertionMode = domain.ParseInsertionMode(string(in.InsertionMode))
	out.Language = strings.TrimSpace(in.Language)
	if out.Language == "" {
		out.Language = "en"
	}
	out.Model = strings.TrimSpace(in.Model)
	if out.TriggerKey <= 0 {
		out.TriggerKey = domain.ReservedFunctionKey
	}
	return out
}

func defaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

func defaultInputDevice() string {
	switch runtime.GOOS {
	case "darwin":
		return ":0"
	case "windows":
		return "audio=default"
	default:
		return "default"
	}
}
