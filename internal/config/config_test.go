package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dictamic/internal/domain"
)

func TestLoadUsesRulesFallbackOrder(t *testing.T) {
	home := t.TempDir()
	ownRules := filepath.Join(home, ".config", "dictamic", "substitutions.rules")
	hyprRules := filepath.Join(home, ".config", "hypr", "whisper-substitutions.rules")

	if err := os.MkdirAll(filepath.Dir(hyprRules), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(hyprRules, []byte("a => b\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("DICTAMIC_RULES_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Rules.Path != hyprRules {
		t.Fatalf("expected hypr fallback, got %q", cfg.Rules.Path)
	}

	if err := os.MkdirAll(filepath.Dir(ownRules), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(ownRules, []byte("a => c\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg2, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg2.Rules.Path != ownRules {
		t.Fatalf("expected own rules priority, got %q", cfg2.Rules.Path)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DICTAMIC_STREAM_URL", "ws://backend:9000/stream")
	t.Setenv("DICTAMIC_BACKEND_URL", "http://backend:9000")
	t.Setenv("DICTAMIC_ENABLE_HTTP2", "yes")
	t.Setenv("DICTAMIC_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("DICTAMIC_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("DICTAMIC_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("DICTAMIC_SAMPLE_RATE", "22050")
	t.Setenv("DICTAMIC_AUDIO_CHUNK_SIZE", "512")
	t.Setenv("DICTAMIC_STOP_GRACE_MS", "25")
	t.Setenv("DICTAMIC_CLIPBOARD_RESTORE_MS", "600")
	t.Setenv("DICTAMIC_TRIGGER_KEY", "96")
	t.Setenv("DICTAMIC_RECORDING_MODE", "toggle")
	t.Setenv("DICTAMIC_INSERTION_MODE", "direct")
	t.Setenv("DICTAMIC_MODEL", "whisper-small")
	t.Setenv("DICTAMIC_ASYNC_POLISH", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend.StreamURL != "ws://backend:9000/stream" || cfg.Backend.HTTPBaseURL != "http://backend:9000" || !cfg.Backend.EnableHTTP2 {
		t.Fatalf("unexpected backend config: %+v", cfg.Backend)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 22050 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected sample/channels: %+v", cfg.Audio)
	}
	if cfg.Session.ChunkSize != 512 || cfg.Session.StopGrace != 25*time.Millisecond {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Insertion.RestoreDelay != 600*time.Millisecond {
		t.Fatalf("unexpected restore delay: %s", cfg.Insertion.RestoreDelay)
	}
	s := cfg.Settings
	if s.TriggerKey != 96 || s.RecordingMode != domain.RecordingModeToggle || s.InsertionMode != domain.InsertionModeDirectThenClipboard {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.Model != "whisper-small" || !s.AsyncPolish || !s.SpokenCommands {
		t.Fatalf("unexpected toggles: %+v", s)
	}
}

func TestLoadInvalidNumericValuesFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DICTAMIC_SAMPLE_RATE", "bad")
	t.Setenv("DICTAMIC_RULE_ITERATION_LIMIT", "0")
	t.Setenv("DICTAMIC_AUDIO_CHUNK_SIZE", "5")
	t.Setenv("DICTAMIC_STOP_GRACE_MS", "-4")
	t.Setenv("DICTAMIC_POLISH_TIMEOUT_MS", "bad")
	t.Setenv("DICTAMIC_SPOKEN_COMMANDS", "not-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Rules.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit, got %d", cfg.Rules.IterationLimit)
	}
	if cfg.Session.ChunkSize != 3200 {
		t.Fatalf("expected chunk size fallback, got %d", cfg.Session.ChunkSize)
	}
	if cfg.Session.StopGrace != 0 {
		t.Fatalf("expected zero grace, got %s", cfg.Session.StopGrace)
	}
	if cfg.Insertion.PolishTimeout != 250*time.Millisecond {
		t.Fatalf("expected default polish timeout, got %s", cfg.Insertion.PolishTimeout)
	}
	if !cfg.Settings.SpokenCommands {
		t.Fatalf("expected spoken commands default true")
	}
	if cfg.Settings.TriggerKey != domain.ReservedFunctionKey {
		t.Fatalf("expected fn trigger default, got %d", cfg.Settings.TriggerKey)
	}
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	home := t.TempDir()
	envFile := filepath.Join(home, "custom.env")
	contents := "DICTAMIC_LANGUAGE=de\nDICTAMIC_MODEL=from-file\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("DICTAMIC_ENV_FILE", envFile)
	t.Setenv("DICTAMIC_LANGUAGE", "")
	t.Setenv("DICTAMIC_MODEL", "from-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Settings.Model != "from-env" {
		t.Fatalf("expected environment to win, got %q", cfg.Settings.Model)
	}
}
