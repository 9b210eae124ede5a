package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dictamic/internal/domain"
)

// Config stores process-level runtime configuration.
type Config struct {
	Backend   BackendConfig
	Audio     AudioConfig
	Rules     RulesConfig
	Session   SessionConfig
	Insertion InsertionConfig
	Polish    PolishConfig
	Metrics   MetricsConfig
	Log       LogConfig
	Settings  Settings
}

type BackendConfig struct {
	StreamURL   string
	HTTPBaseURL string
	EnableHTTP2 bool
	DialTimeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	ArchiveDir      string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type SessionConfig struct {
	ChunkSize int
	StopGrace time.Duration
}

type InsertionConfig struct {
	HistoryPath    string
	RestoreDelay   time.Duration
	PolishTimeout  time.Duration
	PolishMinWords int
}

type PolishConfig struct {
	Backend string
	BaseURL string
	Model   string
	APIKey  string
}

type MetricsConfig struct {
	Addr string
}

type LogConfig struct {
	Level string
}

// Load resolves configuration from .env files, environment variables and defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	if err := loadEnvFiles(home); err != nil {
		return Config{}, err
	}

	defaultRules := filepath.Join(home, ".config", "dictamic", "substitutions.rules")
	hyprRules := filepath.Join(home, ".config", "hypr", "whisper-substitutions.rules")
	rulesPath := strings.TrimSpace(os.Getenv("DICTAMIC_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(defaultRules, hyprRules)
	}

	cfg := Config{
		Backend: BackendConfig{
			StreamURL:   envOrDefault("DICTAMIC_STREAM_URL", "ws://127.0.0.1:8111/stream"),
			HTTPBaseURL: envOrDefault("DICTAMIC_BACKEND_URL", "http://127.0.0.1:8111"),
			EnableHTTP2: envOrDefaultBool("DICTAMIC_ENABLE_HTTP2", false),
			DialTimeout: time.Duration(envOrDefaultInt("DICTAMIC_DIAL_TIMEOUT_MS", 2000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("DICTAMIC_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("DICTAMIC_AUDIO_INPUT_FORMAT", defaultInputFormat()),
			InputDevice:     firstNonEmpty(os.Getenv("DICTAMIC_AUDIO_INPUT_DEVICE"), defaultInputDevice()),
			SampleRate:      envOrDefaultInt("DICTAMIC_SAMPLE_RATE", 16000),
			Channels:        1,
			ArchiveDir:      strings.TrimSpace(os.Getenv("DICTAMIC_AUDIO_ARCHIVE_DIR")),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("DICTAMIC_RULE_ITERATION_LIMIT", 30),
		},
		Session: SessionConfig{
			ChunkSize: envOrDefaultInt("DICTAMIC_AUDIO_CHUNK_SIZE", 3200),
			StopGrace: time.Duration(firstNonNegativeInt("DICTAMIC_STOP_GRACE_MS", 0)) * time.Millisecond,
		},
		Insertion: InsertionConfig{
			HistoryPath:    envOrDefault("DICTAMIC_HISTORY_FILE", filepath.Join(home, ".dictamic_history.log")),
			RestoreDelay:   time.Duration(envOrDefaultInt("DICTAMIC_CLIPBOARD_RESTORE_MS", 400)) * time.Millisecond,
			PolishTimeout:  time.Duration(envOrDefaultInt("DICTAMIC_POLISH_TIMEOUT_MS", 250)) * time.Millisecond,
			PolishMinWords: envOrDefaultInt("DICTAMIC_POLISH_MIN_WORDS", 20),
		},
		Polish: PolishConfig{
			Backend: strings.ToLower(envOrDefault("DICTAMIC_POLISH_BACKEND", "ollama")),
			BaseURL: strings.TrimSpace(os.Getenv("DICTAMIC_POLISH_URL")),
			Model:   strings.TrimSpace(os.Getenv("DICTAMIC_POLISH_MODEL")),
			APIKey:  firstNonEmpty(os.Getenv("DICTAMIC_POLISH_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		},
		Metrics: MetricsConfig{
			Addr: strings.TrimSpace(os.Getenv("DICTAMIC_METRICS_ADDR")),
		},
		Log: LogConfig{
			Level: envOrDefault("DICTAMIC_LOG_LEVEL", "info"),
		},
		Settings: Settings{
			TriggerKey:     envOrDefaultInt("DICTAMIC_TRIGGER_KEY", domain.ReservedFunctionKey),
			RecordingMode:  domain.ParseRecordingMode(os.Getenv("DICTAMIC_RECORDING_MODE")),
			Language:       envOrDefault("DICTAMIC_LANGUAGE", "en"),
			Model:          envOrDefault("DICTAMIC_MODEL", "distil-whisper-large-v3"),
			InsertionMode:  domain.ParseInsertionMode(os.Getenv("DICTAMIC_INSERTION_MODE")),
			SpokenCommands: envOrDefaultBool("DICTAMIC_SPOKEN_COMMANDS", true),
			AsyncPolish:    envOrDefaultBool("DICTAMIC_ASYNC_POLISH", false),
			LatencyOverlay: envOrDefaultBool("DICTAMIC_LATENCY_OVERLAY", false),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 3200
	}
	if cfg.Backend.DialTimeout <= 0 {
		cfg.Backend.DialTimeout = 2 * time.Second
	}
	if cfg.Insertion.RestoreDelay <= 0 {
		cfg.Insertion.RestoreDelay = 400 * time.Millisecond
	}
	if cfg.Insertion.PolishTimeout <= 0 {
		cfg.Insertion.PolishTimeout = 250 * time.Millisecond
	}
	if cfg.Insertion.PolishMinWords <= 0 {
		cfg.Insertion.PolishMinWords = 20
	}

	return cfg, nil
}

// loadEnvFiles reads DICTAMIC_ENV_FILE (or ~/.config/dictamic/.env and ./.env).
// Variables already present in the environment win.
func loadEnvFiles(home string) error {
	candidates := []string{
		strings.TrimSpace(os.Getenv("DICTAMIC_ENV_FILE")),
		filepath.Join(home, ".config", "dictamic", ".env"),
		".env",
	}

	files := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.New("failed to load env file: " + err.Error())
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}
