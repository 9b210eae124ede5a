package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"dictamic/internal/audio"
	"dictamic/internal/config"
	"dictamic/internal/desktop"
	"dictamic/internal/history"
	"dictamic/internal/hotkey"
	"dictamic/internal/insertion"
	"dictamic/internal/latency"
	"dictamic/internal/metrics"
	"dictamic/internal/polish"
	"dictamic/internal/ports"
	"dictamic/internal/providers/legacy"
	"dictamic/internal/providers/stream"
	"dictamic/internal/queue"
	"dictamic/internal/rules"
	"dictamic/internal/usecase"
)

const insertionQueue = 8

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Logger     *slog.Logger
	Settings   *config.SettingsStore
	Controller *usecase.SessionController
	Inserter   *insertion.Engine
	Stream     *stream.Client
	Files      *legacy.Client
	History    *history.Store
	Latency    *latency.Recorder
	Archive    *audio.WAVArchive
	Metrics    *metrics.Metrics
	Queue      *queue.Queue
	Listener   *hotkey.Listener
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	logger := NewLogger(cfg.Log.Level)

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit, logger)
	if err != nil {
		return Services{}, err
	}

	settings := config.NewSettingsStore(cfg.Settings)
	reg := metrics.New("dictamic")
	recorder := latency.NewRecorder(latency.DefaultCapacity)
	recorder.Observe(reg.ObserveLatency)
	store := history.NewStore(cfg.Insertion.HistoryPath)
	notifier := desktop.NewNotifier(logger)
	focus := desktop.NewFocus(desktop.ExecRunner)
	scheduler := desktop.Scheduler{}

	inserter := insertion.New(insertion.Options{
		Settings:       settings,
		Polisher:       newPolisher(cfg.Polish, logger),
		Clipboard:      desktop.NewClipboard(),
		Keyboard:       desktop.NewKeyboard(desktop.ExecRunner),
		Focus:          focus,
		Permissions:    desktop.NewPermissions(desktop.ExecRunner),
		History:        store,
		Latency:        recorder,
		Notifier:       notifier,
		Scheduler:      scheduler,
		Metrics:        reg,
		Logger:         logger.With("component", "insertion"),
		PolishTimeout:  cfg.Insertion.PolishTimeout,
		RestoreDelay:   cfg.Insertion.RestoreDelay,
		PolishMinWords: cfg.Insertion.PolishMinWords,
	})

	streamClient := stream.NewClient(stream.Config{
		URL:         cfg.Backend.StreamURL,
		DialTimeout: cfg.Backend.DialTimeout,
	}, logger)

	work := queue.New(insertionQueue, logger.With("component", "queue"))

	deps := usecase.Deps{
		Settings:  settings,
		Audio:     audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logger),
		Stream:    streamClient,
		Focus:     focus,
		Rules:     rulesEngine,
		Inserter:  inserter,
		Queue:     work,
		Events:    eventSink,
		Latency:   recorder,
		Notifier:  notifier,
		Scheduler: scheduler,
		Metrics:   reg,
		Logger:    logger.With("component", "session"),
	}
	var archive *audio.WAVArchive
	if cfg.Audio.ArchiveDir != "" {
		archive = audio.NewWAVArchive(cfg.Audio.ArchiveDir)
		deps.Archive = archive
	}

	controller := usecase.NewSessionController(deps, usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		ChunkSize: cfg.Session.ChunkSize,
		StopGrace: cfg.Session.StopGrace,
	})

	return Services{
		Config:     cfg,
		Logger:     logger,
		Settings:   settings,
		Controller: controller,
		Inserter:   inserter,
		Stream:     streamClient,
		Files: legacy.NewClient(legacy.Config{
			BaseURL:     cfg.Backend.HTTPBaseURL,
			EnableHTTP2: cfg.Backend.EnableHTTP2,
		}),
		History:  store,
		Latency:  recorder,
		Archive:  archive,
		Metrics:  reg,
		Queue:    work,
		Listener: hotkey.NewListener(settings.TriggerKey, logger),
	}, nil
}

// Start launches the long-running goroutines. They stop when ctx is cancelled.
func (s Services) Start(ctx context.Context) {
	go s.Queue.Start(ctx)
	go func() {
		if err := s.Controller.Run(ctx); err != nil && ctx.Err() == nil {
			s.Logger.Error("session controller stopped", "error", err)
		}
	}()
	go s.Listener.Run(ctx, s.Controller.HandleEdge)
	if s.Config.Metrics.Addr != "" {
		go func() {
			if err := s.Metrics.Serve(ctx, s.Config.Metrics.Addr, s.Logger); err != nil {
				s.Logger.Error("metrics endpoint failed", "addr", s.Config.Metrics.Addr, "error", err)
			}
		}()
	}
}

// Close releases what Start's context does not: the pending clipboard
// restore and the websocket.
func (s Services) Close() {
	s.Queue.Close()
	s.Inserter.FlushRestore()
	s.Stream.Close()
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newPolisher returns nil when polishing is disabled.
func newPolisher(cfg config.PolishConfig, logger *slog.Logger) ports.Polisher {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	switch cfg.Backend {
	case "ollama":
		return polish.NewOllama(cfg.BaseURL, cfg.Model, httpClient)
	case "openai":
		if cfg.APIKey == "" {
			logger.Warn("openai polish backend selected without an API key; polish disabled")
			return nil
		}
		return polish.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, httpClient)
	case "", "none", "off":
		return nil
	default:
		logger.Warn("unknown polish backend; polish disabled", "backend", cfg.Backend)
		return nil
	}
}
