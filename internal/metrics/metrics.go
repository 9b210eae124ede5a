// Package metrics exposes session and insertion counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal      *prometheus.CounterVec
	SessionDuration    prometheus.Histogram
	InsertionsTotal    *prometheus.CounterVec
	FallbacksTotal     *prometheus.CounterVec
	PolishTotal        *prometheus.CounterVec
	InsertionLatency   prometheus.Histogram
	AudioChunksDropped prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dictamic"
	}

	registry := prometheus.NewRegistry()

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Capture sessions by terminal outcome",
		},
		[]string{"outcome"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time between session start and stop",
			Buckets:   []float64{0.12, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	insertionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insertions_total",
			Help:      "Completed insertions by method",
		},
		[]string{"method"},
	)

	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insertion_fallbacks_total",
			Help:      "Direct typing attempts that fell back to clipboard paste",
		},
		[]string{"reason"},
	)

	polishTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polish_total",
			Help:      "Polish requests by result",
		},
		[]string{"result"},
	)

	insertionLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insertion_latency_seconds",
			Help:      "Stop-issued to insertion-complete latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5},
		},
	)

	audioChunksDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Invalid or empty audio chunks skipped by the pump",
		},
	)

	registry.MustRegister(
		sessionsTotal,
		sessionDuration,
		insertionsTotal,
		fallbacksTotal,
		polishTotal,
		insertionLatency,
		audioChunksDropped,
	)

	return &Metrics{
		registry:           registry,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		InsertionsTotal:    insertionsTotal,
		FallbacksTotal:     fallbacksTotal,
		PolishTotal:        polishTotal,
		InsertionLatency:   insertionLatency,
		AudioChunksDropped: audioChunksDropped,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSession(outcome string, duration time.Duration) {
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.SessionDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordInsertion(method string) {
	m.InsertionsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) RecordFallback(reason string) {
	m.FallbacksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordPolish(result string) {
	m.PolishTotal.WithLabelValues(result).Inc()
}

// ObserveLatency takes milliseconds, matching the latency recorder.
func (m *Metrics) ObserveLatency(ms float64) {
	m.InsertionLatency.Observe(ms / 1000)
}

func (m *Metrics) RecordDroppedChunk() {
	m.AudioChunksDropped.Inc()
}

// Serve runs the metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
