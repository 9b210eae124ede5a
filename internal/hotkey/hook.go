package hotkey

import (
	"context"
	"log/slog"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"dictamic/internal/domain"
)

// EdgeFunc receives debounced trigger edges.
type EdgeFunc func(domain.TriggerEdge)

// Listener turns global keyboard events into trigger edges for one key.
// The key is re-read on every event so settings changes apply immediately.
type Listener struct {
	triggerKey func() int
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewListener(triggerKey func() int, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{triggerKey: triggerKey, logger: logger}
}

// Run blocks until ctx is cancelled, delivering edges to emit.
func (l *Listener) Run(ctx context.Context, emit EdgeFunc) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	events := hook.Start()
	defer func() {
		hook.End()
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	l.logger.Info("global trigger listener started", "key", l.triggerKey())

	var filter edgeFilter
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			edge, ok := filter.accept(ev.Kind, int(ev.Rawcode), l.triggerKey(), ev.When)
			if ok {
				emit(edge)
			}
		}
	}
}

// edgeFilter drops auto-repeat and enforces press/release alternation.
type edgeFilter struct {
	down bool
	key  int
}

func (f *edgeFilter) accept(kind uint8, rawcode int, triggerKey int, when time.Time) (domain.TriggerEdge, bool) {
	if f.key != triggerKey {
		f.key = triggerKey
		f.down = false
	}
	if rawcode != triggerKey {
		return domain.TriggerEdge{}, false
	}
	if when.IsZero() {
		when = time.Now()
	}

	switch kind {
	case hook.KeyHold:
		if f.down {
			return domain.TriggerEdge{}, false
		}
		f.down = true
		return domain.TriggerEdge{Pressed: true, At: when}, true
	case hook.KeyUp:
		if !f.down {
			return domain.TriggerEdge{}, false
		}
		f.down = false
		return domain.TriggerEdge{Pressed: false, At: when}, true
	default:
		return domain.TriggerEdge{}, false
	}
}
