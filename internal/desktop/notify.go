package desktop

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
)

// Notifier shows desktop notifications.
type Notifier struct {
	logger *slog.Logger
	notify func(title, message, appIcon string) error
}

func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger, notify: beeep.Notify}
}

func (n *Notifier) Notify(title string, message string) {
	if err := n.notify(title, message, ""); err != nil {
		n.logger.Warn("desktop notification failed", "error", err, "message", message)
	}
}

// Scheduler runs deferred work on runtime timers.
type Scheduler struct{}

func (Scheduler) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}
