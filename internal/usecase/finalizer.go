package usecase

import (
	"log/slog"

	"dictamic/internal/domain"
	"dictamic/internal/ports"
	"dictamic/internal/rules"
)

// transcriptFinalizer turns a raw transcript into insertable text: user
// substitution rules first, then spoken-command formatting.
type transcriptFinalizer struct {
	substitutions ports.RulesEngine
	settings      ports.Settings
	events        ports.EventSink
	logger        *slog.Logger
}

func newTranscriptFinalizer(substitutions ports.RulesEngine, settings ports.Settings, events ports.EventSink, logger *slog.Logger) transcriptFinalizer {
	return transcriptFinalizer{substitutions: substitutions, settings: settings, events: events, logger: logger}
}

// Finalize never fails: a broken rules file falls back to the raw text.
func (f transcriptFinalizer) Finalize(raw string) domain.FormattedText {
	text := raw
	if f.substitutions != nil {
		transformed, err := f.substitutions.Apply(raw)
		if err != nil {
			f.logger.Warn("substitution rules failed", "error", err)
			f.events.SessionError(domain.ErrorCodeRules, err.Error())
		} else {
			text = transformed
		}
	}
	return rules.Format(text, f.settings.SpokenCommands())
}
