// Package insertion places finalized transcripts into the target application.
package insertion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dictamic/internal/domain"
	"dictamic/internal/polish"
	"dictamic/internal/ports"
)

const (
	DefaultPolishTimeout  = 250 * time.Millisecond
	DefaultRestoreDelay   = 400 * time.Millisecond
	DefaultPolishMinWords = 20
)

// Method reports how the text reached the target.
type Method string

const (
	MethodNone      Method = "none"
	MethodDirect    Method = "direct"
	MethodClipboard Method = "clipboard"
)

type Request struct {
	Text         domain.FormattedText
	Target       domain.TargetContext
	StopIssuedAt time.Time
}

// Result describes one insertion. Fallback is the reason the direct path
// was abandoned, if it was.
type Result struct {
	Text     string
	Method   Method
	Polished bool
	Fallback error
}

// Recorder receives insertion counters. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordInsertion(method string)
	RecordFallback(reason string)
	RecordPolish(result string)
}

type Options struct {
	Settings    ports.Settings
	Polisher    ports.Polisher
	Clipboard   ports.Clipboard
	Keyboard    ports.Keyboard
	Focus       ports.FocusTracker
	Permissions ports.PermissionChecker
	History     ports.HistoryStore
	Latency     ports.LatencySink
	Notifier    ports.Notifier
	Scheduler   ports.Scheduler
	Metrics     Recorder
	Logger      *slog.Logger

	PolishTimeout  time.Duration
	RestoreDelay   time.Duration
	PolishMinWords int
	Now            func() time.Time
}

type Engine struct {
	opts Options

	clipMu  sync.Mutex
	pending *pendingRestore
	gen     uint64
}

// pendingRestore is the single clipboard restore that may be outstanding.
type pendingRestore struct {
	gen      uint64
	original string
	cancel   func() bool
}

func New(opts Options) *Engine {
	if opts.PolishTimeout <= 0 {
		opts.PolishTimeout = DefaultPolishTimeout
	}
	if opts.RestoreDelay <= 0 {
		opts.RestoreDelay = DefaultRestoreDelay
	}
	if opts.PolishMinWords <= 0 {
		opts.PolishMinWords = DefaultPolishMinWords
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{opts: opts}
}

// Insert polishes (when allowed), records history, then inserts text using the
// configured mode. The returned error is non-nil only when every path failed.
func (e *Engine) Insert(ctx context.Context, req Request) (Result, error) {
	text := strings.TrimSpace(req.Text.Text)
	if text == "" {
		return Result{Method: MethodNone}, nil
	}

	result := Result{Text: text}
	if e.shouldPolish(req.Text, text) {
		result.Text, result.Polished = e.polish(ctx, text)
	}

	if e.opts.History != nil {
		entry := domain.HistoryEntry{Timestamp: e.opts.Now(), Text: result.Text}
		if err := e.opts.History.Append(entry); err != nil {
			e.opts.Logger.Warn("history append failed", "error", err)
		}
	}

	mode := domain.InsertionModeClipboardOnly
	if e.opts.Settings != nil {
		mode = e.opts.Settings.InsertionMode()
	}

	if mode == domain.InsertionModeDirectThenClipboard {
		err := e.typeDirect(ctx, result.Text, req.Target)
		if err == nil {
			result.Method = MethodDirect
			e.finish(req, result)
			return result, nil
		}
		if !errors.Is(err, domain.ErrPermission) && !errors.Is(err, domain.ErrFocusMismatch) {
			// Typing may have delivered part of the text; pasting would duplicate it.
			e.stash(result.Text)
			e.opts.Logger.Error("direct typing failed", "error", err)
			e.notify("Typing was interrupted. The transcript is on the clipboard.")
			return result, err
		}
		result.Fallback = err
		e.opts.Logger.Info("direct typing unavailable, using clipboard", "reason", fallbackReason(err), "error", err)
		e.recordFallback(fallbackReason(err))
	}

	if err := e.paste(ctx, result.Text, req.Target); err != nil {
		e.opts.Logger.Error("insertion failed", "error", err)
		e.notify("Could not paste the transcript. It is on the clipboard.")
		return result, err
	}
	result.Method = MethodClipboard
	e.finish(req, result)
	return result, nil
}

// FlushRestore puts back any pending clipboard original immediately.
func (e *Engine) FlushRestore() {
	e.clipMu.Lock()
	defer e.clipMu.Unlock()
	original, ok := e.takePending()
	if !ok {
		return
	}
	if err := e.opts.Clipboard.WriteText(original); err != nil {
		e.opts.Logger.Warn("clipboard restore failed", "error", err)
	}
}

func (e *Engine) shouldPolish(formatted domain.FormattedText, text string) bool {
	if e.opts.Polisher == nil || e.opts.Settings == nil || !e.opts.Settings.AsyncPolish() {
		return false
	}
	if formatted.CommandPriority {
		return false
	}
	return len(strings.Fields(text)) > e.opts.PolishMinWords
}

func (e *Engine) polish(ctx context.Context, text string) (string, bool) {
	out, err := polish.Bounded(ctx, e.opts.Polisher, text, e.opts.PolishTimeout)
	switch {
	case err == nil:
		e.recordPolish("ok")
		return out, true
	case errors.Is(err, domain.ErrPolishTimeout):
		e.opts.Logger.Debug("polish timed out", "timeout_ms", e.opts.PolishTimeout.Milliseconds())
		e.recordPolish("timeout")
	default:
		e.opts.Logger.Debug("polish failed", "error", err)
		e.recordPolish("error")
	}
	return text, false
}

func (e *Engine) typeDirect(ctx context.Context, text string, target domain.TargetContext) error {
	if e.opts.Permissions == nil || e.opts.Keyboard == nil || !e.opts.Permissions.CanSimulateInput(ctx) {
		return domain.ErrPermission
	}
	if !target.IsZero() && e.opts.Focus != nil {
		if err := e.opts.Focus.Activate(ctx, target); err != nil {
			return fmt.Errorf("%w: activate %s: %v", domain.ErrFocusMismatch, target.Name, err)
		}
		front, err := e.opts.Focus.Frontmost(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrFocusMismatch, err)
		}
		if !target.Same(front) {
			return fmt.Errorf("%w: expected %s, focused %s", domain.ErrFocusMismatch, target.Name, front.Name)
		}
	}
	if err := e.opts.Keyboard.Type(ctx, text); err != nil {
		return fmt.Errorf("%w: type: %v", domain.ErrInsertionFailed, err)
	}
	return nil
}

// paste copies text, issues the paste chord and schedules the restore of the
// clipboard content that predates the first unrestored paste.
func (e *Engine) paste(ctx context.Context, text string, target domain.TargetContext) error {
	if e.opts.Clipboard == nil || e.opts.Keyboard == nil {
		return fmt.Errorf("%w: clipboard unavailable", domain.ErrInsertionFailed)
	}
	if !target.IsZero() && e.opts.Focus != nil {
		if err := e.opts.Focus.Activate(ctx, target); err != nil {
			e.opts.Logger.Debug("target not activated, pasting into foreground app", "target", target.Name, "error", err)
		}
	}

	e.clipMu.Lock()
	defer e.clipMu.Unlock()

	original, saved := e.takePending()
	inherited := saved
	if !saved {
		prev, err := e.opts.Clipboard.ReadText()
		if err != nil {
			e.opts.Logger.Warn("could not read clipboard, it will not be restored", "error", err)
		} else {
			original, saved = prev, true
		}
	}

	if err := e.opts.Clipboard.WriteText(text); err != nil {
		if saved {
			e.scheduleRestore(original)
		}
		return fmt.Errorf("%w: write clipboard: %v", domain.ErrInsertionFailed, err)
	}
	if err := e.opts.Keyboard.Paste(); err != nil {
		// The transcript stays on the clipboard for a manual paste.
		if saved {
			e.opts.Logger.Warn("paste failed, earlier clipboard content will not be restored", "inherited", inherited, "error", err)
		}
		return fmt.Errorf("%w: paste chord: %v", domain.ErrInsertionFailed, err)
	}
	if saved {
		e.scheduleRestore(original)
	}
	return nil
}

// takePending cancels the outstanding restore and hands back its original.
// Callers hold clipMu.
func (e *Engine) takePending() (string, bool) {
	if e.pending == nil {
		return "", false
	}
	p := e.pending
	e.pending = nil
	if p.cancel != nil {
		p.cancel()
	}
	return p.original, true
}

// scheduleRestore must be called with clipMu held.
func (e *Engine) scheduleRestore(original string) {
	e.gen++
	gen := e.gen
	p := &pendingRestore{gen: gen, original: original}
	e.pending = p
	restore := func() { e.restore(gen) }
	if e.opts.Scheduler == nil {
		p.cancel = time.AfterFunc(e.opts.RestoreDelay, restore).Stop
		return
	}
	p.cancel = e.opts.Scheduler.AfterFunc(e.opts.RestoreDelay, restore)
}

func (e *Engine) restore(gen uint64) {
	e.clipMu.Lock()
	defer e.clipMu.Unlock()
	if e.pending == nil || e.pending.gen != gen {
		return
	}
	original := e.pending.original
	e.pending = nil
	if err := e.opts.Clipboard.WriteText(original); err != nil {
		e.opts.Logger.Warn("clipboard restore failed", "error", err)
	}
}

// stash leaves text on the clipboard for a manual paste. Any pending restore
// is dropped so it cannot overwrite the text.
func (e *Engine) stash(text string) {
	if e.opts.Clipboard == nil {
		return
	}
	e.clipMu.Lock()
	defer e.clipMu.Unlock()
	e.takePending()
	if err := e.opts.Clipboard.WriteText(text); err != nil {
		e.opts.Logger.Warn("could not copy transcript to clipboard", "error", err)
	}
}

func (e *Engine) notify(message string) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify("Dictation", message)
	}
}

func (e *Engine) finish(req Request, result Result) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordInsertion(string(result.Method))
	}
	if req.StopIssuedAt.IsZero() || e.opts.Latency == nil {
		return
	}
	elapsed := e.opts.Now().Sub(req.StopIssuedAt)
	e.opts.Latency.Add(float64(elapsed) / float64(time.Millisecond))
}

func (e *Engine) recordFallback(reason string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordFallback(reason)
	}
}

func (e *Engine) recordPolish(result string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordPolish(result)
	}
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrPermission):
		return "permission"
	case errors.Is(err, domain.ErrFocusMismatch):
		return "focus_mismatch"
	default:
		return "direct_failed"
	}
}
