package desktop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/micmonay/keybd_event"
)

// Keyboard issues the paste chord through keybd_event and types text through
// the platform scripting tool.
type Keyboard struct {
	goos string
	run  Runner

	mu sync.Mutex
	kb *keybd_event.KeyBonding
}

func NewKeyboard(run Runner) *Keyboard {
	if run == nil {
		run = ExecRunner
	}
	return &Keyboard{goos: runtime.GOOS, run: run}
}

// Paste sends Cmd+V on macOS and Ctrl+V elsewhere.
func (k *Keyboard) Paste() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.kb == nil {
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			return fmt.Errorf("create key bonding: %w", err)
		}
		k.kb = &kb
	}
	k.kb.Clear()
	if k.goos == "darwin" {
		k.kb.HasSuper(true)
	} else {
		k.kb.HasCTRL(true)
	}
	k.kb.SetKeys(keybd_event.VK_V)
	if err := k.kb.Launching(); err != nil {
		return fmt.Errorf("send paste chord: %w", err)
	}
	return nil
}

func (k *Keyboard) Type(ctx context.Context, text string) error {
	name, args, err := typeCommand(k.goos, text)
	if err != nil {
		return err
	}
	_, err = k.run(ctx, name, args...)
	return err
}

func typeCommand(goos string, text string) (string, []string, error) {
	switch goos {
	case "darwin":
		script := `tell application "System Events" to keystroke ` + appleScriptString(text)
		return "osascript", []string{"-e", script}, nil
	case "linux":
		return "xdotool", []string{"type", "--clearmodifiers", "--delay", "2", "--", text}, nil
	default:
		return "", nil, errors.New("direct typing not supported on " + goos)
	}
}
