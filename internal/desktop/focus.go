package desktop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"dictamic/internal/domain"
)

// Focus reports and changes the foreground application.
type Focus struct {
	goos string
	run  Runner
	comm func(pid int) string
}

func NewFocus(run Runner) *Focus {
	if run == nil {
		run = ExecRunner
	}
	return &Focus{goos: runtime.GOOS, run: run, comm: procComm}
}

const frontmostScript = `tell application "System Events" to get {name, unix id} of first application process whose frontmost is true`

func (f *Focus) Frontmost(ctx context.Context) (domain.TargetContext, error) {
	switch f.goos {
	case "darwin":
		out, err := f.run(ctx, "osascript", "-e", frontmostScript)
		if err != nil {
			return domain.TargetContext{}, err
		}
		return parseAppleScriptProcess(out)
	case "linux":
		out, err := f.run(ctx, "xdotool", "getactivewindow", "getwindowpid")
		if err != nil {
			return domain.TargetContext{}, err
		}
		pid, err := strconv.Atoi(strings.TrimSpace(out))
		if err != nil {
			return domain.TargetContext{}, fmt.Errorf("parse window pid %q: %w", out, err)
		}
		return domain.TargetContext{PID: pid, Name: f.comm(pid)}, nil
	default:
		return domain.TargetContext{}, errors.New("focus tracking not supported on " + f.goos)
	}
}

func (f *Focus) Activate(ctx context.Context, target domain.TargetContext) error {
	if target.IsZero() {
		return domain.ErrTargetGone
	}
	switch f.goos {
	case "darwin":
		var script string
		if target.PID != 0 {
			script = fmt.Sprintf(`tell application "System Events" to set frontmost of (first process whose unix id is %d) to true`, target.PID)
		} else {
			script = "tell application " + appleScriptString(target.Name) + " to activate"
		}
		if _, err := f.run(ctx, "osascript", "-e", script); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTargetGone, err)
		}
		return nil
	case "linux":
		if target.PID == 0 {
			return domain.ErrTargetGone
		}
		_, err := f.run(ctx, "xdotool", "search", "--pid", strconv.Itoa(target.PID), "--limit", "1", "windowactivate", "--sync")
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrTargetGone, err)
		}
		return nil
	default:
		return errors.New("focus tracking not supported on " + f.goos)
	}
}

// parseAppleScriptProcess reads "Name, 123" as printed by osascript.
func parseAppleScriptProcess(out string) (domain.TargetContext, error) {
	idx := strings.LastIndex(out, ",")
	if idx < 0 {
		return domain.TargetContext{}, fmt.Errorf("unexpected process description %q", out)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out[idx+1:]))
	if err != nil {
		return domain.TargetContext{}, fmt.Errorf("parse process id in %q: %w", out, err)
	}
	return domain.TargetContext{PID: pid, Name: strings.TrimSpace(out[:idx])}, nil
}

func procComm(pid int) string {
	raw, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Permissions reports whether synthetic input can reach other applications.
type Permissions struct {
	goos     string
	run      Runner
	lookPath func(string) (string, error)
	getenv   func(string) string
}

func NewPermissions(run Runner) *Permissions {
	if run == nil {
		run = ExecRunner
	}
	return &Permissions{goos: runtime.GOOS, run: run, lookPath: exec.LookPath, getenv: os.Getenv}
}

func (p *Permissions) CanSimulateInput(ctx context.Context) bool {
	switch p.goos {
	case "darwin":
		out, err := p.run(ctx, "osascript", "-e", `tell application "System Events" to return UI elements enabled`)
		return err == nil && strings.EqualFold(strings.TrimSpace(out), "true")
	case "linux":
		if p.getenv("DISPLAY") == "" {
			return false
		}
		_, err := p.lookPath("xdotool")
		return err == nil
	default:
		return false
	}
}
