package hotkey

import (
	"testing"
	"time"

	"dictamic/internal/domain"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func at(ms int) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func press(ms int, mode domain.RecordingMode) Input {
	return Input{Edge: domain.TriggerEdge{Pressed: true, At: at(ms)}, Mode: mode}
}

func release(ms int, mode domain.RecordingMode) Input {
	return Input{Edge: domain.TriggerEdge{Pressed: false, At: at(ms)}, Mode: mode}
}

func reserved(in Input) Input {
	in.Reserved = true
	return in
}

func TestHoldOnOrdinaryKeyStartsImmediately(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	if d := m.Handle(press(0, domain.RecordingModeHold)); d.Action != ActionStart || d.Mode != domain.RecordingModeHold {
		t.Fatalf("expected start, got %+v", d)
	}
	d := m.Handle(release(500, domain.RecordingModeHold))
	if d.Action != ActionStop || d.Duration != 500*time.Millisecond {
		t.Fatalf("expected stop after 500ms, got %+v", d)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", m.Phase())
	}
}

func TestReservedKeyQuickTapNeverStarts(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	d := m.Handle(reserved(press(0, domain.RecordingModeToggle)))
	if d.Action != ActionScheduleArm || d.Delay != ActivationDelay {
		t.Fatalf("expected scheduled arm, got %+v", d)
	}
	token := d.Token

	d = m.Handle(reserved(release(60, domain.RecordingModeToggle)))
	if d.Action != ActionCancelArm || d.Token != token {
		t.Fatalf("expected cancel of token %d, got %+v", token, d)
	}

	// The timer may still fire if cancellation raced it.
	if d := m.FireArm(token, at(140), false); d.Action != ActionNone || d.Ignored != IgnoreStaleArm {
		t.Fatalf("expected stale arm to be ignored, got %+v", d)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", m.Phase())
	}
}

func TestReservedKeyHeldStartsAfterDelay(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	d := m.Handle(reserved(press(0, domain.RecordingModeDoubleTap)))
	if m.Phase() != PhaseArming {
		t.Fatalf("expected arming, got %s", m.Phase())
	}

	start := m.FireArm(d.Token, at(140), false)
	if start.Action != ActionStart || start.Mode != domain.RecordingModeHold {
		t.Fatalf("expected hold start, got %+v", start)
	}

	stop := m.Handle(reserved(release(900, domain.RecordingModeDoubleTap)))
	if stop.Action != ActionStop || stop.Duration != 760*time.Millisecond {
		t.Fatalf("expected stop measured from arm, got %+v", stop)
	}
}

func TestReservedKeyNewPressSupersedesOldToken(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	first := m.Handle(reserved(press(0, domain.RecordingModeHold)))
	m.Handle(reserved(release(50, domain.RecordingModeHold)))
	second := m.Handle(reserved(press(80, domain.RecordingModeHold)))
	if second.Token == first.Token {
		t.Fatalf("expected a fresh token")
	}
	if d := m.FireArm(first.Token, at(140), false); d.Action != ActionNone {
		t.Fatalf("old token must not start, got %+v", d)
	}
	if d := m.FireArm(second.Token, at(220), false); d.Action != ActionStart {
		t.Fatalf("expected start from current token, got %+v", d)
	}
}

func TestToggleStartsAndStopsOnPresses(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	if d := m.Handle(press(0, domain.RecordingModeToggle)); d.Action != ActionStart {
		t.Fatalf("expected start, got %+v", d)
	}
	if d := m.Handle(release(100, domain.RecordingModeToggle)); d.Action != ActionNone {
		t.Fatalf("release must be ignored in toggle, got %+v", d)
	}
	if d := m.Handle(press(1000, domain.RecordingModeToggle)); d.Action != ActionStop {
		t.Fatalf("expected stop, got %+v", d)
	}
}

func TestDoubleTapNeedsTwoQuickTapsToStop(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	if d := m.Handle(press(0, domain.RecordingModeDoubleTap)); d.Action != ActionStart {
		t.Fatalf("expected start, got %+v", d)
	}
	m.Handle(release(50, domain.RecordingModeDoubleTap))

	if d := m.Handle(press(2000, domain.RecordingModeDoubleTap)); d.Action != ActionNone || d.Ignored != IgnoreStopArmed {
		t.Fatalf("single tap must not stop, got %+v", d)
	}
	m.Handle(release(2050, domain.RecordingModeDoubleTap))

	// Outside the window: this tap re-arms instead.
	if d := m.Handle(press(2500, domain.RecordingModeDoubleTap)); d.Action != ActionNone {
		t.Fatalf("late second tap must not stop, got %+v", d)
	}
	m.Handle(release(2550, domain.RecordingModeDoubleTap))

	d := m.Handle(press(2800, domain.RecordingModeDoubleTap))
	if d.Action != ActionStop || d.Duration != 2800*time.Millisecond {
		t.Fatalf("expected stop on second tap within window, got %+v", d)
	}
}

func TestShortSessionIsDiscarded(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Handle(press(0, domain.RecordingModeHold))
	d := m.Handle(release(80, domain.RecordingModeHold))
	if d.Action != ActionDiscard || d.Duration != 80*time.Millisecond {
		t.Fatalf("expected discard, got %+v", d)
	}
}

func TestRestartCooldownIgnoresStart(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Handle(press(0, domain.RecordingModeToggle))
	m.Handle(press(1000, domain.RecordingModeToggle))

	if d := m.Handle(press(1100, domain.RecordingModeToggle)); d.Action != ActionNone || d.Ignored != IgnoreCooldown {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle after cooldown, got %s", m.Phase())
	}
	if d := m.Handle(press(1300, domain.RecordingModeToggle)); d.Action != ActionStart {
		t.Fatalf("expected start after cooldown, got %+v", d)
	}
}

func TestRestartCooldownAppliesToDeferredArm(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Handle(press(0, domain.RecordingModeHold))
	m.Handle(release(500, domain.RecordingModeHold))

	d := m.Handle(reserved(press(520, domain.RecordingModeHold)))
	if d.Action != ActionScheduleArm {
		t.Fatalf("expected scheduled arm, got %+v", d)
	}
	if got := m.FireArm(d.Token, at(660), false); got.Ignored != IgnoreCooldown {
		t.Fatalf("expected cooldown at arm time, got %+v", got)
	}
	if got := m.Handle(reserved(release(900, domain.RecordingModeHold))); got.Action != ActionNone {
		t.Fatalf("release after rejected arm must be ignored, got %+v", got)
	}
}

func TestBusyRejectsStart(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	in := press(0, domain.RecordingModeToggle)
	in.Busy = true
	if d := m.Handle(in); d.Ignored != IgnoreBusy {
		t.Fatalf("expected busy rejection, got %+v", d)
	}
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", m.Phase())
	}
}

func TestModeIsCapturedAtStart(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Handle(press(0, domain.RecordingModeToggle))

	// Preference switched to hold mid-session: release still does nothing.
	if d := m.Handle(release(400, domain.RecordingModeHold)); d.Action != ActionNone {
		t.Fatalf("expected release ignored for toggle session, got %+v", d)
	}
	if d := m.Handle(press(800, domain.RecordingModeHold)); d.Action != ActionStop || d.Mode != domain.RecordingModeToggle {
		t.Fatalf("expected toggle stop, got %+v", d)
	}
}

func TestAbortReturnsToIdleWithoutCooldown(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Handle(press(0, domain.RecordingModeToggle))
	m.Abort()
	if m.Phase() != PhaseIdle {
		t.Fatalf("expected idle after abort")
	}
	if d := m.Handle(press(10, domain.RecordingModeToggle)); d.Action != ActionStart {
		t.Fatalf("expected start right after abort, got %+v", d)
	}
}

func TestEveryStartPairsWithOneTerminalAction(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	edges := []Input{
		press(0, domain.RecordingModeHold),
		release(200, domain.RecordingModeHold),
		release(210, domain.RecordingModeHold),
		press(600, domain.RecordingModeHold),
		press(610, domain.RecordingModeHold),
		release(650, domain.RecordingModeHold),
		press(1000, domain.RecordingModeHold),
		release(1400, domain.RecordingModeHold),
	}

	starts, ends := 0, 0
	for _, in := range edges {
		switch m.Handle(in).Action {
		case ActionStart:
			starts++
		case ActionStop, ActionDiscard:
			ends++
		}
		if ends > starts {
			t.Fatalf("terminal action without a start")
		}
	}
	if starts != 3 || ends != 3 {
		t.Fatalf("expected 3 starts and 3 ends, got %d/%d", starts, ends)
	}
}
