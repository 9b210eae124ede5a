// Package hotkey turns raw trigger edges into session start/stop decisions.
package hotkey

import (
	"time"

	"dictamic/internal/domain"
)

const (
	// ActivationDelay is how long the reserved key must be held before arming.
	ActivationDelay = 140 * time.Millisecond
	// DoubleTapWindow is the maximum gap between two stop taps.
	DoubleTapWindow = 350 * time.Millisecond
	// RestartCooldown suppresses a start this soon after the previous stop.
	RestartCooldown = 250 * time.Millisecond
	// MinSessionDuration is the shortest session that is not discarded.
	MinSessionDuration = 120 * time.Millisecond
)

// Phase is the per-trigger state of the machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseArming
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseArming:
		return "arming"
	case PhaseActive:
		return "active"
	default:
		return "idle"
	}
}

// Action is the side effect the caller must carry out for a decision.
type Action int

const (
	ActionNone Action = iota
	ActionScheduleArm
	ActionCancelArm
	ActionStart
	ActionStop
	ActionDiscard
)

func (a Action) String() string {
	switch a {
	case ActionScheduleArm:
		return "schedule_arm"
	case ActionCancelArm:
		return "cancel_arm"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	case ActionDiscard:
		return "discard"
	default:
		return "none"
	}
}

// Reasons attached to ActionNone decisions.
const (
	IgnoreEdge      = "edge_ignored"
	IgnoreCooldown  = "cooldown"
	IgnoreBusy      = "busy"
	IgnoreStaleArm  = "stale_arm"
	IgnoreStopArmed = "stop_armed"
)

// Decision is the outcome of feeding one input to the machine.
type Decision struct {
	Action   Action
	Token    uint64
	Delay    time.Duration
	Mode     domain.RecordingMode
	Duration time.Duration
	Ignored  string
}

// Input is one trigger edge plus the settings in force when it arrived.
type Input struct {
	Edge     domain.TriggerEdge
	Mode     domain.RecordingMode
	Reserved bool
	Busy     bool
}

// Machine is the mode-aware trigger state machine. It holds no clock and no
// timers: the caller supplies edge times, runs the scheduled arm, and feeds it
// back through FireArm with the token it was given. Not safe for concurrent use.
type Machine struct {
	phase      Phase
	token      uint64
	mode       domain.RecordingMode
	startedAt  time.Time
	lastStopAt time.Time
	lastTapAt  time.Time
}

func NewMachine() *Machine {
	return &Machine{}
}

func (m *Machine) Phase() Phase {
	return m.phase
}

// Handle applies one edge.
func (m *Machine) Handle(in Input) Decision {
	if in.Edge.Pressed {
		return m.press(in)
	}
	return m.release(in.Edge.At)
}

// FireArm is called when a scheduled arm elapses. Tokens from cancelled or
// superseded arms are ignored.
func (m *Machine) FireArm(token uint64, now time.Time, busy bool) Decision {
	if m.phase != PhaseArming || token != m.token {
		return Decision{Ignored: IgnoreStaleArm}
	}
	return m.start(domain.RecordingModeHold, now, busy)
}

// Abort returns to idle after the caller failed to carry out a start.
// It does not count as a stop for the restart cooldown.
func (m *Machine) Abort() {
	m.phase = PhaseIdle
	m.token++
	m.lastTapAt = time.Time{}
}

func (m *Machine) press(in Input) Decision {
	now := in.Edge.At

	switch m.phase {
	case PhaseArming:
		return Decision{Ignored: IgnoreEdge}
	case PhaseActive:
		switch m.mode {
		case domain.RecordingModeToggle:
			return m.stop(now)
		case domain.RecordingModeDoubleTap:
			if !m.lastTapAt.IsZero() && now.Sub(m.lastTapAt) <= DoubleTapWindow {
				return m.stop(now)
			}
			m.lastTapAt = now
			return Decision{Ignored: IgnoreStopArmed}
		default:
			return Decision{Ignored: IgnoreEdge}
		}
	}

	mode := in.Mode
	if in.Reserved {
		mode = domain.RecordingModeHold
	}

	if in.Reserved {
		m.phase = PhaseArming
		m.token++
		m.mode = domain.RecordingModeHold
		return Decision{Action: ActionScheduleArm, Token: m.token, Delay: ActivationDelay, Mode: mode}
	}
	return m.start(mode, now, in.Busy)
}

func (m *Machine) release(now time.Time) Decision {
	switch m.phase {
	case PhaseArming:
		m.phase = PhaseIdle
		token := m.token
		m.token++
		return Decision{Action: ActionCancelArm, Token: token}
	case PhaseActive:
		if m.mode == domain.RecordingModeHold {
			return m.stop(now)
		}
	}
	return Decision{Ignored: IgnoreEdge}
}

func (m *Machine) start(mode domain.RecordingMode, now time.Time, busy bool) Decision {
	if busy {
		m.phase = PhaseIdle
		return Decision{Ignored: IgnoreBusy}
	}
	if !m.lastStopAt.IsZero() && now.Sub(m.lastStopAt) < RestartCooldown {
		m.phase = PhaseIdle
		return Decision{Ignored: IgnoreCooldown}
	}

	m.phase = PhaseActive
	m.mode = mode
	m.startedAt = now
	m.lastTapAt = time.Time{}
	if mode == domain.RecordingModeDoubleTap {
		m.lastTapAt = now
	}
	return Decision{Action: ActionStart, Mode: mode}
}

func (m *Machine) stop(now time.Time) Decision {
	duration := now.Sub(m.startedAt)
	m.phase = PhaseIdle
	m.lastStopAt = now
	m.lastTapAt = time.Time{}

	if duration < MinSessionDuration {
		return Decision{Action: ActionDiscard, Mode: m.mode, Duration: duration}
	}
	return Decision{Action: ActionStop, Mode: m.mode, Duration: duration}
}
