package usecase

import (
	"context"
	"time"

	"dictamic/internal/domain"
	"dictamic/internal/ports"
)

// activeSession is the controller's view of the in-flight session. It is
// only touched from the Run goroutine.
type activeSession struct {
	domain.Session

	cancel    context.CancelFunc
	audio     ports.AudioSession
	recording ports.AudioRecording
	pumpDone  chan struct{}
	captured  bool

	stopIssuedAt time.Time
	graceCancel  func() bool
}

type messageKind int

const (
	msgEdge messageKind = iota
	msgArmFired
	msgGraceElapsed
	msgCaptureFailed
	msgCancel
)

// message is one input to the session authority loop.
type message struct {
	kind      messageKind
	edge      domain.TriggerEdge
	token     uint64
	sessionID string
	err       error
}
