package domain

import "errors"

var (
	// ErrConnection means the streaming connection could not be opened or was lost.
	ErrConnection = errors.New("streaming connection failed")
	// ErrTranscription means the backend reported a session error.
	ErrTranscription = errors.New("transcription failed")
	// ErrEmptyTranscript means the backend produced no usable text.
	ErrEmptyTranscript = errors.New("no speech detected")
	// ErrPermission means input simulation is not permitted for this process.
	ErrPermission = errors.New("input simulation permission missing")
	// ErrFocusMismatch means the focused application is not the session target.
	ErrFocusMismatch = errors.New("focused application does not match target")
	// ErrPolishTimeout means the polish service did not answer in time.
	ErrPolishTimeout = errors.New("polish timed out")

	ErrSessionActive   = errors.New("a streaming session is already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrTargetGone      = errors.New("target application is no longer running")
	ErrInsertionFailed = errors.New("text insertion failed")
)
