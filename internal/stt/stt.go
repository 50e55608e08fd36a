package stt

import "errors"

// ErrPermissionDenied indicates the user blocked microphone access.
var ErrPermissionDenied = errors.New("microphone permission denied")

// EventKind classifies recognition events.
type EventKind int

const (
	// EventInterim is a partial, still-changing recognition result.
	EventInterim EventKind = iota
	// EventFinal is a finalized recognition result no longer subject to revision.
	EventFinal
	// EventEnded signals the recognizer stopped capturing on its own.
	EventEnded
	// EventError carries a recognition error. Err is ErrPermissionDenied when
	// the user blocked microphone access.
	EventError
)

// Event is one recognition event.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Recognizer is a speech recognition capability. Start, Stop and Abort are
// safe to call in any state and never panic; calling Start on a running
// recognizer or Stop on an idle one is a no-op.
type Recognizer interface {
	Start() error
	Stop()
	Abort()

	// Events returns the channel recognition events are delivered on. The
	// channel is closed when the recognizer is released.
	Events() <-chan Event
}
