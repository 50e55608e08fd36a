package stt

import "sync"

// Directive is a microphone control command forwarded to the browser, which
// owns the actual Web Speech API recognizer.
type Directive string

const (
	DirectiveStart Directive = "start"
	DirectiveStop  Directive = "stop"
	DirectiveAbort Directive = "abort"
)

// Bridge implements Recognizer over a browser connection. Control calls are
// translated into directives sent to the client; recognition events reported
// by the client are pushed back in through the Push methods.
type Bridge struct {
	send func(Directive) error

	mu      sync.Mutex
	running bool
	closed  bool
	events  chan Event
}

// NewBridge creates a recognizer bridge. send delivers a directive to the
// browser; its errors are swallowed because recognizer control must never
// raise (the connection reader notices a dead peer separately).
func NewBridge(send func(Directive) error) *Bridge {
	return &Bridge{
		send:   send,
		events: make(chan Event, 100),
	}
}

// Start asks the browser to arm the microphone. Idempotent.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.closed || b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	b.mu.Unlock()

	_ = b.send(DirectiveStart)
	return nil
}

// Stop asks the browser to stop capturing. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.closed || !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	_ = b.send(DirectiveStop)
}

// Abort asks the browser to discard capture immediately. Safe in any state.
func (b *Bridge) Abort() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	_ = b.send(DirectiveAbort)
}

// Events returns the recognition event channel.
func (b *Bridge) Events() <-chan Event {
	return b.events
}

// Running reports whether the microphone is currently armed from the bridge's
// point of view.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// PushInterim delivers a partial recognition result from the browser.
func (b *Bridge) PushInterim(text string) {
	b.push(Event{Kind: EventInterim, Text: text})
}

// PushFinal delivers a finalized recognition result from the browser.
func (b *Bridge) PushFinal(text string) {
	b.push(Event{Kind: EventFinal, Text: text})
}

// PushEnded reports that the browser recognizer stopped on its own.
func (b *Bridge) PushEnded() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.push(Event{Kind: EventEnded})
}

// PushError delivers a recognition error code from the browser.
// "not-allowed" maps to ErrPermissionDenied.
func (b *Bridge) PushError(code string) {
	err := error(ErrPermissionDenied)
	if code != "not-allowed" {
		err = &RecognitionError{Code: code}
	}
	b.push(Event{Kind: EventError, Err: err})
}

// Close releases the bridge and closes the event channel. Further pushes and
// control calls are no-ops.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.running = false
	close(b.events)
}

func (b *Bridge) push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		// Slow consumer; drop rather than block the connection reader.
	}
}

// RecognitionError is a non-permission recognition failure reported by the
// browser, e.g. "no-speech" or "network".
type RecognitionError struct {
	Code string
}

func (e *RecognitionError) Error() string {
	return "recognition error: " + e.Code
}
