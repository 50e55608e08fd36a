// Package simulator runs a simulated phone call against a configured agent:
// it captures user speech through a recognizer, forwards finalized utterances
// plus conversation history to a language model, and renders the reply as
// synthesized speech, looping until the caller ends the session.
//
// All session state is owned by a single event-loop goroutine. Recognition
// events, model completions and playback completions are delivered to the
// loop as events and handled strictly in order, so at most one of the three
// external capabilities (recognizer, model, synthesizer) is active at any
// instant without any additional locking.
package simulator

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nexusvoice/nexusvoice/internal/llm"
	"github.com/nexusvoice/nexusvoice/internal/stt"
	"github.com/nexusvoice/nexusvoice/internal/tts"
)

const (
	defaultConnectDelay = 1 * time.Second
	modelTimeout        = 20 * time.Second

	// emptyReplyText is spoken when the model returns an empty reply.
	emptyReplyText = "..."
)

// Player plays premium synthesized audio. Play is asynchronous: onDone fires
// exactly once when playback finishes or fails. Pause stops current playback
// without firing onDone.
type Player interface {
	Play(audio []byte, onDone func(err error))
	Pause()
}

// Speaker is the platform's built-in speech synthesizer, used when premium
// synthesis is unavailable or fails. Speak is asynchronous; onDone fires when
// the utterance completes. Cancel drops any queued or playing utterance.
type Speaker interface {
	Speak(text, lang string, onDone func())
	Cancel()
}

// Observer receives session callbacks. All callbacks are invoked from the
// session's event loop, never concurrently. Any field may be nil.
type Observer struct {
	OnState      func(State)
	OnTranscript func(Entry)
	OnInterim    func(string)
	OnNotice     func(string)
}

// Config is the agent configuration for one session. It is supplied whole at
// session start and immutable for the session's duration.
type Config struct {
	AgentName      string
	Model          string
	PromptTemplate string
	Temperature    float64
	VoiceID        string
	Greeting       string
	Language       string

	// MaxDuration ends the session automatically when nonzero.
	MaxDuration time.Duration
	// ConnectDelay models the ringing period. Defaults to one second.
	ConnectDelay time.Duration
}

// Deps are the session's collaborators. Model is required. A nil Recognizer
// disables voice input for the session (the agent can still speak its
// greeting). A nil Synth or Player disables the premium synthesis path.
type Deps struct {
	Recognizer stt.Recognizer
	Model      llm.Client
	Synth      tts.Client
	Voices     []string // voice IDs available under the premium key
	Player     Player
	Fallback   Speaker
	Logger     *log.Logger
	Observer   Observer
}

type eventKind int

const (
	evModelReply eventKind = iota
	evSynthResult
	evPlaybackDone
	evMuteToggle
)

type event struct {
	kind  eventKind
	text  string
	err   error
	audio []byte
	gen   uint64
}

// Session drives one simulated call end to end.
type Session struct {
	cfg  Config
	deps Deps

	recognizer stt.Recognizer
	fallback   Speaker
	logger     *log.Logger
	voiceSet   map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	// Guarded by mu: read by accessors, written only by the event loop.
	mu         sync.Mutex
	state      State
	transcript []Entry
	interim    string

	// Loop-owned, never touched outside the event loop.
	gen         uint64
	micOn       bool
	micDisabled bool
	micNotified bool
	speakingNow string
}

// NewSession constructs a session for the given agent configuration.
func NewSession(cfg Config, deps Deps) *Session {
	if cfg.ConnectDelay <= 0 {
		cfg.ConnectDelay = defaultConnectDelay
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		recognizer: deps.Recognizer,
		fallback:   deps.Fallback,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan event, 16),
		done:       make(chan struct{}),
		state:      StateConnecting,
	}

	if s.recognizer == nil {
		// No recognizer capability: speech-output-only mode.
		logger.Printf("simulator: speech recognition unavailable, voice input disabled")
		s.recognizer = nopRecognizer{}
		s.micDisabled = true
	}
	if s.fallback == nil {
		s.fallback = nopSpeaker{}
	}
	if len(deps.Voices) > 0 {
		s.voiceSet = make(map[string]struct{}, len(deps.Voices))
		for _, v := range deps.Voices {
			s.voiceSet[v] = struct{}{}
		}
	}
	return s
}

// Start begins the session. It returns immediately; progress is reported via
// the Observer and the Done channel.
func (s *Session) Start() {
	go s.run()
}

// End terminates the session. It is safe to call from any goroutine, any
// number of times, in any state. A reply or playback completion arriving
// after End is discarded.
func (s *Session) End() {
	s.cancel()
}

// ToggleMute stops the recognizer if it is capturing and starts it otherwise.
// It deliberately bypasses the state machine: it is a user escape hatch and
// may desynchronize the logical mic flag from the platform's capture state.
func (s *Session) ToggleMute() {
	s.post(event{kind: evMuteToggle})
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase returns the coarse lifecycle phase.
func (s *Session) Phase() Phase {
	return s.State().Phase()
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Interim returns the current not-yet-finalized recognized speech.
func (s *Session) Interim() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interim
}

// Done is closed once the session has fully ended and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer s.finish()

	connectTimer := time.NewTimer(s.cfg.ConnectDelay)
	defer connectTimer.Stop()

	var deadline <-chan time.Time
	if s.cfg.MaxDuration > 0 {
		dt := time.NewTimer(s.cfg.MaxDuration)
		defer dt.Stop()
		deadline = dt.C
	}

	recEvents := s.recognizer.Events()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-deadline:
			s.logger.Printf("simulator: max call duration reached")
			return

		case <-connectTimer.C:
			s.handleConnected()

		case ev, ok := <-recEvents:
			if !ok {
				recEvents = nil
				continue
			}
			s.handleRecognition(ev)

		case ev := <-s.events:
			switch ev.kind {
			case evModelReply:
				s.handleModelReply(ev)
			case evSynthResult:
				s.handleSynthResult(ev)
			case evPlaybackDone:
				s.handlePlaybackDone(ev)
			case evMuteToggle:
				s.handleMuteToggle()
			}
		}
	}
}

// finish is the single teardown path: it deactivates every capability before
// entering the terminal state, so late callbacks find nothing to act on.
func (s *Session) finish() {
	s.cancel()
	s.recognizer.Abort()
	s.fallback.Cancel()
	if s.deps.Player != nil {
		s.deps.Player.Pause()
	}
	s.transition(StateEnded)
	close(s.done)
}

func (s *Session) handleConnected() {
	if s.State() != StateConnecting {
		return
	}
	if s.cfg.Greeting != "" {
		s.enterSpeaking(s.cfg.Greeting)
		return
	}
	s.enterListening()
}

func (s *Session) handleRecognition(ev stt.Event) {
	switch ev.Kind {
	case stt.EventInterim:
		if s.State() != StateListening {
			return
		}
		s.setInterim(ev.Text)

	case stt.EventFinal:
		// Final results are acted on only while listening; anything arriving
		// during processing or speaking would break mutual exclusion.
		if s.State() != StateListening {
			return
		}
		s.setInterim("")
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return
		}
		s.enterProcessing(text)

	case stt.EventEnded:
		s.micOn = false
		// Keep the microphone armed between turns: re-start whenever the
		// platform recognizer winds down while we are still listening.
		if s.State() == StateListening && !s.micDisabled {
			s.startMic()
		}

	case stt.EventError:
		if errors.Is(ev.Err, stt.ErrPermissionDenied) {
			s.micDisabled = true
			s.micOn = false
			if !s.micNotified {
				s.micNotified = true
				s.notify("Microphone access denied.")
			}
			return
		}
		s.logger.Printf("simulator: recognition error: %v", ev.Err)
	}
}

func (s *Session) enterListening() {
	s.transition(StateListening)
	if !s.micDisabled {
		s.startMic()
	}
}

func (s *Session) enterProcessing(text string) {
	s.transition(StateProcessing)

	// Stop capture before the model request goes out; no audio may be
	// captured while the model call is in flight.
	s.recognizer.Stop()
	s.micOn = false

	s.append(Entry{Role: RoleUser, Text: text, At: time.Now().UTC()})

	history := s.historyExcludingLast()
	gen := s.nextGen()
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, modelTimeout)
		defer cancel()
		reply, err := s.deps.Model.Chat(ctx, llm.ChatRequest{
			Model:             s.cfg.Model,
			SystemInstruction: s.cfg.PromptTemplate,
			History:           history,
			Message:           text,
			Temperature:       s.cfg.Temperature,
		})
		s.post(event{kind: evModelReply, text: reply, err: err, gen: gen})
	}()
}

func (s *Session) handleModelReply(ev event) {
	if s.State() != StateProcessing || ev.gen != s.gen {
		return
	}
	reply := strings.TrimSpace(ev.text)
	if ev.err != nil {
		s.logger.Printf("simulator: model error: %v", ev.err)
		reply = llm.FallbackReply
	} else if reply == "" {
		reply = emptyReplyText
	}
	s.enterSpeaking(reply)
}

func (s *Session) enterSpeaking(text string) {
	s.transition(StateSpeaking)
	s.append(Entry{Role: RoleAgent, Text: text, At: time.Now().UTC()})

	// The recognizer should already be stopped; abort is idempotent and
	// guarantees no cross-talk is captured while the agent speaks.
	s.recognizer.Abort()
	s.micOn = false

	s.speakingNow = text

	if s.premiumAvailable() {
		gen := s.nextGen()
		go func() {
			audio, err := s.deps.Synth.Synthesize(s.ctx, s.cfg.VoiceID, text)
			s.post(event{kind: evSynthResult, audio: audio, err: err, gen: gen})
		}()
		return
	}
	s.speakFallback(text)
}

func (s *Session) handleSynthResult(ev event) {
	if s.State() != StateSpeaking || ev.gen != s.gen {
		return
	}
	if ev.err != nil || len(ev.audio) == 0 {
		s.logger.Printf("simulator: premium synthesis failed, using fallback: %v", ev.err)
		s.speakFallback(s.speakingNow)
		return
	}
	gen := s.nextGen()
	s.deps.Player.Play(ev.audio, func(err error) {
		if err != nil {
			// Playback errors are completion for flow-control purposes.
			s.logger.Printf("simulator: playback error: %v", err)
		}
		s.post(event{kind: evPlaybackDone, gen: gen})
	})
}

func (s *Session) speakFallback(text string) {
	gen := s.nextGen()
	s.fallback.Speak(text, s.cfg.Language, func() {
		s.post(event{kind: evPlaybackDone, gen: gen})
	})
}

func (s *Session) handlePlaybackDone(ev event) {
	if s.State() != StateSpeaking || ev.gen != s.gen {
		return
	}
	s.speakingNow = ""
	s.enterListening()
}

func (s *Session) handleMuteToggle() {
	if s.State() == StateEnded || s.micDisabled {
		return
	}
	if s.micOn {
		s.recognizer.Stop()
		s.micOn = false
		return
	}
	s.startMic()
}

func (s *Session) startMic() {
	if err := s.recognizer.Start(); err != nil {
		s.logger.Printf("simulator: recognizer start: %v", err)
		return
	}
	s.micOn = true
}

func (s *Session) premiumAvailable() bool {
	if s.deps.Synth == nil || s.deps.Player == nil || s.cfg.VoiceID == "" {
		return false
	}
	_, ok := s.voiceSet[s.cfg.VoiceID]
	return ok
}

// post delivers an event to the loop. After End the loop is gone, so posts
// fall through on context cancellation and the event is discarded.
func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) nextGen() uint64 {
	s.gen++
	return s.gen
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from == to || (to != StateEnded && !canTransition(from, to)) {
		s.mu.Unlock()
		if from != to {
			s.logger.Printf("simulator: illegal transition %s -> %s ignored", from, to)
		}
		return
	}
	s.state = to
	s.mu.Unlock()

	if f := s.deps.Observer.OnState; f != nil {
		f(to)
	}
}

func (s *Session) append(e Entry) {
	s.mu.Lock()
	s.transcript = append(s.transcript, e)
	s.mu.Unlock()

	if f := s.deps.Observer.OnTranscript; f != nil {
		f(e)
	}
}

func (s *Session) setInterim(text string) {
	s.mu.Lock()
	if s.interim == text {
		s.mu.Unlock()
		return
	}
	s.interim = text
	s.mu.Unlock()

	if f := s.deps.Observer.OnInterim; f != nil {
		f(text)
	}
}

func (s *Session) notify(msg string) {
	s.logger.Printf("simulator: %s", msg)
	if f := s.deps.Observer.OnNotice; f != nil {
		f(msg)
	}
}

// historyExcludingLast maps the transcript to the model's role vocabulary,
// excluding the just-appended user entry, which travels as the new message
// instead.
func (s *Session) historyExcludingLast() []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcript) == 0 {
		return nil
	}
	prior := s.transcript[:len(s.transcript)-1]
	history := make([]llm.Turn, 0, len(prior))
	for _, e := range prior {
		role := "user"
		if e.Role == RoleAgent {
			role = "model"
		}
		history = append(history, llm.Turn{Role: role, Text: e.Text})
	}
	return history
}

type nopRecognizer struct{}

func (nopRecognizer) Start() error            { return nil }
func (nopRecognizer) Stop()                   {}
func (nopRecognizer) Abort()                  {}
func (nopRecognizer) Events() <-chan stt.Event { return nil }

type nopSpeaker struct{}

func (nopSpeaker) Speak(_, _ string, onDone func()) {
	if onDone != nil {
		onDone()
	}
}
func (nopSpeaker) Cancel() {}
