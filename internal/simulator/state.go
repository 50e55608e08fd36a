package simulator

// State is the single exclusive state of a call session. Exactly one state is
// active at any instant, which is what guarantees the recognizer, the model
// client and the synthesizer are never active concurrently.
type State int

const (
	// StateConnecting models the ringing period before the call is live.
	StateConnecting State = iota
	// StateListening means the recognizer is armed and capturing.
	StateListening
	// StateProcessing means a finalized utterance is in flight to the model.
	StateProcessing
	// StateSpeaking means the agent reply is being synthesized or played.
	StateSpeaking
	// StateEnded is terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Phase is the coarse lifecycle of a session: connecting, connected, ended.
// Transitions are monotonic and one-directional.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseConnected  Phase = "connected"
	PhaseEnded      Phase = "ended"
)

// Phase derives the lifecycle phase from the session state.
func (s State) Phase() Phase {
	switch s {
	case StateConnecting:
		return PhaseConnecting
	case StateEnded:
		return PhaseEnded
	default:
		return PhaseConnected
	}
}

// validTransitions is the full transition relation. Ending the call is legal
// from every state; everything else follows the turn cycle.
var validTransitions = map[State][]State{
	StateConnecting: {StateListening, StateSpeaking, StateEnded},
	StateListening:  {StateProcessing, StateEnded},
	StateProcessing: {StateSpeaking, StateEnded},
	StateSpeaking:   {StateListening, StateEnded},
	StateEnded:      nil,
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
