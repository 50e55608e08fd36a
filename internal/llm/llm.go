package llm

import "context"

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Client defines the interface for conversational model providers.
type Client interface {
	// Generate produces a single-turn reply to userText under the given
	// system instruction.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// Chat produces a reply to the newest user message given the ordered
	// prior conversation history.
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// GenerateRequest describes a single-turn model request.
type GenerateRequest struct {
	Model             string
	SystemInstruction string
	UserText          string
	Temperature       float64
}

// ChatRequest describes a multi-turn model request. History holds all prior
// turns in order; Message is the new user message and must not be part of
// History.
type ChatRequest struct {
	Model             string
	SystemInstruction string
	History           []Turn
	Message           string
	Temperature       float64
}
