package tts

import "context"

// Voice describes one synthesis voice available under an API key.
type Voice struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Gender     string `json:"gender"`
	Category   string `json:"category"` // "standard" or "cloned"
	PreviewURL string `json:"preview_url,omitempty"`
}

// Client defines the interface for premium text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech with the given voice and returns
	// playable audio data.
	Synthesize(ctx context.Context, voiceID, text string) ([]byte, error)

	// Voices returns the set of voices available under the client's API key.
	Voices(ctx context.Context) ([]Voice, error)
}
