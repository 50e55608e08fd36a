package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

const elevenLabsAPIBase = "https://api.elevenlabs.io/v1"

// ElevenLabsClient implements the Client interface using ElevenLabs' API.
// Audio is returned as mp3 for playback in the dashboard.
type ElevenLabsClient struct {
	apiKey     string
	modelID    string
	baseURL    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey     string
	ModelID    string  // e.g., "eleven_multilingual_v2"
	Stability  float64 // Voice stability 0.0-1.0, -1 for default
	Similarity float64 // Similarity boost 0.0-1.0, -1 for default
	BaseURL    string  // Optional override, used in tests
	HTTPClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsAPIBase
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		modelID:    modelID,
		baseURL:    baseURL,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

// ttsRequest represents an ElevenLabs TTS request.
type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to speech and returns mp3 audio data.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, voiceID, text string) ([]byte, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, voiceID)

	req := ttsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	return io.ReadAll(resp.Body)
}

// elevenLabsVoice is one entry of the /voices response.
type elevenLabsVoice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PreviewURL string `json:"preview_url"`
	Labels     struct {
		Gender string `json:"gender"`
	} `json:"labels"`
}

// Voices returns the set of voices available under the client's API key.
func (c *ElevenLabsClient) Voices(ctx context.Context) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	var payload struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	voices := make([]Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		category := "standard"
		if v.Category == "cloned" {
			category = "cloned"
		}
		gender := v.Labels.Gender
		if gender == "" {
			gender = "unknown"
		}
		voices = append(voices, Voice{
			ID:         v.VoiceID,
			Name:       v.Name,
			Gender:     gender,
			Category:   category,
			PreviewURL: v.PreviewURL,
		})
	}
	return voices, nil
}

// AddVoice uploads an audio sample for instant voice cloning and returns the
// new cloned voice.
func (c *ElevenLabsClient) AddVoice(ctx context.Context, name string, sample io.Reader, filename string) (Voice, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("name", name); err != nil {
		return Voice{}, fmt.Errorf("failed to write name field: %w", err)
	}
	if err := mw.WriteField("description", "Cloned via NexusVoice Dashboard"); err != nil {
		return Voice{}, fmt.Errorf("failed to write description field: %w", err)
	}
	fw, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return Voice{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fw, sample); err != nil {
		return Voice{}, fmt.Errorf("failed to copy sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Voice{}, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/voices/add", &buf)
	if err != nil {
		return Voice{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Voice{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Voice{}, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	var payload struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Voice{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return Voice{
		ID:       payload.VoiceID,
		Name:     name,
		Gender:   "unknown",
		Category: "cloned",
	}, nil
}
