package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// GeminiClient implements the Client interface using the Google Generative
// Language REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string       // Optional override, used in tests
	HTTPClient *http.Client // Optional shared client with connection pooling
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiAPIBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &GeminiClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// geminiContent is one entry in the request "contents" array.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiRequest represents a generateContent request.
type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

// geminiResponse represents a generateContent response.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces a single-turn reply.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return c.generateContent(ctx, req.Model, req.SystemInstruction, []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: req.UserText}}},
	}, req.Temperature)
}

// Chat produces a reply to the newest user message given prior history.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, t := range req.History {
		contents = append(contents, geminiContent{
			Role:  t.Role,
			Parts: []geminiPart{{Text: t.Text}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Message}},
	})
	return c.generateContent(ctx, req.Model, req.SystemInstruction, contents, req.Temperature)
}

// SuggestPrompt asks the model to rewrite an agent system prompt to be more
// conversational and concise. Used by the AI Studio prompt optimizer.
func (c *GeminiClient) SuggestPrompt(ctx context.Context, currentPrompt string) (string, error) {
	reply, err := c.generateContent(ctx, OptimizerModel, "", []geminiContent{
		{Role: "user", Parts: []geminiPart{{Text: fmt.Sprintf(optimizePromptTemplate, currentPrompt)}}},
	}, 0)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (c *GeminiClient) generateContent(ctx context.Context, model, systemInstruction string, contents []geminiContent, temperature float64) (string, error) {
	if model == "" {
		model = DefaultModel
	}

	req := geminiRequest{Contents: contents}
	if systemInstruction != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemInstruction}}}
	}
	if temperature > 0 {
		req.GenerationConfig = &generationConfig{Temperature: temperature}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Gemini API error: %s - %s", resp.Status, string(respBody))
	}

	var genResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if genResp.Error != nil {
		return "", fmt.Errorf("Gemini API error %d: %s", genResp.Error.Code, genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var b strings.Builder
	for _, p := range genResp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("empty candidate text")
	}
	return text, nil
}
