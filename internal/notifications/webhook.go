package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/nexusvoice/nexusvoice/internal/simulator"
)

// Webhook posts call results to a user-configured automation endpoint, so
// finished calls can trigger downstream workflows.
type Webhook struct {
	url    string
	logger *log.Logger
	client *http.Client
}

// NewWebhook creates a new webhook notifier. If url is empty, notifications
// are silently skipped.
func NewWebhook(url string, logger *log.Logger) *Webhook {
	return &Webhook{
		url:    url,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

// CallCompletedPayload is the body posted when a call finishes.
type CallCompletedPayload struct {
	Event           string            `json:"event"`
	CallID          string            `json:"call_id"`
	AgentID         string            `json:"agent_id,omitempty"`
	AgentName       string            `json:"agent_name,omitempty"`
	Direction       string            `json:"direction"`
	DurationSeconds int               `json:"duration_seconds"`
	Transcript      []simulator.Entry `json:"transcript"`
	EndedAt         string            `json:"ended_at"`
}

// send posts a payload to the webhook asynchronously.
// Errors are logged but don't affect caller.
func (w *Webhook) send(ctx context.Context, payload any) {
	if !w.Enabled() {
		return
	}

	go func() {
		body, err := json.Marshal(payload)
		if err != nil {
			w.logger.Printf("webhook: failed to marshal payload: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Printf("webhook: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Printf("webhook: failed to send: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			w.logger.Printf("webhook: endpoint returned status %d", resp.StatusCode)
		}
	}()
}

// NotifyCallCompleted sends the finished call's transcript and metadata.
func (w *Webhook) NotifyCallCompleted(ctx context.Context, p CallCompletedPayload) {
	p.Event = "call.completed"
	if p.EndedAt == "" {
		p.EndedAt = time.Now().UTC().Format(time.RFC3339)
	}
	w.send(ctx, p)
}

// NotifyAgentUpdated fires when an agent's configuration is saved.
func (w *Webhook) NotifyAgentUpdated(ctx context.Context, agentID, agentName string) {
	w.send(ctx, map[string]string{
		"event":      "agent.updated",
		"agent_id":   agentID,
		"agent_name": agentName,
		"at":         time.Now().UTC().Format(time.RFC3339),
	})
}

// NotifyNumberPurchased fires when a phone number is bought.
func (w *Webhook) NotifyNumberPurchased(ctx context.Context, number string) {
	w.send(ctx, map[string]string{
		"event":  "number.purchased",
		"number": number,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

// NotifyTest posts a sample event so users can verify their automation.
func (w *Webhook) NotifyTest(ctx context.Context) {
	w.send(ctx, map[string]string{
		"event": "test",
		"at":    time.Now().UTC().Format(time.RFC3339),
	})
}
