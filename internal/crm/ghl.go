// Package crm provides the GoHighLevel (LeadConnector) API client used for
// CRM account linking and field mapping.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://services.leadconnectorhq.com"

	// apiVersion is the Version header required by the V2 API.
	apiVersion = "2021-07-28"
)

// Location is a GHL sub-account.
type Location struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
}

// Contact is a GHL contact record.
type Contact struct {
	ID        string   `json:"id"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Tags      []string `json:"tags,omitempty"`
}

// CustomField is a location-defined contact field, used for call result mapping.
type CustomField struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FieldKey string `json:"fieldKey"`
	DataType string `json:"dataType"`
}

// Tag is a location-defined contact tag.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is a GoHighLevel V2 API client. The access token is supplied per
// call because each linked location carries its own token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds the configuration for the GHL client.
type Config struct {
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	// HTTPClient is the underlying HTTP client. Defaults to a client with a
	// 15 second timeout.
	HTTPClient *http.Client
}

// NewClient creates a new GoHighLevel client.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// GetLocation validates the token by fetching the location's details.
func (c *Client) GetLocation(ctx context.Context, accessToken, locationID string) (*Location, error) {
	if accessToken == "" || locationID == "" {
		return nil, fmt.Errorf("access token and location ID are required")
	}

	var out struct {
		Location Location `json:"location"`
	}
	if err := c.get(ctx, accessToken, "/locations/"+locationID, &out); err != nil {
		return nil, err
	}
	return &out.Location, nil
}

// CreateTestContact verifies write access by creating a tagged test contact.
func (c *Client) CreateTestContact(ctx context.Context, accessToken, locationID string) (*Contact, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}

	payload := map[string]any{
		"firstName": "NexusVoice",
		"lastName":  "Test",
		// Unique email to prevent duplicate-contact errors.
		"email":  fmt.Sprintf("test.%d@nexusvoice.ai", time.Now().UnixMilli()),
		"phone":  "+15550109988",
		"tags":   []string{"nexus-integration-test"},
		"source": "NexusVoice Dashboard",
	}
	if locationID != "" {
		payload["locationId"] = locationID
	}

	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.post(ctx, accessToken, "/contacts/", payload, &out); err != nil {
		return nil, err
	}
	return &out.Contact, nil
}

// GetCustomFields fetches the location's custom fields for result mapping.
func (c *Client) GetCustomFields(ctx context.Context, accessToken, locationID string) ([]CustomField, error) {
	var out struct {
		CustomFields []CustomField `json:"customFields"`
	}
	if err := c.get(ctx, accessToken, "/locations/"+locationID+"/customFields", &out); err != nil {
		return nil, err
	}
	return out.CustomFields, nil
}

// GetTags fetches the location's contact tags.
func (c *Client) GetTags(ctx context.Context, accessToken, locationID string) ([]Tag, error) {
	var out struct {
		Tags []Tag `json:"tags"`
	}
	if err := c.get(ctx, accessToken, "/locations/"+locationID+"/tags", &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, accessToken)
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, accessToken, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, accessToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		// The API reports errors in either "message" or "error".
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = string(body)
		}
		return fmt.Errorf("GHL API error: %s - %s", resp.Status, msg)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
