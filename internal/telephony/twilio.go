// Package telephony provides the Twilio REST client used for number
// provisioning and outbound calls.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com/2010-04-01"

// Credentials are the Twilio account credentials, supplied per request so the
// dashboard can switch accounts without rebuilding the client.
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// Account is the validated Twilio account, returned by Validate.
type Account struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
	Balance      string `json:"balance,omitempty"`
}

// Capabilities describes what a number supports.
type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"SMS"`
	MMS   bool `json:"MMS"`
}

// IncomingNumber is a number already owned by the account.
type IncomingNumber struct {
	SID          string       `json:"sid"`
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	ISOCountry   string       `json:"iso_country"`
	Capabilities Capabilities `json:"capabilities"`
}

// AvailableNumber is a purchasable number from the search endpoint.
type AvailableNumber struct {
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name"`
	Locality     string       `json:"locality"`
	Region       string       `json:"region"`
	ISOCountry   string       `json:"iso_country"`
	Capabilities Capabilities `json:"capabilities"`
}

// Call is a created outbound call.
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// OutboundCallRequest describes an outbound agent call.
type OutboundCallRequest struct {
	From     string
	To       string
	Greeting string
	VoiceID  string
	// HandlerURL is the call-control endpoint that drives the conversation.
	// When empty, a static greeting-only TwiML document is used instead.
	HandlerURL string
	AgentName  string
}

// Client is a Twilio REST API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config holds the configuration for the Twilio client.
type Config struct {
	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
	// HTTPClient is the underlying HTTP client. Defaults to a client with a
	// 15 second timeout.
	HTTPClient *http.Client
}

// NewClient creates a new Twilio client.
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

// MapVoiceToTwilio maps internal voice IDs to the closest Twilio <Say> voice.
// Polly neural voices currently offer the best latency/quality ratio.
func MapVoiceToTwilio(voiceID string) string {
	switch voiceID {
	case "v1":
		return "Polly.Joanna-Neural"
	case "v2":
		return "Polly.Matthew-Neural"
	case "v3":
		return "Polly.Amy-Neural"
	case "v4":
		return "Polly.Arthur-Neural"
	case "v5":
		return "Polly.Olivia-Neural"
	case "v6":
		return "Polly.William-Neural"
	case "v7":
		return "Polly.Kajal-Neural"
	case "v8":
		return "Polly.Aditi-Neural"
	default:
		return "Polly.Joanna-Neural"
	}
}

// Validate verifies the credentials by fetching the account resource.
func (c *Client) Validate(ctx context.Context, creds Credentials) (*Account, error) {
	var account Account
	path := fmt.Sprintf("/Accounts/%s.json", creds.AccountSID)
	if err := c.get(ctx, creds, path, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListIncomingNumbers fetches the numbers owned by the account.
func (c *Client) ListIncomingNumbers(ctx context.Context, creds Credentials) ([]IncomingNumber, error) {
	var out struct {
		IncomingPhoneNumbers []IncomingNumber `json:"incoming_phone_numbers"`
	}
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers.json?PageSize=20", creds.AccountSID)
	if err := c.get(ctx, creds, path, &out); err != nil {
		return nil, err
	}
	return out.IncomingPhoneNumbers, nil
}

// SearchAvailableNumbers searches purchasable local numbers in a country,
// optionally narrowed by area code.
func (c *Client) SearchAvailableNumbers(ctx context.Context, creds Credentials, country, areaCode string) ([]AvailableNumber, error) {
	var out struct {
		AvailablePhoneNumbers []AvailableNumber `json:"available_phone_numbers"`
	}
	path := fmt.Sprintf("/Accounts/%s/AvailablePhoneNumbers/%s/Local.json?PageSize=12", creds.AccountSID, country)
	if areaCode != "" {
		path += "&AreaCode=" + url.QueryEscape(areaCode)
	}
	if err := c.get(ctx, creds, path, &out); err != nil {
		return nil, err
	}
	return out.AvailablePhoneNumbers, nil
}

// BuyNumber purchases an available number for the account.
func (c *Client) BuyNumber(ctx context.Context, creds Credentials, phoneNumber string) (*IncomingNumber, error) {
	data := url.Values{}
	data.Set("PhoneNumber", phoneNumber)

	var num IncomingNumber
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers.json", creds.AccountSID)
	if err := c.postForm(ctx, creds, path, data, &num); err != nil {
		return nil, err
	}
	return &num, nil
}

// ReleaseNumber releases an owned number back to Twilio.
func (c *Client) ReleaseNumber(ctx context.Context, creds Credentials, sid string) error {
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers/%s.json", creds.AccountSID, sid)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Twilio API error: %s - %s", resp.Status, string(body))
	}
	return nil
}

// InitiateOutboundCall places an outbound call from an agent's number.
func (c *Client) InitiateOutboundCall(ctx context.Context, creds Credentials, reqData OutboundCallRequest) (*Call, error) {
	voice := MapVoiceToTwilio(reqData.VoiceID)

	var handlerURL string
	if reqData.HandlerURL != "" {
		base := strings.TrimRight(reqData.HandlerURL, "/")
		params := url.Values{}
		params.Set("agentName", reqData.AgentName)
		params.Set("firstSentence", reqData.Greeting)
		params.Set("voice", voice)
		handlerURL = base + "/nexus-agent?" + params.Encode()
	} else {
		// No call-control backend configured. Speak the greeting and hang up.
		twiml := fmt.Sprintf(`<Response><Pause length="1"/><Say voice=%q>%s</Say></Response>`,
			voice, xmlEscape(reqData.Greeting))
		handlerURL = "http://twimlets.com/echo?Twiml=" + url.QueryEscape(twiml)
	}

	data := url.Values{}
	data.Set("To", reqData.To)
	data.Set("From", reqData.From)
	data.Set("Url", handlerURL)

	var call Call
	path := fmt.Sprintf("/Accounts/%s/Calls.json", creds.AccountSID)
	if err := c.postForm(ctx, creds, path, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) get(ctx context.Context, creds Credentials, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	return c.do(req, out)
}

func (c *Client) postForm(ctx context.Context, creds Credentials, path string, data url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(creds.AccountSID, creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
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
		return fmt.Errorf("Twilio API error: %s - %s", resp.Status, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
