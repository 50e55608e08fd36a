package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/nexusvoice/nexusvoice/internal/store"
)

func (r *Router) handleListAccounts(w http.ResponseWriter, req *http.Request) {
	accounts, err := r.store.ListConnectedAccounts(req.Context())
	if err != nil {
		r.logger.Printf("integrations: list accounts failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// handleConnectAccount validates the supplied GoHighLevel credentials by
// fetching the location, then stores the link.
func (r *Router) handleConnectAccount(w http.ResponseWriter, req *http.Request) {
	var body struct {
		AccessToken string `json:"access_token"`
		LocationID  string `json:"location_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.AccessToken == "" || body.LocationID == "" {
		http.Error(w, `{"error": "access_token and location_id are required"}`, http.StatusBadRequest)
		return
	}

	location, err := r.ghl.GetLocation(req.Context(), body.AccessToken, body.LocationID)
	if err != nil {
		r.logger.Printf("integrations: location lookup failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	account, err := r.store.UpsertConnectedAccount(req.Context(), store.ConnectedAccount{
		Provider:     "gohighlevel",
		LocationID:   body.LocationID,
		LocationName: &location.Name,
		AccessToken:  body.AccessToken,
	})
	if err != nil {
		r.logger.Printf("integrations: failed to store account: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("integrations: connected location %s (%s)", location.Name, body.LocationID)
	writeJSON(w, http.StatusCreated, account)
}

func (r *Router) handleDisconnectAccount(w http.ResponseWriter, req *http.Request) {
	if err := r.store.DeleteConnectedAccount(req.Context(), req.PathValue("id")); err != nil {
		r.logger.Printf("integrations: disconnect failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTestAccount creates a throwaway test contact in the linked location
// to prove the connection works end to end.
func (r *Router) handleTestAccount(w http.ResponseWriter, req *http.Request) {
	account := r.connectedAccount(w, req)
	if account == nil {
		return
	}

	contact, err := r.ghl.CreateTestContact(req.Context(), account.AccessToken, account.LocationID)
	if err != nil {
		r.logger.Printf("integrations: connection test failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contact": contact})
}

func (r *Router) handleAccountFields(w http.ResponseWriter, req *http.Request) {
	account := r.connectedAccount(w, req)
	if account == nil {
		return
	}

	fields, err := r.ghl.GetCustomFields(req.Context(), account.AccessToken, account.LocationID)
	if err != nil {
		r.logger.Printf("integrations: fields fetch failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (r *Router) handleAccountTags(w http.ResponseWriter, req *http.Request) {
	account := r.connectedAccount(w, req)
	if account == nil {
		return
	}

	tags, err := r.ghl.GetTags(req.Context(), account.AccessToken, account.LocationID)
	if err != nil {
		r.logger.Printf("integrations: tags fetch failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

// connectedAccount loads the {id} path account, writing the error response
// itself when the lookup fails.
func (r *Router) connectedAccount(w http.ResponseWriter, req *http.Request) *store.ConnectedAccount {
	account, err := r.store.GetConnectedAccount(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "account not found"}`, http.StatusNotFound)
			return nil
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return nil
	}
	return account
}

// ============================================================================
// Settings
// ============================================================================

var settingsKeys = []string{
	SettingElevenLabsKey,
	SettingTwilioAccountSID,
	SettingTwilioAuthToken,
	SettingWebhookURL,
}

// handleGetSettings returns the stored settings. Secrets come back masked;
// the dashboard only needs to know whether they are set.
func (r *Router) handleGetSettings(w http.ResponseWriter, req *http.Request) {
	vals, err := r.store.GetSettings(req.Context(), settingsKeys)
	if err != nil {
		r.logger.Printf("settings: read failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"elevenlabs_key_set":     vals[SettingElevenLabsKey] != "",
		"twilio_account_sid":     vals[SettingTwilioAccountSID],
		"twilio_auth_token_set":  vals[SettingTwilioAuthToken] != "",
		"automation_webhook_url": vals[SettingWebhookURL],
	})
}

// handlePutSettings writes the provided settings. Omitted keys are left
// untouched; last write wins.
func (r *Router) handlePutSettings(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ElevenLabsKey    *string `json:"elevenlabs_api_key"`
		TwilioAccountSID *string `json:"twilio_account_sid"`
		TwilioAuthToken  *string `json:"twilio_auth_token"`
		WebhookURL       *string `json:"automation_webhook_url"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	updates := map[string]*string{
		SettingElevenLabsKey:    body.ElevenLabsKey,
		SettingTwilioAccountSID: body.TwilioAccountSID,
		SettingTwilioAuthToken:  body.TwilioAuthToken,
		SettingWebhookURL:       body.WebhookURL,
	}
	for key, val := range updates {
		if val == nil {
			continue
		}
		if err := r.store.SetSetting(req.Context(), key, *val); err != nil {
			r.logger.Printf("settings: write %s failed: %v", key, err)
			http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
			return
		}
	}

	// The cached voice list belongs to the previous key.
	if body.ElevenLabsKey != nil && r.voices != nil {
		r.voices.Invalidate(req.Context(), *body.ElevenLabsKey)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleWebhookTest posts a sample event to the configured automation webhook.
func (r *Router) handleWebhookTest(w http.ResponseWriter, req *http.Request) {
	wh := r.webhook(req)
	if !wh.Enabled() {
		http.Error(w, `{"error": "no webhook configured"}`, http.StatusPreconditionFailed)
		return
	}
	wh.NotifyTest(context.Background())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
