package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

func (r *Router) handleListNumbers(w http.ResponseWriter, req *http.Request) {
	numbers, err := r.store.ListPhoneNumbers(req.Context())
	if err != nil {
		r.logger.Printf("numbers: list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, numbers)
}

// handleSearchNumbers queries the provider marketplace for available local
// numbers. Query params: country (default US), area_code (optional).
func (r *Router) handleSearchNumbers(w http.ResponseWriter, req *http.Request) {
	creds, ok := r.twilioCredentials(req)
	if !ok {
		http.Error(w, `{"error": "no Twilio account linked"}`, http.StatusPreconditionFailed)
		return
	}

	country := req.URL.Query().Get("country")
	if country == "" {
		country = "US"
	}
	areaCode := req.URL.Query().Get("area_code")

	numbers, err := r.twilio.SearchAvailableNumbers(req.Context(), creds, country, areaCode)
	if err != nil {
		r.logger.Printf("numbers: search failed: %v", err)
		captureError(req, err, "numbers: search failed")
		http.Error(w, `{"error": "number search failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, numbers)
}

func (r *Router) handleBuyNumber(w http.ResponseWriter, req *http.Request) {
	creds, ok := r.twilioCredentials(req)
	if !ok {
		http.Error(w, `{"error": "no Twilio account linked"}`, http.StatusPreconditionFailed)
		return
	}

	var body struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Number == "" {
		http.Error(w, `{"error": "number is required"}`, http.StatusBadRequest)
		return
	}

	bought, err := r.twilio.BuyNumber(req.Context(), creds, body.Number)
	if err != nil {
		r.logger.Printf("numbers: buy failed for %s: %v", body.Number, err)
		captureError(req, err, "numbers: buy failed")
		http.Error(w, `{"error": "number purchase failed"}`, http.StatusBadGateway)
		return
	}

	pn, err := r.store.UpsertPhoneNumber(req.Context(), bought.PhoneNumber, &bought.SID, &bought.FriendlyName)
	if err != nil {
		r.logger.Printf("numbers: failed to record purchased number %s: %v", bought.PhoneNumber, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("numbers: purchased %s", pn.Number)
	r.webhook(req).NotifyNumberPurchased(context.Background(), pn.Number)
	writeJSON(w, http.StatusCreated, pn)
}

// handleReleaseNumber releases the number at the provider, then removes the
// local record. Numbers synced without a provider SID are just removed.
func (r *Router) handleReleaseNumber(w http.ResponseWriter, req *http.Request) {
	pn, err := r.store.GetPhoneNumber(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "number not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	if pn.ProviderSID != nil && *pn.ProviderSID != "" {
		creds, ok := r.twilioCredentials(req)
		if !ok {
			http.Error(w, `{"error": "no Twilio account linked"}`, http.StatusPreconditionFailed)
			return
		}
		if err := r.twilio.ReleaseNumber(req.Context(), creds, *pn.ProviderSID); err != nil {
			r.logger.Printf("numbers: release failed for %s: %v", pn.Number, err)
			captureError(req, err, "numbers: release failed")
			http.Error(w, `{"error": "number release failed"}`, http.StatusBadGateway)
			return
		}
	}

	if err := r.store.DeletePhoneNumber(req.Context(), pn.ID); err != nil {
		r.logger.Printf("numbers: failed to remove released number %s: %v", pn.Number, err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("numbers: released %s", pn.Number)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleAssignNumber(w http.ResponseWriter, req *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.AgentID == "" {
		http.Error(w, `{"error": "agent_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.AssignNumberToAgent(req.Context(), req.PathValue("id"), body.AgentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "number not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("numbers: assign failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleUnassignNumber(w http.ResponseWriter, req *http.Request) {
	if err := r.store.UnassignNumber(req.Context(), req.PathValue("id")); err != nil {
		r.logger.Printf("numbers: unassign failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
