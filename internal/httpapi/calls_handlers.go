package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/nexusvoice/nexusvoice/internal/costs"
	"github.com/nexusvoice/nexusvoice/internal/simulator"
	"github.com/nexusvoice/nexusvoice/internal/telephony"
)

const defaultCallListLimit = 50

func (r *Router) handleListCalls(w http.ResponseWriter, req *http.Request) {
	var agentID *string
	if v := req.URL.Query().Get("agent_id"); v != "" {
		agentID = &v
	}

	limit := defaultCallListLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	calls, err := r.store.ListCallLogs(req.Context(), agentID, limit)
	if err != nil {
		r.logger.Printf("calls: list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (r *Router) handleGetCall(w http.ResponseWriter, req *http.Request) {
	call, err := r.store.GetCallLog(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "call not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	events, err := r.eventLog.ListForCall(req.Context(), call.ID)
	if err != nil {
		r.logger.Printf("calls: events fetch failed for %s: %v", call.ID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call":   call,
		"events": events,
	})
}

// handleStats aggregates recent call activity and estimated provider spend
// for the dashboard overview.
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	calls, err := r.store.ListCallLogs(req.Context(), nil, 500)
	if err != nil {
		r.logger.Printf("stats: call list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	numbers, err := r.store.ListPhoneNumbers(req.Context())
	if err != nil {
		r.logger.Printf("stats: number list failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	var totalSeconds, totalCostCents int
	for _, c := range calls {
		totalSeconds += c.DurationSeconds

		metrics := costs.CallMetrics{}
		if c.Direction != "simulated" {
			metrics.CallDurationSeconds = c.DurationSeconds
		}

		var entries []simulator.Entry
		if len(c.Transcript) > 0 {
			_ = json.Unmarshal(c.Transcript, &entries)
		}
		for _, e := range entries {
			if e.Role == simulator.RoleAgent {
				metrics.LLMOutputTokens += costs.EstimateTokens(e.Text)
				metrics.TTSCharacters += len(e.Text)
			} else {
				metrics.LLMInputTokens += costs.EstimateTokens(e.Text)
			}
		}

		totalCostCents += costs.CalculateCallCosts(metrics).TotalCostCents
	}

	rentalCents := costs.CalculateMonthlyPhoneRentalCost(len(numbers))

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":             len(calls),
		"total_duration_seconds":  totalSeconds,
		"estimated_cost_cents":    totalCostCents,
		"phone_numbers":           len(numbers),
		"phone_rental_cents":      rentalCents,
		"estimated_monthly_cents": totalCostCents + rentalCents,
	})
}

// handleOutboundCall places a real phone call that plays the agent's greeting
// to the destination number, using the number assigned to the agent.
func (r *Router) handleOutboundCall(w http.ResponseWriter, req *http.Request) {
	creds, ok := r.twilioCredentials(req)
	if !ok {
		http.Error(w, `{"error": "no Twilio account linked"}`, http.StatusPreconditionFailed)
		return
	}

	var body struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" {
		http.Error(w, `{"error": "to is required"}`, http.StatusBadRequest)
		return
	}

	agent, err := r.store.GetAgent(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	number, err := r.store.GetNumberForAgent(req.Context(), agent.ID)
	if err != nil {
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if number == nil {
		http.Error(w, `{"error": "agent has no phone number assigned"}`, http.StatusPreconditionFailed)
		return
	}

	callReq := telephony.OutboundCallRequest{
		From:      number.Number,
		To:        body.To,
		AgentName: agent.Name,
	}
	if agent.Greeting != nil {
		callReq.Greeting = *agent.Greeting
	}
	if agent.VoiceID != nil {
		callReq.VoiceID = *agent.VoiceID
	}

	call, err := r.twilio.InitiateOutboundCall(req.Context(), creds, callReq)
	if err != nil {
		r.logger.Printf("calls: outbound call failed: %v", err)
		captureError(req, err, "calls: outbound call failed")
		http.Error(w, `{"error": "outbound call failed"}`, http.StatusBadGateway)
		return
	}

	r.logger.Printf("calls: outbound call %s started for agent %s to %s", call.SID, agent.Name, body.To)
	writeJSON(w, http.StatusCreated, call)
}
