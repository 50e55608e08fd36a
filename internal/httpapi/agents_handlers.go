package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/nexusvoice/nexusvoice/internal/llm"
	"github.com/nexusvoice/nexusvoice/internal/store"
)

// agentBody is the request body for creating and updating agents.
type agentBody struct {
	Name                    string            `json:"name"`
	Description             *string           `json:"description"`
	Prompt                  string            `json:"prompt"`
	Model                   string            `json:"model"`
	Temperature             *float64          `json:"temperature"`
	VoiceID                 *string           `json:"voice_id"`
	Greeting                *string           `json:"greeting"`
	TranscriptionLanguage   string            `json:"transcription_language"`
	MaxDurationSeconds      int               `json:"max_duration_seconds"`
	SilenceTimeoutSeconds   int               `json:"silence_timeout_seconds"`
	InterruptionSensitivity string            `json:"interruption_sensitivity"`
	WaitForGreeting         bool              `json:"wait_for_greeting"`
	FolderID                *string           `json:"folder_id"`
	GHLFieldMapping         map[string]string `json:"ghl_field_mapping"`
}

func (b agentBody) toAgent() store.Agent {
	a := store.Agent{
		Name:                    b.Name,
		Description:             b.Description,
		Prompt:                  b.Prompt,
		Model:                   b.Model,
		Temperature:             0.7,
		VoiceID:                 b.VoiceID,
		Greeting:                b.Greeting,
		TranscriptionLanguage:   b.TranscriptionLanguage,
		MaxDurationSeconds:      b.MaxDurationSeconds,
		SilenceTimeoutSeconds:   b.SilenceTimeoutSeconds,
		InterruptionSensitivity: b.InterruptionSensitivity,
		WaitForGreeting:         b.WaitForGreeting,
		FolderID:                b.FolderID,
		GHLFieldMapping:         b.GHLFieldMapping,
	}
	if b.Temperature != nil {
		a.Temperature = *b.Temperature
	}
	if a.Model == "" {
		a.Model = llm.DefaultModel
	}
	if a.TranscriptionLanguage == "" {
		a.TranscriptionLanguage = "en-US"
	}
	if a.InterruptionSensitivity == "" {
		a.InterruptionSensitivity = "medium"
	}
	return a
}

func (r *Router) handleListAgents(w http.ResponseWriter, req *http.Request) {
	agents, err := r.store.ListAgents(req.Context())
	if err != nil {
		r.logger.Printf("agents: list failed: %v", err)
		captureError(req, err, "agents: list failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (r *Router) handleCreateAgent(w http.ResponseWriter, req *http.Request) {
	var body agentBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}

	agent, err := r.store.CreateAgent(req.Context(), body.toAgent())
	if err != nil {
		r.logger.Printf("agents: create failed: %v", err)
		captureError(req, err, "agents: create failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (r *Router) handleGetAgent(w http.ResponseWriter, req *http.Request) {
	agent, err := r.store.GetAgent(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (r *Router) handleUpdateAgent(w http.ResponseWriter, req *http.Request) {
	var body agentBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, `{"error": "name is required"}`, http.StatusBadRequest)
		return
	}

	a := body.toAgent()
	a.ID = req.PathValue("id")
	agent, err := r.store.UpdateAgent(req.Context(), a)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("agents: update failed: %v", err)
		captureError(req, err, "agents: update failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	r.webhook(req).NotifyAgentUpdated(context.Background(), agent.ID, agent.Name)
	writeJSON(w, http.StatusOK, agent)
}

func (r *Router) handleDeleteAgent(w http.ResponseWriter, req *http.Request) {
	err := r.store.DeleteAgent(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("agents: delete failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleMoveAgent(w http.ResponseWriter, req *http.Request) {
	var body struct {
		FolderID *string `json:"folder_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.MoveAgentToFolder(req.Context(), req.PathValue("id"), body.FolderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		r.logger.Printf("agents: move failed: %v", err)
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleOptimizePrompt rewrites the agent's system prompt through the model.
// The result is returned for review, not saved.
func (r *Router) handleOptimizePrompt(w http.ResponseWriter, req *http.Request) {
	agent, err := r.store.GetAgent(req.Context(), req.PathValue("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, `{"error": "agent not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	if agent.Prompt == "" {
		http.Error(w, `{"error": "agent has no prompt to optimize"}`, http.StatusBadRequest)
		return
	}

	optimized, err := r.gemini.SuggestPrompt(req.Context(), agent.Prompt)
	if err != nil {
		r.logger.Printf("agents: prompt optimization failed: %v", err)
		captureError(req, err, "agents: prompt optimization failed")
		http.Error(w, `{"error": "optimization failed"}`, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"prompt": optimized})
}
