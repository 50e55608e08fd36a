package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/nexusvoice/nexusvoice/internal/crm"
	"github.com/nexusvoice/nexusvoice/internal/eventlog"
	"github.com/nexusvoice/nexusvoice/internal/llm"
	"github.com/nexusvoice/nexusvoice/internal/metrics"
	"github.com/nexusvoice/nexusvoice/internal/notifications"
	"github.com/nexusvoice/nexusvoice/internal/store"
	"github.com/nexusvoice/nexusvoice/internal/telephony"
	"github.com/nexusvoice/nexusvoice/internal/voicecache"
)

// Settings keys exposed through the settings endpoints. The Twilio pair is
// also read by the background number sync job.
const (
	SettingElevenLabsKey    = "elevenlabs_api_key"
	SettingTwilioAccountSID = "twilio_account_sid"
	SettingTwilioAuthToken  = "twilio_auth_token"
	SettingWebhookURL       = "automation_webhook_url"
)

type RouterConfig struct {
	PublicBaseURL string

	// Model provider
	GeminiAPIKey string

	// Default ElevenLabs key; a key saved through the settings endpoints
	// takes precedence per request.
	ElevenLabsAPIKey string

	// JWT Authentication
	DashboardPassword string
	JWTSecret         string
	JWTExpiry         time.Duration

	// Default automation webhook; the settings value takes precedence.
	WebhookURL string

	// Shared HTTP client with connection pooling for provider calls.
	HTTPClient *http.Client
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    *store.Store
	eventLog *eventlog.Logger
	gemini   *llm.GeminiClient
	twilio   *telephony.Client
	ghl      *crm.Client
	voices   *voicecache.Cache
	metrics  *metrics.Metrics
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s *store.Store, eventLog *eventlog.Logger, voices *voicecache.Cache, m *metrics.Metrics) http.Handler {
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		gemini:   llm.NewGeminiClient(llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, HTTPClient: cfg.HTTPClient}),
		twilio:   telephony.NewClient(telephony.Config{HTTPClient: cfg.HTTPClient}),
		ghl:      crm.NewClient(crm.Config{HTTPClient: cfg.HTTPClient}),
		voices:   voices,
		metrics:  m,
		mux:      http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Prometheus scrape endpoint
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	// Auth (public)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)

	// Test call WebSocket. Browsers cannot set headers on WS upgrades, so
	// the token travels as a query parameter and is checked inside.
	r.mux.HandleFunc("GET /simulator/ws", r.handleSimulatorWS)

	// Agents and folders
	r.mux.HandleFunc("GET /api/agents", r.withAuth(r.handleListAgents))
	r.mux.HandleFunc("POST /api/agents", r.withAuth(r.handleCreateAgent))
	r.mux.HandleFunc("GET /api/agents/{id}", r.withAuth(r.handleGetAgent))
	r.mux.HandleFunc("PUT /api/agents/{id}", r.withAuth(r.handleUpdateAgent))
	r.mux.HandleFunc("DELETE /api/agents/{id}", r.withAuth(r.handleDeleteAgent))
	r.mux.HandleFunc("POST /api/agents/{id}/move", r.withAuth(r.handleMoveAgent))
	r.mux.HandleFunc("POST /api/agents/{id}/optimize-prompt", r.withAuth(r.handleOptimizePrompt))
	r.mux.HandleFunc("POST /api/agents/{id}/call", r.withAuth(r.handleOutboundCall))

	r.mux.HandleFunc("GET /api/folders", r.withAuth(r.handleListFolders))
	r.mux.HandleFunc("POST /api/folders", r.withAuth(r.handleCreateFolder))
	r.mux.HandleFunc("PATCH /api/folders/{id}", r.withAuth(r.handleRenameFolder))
	r.mux.HandleFunc("DELETE /api/folders/{id}", r.withAuth(r.handleDeleteFolder))

	// Phone numbers
	r.mux.HandleFunc("GET /api/numbers", r.withAuth(r.handleListNumbers))
	r.mux.HandleFunc("GET /api/numbers/search", r.withAuth(r.handleSearchNumbers))
	r.mux.HandleFunc("POST /api/numbers/buy", r.withAuth(r.handleBuyNumber))
	r.mux.HandleFunc("DELETE /api/numbers/{id}", r.withAuth(r.handleReleaseNumber))
	r.mux.HandleFunc("POST /api/numbers/{id}/assign", r.withAuth(r.handleAssignNumber))
	r.mux.HandleFunc("POST /api/numbers/{id}/unassign", r.withAuth(r.handleUnassignNumber))

	// CRM integrations
	r.mux.HandleFunc("GET /api/integrations/accounts", r.withAuth(r.handleListAccounts))
	r.mux.HandleFunc("POST /api/integrations/accounts", r.withAuth(r.handleConnectAccount))
	r.mux.HandleFunc("DELETE /api/integrations/accounts/{id}", r.withAuth(r.handleDisconnectAccount))
	r.mux.HandleFunc("POST /api/integrations/accounts/{id}/test", r.withAuth(r.handleTestAccount))
	r.mux.HandleFunc("GET /api/integrations/accounts/{id}/fields", r.withAuth(r.handleAccountFields))
	r.mux.HandleFunc("GET /api/integrations/accounts/{id}/tags", r.withAuth(r.handleAccountTags))

	// Settings
	r.mux.HandleFunc("GET /api/settings", r.withAuth(r.handleGetSettings))
	r.mux.HandleFunc("PUT /api/settings", r.withAuth(r.handlePutSettings))
	r.mux.HandleFunc("POST /api/settings/webhook-test", r.withAuth(r.handleWebhookTest))

	// Voices
	r.mux.HandleFunc("GET /api/voices", r.withAuth(r.handleListVoices))
	r.mux.HandleFunc("POST /api/voices/clone", r.withAuth(r.handleCloneVoice))

	// Call logs and dashboard stats
	r.mux.HandleFunc("GET /api/calls", r.withAuth(r.handleListCalls))
	r.mux.HandleFunc("GET /api/calls/{id}", r.withAuth(r.handleGetCall))
	r.mux.HandleFunc("GET /api/stats", r.withAuth(r.handleStats))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// webhook returns the notifier for the currently configured automation
// webhook URL, preferring the settings value over the env default.
func (r *Router) webhook(req *http.Request) *notifications.Webhook {
	url, err := r.store.GetSetting(req.Context(), SettingWebhookURL)
	if err != nil || url == "" {
		url = r.cfg.WebhookURL
	}
	return notifications.NewWebhook(url, r.logger)
}

// elevenLabsKey resolves the ElevenLabs API key for a request: the saved
// settings value wins, falling back to the env default.
func (r *Router) elevenLabsKey(req *http.Request) string {
	key, err := r.store.GetSetting(req.Context(), SettingElevenLabsKey)
	if err == nil && key != "" {
		return key
	}
	return r.cfg.ElevenLabsAPIKey
}

// twilioCredentials loads the linked Twilio account from settings. Both
// values empty means no account is linked.
func (r *Router) twilioCredentials(req *http.Request) (telephony.Credentials, bool) {
	vals, err := r.store.GetSettings(req.Context(), []string{SettingTwilioAccountSID, SettingTwilioAuthToken})
	if err != nil {
		return telephony.Credentials{}, false
	}
	creds := telephony.Credentials{
		AccountSID: vals[SettingTwilioAccountSID],
		AuthToken:  vals[SettingTwilioAuthToken],
	}
	return creds, creds.AccountSID != "" && creds.AuthToken != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func nowUTC() time.Time { return time.Now().UTC() }

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

func wsURLFromPublicBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
