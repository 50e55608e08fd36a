package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nexusvoice/nexusvoice/internal/eventlog"
	"github.com/nexusvoice/nexusvoice/internal/httpapi"
	"github.com/nexusvoice/nexusvoice/internal/jobs"
	"github.com/nexusvoice/nexusvoice/internal/metrics"
	"github.com/nexusvoice/nexusvoice/internal/store"
	"github.com/nexusvoice/nexusvoice/internal/telephony"
	"github.com/nexusvoice/nexusvoice/internal/voicecache"
)

const voiceCacheTTL = 10 * time.Minute

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	voices     *voicecache.Cache
	metrics    *metrics.Metrics
	httpClient *http.Client // Shared HTTP client with connection pooling for provider calls
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := store.New(db)
	el := eventlog.New(db)

	// Migrations are applied externally by the CI deploy job (docker exec psql).
	// No automatic migration runner at startup.

	// Optional Redis cache for ElevenLabs voice lists.
	voices, err := voicecache.New(cfg.RedisURL, voiceCacheTTL, logger)
	if err != nil {
		logger.Printf("Warning: voice cache unavailable: %v", err)
	}

	// Shared HTTP client with connection pooling for provider calls.
	// Keeps TCP connections alive to reduce latency for repeated synthesis
	// and model requests during a live call.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      s,
		eventLog:   el,
		voices:     voices,
		metrics:    metrics.New(),
		httpClient: httpClient,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:     a.cfg.PublicBaseURL,
		GeminiAPIKey:      a.cfg.GeminiAPIKey,
		ElevenLabsAPIKey:  a.cfg.ElevenLabsAPIKey,
		DashboardPassword: a.cfg.DashboardPassword,
		JWTSecret:         a.cfg.JWTSecret,
		JWTExpiry:         a.cfg.JWTExpiry,
		WebhookURL:        a.cfg.WebhookURL,
		HTTPClient:        a.httpClient,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, a.voices, a.metrics)
}

// NumberSync builds the background job that mirrors the linked Twilio
// account's numbers into the store.
func (a *App) NumberSync() *jobs.NumberSyncJob {
	twilio := telephony.NewClient(telephony.Config{HTTPClient: a.httpClient})
	return jobs.NewNumberSyncJob(a.store, twilio, a.logger, a.cfg.NumberSyncInterval)
}

func (a *App) Close() error {
	if a.voices != nil {
		_ = a.voices.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
