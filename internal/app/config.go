package app

import (
	"os"
	"time"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string

	// Provider keys
	GeminiAPIKey     string
	ElevenLabsAPIKey string

	// Dashboard authentication
	DashboardPassword string
	JWTSecret         string
	JWTExpiry         time.Duration

	// Automation webhook default; the settings value takes precedence.
	WebhookURL string

	// Optional voice list cache
	RedisURL string

	SentryDSN string

	// Background number sync
	NumberSyncInterval time.Duration
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),

		GeminiAPIKey:     getenv("GEMINI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		DashboardPassword: os.Getenv("DASHBOARD_PASSWORD"), // Required - no fallback for security
		JWTSecret:         os.Getenv("JWT_SECRET"),         // Required - no fallback for security
		JWTExpiry:         getenvDuration("JWT_EXPIRY", 24*time.Hour),

		WebhookURL: getenv("AUTOMATION_WEBHOOK_URL", ""),
		RedisURL:   getenv("REDIS_URL", ""),
		SentryDSN:  getenv("SENTRY_DSN", ""),

		NumberSyncInterval: getenvDuration("NUMBER_SYNC_INTERVAL", 15*time.Minute),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
