// Package costs provides cost calculation for API usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// TwilioCentsPerMinute is the cost per minute for Twilio outbound voice calls.
	// Default: $0.014/min = 1.4 cents/min
	TwilioCentsPerMinute = getEnvFloat("COST_TWILIO_CENTS_PER_MIN", 1.4)

	// GeminiCentsPerThousandInputTokens is the cost per 1K input tokens for Gemini Flash.
	// Default: $0.10/1M = $0.0001/1K = 0.01 cents/1K tokens
	GeminiCentsPerThousandInputTokens = getEnvFloat("COST_GEMINI_INPUT_CENTS_PER_1K", 0.01)

	// GeminiCentsPerThousandOutputTokens is the cost per 1K output tokens for Gemini Flash.
	// Default: $0.40/1M = $0.0004/1K = 0.04 cents/1K tokens
	GeminiCentsPerThousandOutputTokens = getEnvFloat("COST_GEMINI_OUTPUT_CENTS_PER_1K", 0.04)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)

	// PhoneRentalCentsPerMonth is the monthly cost per phone number.
	// Default: $1.15/month = 115 cents/month
	PhoneRentalCentsPerMonth = getEnvInt("COST_PHONE_RENTAL_CENTS_PER_MONTH", 115)
)

// CallMetrics contains the raw metrics from a call used for cost calculation.
type CallMetrics struct {
	CallDurationSeconds int // Total call duration (for Twilio billing)
	LLMInputTokens      int // Tokens sent to the model
	LLMOutputTokens     int // Tokens received from the model
	TTSCharacters       int // Characters sent to TTS
}

// CallCosts contains the calculated costs for a call in cents.
type CallCosts struct {
	TwilioCostCents int
	LLMCostCents    int
	TTSCostCents    int
	TotalCostCents  int
}

// CalculateCallCosts computes the costs for a call based on usage metrics.
// Simulated calls carry no telephony duration, so their Twilio cost is zero.
func CalculateCallCosts(m CallMetrics) CallCosts {
	callMinutes := float64(m.CallDurationSeconds) / 60.0

	twilioCents := callMinutes * TwilioCentsPerMinute

	// LLM costs: per 1K tokens
	llmInputCents := (float64(m.LLMInputTokens) / 1000.0) * GeminiCentsPerThousandInputTokens
	llmOutputCents := (float64(m.LLMOutputTokens) / 1000.0) * GeminiCentsPerThousandOutputTokens
	llmCents := llmInputCents + llmOutputCents

	// TTS costs: per 1K characters
	ttsCents := (float64(m.TTSCharacters) / 1000.0) * ElevenLabsCentsPerThousandChars

	// Round to nearest cent (we store as integers)
	costs := CallCosts{
		TwilioCostCents: roundToInt(twilioCents),
		LLMCostCents:    roundToInt(llmCents),
		TTSCostCents:    roundToInt(ttsCents),
	}
	costs.TotalCostCents = costs.TwilioCostCents + costs.LLMCostCents + costs.TTSCostCents

	return costs
}

// EstimateTokens approximates the token count of a prompt or reply. Gemini
// bills by token but the dashboard only sees text, so a 4-chars-per-token
// heuristic is used for cost display.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// CalculatePhoneRentalCost calculates the prorated phone rental cost for a given number of days.
func CalculatePhoneRentalCost(phoneCount int, daysInPeriod int) int {
	if daysInPeriod <= 0 {
		daysInPeriod = 30 // Default to 30 days
	}

	// Full monthly cost per phone
	monthlyCost := phoneCount * PhoneRentalCentsPerMonth

	// Prorate based on days (assuming 30-day month for simplicity)
	prorated := float64(monthlyCost) * (float64(daysInPeriod) / 30.0)

	return roundToInt(prorated)
}

// CalculateMonthlyPhoneRentalCost returns the full monthly cost for the given number of phones.
func CalculateMonthlyPhoneRentalCost(phoneCount int) int {
	return phoneCount * PhoneRentalCentsPerMonth
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or the default if not set.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
