package costs

import (
	"testing"
)

func TestCalculateCallCosts(t *testing.T) {
	tests := []struct {
		name    string
		metrics CallMetrics
		want    CallCosts
	}{
		{
			name: "typical 2 minute call",
			metrics: CallMetrics{
				CallDurationSeconds: 120, // 2 minutes
				LLMInputTokens:      500, // Typical conversation
				LLMOutputTokens:     200, // Agent replies
				TTSCharacters:       400, // Spoken response chars
			},
			// Twilio: 2 * 1.4 = 2.8 -> 3 cents
			// LLM: (500/1000)*0.01 + (200/1000)*0.04 = 0.005 + 0.008 = 0.013 -> 0 cents
			// TTS: (400/1000)*18 = 7.2 -> 7 cents
			// Total: 3 + 0 + 7 = 10 cents
			want: CallCosts{
				TwilioCostCents: 3,
				LLMCostCents:    0,
				TTSCostCents:    7,
				TotalCostCents:  10,
			},
		},
		{
			name: "simulated call has no telephony cost",
			metrics: CallMetrics{
				CallDurationSeconds: 0,
				LLMInputTokens:      800,
				LLMOutputTokens:     300,
				TTSCharacters:       600,
			},
			// Twilio: 0
			// LLM: (800/1000)*0.01 + (300/1000)*0.04 = 0.008 + 0.012 = 0.02 -> 0 cents
			// TTS: (600/1000)*18 = 10.8 -> 11 cents
			want: CallCosts{
				TwilioCostCents: 0,
				LLMCostCents:    0,
				TTSCostCents:    11,
				TotalCostCents:  11,
			},
		},
		{
			name: "long 10 minute call with lots of conversation",
			metrics: CallMetrics{
				CallDurationSeconds: 600,  // 10 minutes
				LLMInputTokens:      5000, // Long conversation
				LLMOutputTokens:     2000, // Detailed responses
				TTSCharacters:       4000, // Lots of spoken text
			},
			// Twilio: 10 * 1.4 = 14 cents
			// LLM: (5000/1000)*0.01 + (2000/1000)*0.04 = 0.05 + 0.08 = 0.13 -> 0 cents
			// TTS: (4000/1000)*18 = 72 cents
			// Total: 14 + 0 + 72 = 86 cents
			want: CallCosts{
				TwilioCostCents: 14,
				LLMCostCents:    0,
				TTSCostCents:    72,
				TotalCostCents:  86,
			},
		},
		{
			name: "zero usage (edge case)",
			metrics: CallMetrics{},
			want:    CallCosts{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateCallCosts(tt.metrics)
			if got.TwilioCostCents != tt.want.TwilioCostCents {
				t.Errorf("TwilioCostCents = %d, want %d", got.TwilioCostCents, tt.want.TwilioCostCents)
			}
			if got.LLMCostCents != tt.want.LLMCostCents {
				t.Errorf("LLMCostCents = %d, want %d", got.LLMCostCents, tt.want.LLMCostCents)
			}
			if got.TTSCostCents != tt.want.TTSCostCents {
				t.Errorf("TTSCostCents = %d, want %d", got.TTSCostCents, tt.want.TTSCostCents)
			}
			if got.TotalCostCents != tt.want.TotalCostCents {
				t.Errorf("TotalCostCents = %d, want %d", got.TotalCostCents, tt.want.TotalCostCents)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"word", 1},
		{"hello", 2},
		{"I need an appointment", 6},
	}

	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCalculateMonthlyPhoneRentalCost(t *testing.T) {
	tests := []struct {
		name       string
		phoneCount int
		want       int
	}{
		{"no phones", 0, 0},
		{"one phone", 1, 115},   // $1.15
		{"two phones", 2, 230},  // $2.30
		{"five phones", 5, 575}, // $5.75
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateMonthlyPhoneRentalCost(tt.phoneCount)
			if got != tt.want {
				t.Errorf("CalculateMonthlyPhoneRentalCost(%d) = %d, want %d", tt.phoneCount, got, tt.want)
			}
		})
	}
}

func TestCalculatePhoneRentalCost_Prorated(t *testing.T) {
	tests := []struct {
		name         string
		phoneCount   int
		daysInPeriod int
		want         int
	}{
		{"full month", 1, 30, 115},
		{"10 days", 3, 10, 115}, // 3 phones * 115 * (10/30) = 115
		{"zero days defaults to 30", 1, 0, 115},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePhoneRentalCost(tt.phoneCount, tt.daysInPeriod)
			if got != tt.want {
				t.Errorf("CalculatePhoneRentalCost(%d, %d) = %d, want %d",
					tt.phoneCount, tt.daysInPeriod, got, tt.want)
			}
		})
	}
}
