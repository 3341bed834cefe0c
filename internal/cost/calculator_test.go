package cost

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

func TestCalculator_Calculate(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name     string
		model    string
		usage    domain.Usage
		expected float64
	}{
		{
			name:     "gpt-4",
			model:    "gpt-4",
			usage:    domain.Usage{PromptTokens: 1000, CompletionTokens: 500},
			expected: 0.03 + 0.03,
		},
		{
			name:     "gpt-3.5-turbo",
			model:    "gpt-3.5-turbo",
			usage:    domain.Usage{PromptTokens: 2000, CompletionTokens: 1000},
			expected: 0.001 + 0.0015,
		},
		{
			name:     "claude sonnet",
			model:    "claude-3-5-sonnet-20241022",
			usage:    domain.Usage{PromptTokens: 1000, CompletionTokens: 1000},
			expected: 0.003 + 0.015,
		},
		{
			name:     "unknown model is free",
			model:    "mystery-model",
			usage:    domain.Usage{PromptTokens: 1000, CompletionTokens: 1000},
			expected: 0,
		},
		{
			name:     "zero usage",
			model:    "gpt-4",
			usage:    domain.Usage{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.model, tt.usage)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestCalculator_SetPricing(t *testing.T) {
	calc := NewCalculator()
	calc.SetPricing("custom-model", ModelPricing{InputPer1K: 0.002, OutputPer1K: 0.004})

	got := calc.Calculate("custom-model", domain.Usage{PromptTokens: 500, CompletionTokens: 500})
	expected := 0.001 + 0.002
	if math.Abs(got-expected) > 1e-9 {
		t.Errorf("expected %f, got %f", expected, got)
	}
}

func TestEstimateInputTokens(t *testing.T) {
	messages := []domain.Message{
		{Role: "system", Content: "You are a helpful assistant."}, // 28 chars
		{Role: "user", Content: "Hello there!"},                   // 12 chars
	}

	got := EstimateInputTokens(messages)
	if got != 10 {
		t.Errorf("expected 10 tokens, got %d", got)
	}

	if got := EstimateInputTokens(nil); got != 0 {
		t.Errorf("expected 0 tokens for no messages, got %d", got)
	}
}

func TestInMemoryTracker_RecordAndQuery(t *testing.T) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()
	now := time.Now()

	records := []UsageRecord{
		{KeyID: "key-a", CostUSD: 0.5, Timestamp: now.Add(-2 * time.Hour)},
		{KeyID: "key-a", CostUSD: 0.25, Timestamp: now.Add(-time.Minute)},
		{KeyID: "key-b", CostUSD: 9.0, Timestamp: now.Add(-time.Minute)},
	}
	for _, r := range records {
		if err := tracker.Record(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	total, err := tracker.GetKeyTotalCost(ctx, "key-a", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(total-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %f", total)
	}

	// A narrower window excludes the older record.
	total, err = tracker.GetKeyTotalCost(ctx, "key-a", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(total-0.25) > 1e-9 {
		t.Errorf("expected 0.25, got %f", total)
	}

	usage, err := tracker.GetKeyUsage(ctx, "key-b", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(usage) != 1 || usage[0].CostUSD != 9.0 {
		t.Errorf("unexpected usage records: %+v", usage)
	}
}
