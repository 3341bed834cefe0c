// Package cost computes per-call USD cost from token usage and tracks
// accumulated usage per virtual key for budget enforcement.
package cost

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
)

type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

var defaultPricing = map[string]ModelPricing{
	"gpt-4":                      {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-4-turbo":                {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4o":                     {InputPer1K: 0.005, OutputPer1K: 0.015},
	"gpt-4o-mini":                {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-3.5-turbo":              {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku-20241022":  {InputPer1K: 0.001, OutputPer1K: 0.005},
	"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-sonnet":              {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-haiku":               {InputPer1K: 0.00025, OutputPer1K: 0.00125},
}

type Calculator struct {
	pricing map[string]ModelPricing
}

func NewCalculator() *Calculator {
	return &Calculator{
		pricing: defaultPricing,
	}
}

func (c *Calculator) Calculate(model string, usage domain.Usage) float64 {
	pricing, ok := c.pricing[model]
	if !ok {
		return 0
	}

	inputCost := float64(usage.PromptTokens) / 1000 * pricing.InputPer1K
	outputCost := float64(usage.CompletionTokens) / 1000 * pricing.OutputPer1K

	return inputCost + outputCost
}

func (c *Calculator) SetPricing(model string, pricing ModelPricing) {
	c.pricing[model] = pricing
}

// EstimateInputTokens approximates prompt size for routing decisions before
// the provider reports real usage. Four characters per token is the usual
// rough cut for English text.
func EstimateInputTokens(messages []domain.Message) int64 {
	var chars int
	for _, m := range messages {
		chars += len(m.Content)
	}
	return int64(chars / 4)
}

// UsageRecord is one completed call's usage, keyed by virtual key.
type UsageRecord struct {
	KeyID        string
	RequestID    string
	Model        string
	DeploymentID string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Cached       bool
	LatencyMs    int64
	Timestamp    time.Time
}

type Tracker interface {
	Record(ctx context.Context, record UsageRecord) error
	GetKeyUsage(ctx context.Context, keyID string, since time.Time) ([]UsageRecord, error)
	GetKeyTotalCost(ctx context.Context, keyID string, since time.Time) (float64, error)
}

type InMemoryTracker struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{
		records: make([]UsageRecord, 0),
	}
}

func (t *InMemoryTracker) Record(ctx context.Context, record UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, record)
	return nil
}

func (t *InMemoryTracker) GetKeyUsage(ctx context.Context, keyID string, since time.Time) ([]UsageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []UsageRecord
	for _, r := range t.records {
		if r.KeyID == keyID && r.Timestamp.After(since) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (t *InMemoryTracker) GetKeyTotalCost(ctx context.Context, keyID string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, r := range t.records {
		if r.KeyID == keyID && r.Timestamp.After(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}
