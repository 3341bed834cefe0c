// Package spend emits per-call spend payloads to a downstream persistence
// sink. The payload contract is fixed; persistence itself lives outside the
// gateway. Emission is best-effort: a sink failure is logged, never
// propagated into the call result.
package spend

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is the payload emitted after each completed call.
type Record struct {
	RequestID    string    `json:"request_id"`
	KeyID        string    `json:"key_id,omitempty"`
	Model        string    `json:"model"`
	ModelGroup   string    `json:"model_group,omitempty"`
	DeploymentID string    `json:"deployment_id"`
	TotalTokens  int       `json:"total_tokens"`
	ResponseCost float64   `json:"response_cost"`
	CacheHit     bool      `json:"cache_hit"`
	Timestamp    time.Time `json:"timestamp"`
}

type Sink interface {
	Emit(ctx context.Context, record Record) error
}

// LogSink writes spend records to the structured log, the default when no
// database is configured.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Emit(ctx context.Context, record Record) error {
	slog.Info("spend",
		"request_id", record.RequestID,
		"model", record.Model,
		"deployment_id", record.DeploymentID,
		"total_tokens", record.TotalTokens,
		"response_cost", record.ResponseCost,
		"cache_hit", record.CacheHit,
	)
	return nil
}

// InMemorySink retains records for tests and local inspection.
type InMemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{
		records: make([]Record, 0),
	}
}

func (s *InMemorySink) Emit(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}
