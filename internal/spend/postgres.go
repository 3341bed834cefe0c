package spend

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresSink persists spend records. The table is owned by the downstream
// reporting system; this sink only honors the payload contract.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

func NewPostgresSinkWithDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Emit(ctx context.Context, record Record) error {
	query := `
		INSERT INTO spend_logs (request_id, key_id, model, model_group, deployment_id, total_tokens, response_cost, cache_hit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.RequestID,
		record.KeyID,
		record.Model,
		record.ModelGroup,
		record.DeploymentID,
		record.TotalTokens,
		record.ResponseCost,
		record.CacheHit,
		record.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("insert spend record: %w", err)
	}

	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
