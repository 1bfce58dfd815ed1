package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresSink persists metric points to a resilience_metrics table
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresSink connects to Postgres and ensures the metrics table exists
func NewPostgresSink(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresSink{
		pool:   pool,
		logger: logger.With().Str("component", "metrics_pg").Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS resilience_metrics (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			labels JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_resilience_metrics_ts
			ON resilience_metrics (ts DESC);
		CREATE INDEX IF NOT EXISTS idx_resilience_metrics_source_name
			ON resilience_metrics (source, name);
	`)
	if err != nil {
		return fmt.Errorf("migrate resilience_metrics: %w", err)
	}
	return nil
}

// Write inserts a batch of points in one round trip
func (s *PostgresSink) Write(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO resilience_metrics (ts, source, name, value, labels) VALUES ($1, $2, $3, $4, $5)`,
			p.Timestamp, p.Source, p.Name, p.Value, p.Labels,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert metric point: %w", err)
		}
	}
	return nil
}

// Prune deletes points older than the retention window and returns the count
func (s *PostgresSink) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM resilience_metrics WHERE ts < $1`, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the connection pool
func (s *PostgresSink) Close() {
	s.pool.Close()
	s.logger.Debug().Msg("postgres metrics sink closed")
}
