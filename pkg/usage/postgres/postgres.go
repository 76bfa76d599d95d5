// Package postgres provides a PostgreSQL-backed usage recorder built on
// pgx/v5 connection pooling. Records survive restarts and can be
// aggregated across gateway instances sharing a database.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vermittler-dev/vermittler/pkg/usage"
)

// Recorder persists usage records to PostgreSQL.
type Recorder struct {
	pool *pgxpool.Pool
}

var _ usage.Recorder = (*Recorder)(nil)

// New creates a PostgreSQL recorder with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Recorder, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	r := &Recorder{pool: pool}

	if cfg.MigrateOnStart {
		if err := r.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return r, nil
}

// Record inserts one usage record.
func (r *Recorder) Record(ctx context.Context, rec usage.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_records (
			recorded_at, subject, model, endpoint,
			prompt_tokens, completion_tokens, total_tokens, streamed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.Time, rec.Subject, rec.Model, rec.Endpoint,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Streamed,
	)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *Recorder) Close() {
	r.pool.Close()
}

// ModelTotal aggregates token usage per model and subject.
type ModelTotal struct {
	Subject          string
	Model            string
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// TotalsSince aggregates usage grouped by subject and model for records
// at or after the given time.
func (r *Recorder) TotalsSince(ctx context.Context, since time.Time) ([]ModelTotal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT subject, model, COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0)
		FROM usage_records
		WHERE recorded_at >= $1
		GROUP BY subject, model
		ORDER BY subject, model
	`, since)
	if err != nil {
		return nil, fmt.Errorf("querying usage totals: %w", err)
	}
	defer rows.Close()

	var totals []ModelTotal
	for rows.Next() {
		var t ModelTotal
		if err := rows.Scan(&t.Subject, &t.Model, &t.Requests,
			&t.PromptTokens, &t.CompletionTokens, &t.TotalTokens); err != nil {
			return nil, fmt.Errorf("scanning usage total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage totals: %w", err)
	}
	return totals, nil
}

// Recent returns up to limit records, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]usage.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recorded_at, subject, model, endpoint,
		       prompt_tokens, completion_tokens, total_tokens, streamed
		FROM usage_records
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent usage: %w", err)
	}
	defer rows.Close()

	var records []usage.Record
	for rows.Next() {
		var rec usage.Record
		if err := rows.Scan(&rec.Time, &rec.Subject, &rec.Model, &rec.Endpoint,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.TotalTokens, &rec.Streamed); err != nil {
			return nil, fmt.Errorf("scanning usage record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage records: %w", err)
	}
	return records, nil
}
