package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig holds connection pool settings for the Postgres store.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresConfigFromEnv reads TEVAL_DB_URL with pool defaults.
func PostgresConfigFromEnv() PostgresConfig {
	url := strings.TrimSpace(os.Getenv("TEVAL_DB_URL"))
	if url == "" {
		url = "postgres://localhost:5432/teval?sslmode=disable"
	}
	return PostgresConfig{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	scenario     TEXT NOT NULL,
	status       TEXT NOT NULL,
	score_method TEXT NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	incomplete   BOOLEAN NOT NULL DEFAULT FALSE,
	events_json  TEXT NOT NULL DEFAULT '',
	metrics_json TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
)`

// PostgresStore is a RunStore backed by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the pool, verifies connectivity, and ensures the
// runs table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure runs table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// SaveRun implements RunStore using an upsert keyed on run_id.
func (s *PostgresStore) SaveRun(ctx context.Context, record RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario, status, score_method, score, reason, incomplete, events_json, metrics_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (run_id) DO UPDATE SET
			scenario = EXCLUDED.scenario,
			status = EXCLUDED.status,
			score_method = EXCLUDED.score_method,
			score = EXCLUDED.score,
			reason = EXCLUDED.reason,
			incomplete = EXCLUDED.incomplete,
			events_json = EXCLUDED.events_json,
			metrics_json = EXCLUDED.metrics_json,
			created_at = EXCLUDED.created_at`,
		record.RunID, record.Scenario, record.Status, record.ScoreMethod,
		record.Score, record.Reason, record.Incomplete,
		record.EventsJSON, record.MetricsJSON, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save run %q: %w", record.RunID, err)
	}
	return nil
}

// GetRun implements RunStore.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario, status, score_method, score, reason, incomplete, events_json, metrics_json, created_at
		FROM runs WHERE run_id = $1`, runID)

	var record RunRecord
	err := row.Scan(
		&record.RunID, &record.Scenario, &record.Status, &record.ScoreMethod,
		&record.Score, &record.Reason, &record.Incomplete,
		&record.EventsJSON, &record.MetricsJSON, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %q: %w", runID, err)
	}
	return record, nil
}

// ListRuns implements RunStore, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, scenario string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT run_id, scenario, status, score_method, score, reason, incomplete, events_json, metrics_json, created_at
		FROM runs`
	args := []any{}
	if scenario != "" {
		query += ` WHERE scenario = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, scenario, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(
			&record.RunID, &record.Scenario, &record.Status, &record.ScoreMethod,
			&record.Score, &record.Reason, &record.Incomplete,
			&record.EventsJSON, &record.MetricsJSON, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return records, nil
}

// Close implements RunStore.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
