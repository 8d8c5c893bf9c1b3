// Package store persists finished run results so scores can be compared
// across executions of the same scenario.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = fmt.Errorf("run not found")

// RunRecord is one persisted run result. EventsJSON and MetricsJSON hold the
// exported event log and per-metric results as JSON documents.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Scenario    string    `json:"scenario"`
	Status      string    `json:"status"`
	ScoreMethod string    `json:"score_method"`
	Score       float64   `json:"score"`
	Reason      string    `json:"reason,omitempty"`
	Incomplete  bool      `json:"incomplete"`
	EventsJSON  string    `json:"events_json,omitempty"`
	MetricsJSON string    `json:"metrics_json,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate enforces record completeness before persistence.
func (r RunRecord) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("run_id is required")
	}
	if strings.TrimSpace(r.Scenario) == "" {
		return fmt.Errorf("scenario is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return fmt.Errorf("status is required")
	}
	if strings.TrimSpace(r.ScoreMethod) == "" {
		return fmt.Errorf("score_method is required")
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("score must be within [0, 100], got %v", r.Score)
	}
	return nil
}

// RunStore persists and retrieves run records.
type RunStore interface {
	SaveRun(ctx context.Context, record RunRecord) error
	GetRun(ctx context.Context, runID string) (RunRecord, error)
	ListRuns(ctx context.Context, scenario string, limit int) ([]RunRecord, error)
	Close() error
}
