package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process RunStore for tests and dry runs.
type MemoryStore struct {
	mu   sync.Mutex
	runs map[string]RunRecord
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]RunRecord)}
}

// SaveRun implements RunStore. Saving an existing run id overwrites it.
func (s *MemoryStore) SaveRun(ctx context.Context, record RunRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[record.RunID] = record
	return nil
}

// GetRun implements RunStore.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return record, nil
}

// ListRuns implements RunStore. Results are newest first.
func (s *MemoryStore) ListRuns(ctx context.Context, scenario string, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]RunRecord, 0, len(s.runs))
	for _, record := range s.runs {
		if scenario != "" && record.Scenario != scenario {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Close implements RunStore.
func (s *MemoryStore) Close() error { return nil }
