// Package identity issues deterministic run and turn identifiers so that
// repeated executions of the same scenario produce comparable logs.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Context is the correlation envelope attached to a run or a turn within it.
type Context struct {
	RunID         string
	Participant   string
	TurnID        string
	CorrelationID string
}

// Service generates deterministic, per-run sequential identifiers.
type Service struct {
	mu  sync.Mutex
	seq map[string]int64
}

// NewService returns a deterministic identity service.
func NewService() *Service {
	return &Service{seq: map[string]int64{}}
}

// NewRunID derives a stable run identifier from the scenario name and a
// caller-supplied salt such as a start timestamp.
func NewRunID(scenarioName, salt string) string {
	return "run-" + hashID(sanitize(scenarioName)+"/"+salt)[:16]
}

// NewTurnContext issues the next turn context for a run/participant pair.
func (s *Service) NewTurnContext(runID, participant string) (Context, error) {
	runID = strings.TrimSpace(runID)
	participant = strings.TrimSpace(participant)
	if runID == "" {
		return Context{}, fmt.Errorf("run_id is required")
	}
	if participant == "" {
		return Context{}, fmt.Errorf("participant is required")
	}

	key := runID + "/" + participant
	s.mu.Lock()
	s.seq[key]++
	ordinal := s.seq[key]
	s.mu.Unlock()

	return Context{
		RunID:         runID,
		Participant:   participant,
		TurnID:        fmt.Sprintf("turn/%s/%s/%06d", sanitize(runID), sanitize(participant), ordinal),
		CorrelationID: fmt.Sprintf("corr/%s/%s", sanitize(runID), sanitize(participant)),
	}, nil
}

func sanitize(value string) string {
	value = strings.TrimSpace(value)
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, " ", "_")
	if value == "" {
		return "unknown"
	}
	return value
}

func hashID(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
