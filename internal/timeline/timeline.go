// Package timeline renders one run as a merged, time-ordered trace of
// scheduled actions and observed events, exportable as a machine-readable
// artifact for replaying score regressions.
package timeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/atlas/translation-eval/internal/engine/collector"
	"github.com/atlas/translation-eval/internal/scenario"
)

const artifactSchemaVersion = "v1"

// EntryKind discriminates timeline entries.
type EntryKind string

const (
	// EntryAction marks a scheduled stimulus the engine sent.
	EntryAction EntryKind = "action"
	// EntryEvent marks an observed inbound event.
	EntryEvent EntryKind = "event"
)

// Entry is one trace row. AtMS is scenario time: the offset for actions,
// the stamped arrival for events.
type Entry struct {
	Kind        EntryKind `json:"kind"`
	AtMS        int64     `json:"at_ms"`
	Label       string    `json:"label"`
	Participant string    `json:"participant,omitempty"`
	EventID     string    `json:"event_id,omitempty"`
	Text        string    `json:"text,omitempty"`
}

// Artifact is the persisted run trace.
type Artifact struct {
	SchemaVersion string  `json:"schema_version"`
	RunID         string  `json:"run_id"`
	Scenario      string  `json:"scenario"`
	Incomplete    bool    `json:"incomplete"`
	GeneratedAt   string  `json:"generated_at_utc"`
	Entries       []Entry `json:"entries"`
}

// Build merges actions and events into one trace ordered by scenario time.
// Ties order actions before the events they provoked; within a kind the
// original order is kept.
func Build(runID, scenarioName string, incomplete bool, actions []scenario.TimedAction, events []collector.CollectedEvent) Artifact {
	entries := make([]Entry, 0, len(actions)+len(events))
	for _, action := range actions {
		entries = append(entries, Entry{
			Kind:        EntryAction,
			AtMS:        action.OffsetMS,
			Label:       string(action.Kind),
			Participant: action.Participant,
			Text:        action.Asset,
		})
	}
	for _, event := range events {
		entries = append(entries, Entry{
			Kind:        EntryEvent,
			AtMS:        event.ArrivalMS,
			Label:       string(event.Type),
			Participant: event.ParticipantID,
			EventID:     event.EventID,
			Text:        event.Text,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AtMS != entries[j].AtMS {
			return entries[i].AtMS < entries[j].AtMS
		}
		return entries[i].Kind == EntryAction && entries[j].Kind == EntryEvent
	})

	return Artifact{
		SchemaVersion: artifactSchemaVersion,
		RunID:         runID,
		Scenario:      scenarioName,
		Incomplete:    incomplete,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Entries:       entries,
	}
}

// Write persists the artifact, creating parent directories as needed.
func Write(path string, artifact Artifact) error {
	if path == "" {
		return fmt.Errorf("artifact path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

// Read loads a previously written artifact.
func Read(path string) (Artifact, error) {
	if path == "" {
		return Artifact{}, fmt.Errorf("artifact path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	var artifact Artifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return Artifact{}, err
	}
	if artifact.SchemaVersion != artifactSchemaVersion {
		return Artifact{}, fmt.Errorf("unsupported timeline schema_version: %s", artifact.SchemaVersion)
	}
	return artifact, nil
}
