// Package collector bridges the concurrent receive loops and the synchronous
// evaluation phase with an append-only, arrival-ordered event log.
package collector

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/atlas/translation-eval/api/wire"
	"github.com/atlas/translation-eval/internal/engine/virtclock"
)

// ErrFrozen is returned when recording after the run finished.
var ErrFrozen = fmt.Errorf("event log is frozen")

// ErrNotFrozen is returned when snapshotting before the run finished.
var ErrNotFrozen = fmt.Errorf("event log is still live")

// CollectedEvent is one observed inbound event. ArrivalMS is scenario time
// at the moment the engine observed the event; it is never taken from any
// field inside the received payload.
type CollectedEvent struct {
	Type           wire.EventKind `json:"type"`
	ArrivalMS      int64          `json:"arrival_ms"`
	ParticipantID  string         `json:"participant_id,omitempty"`
	EventID        string         `json:"event_id,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	Text           string         `json:"text,omitempty"`
	SourceLanguage string         `json:"source_language,omitempty"`
	TargetLanguage string         `json:"target_language,omitempty"`
	Signal         string         `json:"signal,omitempty"`
	Raw            string         `json:"raw,omitempty"`
}

// Collector is the single-writer append log for one run.
type Collector struct {
	mu     sync.Mutex
	clock  virtclock.Clock
	events []CollectedEvent
	frozen bool
}

// New returns an empty collector stamping arrival times from clock.
func New(clock virtclock.Clock) (*Collector, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &Collector{clock: clock}, nil
}

// Record stamps the event with the current scenario time and appends it.
// The returned copy carries the assigned arrival time.
func (c *Collector) Record(event wire.InboundEvent) (CollectedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return CollectedEvent{}, ErrFrozen
	}
	collected := CollectedEvent{
		Type:           event.Kind,
		ArrivalMS:      c.clock.NowMS(),
		ParticipantID:  event.ParticipantID,
		EventID:        event.EventID,
		TurnID:         event.TurnID,
		Text:           event.Text,
		SourceLanguage: event.SourceLanguage,
		TargetLanguage: event.TargetLanguage,
		Signal:         event.Signal,
		Raw:            event.Raw,
	}
	if len(c.events) > 0 && collected.ArrivalMS < c.events[len(c.events)-1].ArrivalMS {
		// Clock is monotonic; clamp against interleaving between NowMS and append.
		collected.ArrivalMS = c.events[len(c.events)-1].ArrivalMS
	}
	c.events = append(c.events, collected)
	return collected, nil
}

// RecordDecodeFailure appends a decode_error event so malformed inbound
// traffic stays auditable instead of being dropped.
func (c *Collector) RecordDecodeFailure(raw string, cause error) (CollectedEvent, error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return c.Record(wire.InboundEvent{
		Kind:   wire.EventDecodeError,
		Signal: reason,
		Raw:    raw,
	})
}

// Freeze ends the append phase. Further Record calls fail.
func (c *Collector) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Len reports the number of recorded events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Snapshot returns an immutable copy of the frozen log in arrival order.
func (c *Collector) Snapshot() ([]CollectedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.frozen {
		return nil, ErrNotFrozen
	}
	snapshot := make([]CollectedEvent, len(c.events))
	copy(snapshot, c.events)
	return snapshot, nil
}

// ExportJSON writes the frozen log as a JSON artifact for audit.
func (c *Collector) ExportJSON(w io.Writer) error {
	snapshot, err := c.Snapshot()
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Events []CollectedEvent `json:"events"`
	}{Events: snapshot})
}
