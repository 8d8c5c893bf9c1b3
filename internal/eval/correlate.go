package eval

import (
	"github.com/atlas/translation-eval/api/wire"
	"github.com/atlas/translation-eval/internal/engine/collector"
	"github.com/atlas/translation-eval/internal/scenario"
)

// correlateTranscripts matches each transcript expectation to at most one
// text event. Exact event-id match wins; expectations left unmatched fall
// back to the earliest-arriving unclaimed text event. Expectations with no
// candidate stay unmatched and must fail explicitly downstream.
func correlateTranscripts(expectations []scenario.TranscriptExpectation, events []collector.CollectedEvent) []*collector.CollectedEvent {
	matches := make([]*collector.CollectedEvent, len(expectations))
	claimed := make(map[int]bool)

	textEvents := make([]int, 0, len(events))
	byID := make(map[string]int)
	for i := range events {
		if events[i].Type != wire.EventTextDelta {
			continue
		}
		textEvents = append(textEvents, i)
		if events[i].EventID != "" {
			if _, exists := byID[events[i].EventID]; !exists {
				byID[events[i].EventID] = i
			}
		}
	}

	for i, expectation := range expectations {
		if idx, ok := byID[expectation.EventID]; ok && !claimed[idx] {
			event := events[idx]
			matches[i] = &event
			claimed[idx] = true
		}
	}

	// Closest-arrival fallback: remaining expectations claim the earliest
	// unclaimed text event, preserving expectation order.
	for i := range expectations {
		if matches[i] != nil {
			continue
		}
		for _, idx := range textEvents {
			if claimed[idx] {
				continue
			}
			event := events[idx]
			matches[i] = &event
			claimed[idx] = true
			break
		}
	}
	return matches
}
