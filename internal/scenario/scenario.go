// Package scenario defines the declarative, timed multi-participant test
// cases that drive the engine.
package scenario

import (
	"fmt"
	"regexp"
	"strings"
)

// ActionKind discriminates timed actions.
type ActionKind string

const (
	ActionSendAudio ActionKind = "send_audio"
	ActionSilence   ActionKind = "silence"
	ActionHangup    ActionKind = "hangup"
)

// Participant is one simulated conversation party.
type Participant struct {
	ID       string `yaml:"id"`
	Language string `yaml:"language"`
}

// TimedAction is one scheduled step. Kind selects which fields apply:
// send_audio uses Participant/Asset/OffsetMS, silence uses OffsetMS and
// DurationMS, hangup uses Participant/OffsetMS.
type TimedAction struct {
	Kind        ActionKind `yaml:"kind"`
	Participant string     `yaml:"participant,omitempty"`
	Asset       string     `yaml:"asset,omitempty"`
	OffsetMS    int64      `yaml:"offset_ms"`
	DurationMS  int64      `yaml:"duration_ms,omitempty"`
}

// TranscriptExpectation binds expected text to one upstream event id.
type TranscriptExpectation struct {
	EventID        string `yaml:"event_id"`
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
	Text           string `yaml:"text"`
	Pattern        string `yaml:"pattern,omitempty"`
}

// ExpectationSet is the read-only evaluator input block.
type ExpectationSet struct {
	Transcripts  []TranscriptExpectation `yaml:"transcripts,omitempty"`
	Sequence     []string                `yaml:"sequence,omitempty"`
	MaxLatencyMS int64                   `yaml:"max_latency_ms,omitempty"`
}

// Scenario is one complete test case. Immutable once loaded.
type Scenario struct {
	Name         string         `yaml:"name"`
	Participants []Participant  `yaml:"participants"`
	Actions      []TimedAction  `yaml:"actions"`
	Expectations ExpectationSet `yaml:"expectations"`
	ScoreMethod  string         `yaml:"score_method"`
}

// Validate enforces scenario well-formedness before a run starts.
func (s Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Participants) == 0 {
		return fmt.Errorf("at least one participant is required")
	}
	known := make(map[string]bool, len(s.Participants))
	for i, p := range s.Participants {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("participant %d: id is required", i)
		}
		if known[p.ID] {
			return fmt.Errorf("duplicate participant id %q", p.ID)
		}
		known[p.ID] = true
	}

	if len(s.Actions) == 0 {
		return fmt.Errorf("at least one timed action is required")
	}
	var lastOffset int64
	for i, action := range s.Actions {
		if err := action.validate(known); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if action.OffsetMS < lastOffset {
			return fmt.Errorf("action %d: offsets must be non-decreasing (%d after %d)", i, action.OffsetMS, lastOffset)
		}
		lastOffset = action.OffsetMS
	}

	for i, expectation := range s.Expectations.Transcripts {
		if strings.TrimSpace(expectation.EventID) == "" {
			return fmt.Errorf("transcript expectation %d: event_id is required", i)
		}
		if expectation.Text == "" && expectation.Pattern == "" {
			return fmt.Errorf("transcript expectation %d: text or pattern is required", i)
		}
		if expectation.Pattern != "" {
			if _, err := regexp.Compile(expectation.Pattern); err != nil {
				return fmt.Errorf("transcript expectation %d: invalid pattern: %w", i, err)
			}
		}
	}
	if s.Expectations.MaxLatencyMS < 0 {
		return fmt.Errorf("max_latency_ms must be >= 0")
	}

	if strings.TrimSpace(s.ScoreMethod) == "" {
		return fmt.Errorf("score_method is required")
	}
	return nil
}

func (a TimedAction) validate(participants map[string]bool) error {
	switch a.Kind {
	case ActionSendAudio:
		if a.Participant == "" {
			return fmt.Errorf("send_audio requires a participant")
		}
		if !participants[a.Participant] {
			return fmt.Errorf("unknown participant %q", a.Participant)
		}
		if strings.TrimSpace(a.Asset) == "" {
			return fmt.Errorf("send_audio requires an asset")
		}
	case ActionSilence:
		if a.DurationMS <= 0 {
			return fmt.Errorf("silence requires duration_ms > 0")
		}
	case ActionHangup:
		if a.Participant == "" {
			return fmt.Errorf("hangup requires a participant")
		}
		if !participants[a.Participant] {
			return fmt.Errorf("unknown participant %q", a.Participant)
		}
	default:
		return fmt.Errorf("unsupported action kind %q", a.Kind)
	}
	if a.OffsetMS < 0 {
		return fmt.Errorf("offset_ms must be >= 0")
	}
	return nil
}
