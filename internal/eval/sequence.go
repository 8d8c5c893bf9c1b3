package eval

import (
	"context"
	"fmt"
)

// MetricSequence is the event-ordering capability name.
const MetricSequence = "sequence"

// SequenceEvaluator checks that the expected event identifiers appear in
// relative order within the full event log (subsequence, not exact match).
type SequenceEvaluator struct{}

// NewSequence returns the sequence evaluator.
func NewSequence() *SequenceEvaluator {
	return &SequenceEvaluator{}
}

// Name returns the capability name.
func (e *SequenceEvaluator) Name() string {
	return MetricSequence
}

// Evaluate walks the log once, advancing through the expected identifiers.
// The value is the fraction of the expected sequence observed in order.
func (e *SequenceEvaluator) Evaluate(_ context.Context, in Input) (MetricResult, error) {
	expected := in.Expectations.Sequence
	if len(expected) == 0 {
		return MetricResult{Name: MetricSequence, Passed: true, Value: float64Ptr(1.0)}, nil
	}

	next := 0
	for _, event := range in.Events {
		if next >= len(expected) {
			break
		}
		identifier := event.EventID
		if identifier == "" {
			identifier = string(event.Type)
		}
		if identifier == expected[next] {
			next++
		}
	}

	matched := float64(next) / float64(len(expected))
	result := MetricResult{
		Name:   MetricSequence,
		Passed: next == len(expected),
		Value:  float64Ptr(matched),
	}
	if !result.Passed {
		result.Reason = annotateIncomplete(
			fmt.Sprintf("expected %q at position %d was not observed in order", expected[next], next),
			in.Incomplete)
	}
	return result, nil
}
