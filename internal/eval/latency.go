package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlas/translation-eval/internal/scenario"
)

// MetricLatency is the arrival-bound capability name.
const MetricLatency = "latency"

// LatencyEvaluator checks that every correlated transcript event arrived
// within the scenario's max_latency_ms of the send action that preceded it.
// All latencies derive from local arrival time, never remote timestamps.
type LatencyEvaluator struct{}

// NewLatency returns the latency evaluator.
func NewLatency() *LatencyEvaluator {
	return &LatencyEvaluator{}
}

// Name returns the capability name.
func (e *LatencyEvaluator) Name() string {
	return MetricLatency
}

// Evaluate reports the fraction of expectations that met the bound.
func (e *LatencyEvaluator) Evaluate(_ context.Context, in Input) (MetricResult, error) {
	bound := in.Expectations.MaxLatencyMS
	if bound <= 0 || len(in.Expectations.Transcripts) == 0 {
		return MetricResult{Name: MetricLatency, Passed: true, Value: float64Ptr(1.0)}, nil
	}

	matches := correlateTranscripts(in.Expectations.Transcripts, in.Events)
	judgments := make([]EventJudgment, 0, len(matches))
	var failures []string
	within := 0

	for i, expectation := range in.Expectations.Transcripts {
		event := matches[i]
		if event == nil {
			judgments = append(judgments, EventJudgment{EventID: expectation.EventID, Reason: "expectation_unmatched"})
			failures = append(failures, fmt.Sprintf("%s: no correlated event", expectation.EventID))
			continue
		}
		sentAt, ok := precedingSendOffset(in.Actions, event.ArrivalMS)
		if !ok {
			judgments = append(judgments, EventJudgment{EventID: expectation.EventID, Reason: "no_preceding_send"})
			failures = append(failures, fmt.Sprintf("%s: no send action precedes arrival %dms", expectation.EventID, event.ArrivalMS))
			continue
		}
		latency := event.ArrivalMS - sentAt
		judgment := EventJudgment{EventID: expectation.EventID, Score: 1}
		if latency > bound {
			judgment.Score = 0
			judgment.Reason = fmt.Sprintf("latency %dms exceeds bound %dms", latency, bound)
			failures = append(failures, fmt.Sprintf("%s: %dms > %dms", expectation.EventID, latency, bound))
		} else {
			within++
		}
		judgments = append(judgments, judgment)
	}

	result := MetricResult{
		Name:   MetricLatency,
		Passed: len(failures) == 0,
		Value:  float64Ptr(float64(within) / float64(len(in.Expectations.Transcripts))),
		Events: judgments,
	}
	if !result.Passed {
		result.Reason = annotateIncomplete(strings.Join(failures, "; "), in.Incomplete)
	}
	return result, nil
}

// precedingSendOffset finds the latest send_audio offset at or before the
// arrival instant.
func precedingSendOffset(actions []scenario.TimedAction, arrivalMS int64) (int64, bool) {
	var best int64
	found := false
	for _, action := range actions {
		if action.Kind != scenario.ActionSendAudio {
			continue
		}
		if action.OffsetMS <= arrivalMS && (!found || action.OffsetMS > best) {
			best = action.OffsetMS
			found = true
		}
	}
	return best, found
}
