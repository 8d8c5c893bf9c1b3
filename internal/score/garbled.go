package score

import (
	"fmt"
	"strconv"

	"github.com/atlas/translation-eval/internal/eval"
)

// MethodGarbledTurn scores a run by the fraction of turns that came back
// garbled on any of the required graded dimensions.
const MethodGarbledTurn = "garbled_turn"

// DefaultGarbledThreshold is the garbled-turn rate above which a run is
// classified garbled. A rate exactly at the threshold still passes.
const DefaultGarbledThreshold = 0.10

// requiredGarbledMetrics are the graded dimensions the calculator needs
// per-turn evidence from. Missing any of them is a hard error, not a pass.
var requiredGarbledMetrics = []string{
	eval.MetricIntelligibility,
	eval.MetricSegmentation,
	eval.MetricContext,
}

// GarbledTurnCalculator counts a turn as garbled when any required dimension
// judged it at or below the garbled cutoff, then scores the run by the
// fraction of clean turns.
type GarbledTurnCalculator struct {
	threshold float64
}

// NewGarbledTurn returns a garbled-turn calculator with the given rate
// threshold. Thresholds outside [0, 1] fall back to the default.
func NewGarbledTurn(threshold float64) *GarbledTurnCalculator {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultGarbledThreshold
	}
	return &GarbledTurnCalculator{threshold: threshold}
}

// Method implements Calculator.
func (c *GarbledTurnCalculator) Method() string { return MethodGarbledTurn }

// Calculate implements Calculator.
func (c *GarbledTurnCalculator) Calculate(results []eval.MetricResult) (TestScore, error) {
	byName := make(map[string]*eval.MetricResult, len(results))
	for i := range results {
		byName[results[i].Name] = &results[i]
	}

	for _, name := range requiredGarbledMetrics {
		result, ok := byName[name]
		if !ok {
			return TestScore{
				Method: MethodGarbledTurn,
				Status: StatusError,
				Reason: fmt.Sprintf("required metric %q is missing", name),
			}, nil
		}
		if len(result.Events) == 0 {
			return TestScore{
				Method: MethodGarbledTurn,
				Status: StatusError,
				Reason: fmt.Sprintf("required metric %q carries no per-turn evidence", name),
			}, nil
		}
	}

	// Turns are the union of event identifiers across the required
	// dimensions. A turn is garbled when any dimension flagged it.
	garbledByTurn := make(map[string]bool)
	for _, name := range requiredGarbledMetrics {
		for _, judgment := range byName[name].Events {
			id := judgment.EventID
			if judgment.Garbled {
				garbledByTurn[id] = true
			} else if _, seen := garbledByTurn[id]; !seen {
				garbledByTurn[id] = false
			}
		}
	}

	total := len(garbledByTurn)
	if total == 0 {
		return TestScore{
			Method: MethodGarbledTurn,
			Status: StatusError,
			Reason: "no turns to score",
		}, nil
	}

	garbled := 0
	for _, isGarbled := range garbledByTurn {
		if isGarbled {
			garbled++
		}
	}
	rate := float64(garbled) / float64(total)

	ts := TestScore{
		Score:  clamp100(100 * (1 - rate)),
		Method: MethodGarbledTurn,
		Status: StatusSuccess,
		Details: map[string]string{
			"turns_total":   strconv.Itoa(total),
			"turns_garbled": strconv.Itoa(garbled),
			"garbled_rate":  strconv.FormatFloat(rate, 'f', 4, 64),
			"threshold":     strconv.FormatFloat(c.threshold, 'f', 4, 64),
		},
	}
	if rate > c.threshold {
		ts.Status = StatusGarbled
		ts.Reason = fmt.Sprintf("garbled rate %.4f exceeds threshold %.4f", rate, c.threshold)
	}
	return ts, nil
}
