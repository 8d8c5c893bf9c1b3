package score

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atlas/translation-eval/internal/eval"
)

// MethodAverage scores a run as the percentage of metrics that passed.
const MethodAverage = "average"

// AverageCalculator maps the pass fraction to the 0..100 scale. A run is
// successful only when every metric passed.
type AverageCalculator struct{}

// NewAverage returns the average calculator.
func NewAverage() *AverageCalculator {
	return &AverageCalculator{}
}

// Method implements Calculator.
func (c *AverageCalculator) Method() string { return MethodAverage }

// Calculate implements Calculator.
func (c *AverageCalculator) Calculate(results []eval.MetricResult) (TestScore, error) {
	if len(results) == 0 {
		return TestScore{
			Method: MethodAverage,
			Status: StatusError,
			Reason: "no metric results to score",
		}, nil
	}

	passed := 0
	failedNames := make([]string, 0)
	for _, result := range results {
		if result.Passed {
			passed++
			continue
		}
		failedNames = append(failedNames, result.Name)
	}

	ts := TestScore{
		Score:  clamp100(100 * float64(passed) / float64(len(results))),
		Method: MethodAverage,
		Status: StatusSuccess,
		Details: map[string]string{
			"metrics_passed": strconv.Itoa(passed),
			"metrics_total":  strconv.Itoa(len(results)),
		},
	}
	if passed < len(results) {
		ts.Status = StatusFailed
		ts.Reason = fmt.Sprintf("%d of %d metrics failed: %s", len(results)-passed, len(results), strings.Join(failedNames, ", "))
	}
	return ts, nil
}
