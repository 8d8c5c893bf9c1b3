package score

import (
	"testing"

	"github.com/atlas/translation-eval/internal/eval"
)

func metric(name string, passed bool) eval.MetricResult {
	return eval.MetricResult{Name: name, Passed: passed}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(NewAverage()); err != nil {
		t.Fatalf("register average: %v", err)
	}
	if err := r.Register(NewAverage()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	c, err := r.Resolve(MethodAverage)
	if err != nil {
		t.Fatalf("resolve average: %v", err)
	}
	if c.Method() != MethodAverage {
		t.Fatalf("unexpected method: %s", c.Method())
	}

	if _, err := r.Resolve("nope"); err == nil {
		t.Fatalf("expected unknown method to fail")
	}
}

func TestRegistryRejectsNilAndUnnamed(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatalf("expected nil calculator to be rejected")
	}
}

func TestDefaultRegistryMethods(t *testing.T) {
	t.Parallel()

	methods := DefaultRegistry().Methods()
	want := []string{MethodAverage, MethodGarbledTurn}
	if len(methods) != len(want) {
		t.Fatalf("unexpected methods: %v", methods)
	}
	for i, method := range want {
		if methods[i] != method {
			t.Fatalf("methods[%d] = %s, want %s", i, methods[i], method)
		}
	}
}

func TestAverageEightOfTenFails(t *testing.T) {
	t.Parallel()

	results := []eval.MetricResult{
		metric("m1", true), metric("m2", true), metric("m3", true),
		metric("m4", true), metric("m5", true), metric("m6", true),
		metric("m7", true), metric("m8", true),
		metric("m9", false), metric("m10", false),
	}
	ts, err := NewAverage().Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Score != 80.0 {
		t.Fatalf("score = %v, want 80.0", ts.Score)
	}
	if ts.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", ts.Status, StatusFailed)
	}
	if ts.Reason == "" {
		t.Fatalf("expected failure reason naming the failed metrics")
	}
}

func TestAverageAllPassedSucceeds(t *testing.T) {
	t.Parallel()

	ts, err := NewAverage().Calculate([]eval.MetricResult{
		metric("wer", true), metric("sequence", true),
	})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Score != 100.0 || ts.Status != StatusSuccess {
		t.Fatalf("got score=%v status=%s", ts.Score, ts.Status)
	}
}

func TestAverageEmptyInputIsError(t *testing.T) {
	t.Parallel()

	ts, err := NewAverage().Calculate(nil)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Status != StatusError {
		t.Fatalf("status = %s, want %s", ts.Status, StatusError)
	}
}

func gradedResult(name string, garbledIDs map[string]bool, ids ...string) eval.MetricResult {
	events := make([]eval.EventJudgment, 0, len(ids))
	for _, id := range ids {
		events = append(events, eval.EventJudgment{
			EventID: id,
			Score:   1.0,
			Garbled: garbledIDs[id],
		})
	}
	return eval.MetricResult{Name: name, Passed: true, Events: events}
}

func tenTurns() []string {
	return []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9", "t10"}
}

func TestGarbledTurnRateAtThresholdSucceeds(t *testing.T) {
	t.Parallel()

	// 1 garbled turn out of 10 at threshold 0.10: rate equals the
	// threshold exactly and must still pass.
	garbled := map[string]bool{"t3": true}
	ids := tenTurns()
	results := []eval.MetricResult{
		gradedResult(eval.MetricIntelligibility, garbled, ids...),
		gradedResult(eval.MetricSegmentation, nil, ids...),
		gradedResult(eval.MetricContext, nil, ids...),
	}

	ts, err := NewGarbledTurn(0.10).Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Status != StatusSuccess {
		t.Fatalf("status = %s, want %s (reason: %s)", ts.Status, StatusSuccess, ts.Reason)
	}
	if ts.Details["garbled_rate"] != "0.1000" {
		t.Fatalf("garbled_rate = %s, want 0.1000", ts.Details["garbled_rate"])
	}
	if ts.Score != 90.0 {
		t.Fatalf("score = %v, want 90.0", ts.Score)
	}
}

func TestGarbledTurnRateAboveThresholdIsGarbled(t *testing.T) {
	t.Parallel()

	garbled := map[string]bool{"t2": true, "t7": true}
	ids := tenTurns()
	results := []eval.MetricResult{
		gradedResult(eval.MetricIntelligibility, nil, ids...),
		gradedResult(eval.MetricSegmentation, garbled, ids...),
		gradedResult(eval.MetricContext, nil, ids...),
	}

	ts, err := NewGarbledTurn(0.10).Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Status != StatusGarbled {
		t.Fatalf("status = %s, want %s", ts.Status, StatusGarbled)
	}
	if ts.Score != 80.0 {
		t.Fatalf("score = %v, want 80.0", ts.Score)
	}
	if ts.Reason == "" {
		t.Fatalf("expected reason stating the exceeded threshold")
	}
}

func TestGarbledTurnAnyDimensionFlagsTheTurn(t *testing.T) {
	t.Parallel()

	// t1 is clean on intelligibility and segmentation but garbled on
	// context; the turn counts as garbled once.
	ids := []string{"t1", "t2"}
	results := []eval.MetricResult{
		gradedResult(eval.MetricIntelligibility, nil, ids...),
		gradedResult(eval.MetricSegmentation, nil, ids...),
		gradedResult(eval.MetricContext, map[string]bool{"t1": true}, ids...),
	}

	ts, err := NewGarbledTurn(0.10).Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Details["turns_garbled"] != "1" || ts.Details["turns_total"] != "2" {
		t.Fatalf("details = %v", ts.Details)
	}
	if ts.Status != StatusGarbled {
		t.Fatalf("status = %s, want %s", ts.Status, StatusGarbled)
	}
}

func TestGarbledTurnMissingRequiredMetricIsError(t *testing.T) {
	t.Parallel()

	results := []eval.MetricResult{
		gradedResult(eval.MetricIntelligibility, nil, "t1"),
		gradedResult(eval.MetricSegmentation, nil, "t1"),
	}
	ts, err := NewGarbledTurn(0.10).Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Status != StatusError {
		t.Fatalf("status = %s, want %s", ts.Status, StatusError)
	}
}

func TestGarbledTurnMetricWithoutEvidenceIsError(t *testing.T) {
	t.Parallel()

	results := []eval.MetricResult{
		gradedResult(eval.MetricIntelligibility, nil, "t1"),
		gradedResult(eval.MetricSegmentation, nil, "t1"),
		{Name: eval.MetricContext, Passed: true},
	}
	ts, err := NewGarbledTurn(0.10).Calculate(results)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if ts.Status != StatusError {
		t.Fatalf("status = %s, want %s", ts.Status, StatusError)
	}
}

func TestGarbledTurnOutOfRangeThresholdUsesDefault(t *testing.T) {
	t.Parallel()

	c := NewGarbledTurn(3.5)
	if c.threshold != DefaultGarbledThreshold {
		t.Fatalf("threshold = %v, want %v", c.threshold, DefaultGarbledThreshold)
	}
}
