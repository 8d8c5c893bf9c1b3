package eval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atlas/translation-eval/internal/engine/collector"
	"github.com/atlas/translation-eval/internal/judge"
	"github.com/atlas/translation-eval/internal/scenario"
)

// Graded quality dimensions. Each is registered as its own capability.
const (
	MetricIntelligibility     = "intelligibility"
	MetricSegmentation        = "segmentation"
	MetricContext             = "context"
	MetricCompleteness        = "completeness"
	MetricTechnicalTerms      = "technical_terms"
	MetricIntent              = "intent"
	MetricLanguageCorrectness = "language_correctness"
)

// GarbledCutoff is the normalized score at or below which a turn counts as
// garbled (raw judge score <= 2).
const GarbledCutoff = 0.25

// GradedConfig tunes one graded dimension.
type GradedConfig struct {
	Dimension string
	// Threshold is the minimum passing average of normalized scores.
	Threshold float64
	// HistoryWindow bounds the rolling conversation history supplied to
	// context-sensitive judgments. Zero disables history.
	HistoryWindow int
	// Concurrency bounds parallel judge calls to respect rate limits.
	Concurrency int
	// CallTimeout bounds each judge call; an overrun is a local evaluation
	// failure, not a fatal error.
	CallTimeout time.Duration
	// ExcludeUnmatched drops expectations with no correlated event from the
	// average instead of scoring them zero (missing-sentence exclusion for
	// language correctness).
	ExcludeUnmatched bool
}

// DefaultGradedConfig returns the engine defaults for a dimension.
func DefaultGradedConfig(dimension string) (GradedConfig, error) {
	cfg := GradedConfig{
		Dimension:   dimension,
		Threshold:   0.80,
		Concurrency: 4,
		CallTimeout: 15 * time.Second,
	}
	switch dimension {
	case MetricIntelligibility, MetricSegmentation:
	case MetricContext:
		cfg.HistoryWindow = 4
	case MetricCompleteness:
		cfg.Threshold = 0.85
		cfg.HistoryWindow = 4
	case MetricTechnicalTerms:
		cfg.Threshold = 0.90
	case MetricIntent:
		cfg.Threshold = 0.90
		cfg.HistoryWindow = 4
	case MetricLanguageCorrectness:
		cfg.Threshold = 1.0
		cfg.ExcludeUnmatched = true
	default:
		return GradedConfig{}, fmt.Errorf("unsupported graded dimension %q", dimension)
	}
	return cfg, nil
}

// GradedEvaluator scores one subjective dimension by delegating each
// expectation to the external judge.
type GradedEvaluator struct {
	cfg      GradedConfig
	provider judge.Provider
	logger   logrus.FieldLogger
}

// NewGraded builds a graded evaluator with engine defaults.
func NewGraded(dimension string, provider judge.Provider) (*GradedEvaluator, error) {
	cfg, err := DefaultGradedConfig(dimension)
	if err != nil {
		return nil, err
	}
	return NewGradedWithConfig(cfg, provider, nil)
}

// NewGradedWithConfig builds a graded evaluator with explicit tuning.
func NewGradedWithConfig(cfg GradedConfig, provider judge.Provider, logger logrus.FieldLogger) (*GradedEvaluator, error) {
	if provider == nil {
		return nil, fmt.Errorf("judge provider is required")
	}
	if strings.TrimSpace(cfg.Dimension) == "" {
		return nil, fmt.Errorf("dimension is required")
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0,1], got %v", cfg.Threshold)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if logger == nil {
		noop := logrus.New()
		noop.SetOutput(io.Discard)
		logger = noop
	}
	return &GradedEvaluator{cfg: cfg, provider: provider, logger: logger}, nil
}

// Name returns the capability name.
func (e *GradedEvaluator) Name() string {
	return e.cfg.Dimension
}

// Evaluate judges every transcript expectation, with bounded concurrency and
// deterministic request construction.
func (e *GradedEvaluator) Evaluate(ctx context.Context, in Input) (MetricResult, error) {
	expectations := in.Expectations.Transcripts
	if len(expectations) == 0 {
		return MetricResult{Name: e.cfg.Dimension, Passed: true, Value: float64Ptr(1.0)}, nil
	}

	matches := correlateTranscripts(expectations, in.Events)
	requests := e.buildRequests(expectations, matches)

	judgments := make([]EventJudgment, len(expectations))
	semaphore := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup

	for i := range expectations {
		if requests[i] == nil {
			judgments[i] = EventJudgment{
				EventID: expectations[i].EventID,
				Score:   0,
				Garbled: true,
				Reason:  "expectation_unmatched",
			}
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			judgments[idx] = e.judgeOne(ctx, *requests[idx])
		}(i)
	}
	wg.Wait()

	return e.reduce(judgments), nil
}

// buildRequests constructs one deterministic judge request per matched
// expectation. History is the bounded window of immediately preceding
// expectation pairs, in declaration order.
func (e *GradedEvaluator) buildRequests(expectations []scenario.TranscriptExpectation, matches []*collector.CollectedEvent) []*judge.Request {
	requests := make([]*judge.Request, len(expectations))
	for i, expectation := range expectations {
		event := matches[i]
		if event == nil {
			continue
		}
		req := &judge.Request{
			Dimension:  e.cfg.Dimension,
			Reference:  expectation.Text,
			Hypothesis: event.Text,
			EventID:    expectation.EventID,
		}
		if e.cfg.HistoryWindow > 0 {
			start := i - e.cfg.HistoryWindow
			if start < 0 {
				start = 0
			}
			for j := start; j < i; j++ {
				hypothesis := ""
				if matches[j] != nil {
					hypothesis = matches[j].Text
				}
				req.History = append(req.History, judge.Exchange{
					Reference:  expectations[j].Text,
					Hypothesis: hypothesis,
				})
			}
		}
		requests[i] = req
	}
	return requests
}

// judgeOne runs a single judgment with its per-call bound. Any judge failure
// degrades to the conservative worst score and is logged, never fatal.
func (e *GradedEvaluator) judgeOne(ctx context.Context, req judge.Request) EventJudgment {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	verdict, err := e.provider.Judge(callCtx, req)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"dimension": e.cfg.Dimension,
			"event_id":  req.EventID,
		}).WithError(err).Warn("judge call failed, scoring conservative worst")
		return EventJudgment{
			EventID: req.EventID,
			Score:   0,
			Garbled: true,
			Reason:  fmt.Sprintf("judge_error: %v", err),
		}
	}
	if err := verdict.Validate(); err != nil {
		// Defense against bespoke providers; the HTTP client already
		// rejects out-of-range verdicts.
		e.logger.WithFields(logrus.Fields{
			"dimension": e.cfg.Dimension,
			"event_id":  req.EventID,
			"score":     verdict.Score,
		}).Warn("out-of-range verdict, scoring conservative worst")
		return EventJudgment{
			EventID: req.EventID,
			Score:   0,
			Garbled: true,
			Reason:  "judge_score_out_of_range",
		}
	}

	normalized := float64(verdict.Score-judge.MinScore) / float64(judge.MaxScore-judge.MinScore)
	return EventJudgment{
		EventID:       req.EventID,
		Score:         normalized,
		Garbled:       verdict.Score <= 2,
		Justification: verdict.Justification,
	}
}

func (e *GradedEvaluator) reduce(judgments []EventJudgment) MetricResult {
	var total float64
	counted := 0
	var failures []string
	for _, judgment := range judgments {
		if judgment.Reason == "expectation_unmatched" && e.cfg.ExcludeUnmatched {
			failures = appendUnmatched(failures, judgment)
			continue
		}
		if judgment.Reason == "expectation_unmatched" {
			failures = appendUnmatched(failures, judgment)
		}
		total += judgment.Score
		counted++
	}

	// With ExcludeUnmatched, every expectation can drop out of the
	// average. Grading nothing is a failure, not a pass.
	if counted == 0 {
		return MetricResult{
			Name:   e.cfg.Dimension,
			Passed: false,
			Value:  float64Ptr(0),
			Events: judgments,
			Reason: "all_expectations_unmatched: " + strings.Join(failures, "; "),
		}
	}

	average := total / float64(counted)
	result := MetricResult{
		Name:   e.cfg.Dimension,
		Passed: average >= e.cfg.Threshold,
		Value:  float64Ptr(average),
		Events: judgments,
	}
	if !result.Passed {
		reason := fmt.Sprintf("average %.2f below threshold %.2f", average, e.cfg.Threshold)
		if len(failures) > 0 {
			reason += "; " + strings.Join(failures, "; ")
		}
		result.Reason = reason
	}
	return result
}

func appendUnmatched(failures []string, judgment EventJudgment) []string {
	return append(failures, fmt.Sprintf("%s: no correlated event", judgment.EventID))
}
