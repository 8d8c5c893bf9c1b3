// Package harness wires the full run pipeline: execute a scenario, evaluate
// the frozen event log, reduce metric results to a test score, and persist
// the outcome.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atlas/translation-eval/internal/assets"
	"github.com/atlas/translation-eval/internal/engine/identity"
	"github.com/atlas/translation-eval/internal/engine/orchestrator"
	"github.com/atlas/translation-eval/internal/engine/transport"
	"github.com/atlas/translation-eval/internal/engine/virtclock"
	"github.com/atlas/translation-eval/internal/eval"
	"github.com/atlas/translation-eval/internal/judge"
	"github.com/atlas/translation-eval/internal/scenario"
	"github.com/atlas/translation-eval/internal/score"
	"github.com/atlas/translation-eval/internal/store"
	"github.com/atlas/translation-eval/internal/telemetry"
)

// Config tunes scenario execution.
type Config struct {
	// Acceleration compresses scenario time relative to wall time.
	Acceleration float64
	// GracePeriod bounds the draining phase after the last action.
	GracePeriod time.Duration
	// RunTimeout bounds the whole run in wall time. Zero disables it.
	RunTimeout time.Duration
	// Metrics overrides the evaluator set. Empty selects defaults from the
	// scenario's score method.
	Metrics []string

	Logger    logrus.FieldLogger
	Telemetry *telemetry.Metrics
}

// ConfigFromEnv reads TEVAL_RUN_* settings with engine defaults.
func ConfigFromEnv() Config {
	return Config{
		Acceleration: envFloat("TEVAL_RUN_ACCELERATION", 1.0),
		GracePeriod:  time.Duration(envInt("TEVAL_RUN_GRACE_MS", 2000)) * time.Millisecond,
		RunTimeout:   time.Duration(envInt("TEVAL_RUN_TIMEOUT_MS", 0)) * time.Millisecond,
	}
}

// Result is everything one run produced.
type Result struct {
	RunID   string
	Outcome orchestrator.RunOutcome
	Metrics []eval.MetricResult
	Score   score.TestScore
}

// Harness executes scenarios end to end. Construct once, use per run.
type Harness struct {
	cfg         Config
	dialer      transport.Dialer
	audio       assets.Source
	evaluators  *eval.Registry
	calculators *score.Registry
	runs        store.RunStore
	logger      logrus.FieldLogger
	metrics     *telemetry.Metrics
}

// New returns a harness. runStore may be nil to skip persistence.
func New(cfg Config, dialer transport.Dialer, audio assets.Source, evaluators *eval.Registry, runStore store.RunStore) (*Harness, error) {
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if audio == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	if evaluators == nil {
		return nil, fmt.Errorf("evaluator registry is required")
	}
	if cfg.Acceleration <= 0 {
		cfg.Acceleration = 1.0
	}
	logger := cfg.Logger
	if logger == nil {
		noop := logrus.New()
		noop.SetOutput(io.Discard)
		logger = noop
	}
	return &Harness{
		cfg:         cfg,
		dialer:      dialer,
		audio:       audio,
		evaluators:  evaluators,
		calculators: score.DefaultRegistry(),
		runs:        runStore,
		logger:      logger,
		metrics:     cfg.Telemetry,
	}, nil
}

// DefaultEvaluatorRegistry registers every built-in metric. Graded
// dimensions require a judge provider; pass nil to register only the
// judge-free metrics.
func DefaultEvaluatorRegistry(provider judge.Provider, logger logrus.FieldLogger) (*eval.Registry, error) {
	registry := eval.NewRegistry()
	for _, evaluator := range []eval.Evaluator{eval.NewWER(), eval.NewSequence(), eval.NewLatency()} {
		if err := registry.Register(evaluator); err != nil {
			return nil, err
		}
	}
	if provider == nil {
		return registry, nil
	}
	for _, dimension := range []string{
		eval.MetricIntelligibility,
		eval.MetricSegmentation,
		eval.MetricContext,
		eval.MetricCompleteness,
		eval.MetricTechnicalTerms,
		eval.MetricIntent,
		eval.MetricLanguageCorrectness,
	} {
		cfg, err := eval.DefaultGradedConfig(dimension)
		if err != nil {
			return nil, err
		}
		graded, err := eval.NewGradedWithConfig(cfg, provider, logger)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(graded); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Execute runs one scenario to a terminal score. The returned error covers
// pre-run failures only; evaluation and scoring problems surface in the
// result's score status.
func (h *Harness) Execute(ctx context.Context, sc scenario.Scenario) (Result, error) {
	if err := sc.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid scenario: %w", err)
	}

	runID := identity.NewRunID(sc.Name, strconv.FormatInt(time.Now().UnixNano(), 10))
	started := time.Now()

	if h.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RunTimeout)
		defer cancel()
	}

	clock, err := virtclock.New(h.cfg.Acceleration)
	if err != nil {
		return Result{}, err
	}
	orch, err := orchestrator.New(orchestrator.Config{
		GracePeriod: h.cfg.GracePeriod,
		Logger:      h.logger,
	}, clock, h.dialer, h.audio)
	if err != nil {
		return Result{}, err
	}

	outcome, err := orch.Run(ctx, runID, sc)
	if err != nil {
		return Result{}, err
	}

	result := Result{RunID: runID, Outcome: outcome}
	result.Metrics, result.Score = h.evaluateAndScore(ctx, sc, outcome)
	h.metrics.ObserveRun(string(result.Score.Status), time.Since(started))

	if h.runs != nil {
		if err := h.persist(ctx, sc, result); err != nil {
			h.logger.WithFields(logrus.Fields{
				"run_id": runID,
			}).WithError(err).Warn("run result not persisted")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"scenario": sc.Name,
		"score":    result.Score.Score,
		"status":   result.Score.Status,
	}).Info("run scored")
	return result, nil
}

func (h *Harness) evaluateAndScore(ctx context.Context, sc scenario.Scenario, outcome orchestrator.RunOutcome) ([]eval.MetricResult, score.TestScore) {
	names := h.cfg.Metrics
	if len(names) == 0 {
		names = defaultMetricsFor(sc)
	}
	evaluators, err := h.evaluators.Resolve(names)
	if err != nil {
		return nil, score.TestScore{
			Method: sc.ScoreMethod,
			Status: score.StatusError,
			Reason: err.Error(),
		}
	}

	results, err := eval.RunAll(ctx, evaluators, eval.Input{
		Expectations: sc.Expectations,
		Actions:      sc.Actions,
		Events:       outcome.Events,
		Incomplete:   outcome.Incomplete,
	})
	if err != nil {
		return nil, score.TestScore{
			Method: sc.ScoreMethod,
			Status: score.StatusError,
			Reason: err.Error(),
		}
	}

	calculator, err := h.calculators.Resolve(sc.ScoreMethod)
	if err != nil {
		return results, score.TestScore{
			Method: sc.ScoreMethod,
			Status: score.StatusError,
			Reason: err.Error(),
		}
	}
	ts, err := calculator.Calculate(results)
	if err != nil {
		return results, score.TestScore{
			Method: sc.ScoreMethod,
			Status: score.StatusError,
			Reason: err.Error(),
		}
	}
	return results, ts
}

// defaultMetricsFor picks the evaluator set implied by the score method:
// the garbled-turn calculator needs its graded dimensions, everything else
// runs the objective metrics plus latency when the scenario bounds it.
func defaultMetricsFor(sc scenario.Scenario) []string {
	if sc.ScoreMethod == score.MethodGarbledTurn {
		return []string{eval.MetricIntelligibility, eval.MetricSegmentation, eval.MetricContext}
	}
	names := []string{eval.MetricSequence, eval.MetricWER}
	if sc.Expectations.MaxLatencyMS > 0 {
		names = append(names, eval.MetricLatency)
	}
	return names
}

func (h *Harness) persist(ctx context.Context, sc scenario.Scenario, result Result) error {
	eventsJSON, err := json.Marshal(result.Outcome.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	return h.runs.SaveRun(ctx, store.RunRecord{
		RunID:       result.RunID,
		Scenario:    sc.Name,
		Status:      string(result.Score.Status),
		ScoreMethod: result.Score.Method,
		Score:       result.Score.Score,
		Reason:      result.Score.Reason,
		Incomplete:  result.Outcome.Incomplete,
		EventsJSON:  string(eventsJSON),
		MetricsJSON: string(metricsJSON),
	})
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envInt(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
