// Package eval contains the pluggable metric evaluators that reduce a
// frozen event log against a scenario's expectation set.
package eval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atlas/translation-eval/internal/engine/collector"
	"github.com/atlas/translation-eval/internal/scenario"
)

// Input is the read-only evaluator input: the expectation set, the frozen
// arrival-ordered event log, and the actions that produced it.
type Input struct {
	Expectations scenario.ExpectationSet
	Actions      []scenario.TimedAction
	Events       []collector.CollectedEvent
	// Incomplete marks logs from aborted runs; failure reasons computed
	// over a partial log say so.
	Incomplete bool
}

// EventJudgment is per-event evaluator evidence. Score is normalized 0..1.
type EventJudgment struct {
	EventID       string  `json:"event_id"`
	Score         float64 `json:"score"`
	Garbled       bool    `json:"garbled,omitempty"`
	Justification string  `json:"justification,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// MetricResult is one evaluator's normalized outcome. Produced once per
// evaluator per run; never mutated.
type MetricResult struct {
	Name   string          `json:"name"`
	Passed bool            `json:"passed"`
	Value  *float64        `json:"value"`
	Reason string          `json:"reason,omitempty"`
	Events []EventJudgment `json:"events,omitempty"`
}

// Evaluator is a pure function of (expectations, frozen event log). Multiple
// evaluators may run concurrently over the same Input.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (MetricResult, error)
}

// Registry resolves evaluators by capability name at run configuration time.
type Registry struct {
	mu         sync.Mutex
	evaluators map[string]Evaluator
}

// NewRegistry returns an empty evaluator registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[string]Evaluator)}
}

// Register adds an evaluator under its capability name.
func (r *Registry) Register(e Evaluator) error {
	if e == nil {
		return fmt.Errorf("evaluator is required")
	}
	name := e.Name()
	if name == "" {
		return fmt.Errorf("evaluator name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.evaluators[name]; exists {
		return fmt.Errorf("evaluator %q is already registered", name)
	}
	r.evaluators[name] = e
	return nil
}

// Resolve returns the evaluators for the requested capability names.
func (r *Registry) Resolve(names []string) ([]Evaluator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := make([]Evaluator, 0, len(names))
	for _, name := range names {
		e, ok := r.evaluators[name]
		if !ok {
			return nil, fmt.Errorf("no evaluator registered for %q", name)
		}
		resolved = append(resolved, e)
	}
	return resolved, nil
}

// Names lists registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll evaluates every evaluator concurrently over the same frozen input
// and returns results in evaluator order.
func RunAll(ctx context.Context, evaluators []Evaluator, in Input) ([]MetricResult, error) {
	results := make([]MetricResult, len(evaluators))
	errs := make([]error, len(evaluators))

	var wg sync.WaitGroup
	for i, e := range evaluators {
		wg.Add(1)
		go func(idx int, evaluator Evaluator) {
			defer wg.Done()
			results[idx], errs[idx] = evaluator.Evaluate(ctx, in)
		}(i, e)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("evaluator %q: %w", evaluators[i].Name(), err)
		}
	}
	return results, nil
}

func float64Ptr(v float64) *float64 {
	return &v
}

// annotateIncomplete qualifies a failure reason produced over an aborted
// run's partial log, so a reader can tell a genuine miss from truncation.
func annotateIncomplete(reason string, incomplete bool) string {
	if !incomplete || reason == "" {
		return reason
	}
	return reason + "; log incomplete, run aborted"
}
