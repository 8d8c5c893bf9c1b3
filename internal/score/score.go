// Package score reduces a run's metric results into a single bounded test
// score with a coarse status suitable for dashboards and gating.
package score

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atlas/translation-eval/internal/eval"
)

// Status classifies a scored run.
type Status string

const (
	// StatusSuccess means every gate the calculator applies held.
	StatusSuccess Status = "success"
	// StatusFailed means one or more metric gates did not hold.
	StatusFailed Status = "failed"
	// StatusGarbled means the garbled-turn rate exceeded its threshold.
	StatusGarbled Status = "garbled"
	// StatusError means the calculator could not produce a score at all,
	// for example because a required metric is missing from the input.
	StatusError Status = "error"
)

// TestScore is the terminal output of a run: a value on the 0..100 scale,
// the method that produced it, and a status with a human-readable reason.
type TestScore struct {
	Score   float64           `json:"score"`
	Method  string            `json:"method"`
	Status  Status            `json:"status"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Calculator turns metric results into a TestScore. Calculators are pure and
// safe to reuse across runs.
type Calculator interface {
	Method() string
	Calculate(results []eval.MetricResult) (TestScore, error)
}

// Registry resolves score calculators by method name.
type Registry struct {
	mu          sync.Mutex
	calculators map[string]Calculator
}

// NewRegistry returns an empty calculator registry.
func NewRegistry() *Registry {
	return &Registry{calculators: make(map[string]Calculator)}
}

// Register adds a calculator under its method name.
func (r *Registry) Register(c Calculator) error {
	if c == nil {
		return fmt.Errorf("calculator is required")
	}
	method := c.Method()
	if method == "" {
		return fmt.Errorf("calculator method is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.calculators[method]; exists {
		return fmt.Errorf("calculator %q is already registered", method)
	}
	r.calculators[method] = c
	return nil
}

// Resolve returns the calculator for the requested method.
func (r *Registry) Resolve(method string) (Calculator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.calculators[method]
	if !ok {
		return nil, fmt.Errorf("no calculator registered for %q", method)
	}
	return c, nil
}

// Methods lists registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	methods := make([]string, 0, len(r.calculators))
	for method := range r.calculators {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}

// DefaultRegistry returns a registry with the built-in calculators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NewAverage())
	_ = r.Register(NewGarbledTurn(DefaultGarbledThreshold))
	return r
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
