// Package judge abstracts the external structured-scoring service consulted
// for subjective quality dimensions.
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Score bounds for graded verdicts.
const (
	MinScore = 1
	MaxScore = 5
)

var (
	// ErrInvalidVerdict indicates the judge responded without a well-formed
	// integer score. Callers treat this as a local evaluation failure.
	ErrInvalidVerdict = errors.New("judge returned an invalid verdict")
	// ErrUnavailable indicates the judge endpoint could not produce a
	// response (transport failure, auth rejection, exhausted retries).
	ErrUnavailable = errors.New("judge unavailable")
)

// Exchange is one prior reference/hypothesis pair of rolling history.
type Exchange struct {
	Reference  string `json:"reference"`
	Hypothesis string `json:"hypothesis"`
}

// Request is one judgment call. History carries a bounded window of prior
// turns for context-sensitive dimensions and must be built deterministically
// by the caller.
type Request struct {
	Dimension  string     `json:"dimension"`
	Reference  string     `json:"reference"`
	Hypothesis string     `json:"hypothesis"`
	History    []Exchange `json:"history,omitempty"`
	EventID    string     `json:"event_id"`
}

// Validate enforces the judge-call contract.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Dimension) == "" {
		return fmt.Errorf("dimension is required")
	}
	if strings.TrimSpace(r.EventID) == "" {
		return fmt.Errorf("event_id is required")
	}
	if r.Reference == "" {
		return fmt.Errorf("reference text is required")
	}
	return nil
}

// Verdict is a validated judge response.
type Verdict struct {
	Score         int    `json:"score"`
	Justification string `json:"justification,omitempty"`
}

// Validate rejects out-of-range scores.
func (v Verdict) Validate() error {
	if v.Score < MinScore || v.Score > MaxScore {
		return fmt.Errorf("%w: score %d outside [%d,%d]", ErrInvalidVerdict, v.Score, MinScore, MaxScore)
	}
	return nil
}

// Provider is the narrow judgment seam. Implementations own retries,
// backoff, and rate limiting; evaluators never do.
type Provider interface {
	Judge(ctx context.Context, req Request) (Verdict, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Verdict, error)

// Judge implements Provider.
func (f ProviderFunc) Judge(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}
