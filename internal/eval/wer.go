package eval

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// MetricWER is the word-error-rate capability name.
const MetricWER = "wer"

// DefaultWERThreshold is the maximum acceptable per-expectation WER.
const DefaultWERThreshold = 0.30

var contractions = map[string]string{
	"i'm":     "i am",
	"i've":    "i have",
	"i'll":    "i will",
	"i'd":     "i would",
	"you're":  "you are",
	"you've":  "you have",
	"you'll":  "you will",
	"you'd":   "you would",
	"he's":    "he is",
	"he'll":   "he will",
	"he'd":    "he would",
	"she's":   "she is",
	"she'll":  "she will",
	"she'd":   "she would",
	"it's":    "it is",
	"it'll":   "it will",
	"we're":   "we are",
	"we've":   "we have",
	"we'll":   "we will",
	"we'd":    "we would",
	"they're": "they are",
	"they've": "they have",
	"they'll": "they will",
	"they'd":  "they would",
	"that's":  "that is",
	"there's": "there is",
	"what's":  "what is",
	"who's":   "who is",
	"let's":   "let us",
	"can't":   "cannot",
	"won't":   "will not",
	"don't":   "do not",
	"doesn't": "does not",
	"didn't":  "did not",
	"isn't":   "is not",
	"aren't":  "are not",
	"wasn't":  "was not",
	"weren't": "were not",
	"haven't": "have not",
	"hasn't":  "has not",
	"hadn't":  "had not",

	"shouldn't": "should not",
	"wouldn't":  "would not",
	"couldn't":  "could not",
	"mustn't":   "must not",
}

// NormalizeTokens lowercases, expands contractions, strips punctuation, and
// tokenizes on whitespace. Both reference and hypothesis go through the
// identical transform so WER compares like with like.
func NormalizeTokens(text string) []string {
	lowered := strings.ToLower(strings.ReplaceAll(text, "’", "'"))

	words := strings.Fields(lowered)
	expanded := make([]string, 0, len(words))
	for _, word := range words {
		trimmed := strings.Trim(word, ".,!?;:\"()[]{}")
		if replacement, ok := contractions[trimmed]; ok {
			expanded = append(expanded, strings.Fields(replacement)...)
			continue
		}
		stripped := stripPunctuation(trimmed)
		if stripped != "" {
			expanded = append(expanded, stripped)
		}
	}
	return expanded
}

func stripPunctuation(word string) string {
	var b strings.Builder
	for _, r := range word {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			b.WriteRune(r)
		case r > 127:
			// Keep non-ASCII letters for non-English hypotheses.
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "'")
}

// EditDistance is the minimum number of token substitutions, deletions, and
// insertions transforming reference into hypothesis.
func EditDistance(reference, hypothesis []string) int {
	rows := len(reference) + 1
	cols := len(hypothesis) + 1

	previous := make([]int, cols)
	current := make([]int, cols)
	for j := 0; j < cols; j++ {
		previous[j] = j
	}

	for i := 1; i < rows; i++ {
		current[0] = i
		for j := 1; j < cols; j++ {
			if reference[i-1] == hypothesis[j-1] {
				current[j] = previous[j-1]
				continue
			}
			best := previous[j-1] // substitution
			if previous[j] < best {
				best = previous[j] // deletion
			}
			if current[j-1] < best {
				best = current[j-1] // insertion
			}
			current[j] = best + 1
		}
		previous, current = current, previous
	}
	return previous[cols-1]
}

// WER computes edits / max(1, reference token count) over normalized text.
func WER(reference, hypothesis string) float64 {
	refTokens := NormalizeTokens(reference)
	hypTokens := NormalizeTokens(hypothesis)
	edits := EditDistance(refTokens, hypTokens)
	denominator := len(refTokens)
	if denominator < 1 {
		denominator = 1
	}
	return float64(edits) / float64(denominator)
}

// WEREvaluator scores transcript expectations by word error rate.
type WEREvaluator struct {
	threshold float64
}

// NewWER returns a WER evaluator with the default threshold.
func NewWER() *WEREvaluator {
	return NewWERWithThreshold(DefaultWERThreshold)
}

// NewWERWithThreshold overrides the per-expectation pass bound.
func NewWERWithThreshold(threshold float64) *WEREvaluator {
	if threshold <= 0 {
		threshold = DefaultWERThreshold
	}
	return &WEREvaluator{threshold: threshold}
}

// Name returns the capability name.
func (e *WEREvaluator) Name() string {
	return MetricWER
}

// Evaluate computes per-expectation WER against correlated events. An
// expectation carrying a regex pattern passes outright when the pattern
// matches the correlated text. The reported value is 1 - mean WER clamped
// to [0,1].
func (e *WEREvaluator) Evaluate(_ context.Context, in Input) (MetricResult, error) {
	expectations := in.Expectations.Transcripts
	if len(expectations) == 0 {
		return MetricResult{Name: MetricWER, Passed: true, Value: float64Ptr(1.0)}, nil
	}

	matches := correlateTranscripts(expectations, in.Events)
	judgments := make([]EventJudgment, 0, len(expectations))
	var total float64
	var failures []string

	for i, expectation := range expectations {
		event := matches[i]
		if event == nil {
			judgments = append(judgments, EventJudgment{
				EventID: expectation.EventID,
				Score:   0,
				Reason:  "expectation_unmatched",
			})
			total += 1
			failures = append(failures, fmt.Sprintf("%s: no correlated event", expectation.EventID))
			continue
		}
		if expectation.Pattern != "" {
			matched, err := patternMatches(expectation.Pattern, event.Text)
			if err != nil {
				return MetricResult{}, fmt.Errorf("expectation %s: %w", expectation.EventID, err)
			}
			if matched {
				judgments = append(judgments, EventJudgment{
					EventID: expectation.EventID,
					Score:   1,
				})
				continue
			}
			// A pattern-only expectation has no text to fall back to.
			if expectation.Text == "" {
				judgments = append(judgments, EventJudgment{
					EventID: expectation.EventID,
					Score:   0,
					Reason:  "pattern_unmatched",
				})
				total += 1
				failures = append(failures, fmt.Sprintf("%s: pattern %q did not match", expectation.EventID, expectation.Pattern))
				continue
			}
		}

		rate := WER(expectation.Text, event.Text)
		total += rate
		judgment := EventJudgment{
			EventID: expectation.EventID,
			Score:   clamp01(1 - rate),
		}
		if rate > e.threshold {
			judgment.Reason = fmt.Sprintf("wer %.2f exceeds threshold %.2f", rate, e.threshold)
			failures = append(failures, fmt.Sprintf("%s: wer %.2f", expectation.EventID, rate))
		}
		judgments = append(judgments, judgment)
	}

	mean := total / float64(len(expectations))
	result := MetricResult{
		Name:   MetricWER,
		Passed: len(failures) == 0,
		Value:  float64Ptr(clamp01(1 - mean)),
		Events: judgments,
	}
	if !result.Passed {
		result.Reason = annotateIncomplete(strings.Join(failures, "; "), in.Incomplete)
	}
	return result, nil
}

// patternMatches applies an expectation regex to the correlated event text.
// Patterns are validated at scenario load, so a compile failure here means
// the expectation bypassed validation and is a configuration error.
func patternMatches(pattern, text string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re.MatchString(text), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
