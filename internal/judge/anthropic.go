package judge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atlas/translation-eval/internal/telemetry"
)

// AnthropicConfig shapes judge calls for an Anthropic messages endpoint.
type AnthropicConfig struct {
	APIKey           string
	Endpoint         string
	Model            string
	AnthropicVersion string
	MaxTokens        int
	Timeout          time.Duration
}

// AnthropicConfigFromEnv reads TEVAL_JUDGE_ANTHROPIC_* configuration.
func AnthropicConfigFromEnv() AnthropicConfig {
	return AnthropicConfig{
		APIKey:           os.Getenv("TEVAL_JUDGE_ANTHROPIC_API_KEY"),
		Endpoint:         defaultString(os.Getenv("TEVAL_JUDGE_ANTHROPIC_ENDPOINT"), "https://api.anthropic.com/v1/messages"),
		Model:            defaultString(os.Getenv("TEVAL_JUDGE_ANTHROPIC_MODEL"), "claude-3-5-haiku-latest"),
		AnthropicVersion: defaultString(os.Getenv("TEVAL_JUDGE_ANTHROPIC_VERSION"), "2023-06-01"),
		MaxTokens:        16,
		Timeout:          10 * time.Second,
	}
}

// NewAnthropicClient builds a judge Provider against an Anthropic messages
// endpoint. The prompt instructs the model to reply with the bare integer
// score so the response text parses as a verdict.
func NewAnthropicClient(cfg AnthropicConfig) (*Client, error) {
	return NewAnthropicClientWithObservers(cfg, nil, nil)
}

// NewAnthropicClientWithObservers wires optional logging and metrics.
func NewAnthropicClientWithObservers(cfg AnthropicConfig, logger logrus.FieldLogger, metrics *telemetry.Metrics) (*Client, error) {
	return NewClientWithObservers(Config{
		Endpoint:     cfg.Endpoint,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "x-api-key",
		StaticHeaders: map[string]string{
			"anthropic-version": cfg.AnthropicVersion,
		},
		Timeout:           cfg.Timeout,
		ScorePath:         "content.0.text",
		JustificationPath: "stop_reason",
		BuildBody: func(req Request) any {
			return map[string]any{
				"model":      defaultString(cfg.Model, "claude-3-5-haiku-latest"),
				"max_tokens": maxTokens(cfg.MaxTokens),
				"messages": []map[string]any{
					{"role": "user", "content": renderPrompt(req)},
				},
			}
		},
	}, logger, metrics)
}

// NewAnthropicClientFromEnv builds the env-configured Anthropic judge.
func NewAnthropicClientFromEnv() (*Client, error) {
	return NewAnthropicClient(AnthropicConfigFromEnv())
}

func renderPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate the %s of this translation on a 1-5 scale.\n", req.Dimension)
	if len(req.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, exchange := range req.History {
			fmt.Fprintf(&b, "- said: %q heard: %q\n", exchange.Reference, exchange.Hypothesis)
		}
	}
	fmt.Fprintf(&b, "Reference: %q\nHypothesis: %q\n", req.Reference, req.Hypothesis)
	b.WriteString("Reply with only the integer score.")
	return b.String()
}

func maxTokens(v int) int {
	if v < 1 {
		return 16
	}
	return v
}
