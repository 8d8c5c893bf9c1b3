package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/atlas/translation-eval/internal/telemetry"
)

// Config configures the generic JSON-over-HTTP judge client.
type Config struct {
	Endpoint          string
	Method            string
	APIKey            string
	APIKeyHeader      string
	StaticHeaders     map[string]string
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	RequestsPerSecond float64
	Burst             int
	// ScorePath and JustificationPath are gjson paths into the response
	// body. Defaults match the engine's native judge response shape.
	ScorePath         string
	JustificationPath string
	BuildBody         func(req Request) any
}

// ConfigFromEnv reads TEVAL_JUDGE_* configuration with engine defaults.
func ConfigFromEnv() Config {
	return Config{
		Endpoint:          os.Getenv("TEVAL_JUDGE_ENDPOINT"),
		APIKey:            os.Getenv("TEVAL_JUDGE_API_KEY"),
		APIKeyHeader:      defaultString(os.Getenv("TEVAL_JUDGE_API_KEY_HEADER"), "x-api-key"),
		Timeout:           envDuration("TEVAL_JUDGE_TIMEOUT_MS", 10*time.Second),
		MaxAttempts:       3,
		BackoffBase:       500 * time.Millisecond,
		RequestsPerSecond: envFloat("TEVAL_JUDGE_RPS", 4),
		Burst:             2,
		ScorePath:         defaultString(os.Getenv("TEVAL_JUDGE_SCORE_PATH"), "score"),
		JustificationPath: defaultString(os.Getenv("TEVAL_JUDGE_JUSTIFICATION_PATH"), "justification"),
	}
}

// Client is a JSON-over-HTTP judge Provider with retries, backoff, and
// rate limiting.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	metrics *telemetry.Metrics
}

// NewClient constructs a judge client.
func NewClient(cfg Config) (*Client, error) {
	return NewClientWithObservers(cfg, nil, nil)
}

// NewClientWithObservers wires optional logging and metrics.
func NewClientWithObservers(cfg Config, logger logrus.FieldLogger, metrics *telemetry.Metrics) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("judge endpoint is required")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 4
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.ScorePath == "" {
		cfg.ScorePath = "score"
	}
	if cfg.JustificationPath == "" {
		cfg.JustificationPath = "justification"
	}
	if cfg.BuildBody == nil {
		cfg.BuildBody = func(req Request) any { return req }
	}
	if logger == nil {
		noop := logrus.New()
		noop.SetOutput(io.Discard)
		logger = noop
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Judge executes one judgment call, retrying retryable failures.
func (c *Client) Judge(ctx context.Context, req Request) (Verdict, error) {
	if err := req.Validate(); err != nil {
		return Verdict{}, err
	}
	start := time.Now()
	verdict, outcome, err := c.judgeWithRetries(ctx, req)
	c.metrics.ObserveJudgeCall(outcome, time.Since(start))
	return verdict, err
}

func (c *Client) judgeWithRetries(ctx context.Context, req Request) (Verdict, string, error) {
	body, err := json.Marshal(c.cfg.BuildBody(req))
	if err != nil {
		return Verdict{}, "encode_error", fmt.Errorf("encode judge request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return Verdict{}, "cancelled", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		verdict, retryable, backoff, err := c.attempt(ctx, body)
		if err == nil {
			return verdict, "success", nil
		}
		if errors.Is(err, ErrInvalidVerdict) {
			c.logger.WithFields(logrus.Fields{
				"event_id":  req.EventID,
				"dimension": req.Dimension,
			}).Warn("judge verdict rejected")
			return Verdict{}, "invalid_verdict", err
		}
		lastErr = err
		if !retryable || attempt == c.cfg.MaxAttempts {
			break
		}

		wait := backoff
		if wait <= 0 {
			wait = c.cfg.BackoffBase * time.Duration(attempt)
		}
		c.logger.WithFields(logrus.Fields{
			"event_id": req.EventID,
			"attempt":  attempt,
			"backoff":  wait.String(),
		}).Warn("judge attempt failed, retrying")
		select {
		case <-ctx.Done():
			return Verdict{}, "cancelled", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(wait):
		}
	}
	return Verdict{}, "unavailable", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attempt performs one HTTP exchange. It reports whether the failure is
// retryable and an optional server-directed backoff.
func (c *Client) attempt(ctx context.Context, body []byte) (Verdict, bool, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, c.cfg.Method, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, false, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKeyHeader != "" && c.cfg.APIKey != "" {
		httpReq.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
	for key, value := range c.cfg.StaticHeaders {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Verdict{}, isRetryableNetworkError(ctx, err), 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Verdict{}, true, 0, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		verdict, err := c.parseVerdict(payload)
		return verdict, false, 0, err
	case resp.StatusCode == http.StatusTooManyRequests:
		return Verdict{}, true, retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("judge overloaded (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return Verdict{}, true, 0, fmt.Errorf("judge timeout (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return Verdict{}, false, 0, fmt.Errorf("judge rejected request (status %d)", resp.StatusCode)
	default:
		return Verdict{}, true, 0, fmt.Errorf("judge server error (status %d)", resp.StatusCode)
	}
}

// parseVerdict extracts and validates the structured score. Responses
// lacking a well-formed integer score are ErrInvalidVerdict, never a crash.
func (c *Client) parseVerdict(payload []byte) (Verdict, error) {
	if !gjson.ValidBytes(payload) {
		return Verdict{}, fmt.Errorf("%w: response is not valid JSON", ErrInvalidVerdict)
	}
	scoreField := gjson.GetBytes(payload, c.cfg.ScorePath)
	if !scoreField.Exists() {
		return Verdict{}, fmt.Errorf("%w: missing score at %q", ErrInvalidVerdict, c.cfg.ScorePath)
	}
	score, ok := integerScore(scoreField)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: score %q is not an integer", ErrInvalidVerdict, scoreField.String())
	}
	verdict := Verdict{
		Score:         score,
		Justification: gjson.GetBytes(payload, c.cfg.JustificationPath).String(),
	}
	if err := verdict.Validate(); err != nil {
		return Verdict{}, err
	}
	return verdict, nil
}

func integerScore(field gjson.Result) (int, bool) {
	switch field.Type {
	case gjson.Number:
		value := field.Num
		if value != float64(int64(value)) {
			return 0, false
		}
		return int(value), true
	case gjson.String:
		value, err := strconv.Atoi(strings.TrimSpace(field.Str))
		if err != nil {
			return 0, false
		}
		return value, true
	default:
		return 0, false
	}
}

func isRetryableNetworkError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return true
}

func retryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 1 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func defaultString(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
