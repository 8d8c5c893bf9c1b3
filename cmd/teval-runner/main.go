// Command teval-runner executes one scenario against a live translation
// endpoint or a self-contained dry run, prints the resulting score, and
// optionally persists and exports the run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/atlas/translation-eval/internal/assets"
	"github.com/atlas/translation-eval/internal/engine/transport"
	"github.com/atlas/translation-eval/internal/harness"
	"github.com/atlas/translation-eval/internal/judge"
	"github.com/atlas/translation-eval/internal/scenario"
	"github.com/atlas/translation-eval/internal/store"
	"github.com/atlas/translation-eval/internal/telemetry"
	"github.com/atlas/translation-eval/internal/timeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "teval-runner: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("teval-runner", flag.ContinueOnError)
	flags.SetOutput(stderr)
	scenarioPath := flags.String("scenario", "", "path to the scenario YAML (required)")
	assetDir := flags.String("assets", "", "directory of pre-rendered .pcm assets; empty uses Polly synthesis")
	endpoint := flags.String("endpoint", "", "upstream service address (host:port); empty with -dry-run runs offline")
	dryRun := flags.Bool("dry-run", false, "run against a scripted in-process upstream")
	accel := flags.Float64("accel", 0, "virtual clock acceleration; 0 uses TEVAL_RUN_ACCELERATION")
	persist := flags.Bool("persist", false, "save the run to Postgres (TEVAL_DB_URL)")
	reportPath := flags.String("report", "", "write the full result JSON to this path")
	timelinePath := flags.String("timeline", "", "write the merged action/event trace to this path")
	metricsAddr := flags.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	verbose := flags.Bool("v", false, "debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*scenarioPath) == "" {
		flags.Usage()
		return fmt.Errorf("-scenario is required")
	}
	if !*dryRun && strings.TrimSpace(*endpoint) == "" {
		return fmt.Errorf("-endpoint is required unless -dry-run is set")
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(registry)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("metrics listener stopped")
			}
		}()
		defer server.Close()
	}

	dialer, err := buildDialer(*dryRun, *endpoint, sc)
	if err != nil {
		return err
	}
	audio, err := buildAudioSource(*assetDir)
	if err != nil {
		return err
	}
	provider := buildJudgeProvider(logger, metrics)

	evaluators, err := harness.DefaultEvaluatorRegistry(provider, logger)
	if err != nil {
		return err
	}

	var runStore store.RunStore
	if *persist {
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfigFromEnv())
		if err != nil {
			return fmt.Errorf("connect run store: %w", err)
		}
		defer pg.Close()
		runStore = pg
	}

	cfg := harness.ConfigFromEnv()
	if *accel > 0 {
		cfg.Acceleration = *accel
	}
	cfg.Logger = logger
	cfg.Telemetry = metrics

	h, err := harness.New(cfg, dialer, audio, evaluators, runStore)
	if err != nil {
		return err
	}

	result, err := h.Execute(ctx, sc)
	if err != nil {
		return err
	}

	if *reportPath != "" {
		if err := writeReport(*reportPath, result); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "report written: %s\n", *reportPath)
	}
	if *timelinePath != "" {
		trace := timeline.Build(result.RunID, sc.Name, result.Outcome.Incomplete, sc.Actions, result.Outcome.Events)
		if err := timeline.Write(*timelinePath, trace); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "timeline written: %s\n", *timelinePath)
	}

	fmt.Fprintf(stdout, "run %s scenario %q\n", result.RunID, sc.Name)
	for _, metric := range result.Metrics {
		value := "n/a"
		if metric.Value != nil {
			value = fmt.Sprintf("%.3f", *metric.Value)
		}
		line := fmt.Sprintf("  metric %-22s passed=%-5v value=%s", metric.Name, metric.Passed, value)
		if metric.Reason != "" {
			line += " reason=" + metric.Reason
		}
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintf(stdout, "score %.1f (%s) status=%s", result.Score.Score, result.Score.Method, result.Score.Status)
	if result.Score.Reason != "" {
		fmt.Fprintf(stdout, " reason=%s", result.Score.Reason)
	}
	fmt.Fprintln(stdout)

	if result.Score.Status != "success" {
		return fmt.Errorf("run finished with status %s", result.Score.Status)
	}
	return nil
}

// buildDialer picks the upstream: a TCP connection carrying one JSON frame
// per line, or a scripted loopback echoing the scenario's expected
// transcripts back for offline runs.
func buildDialer(dryRun bool, endpoint string, sc scenario.Scenario) (transport.Dialer, error) {
	if dryRun {
		scripts := buildDryRunScripts(sc)
		return transport.DialerFunc(func(ctx context.Context, participant string) (transport.Transport, error) {
			return transport.NewLoopback(scripts[participant]), nil
		}), nil
	}
	return transport.DialerFunc(func(ctx context.Context, participant string) (transport.Transport, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", endpoint)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return transport.NewLineConn(conn), nil
	}), nil
}

// buildDryRunScripts assigns the nth transcript expectation as the scripted
// reply to the nth send_audio action, keyed by that action's participant.
func buildDryRunScripts(sc scenario.Scenario) map[string][][]byte {
	scripts := make(map[string][][]byte)
	next := 0
	for _, action := range sc.Actions {
		if action.Kind != scenario.ActionSendAudio {
			continue
		}
		if next >= len(sc.Expectations.Transcripts) {
			break
		}
		expectation := sc.Expectations.Transcripts[next]
		next++
		reply, err := json.Marshal(map[string]any{
			"kind": "textDelta",
			"textDelta": map[string]any{
				"text":           expectation.Text,
				"eventId":        expectation.EventID,
				"sourceLanguage": expectation.SourceLanguage,
				"targetLanguage": expectation.TargetLanguage,
			},
		})
		if err != nil {
			continue
		}
		scripts[action.Participant] = append(scripts[action.Participant], reply)
	}
	return scripts
}

func buildAudioSource(assetDir string) (assets.Source, error) {
	if strings.TrimSpace(assetDir) != "" {
		return assets.NewDirStore(assetDir)
	}
	return assets.NewSynthesizer(assets.SynthesizerConfigFromEnv()), nil
}

// buildJudgeProvider prefers an explicit judge endpoint, falls back to the
// Anthropic API when a key is present, and returns nil otherwise so only
// objective metrics run.
func buildJudgeProvider(logger logrus.FieldLogger, metrics *telemetry.Metrics) judge.Provider {
	if os.Getenv("TEVAL_JUDGE_ENDPOINT") != "" {
		client, err := judge.NewClientWithObservers(judge.ConfigFromEnv(), logger, metrics)
		if err != nil {
			logger.WithError(err).Warn("judge endpoint misconfigured, graded metrics disabled")
			return nil
		}
		return client
	}
	if os.Getenv("TEVAL_JUDGE_ANTHROPIC_API_KEY") != "" {
		client, err := judge.NewAnthropicClientWithObservers(judge.AnthropicConfigFromEnv(), logger, metrics)
		if err != nil {
			logger.WithError(err).Warn("anthropic judge misconfigured, graded metrics disabled")
			return nil
		}
		return client
	}
	return nil
}

func writeReport(path string, result harness.Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(struct {
		RunID      string      `json:"run_id"`
		Scenario   string      `json:"scenario"`
		State      string      `json:"state"`
		Incomplete bool        `json:"incomplete"`
		DurationMS int64       `json:"duration_ms"`
		Score      any         `json:"score"`
		Metrics    any         `json:"metrics"`
		Events     any         `json:"events"`
		Turns      any         `json:"turns"`
		WrittenAt  time.Time   `json:"written_at"`
	}{
		RunID:      result.RunID,
		Scenario:   result.Outcome.Scenario,
		State:      string(result.Outcome.State),
		Incomplete: result.Outcome.Incomplete,
		DurationMS: result.Outcome.DurationMS,
		Score:      result.Score,
		Metrics:    result.Metrics,
		Events:     result.Outcome.Events,
		Turns:      result.Outcome.Turns,
		WrittenAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
