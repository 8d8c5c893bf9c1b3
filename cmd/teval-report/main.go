// Command teval-report lists persisted run results and renders one run's
// stored detail, so score regressions can be traced without re-running.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/atlas/translation-eval/internal/eval"
	"github.com/atlas/translation-eval/internal/store"
)

func main() {
	ctx := context.Background()
	openStore := func() (store.RunStore, error) {
		return store.NewPostgresStore(ctx, store.PostgresConfigFromEnv())
	}
	if err := run(ctx, os.Args[1:], os.Stdout, openStore); err != nil {
		fmt.Fprintf(os.Stderr, "teval-report: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, openStore func() (store.RunStore, error)) error {
	flags := flag.NewFlagSet("teval-report", flag.ContinueOnError)
	flags.SetOutput(stdout)
	scenarioName := flags.String("scenario", "", "filter runs by scenario name")
	runID := flags.String("run", "", "show one run in detail")
	limit := flags.Int("limit", 20, "maximum runs to list")
	asJSON := flags.Bool("json", false, "emit JSON instead of a table")
	if err := flags.Parse(args); err != nil {
		return err
	}

	runs, err := openStore()
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer runs.Close()

	if *runID != "" {
		record, err := runs.GetRun(ctx, *runID)
		if err != nil {
			return err
		}
		return renderRun(stdout, record, *asJSON)
	}

	records, err := runs.ListRuns(ctx, *scenarioName, *limit)
	if err != nil {
		return err
	}
	if *asJSON {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}
	return renderTable(stdout, records)
}

func renderTable(w io.Writer, records []store.RunRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSCENARIO\tSTATUS\tSCORE\tMETHOD\tCREATED")
	for _, record := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\t%s\n",
			record.RunID, record.Scenario, record.Status, record.Score,
			record.ScoreMethod, record.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func renderRun(w io.Writer, record store.RunRecord, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(record)
	}

	fmt.Fprintf(w, "run       %s\n", record.RunID)
	fmt.Fprintf(w, "scenario  %s\n", record.Scenario)
	fmt.Fprintf(w, "status    %s\n", record.Status)
	fmt.Fprintf(w, "score     %.1f (%s)\n", record.Score, record.ScoreMethod)
	if record.Reason != "" {
		fmt.Fprintf(w, "reason    %s\n", record.Reason)
	}
	if record.Incomplete {
		fmt.Fprintln(w, "note      run aborted before completion; metrics cover a partial log")
	}
	fmt.Fprintf(w, "created   %s\n", record.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	if strings.TrimSpace(record.MetricsJSON) == "" {
		return nil
	}
	var metrics []eval.MetricResult
	if err := json.Unmarshal([]byte(record.MetricsJSON), &metrics); err != nil {
		return fmt.Errorf("stored metrics are unreadable: %w", err)
	}
	fmt.Fprintln(w, "metrics:")
	for _, metric := range metrics {
		value := "n/a"
		if metric.Value != nil {
			value = fmt.Sprintf("%.3f", *metric.Value)
		}
		line := fmt.Sprintf("  %-22s passed=%-5v value=%s", metric.Name, metric.Passed, value)
		if metric.Reason != "" {
			line += " reason=" + metric.Reason
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
