// Command eval scores extraction quality against labelled documents.
//
// Built-in dataset with pattern experts:
//
//	go run ./cmd/eval
//
// Model-backed experts against a custom dataset:
//
//	go run ./cmd/eval \
//	  --dataset ./testdata/leases.json \
//	  --model --llm-provider groq --llm-model llama-3.3-70b-versatile \
//	  --output report.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/brunobiangulo/goecl"
	"github.com/brunobiangulo/goecl/eval"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	datasetPath := flag.String("dataset", "", "JSON dataset file (default: built-in tower dataset)")
	useModel := flag.Bool("model", false, "Use model-backed experts with pattern fallback")
	provider := flag.String("llm-provider", "", "Override the LLM provider")
	model := flag.String("llm-model", "", "Override the LLM model")
	threshold := flag.Float64("threshold", 0, "Confidence threshold for every case (default from config)")
	output := flag.String("output", "", "Write the JSON report to this file")
	timeout := flag.Duration("timeout", 30*time.Minute, "Overall evaluation timeout")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := goecl.LoadConfig(*configPath)
	if err != nil {
		fatal("loading config", err)
	}
	cfg.Store.Driver = goecl.StoreNone
	cfg.UseModel = cfg.UseModel || *useModel
	if *provider != "" {
		cfg.LLM.Provider = *provider
	}
	if *model != "" {
		cfg.LLM.Model = *model
	}

	dataset := eval.TowerDataset()
	if *datasetPath != "" {
		dataset, err = eval.LoadDataset(*datasetPath)
		if err != nil {
			fatal("loading dataset", err)
		}
	}

	engine, err := goecl.New(cfg)
	if err != nil {
		fatal("creating engine", err)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	evaluator := eval.NewEvaluator(engine)
	evaluator.SetThreshold(*threshold)
	report, err := evaluator.Run(ctx, dataset)
	if err != nil {
		fatal("running evaluation", err)
	}

	printReport(report)

	if *output != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fatal("encoding report", err)
		}
		if err := os.WriteFile(*output, data, 0o644); err != nil {
			fatal("writing report", err)
		}
		fmt.Printf("\nReport written to %s\n", *output)
	}
	if report.Failed > 0 {
		os.Exit(2)
	}
}

func printReport(r *eval.Report) {
	fmt.Printf("\n=== %s ===\n", r.Dataset)
	fmt.Printf("Cases: %d  Passed: %d  Failed: %d  (%s)\n", r.TotalCases, r.Passed, r.Failed, r.RunTime.Round(time.Millisecond))
	printMetrics("Overall", r.Metrics)

	cats := make([]string, 0, len(r.CategoryMetrics))
	for cat := range r.CategoryMetrics {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		printMetrics(cat, r.CategoryMetrics[cat])
	}

	fmt.Println()
	for _, c := range r.Results {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Printf("[%s] %-32s P=%.2f R=%.2f  %.0fms\n", status, c.Name, c.Precision, c.Recall, c.ElapsedMs)
		if len(c.Missing) > 0 {
			fmt.Printf("       missing:    %v\n", c.Missing)
		}
		if len(c.Unexpected) > 0 {
			fmt.Printf("       unexpected: %v\n", c.Unexpected)
		}
		if len(c.Forbidden) > 0 {
			fmt.Printf("       forbidden:  %v\n", c.Forbidden)
		}
		if c.Error != "" {
			fmt.Printf("       error:      %s\n", c.Error)
		}
	}
}

func printMetrics(label string, m eval.AggregateMetrics) {
	fmt.Printf("  %-16s P=%.3f R=%.3f F1=%.3f  rejected=%d hallucinated=%d fallbacks=%d warnings=%d avg=%.0fms\n",
		label, m.Precision, m.Recall, m.F1, m.Rejected, m.Hallucinated, m.Fallbacks, m.Warnings, m.AvgTimeMs)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
