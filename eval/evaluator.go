// Package eval scores extraction quality against labelled documents.
package eval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/brunobiangulo/goecl"
)

// Evaluator runs labelled cases through an engine.
type Evaluator struct {
	engine    goecl.Engine
	threshold float64
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(engine goecl.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// SetThreshold overrides the engine's confidence threshold for every case.
// Zero keeps the engine default.
func (e *Evaluator) SetThreshold(t float64) { e.threshold = t }

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	TotalCases      int                         `json:"total_cases"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []CaseResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
}

// AggregateMetrics are micro-averaged over a set of cases.
type AggregateMetrics struct {
	Counts
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
	F1           float64 `json:"f1"`
	Rejected     int     `json:"rejected"`
	Hallucinated int     `json:"hallucinated"`
	Fallbacks    int     `json:"fallbacks"`
	Warnings     int     `json:"warnings"`
	AvgTimeMs    float64 `json:"avg_time_ms"`
}

// CaseResult is the diagnosis of one case.
type CaseResult struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	PipelineID string   `json:"pipeline_id,omitempty"`
	Counts     Counts   `json:"counts"`
	Precision  float64  `json:"precision"`
	Recall     float64  `json:"recall"`
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
	Forbidden  []string `json:"forbidden,omitempty"`

	Rejected     int      `json:"rejected"`
	Hallucinated int      `json:"hallucinated"`
	Fallbacks    int      `json:"fallbacks"`
	Warnings     []string `json:"warnings,omitempty"`
	ElapsedMs    float64  `json:"elapsed_ms"`

	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Run evaluates every case in order. A case passes when every expected id
// was accepted and no forbidden id was. Engine errors fail the case and do
// not stop the run; only context cancellation does.
func (e *Evaluator) Run(ctx context.Context, dataset Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:         dataset.Name,
		TotalCases:      len(dataset.Cases),
		CategoryMetrics: make(map[string]AggregateMetrics),
	}

	var all []CaseResult
	byCategory := make(map[string][]CaseResult)
	for i, c := range dataset.Cases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Info("eval: running case", "case", i+1, "total", len(dataset.Cases), "name", c.Name)
		res := e.runCase(ctx, c)
		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		all = append(all, res)
		if c.Category != "" {
			byCategory[c.Category] = append(byCategory[c.Category], res)
		}
	}

	report.Results = all
	report.Metrics = aggregate(all)
	cats := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		report.CategoryMetrics[cat] = aggregate(byCategory[cat])
	}
	report.RunTime = time.Since(start)

	slog.Info("eval: complete", "dataset", dataset.Name, "passed", report.Passed, "failed", report.Failed,
		"precision", report.Metrics.Precision, "recall", report.Metrics.Recall)
	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	res := CaseResult{Name: c.Name, Category: c.Category}

	var opts []goecl.ExtractOption
	if e.threshold != 0 {
		opts = append(opts, goecl.WithThreshold(e.threshold))
	}
	if len(c.Experts) > 0 {
		opts = append(opts, goecl.WithExperts(c.Experts...))
	}
	if len(c.Context) > 0 {
		opts = append(opts, goecl.WithContext(c.Context))
	}

	report, err := e.engine.Extract(ctx, c.Document, opts...)
	if report == nil {
		res.Error = err.Error()
		res.Counts = Counts{FalseNegatives: len(c.Expected)}
		res.Precision, res.Recall = res.Counts.Precision(), res.Counts.Recall()
		slog.Warn("eval: case failed", "name", c.Name, "error", err)
		return res
	}
	if err != nil {
		res.Error = err.Error()
	}

	var ids []string
	for _, ent := range report.Graph.Entities() {
		ids = append(ids, ent.ID)
	}
	res.Counts, res.Missing, res.Unexpected = compare(ids, c.Expected)
	res.Precision, res.Recall = res.Counts.Precision(), res.Counts.Recall()
	res.Forbidden = present(ids, c.Forbidden)

	pt := report.Trace
	res.PipelineID = pt.PipelineID
	res.Rejected = pt.TotalEntitiesRejected
	res.Hallucinated = pt.TotalEntitiesHallucinated
	res.Fallbacks = pt.FallbackCount()
	res.Warnings = pt.Warnings
	res.ElapsedMs = pt.TotalTimeMs

	res.Passed = res.Error == "" && len(res.Missing) == 0 && len(res.Forbidden) == 0
	return res
}

func aggregate(results []CaseResult) AggregateMetrics {
	var m AggregateMetrics
	if len(results) == 0 {
		return m
	}
	var totalMs float64
	for _, r := range results {
		m.Counts = m.Counts.Add(r.Counts)
		m.Rejected += r.Rejected
		m.Hallucinated += r.Hallucinated
		m.Fallbacks += r.Fallbacks
		m.Warnings += len(r.Warnings)
		totalMs += r.ElapsedMs
	}
	m.Precision, m.Recall, m.F1 = m.Counts.Precision(), m.Counts.Recall(), m.Counts.F1()
	m.AvgTimeMs = totalMs / float64(len(results))
	return m
}
