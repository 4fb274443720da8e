// Package pipeline runs a configured set of experts over one document,
// screens their output through the validation guard and confidence gate,
// and records one trace per expert plus one for the whole run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/guard"
	"github.com/brunobiangulo/goecl/trace"
)

var (
	// ErrDuplicateExpert is returned by New when two experts share a name.
	ErrDuplicateExpert = errors.New("pipeline: duplicate expert name")
	// ErrInvalidThreshold is returned for thresholds outside (0, 1].
	ErrInvalidThreshold = errors.New("pipeline: confidence threshold must be in (0, 1]")
	// ErrNoExperts is returned by New when no experts are given, and by Run
	// when a subset selects none.
	ErrNoExperts = errors.New("pipeline: no experts configured")
	// ErrUnknownExpert is returned by Run when a subset names an expert the
	// orchestrator does not have.
	ErrUnknownExpert = errors.New("pipeline: unknown expert")
)

// State is a step of a run.
type State int

const (
	StateInit State = iota
	StateRunning
	StateAggregating
	StatePersisted
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateAggregating:
		return "AGGREGATING"
	case StatePersisted:
		return "PERSISTED"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hooks observe a run. Both are optional. OnExpert is called from the
// expert's goroutine and must be safe for concurrent use.
type Hooks struct {
	OnState  func(pipelineID string, s State)
	OnExpert func(pipelineID string, t trace.ExtractionTrace)
}

// Orchestrator is safe for concurrent Runs.
type Orchestrator struct {
	experts     []expert.Extractor
	validator   *guard.Validator
	threshold   float64
	concurrency int
	timeout     time.Duration
	writer      trace.Writer
	durable     bool
	metrics     *Metrics
	hooks       Hooks
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThreshold sets the default confidence threshold.
func WithThreshold(t float64) Option { return func(o *Orchestrator) { o.threshold = t } }

// WithValidator replaces the default validation guard.
func WithValidator(v *guard.Validator) Option { return func(o *Orchestrator) { o.validator = v } }

// WithConcurrency bounds how many experts run at once. Zero or less runs
// all of them at once.
func WithConcurrency(n int) Option { return func(o *Orchestrator) { o.concurrency = n } }

// WithTimeout sets a per-run deadline. Experts still running when it
// expires are recorded as failed and the run completes with what finished.
func WithTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithTraceWriter persists every pipeline trace through w.
func WithTraceWriter(w trace.Writer) Option { return func(o *Orchestrator) { o.writer = w } }

// WithDurableTraces makes a failed trace write a Run error. Results and the
// trace are still returned alongside it.
func WithDurableTraces() Option { return func(o *Orchestrator) { o.durable = true } }

// WithMetrics records every run on m.
func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithHooks installs run observers.
func WithHooks(h Hooks) Option { return func(o *Orchestrator) { o.hooks = h } }

// New builds an orchestrator over experts, which run and are reported in
// the given order.
func New(experts []expert.Extractor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		validator: guard.DefaultValidator(),
		threshold: guard.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(experts) == 0 {
		return nil, ErrNoExperts
	}
	seen := make(map[string]bool, len(experts))
	for i, x := range experts {
		if x == nil {
			return nil, fmt.Errorf("pipeline: expert %d is nil", i)
		}
		if x.Name() == "" {
			return nil, fmt.Errorf("pipeline: expert %d has an empty name", i)
		}
		if seen[x.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateExpert, x.Name())
		}
		seen[x.Name()] = true
	}
	if err := checkThreshold(o.threshold); err != nil {
		return nil, err
	}
	if o.validator == nil {
		o.validator = guard.DefaultValidator()
	}
	o.experts = append([]expert.Extractor(nil), experts...)
	return o, nil
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t <= 0 || t > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, t)
	}
	return nil
}

// Experts returns the configured expert names in run order.
func (o *Orchestrator) Experts() []string {
	names := make([]string, len(o.experts))
	for i, x := range o.experts {
		names[i] = x.Name()
	}
	return names
}

// Threshold returns the default confidence threshold.
func (o *Orchestrator) Threshold() float64 { return o.threshold }

type runConfig struct {
	threshold float64
	only      []string
}

// RunOption adjusts a single Run.
type RunOption func(*runConfig)

// WithRunThreshold overrides the threshold for one run.
func WithRunThreshold(t float64) RunOption { return func(c *runConfig) { c.threshold = t } }

// WithOnly restricts a run to the named experts, kept in configured order.
func WithOnly(names ...string) RunOption { return func(c *runConfig) { c.only = names } }

// slot holds one expert's output until the join.
type slot struct {
	result  graph.ExtractionResult
	trace   trace.ExtractionTrace
	warning string
}

// Run executes the experts over text and returns their screened results
// keyed by expert name together with the pipeline trace. Expert failures
// never fail the run; they become empty results and warnings. An error is
// returned for invalid run options, and for a failed trace write when
// durable traces were requested, in which case results and trace are
// returned as well.
func (o *Orchestrator) Run(ctx context.Context, text string, ectx expert.Context, opts ...RunOption) (map[string]graph.ExtractionResult, *trace.PipelineTrace, error) {
	cfg := runConfig{threshold: o.threshold}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := checkThreshold(cfg.threshold); err != nil {
		return nil, nil, err
	}
	experts, err := o.selectExperts(cfg.only)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	pt := trace.NewPipeline(text, len(experts), cfg.threshold)
	pt.ModelUsed = primaryModel(experts)
	if pt.ModelUsed != patternModel {
		pt.ModelVersion = pt.ModelUsed
	}
	o.state(pt.PipelineID, StateInit)

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	slog.Info("pipeline: run starting", "pipeline_id", pt.PipelineID, "experts", len(experts),
		"document_hash", pt.DocumentHash, "document_length", pt.DocumentLength, "threshold", cfg.threshold)

	slots := make([]slot, len(experts))
	var g errgroup.Group
	limit := o.concurrency
	if limit <= 0 {
		limit = len(experts)
	}
	g.SetLimit(limit)
	o.state(pt.PipelineID, StateRunning)
	for i, x := range experts {
		g.Go(func() error {
			slots[i] = o.runExpert(runCtx, x, text, ectx, cfg.threshold)
			if o.hooks.OnExpert != nil {
				o.hooks.OnExpert(pt.PipelineID, slots[i].trace)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.state(pt.PipelineID, StateAggregating)
	results := make(map[string]graph.ExtractionResult, len(experts))
	children := make([]trace.ExtractionTrace, 0, len(experts))
	warnings := []string{}
	for i, x := range experts {
		results[x.Name()] = slots[i].result
		children = append(children, slots[i].trace)
		if slots[i].warning != "" {
			warnings = append(warnings, slots[i].warning)
		}
	}
	pt.Aggregate(children, warnings, time.Since(start))

	var persistErr error
	if o.writer != nil {
		// The write runs even when the run deadline has passed.
		if err := o.writer.Put(context.WithoutCancel(ctx), pt); err != nil {
			o.metrics.persistFailed()
			slog.Warn("pipeline: trace persistence failed", "pipeline_id", pt.PipelineID, "error", err)
			if o.durable {
				persistErr = fmt.Errorf("pipeline: persist trace %s: %w", pt.PipelineID, err)
			}
		} else {
			o.state(pt.PipelineID, StatePersisted)
		}
	}

	o.metrics.Observe(pt)
	slog.Info("pipeline: run complete", "pipeline_id", pt.PipelineID,
		"entities", pt.TotalEntities, "rejected", pt.TotalEntitiesRejected,
		"hallucinated", pt.TotalEntitiesHallucinated, "relationships", pt.TotalRelationships,
		"warnings", len(pt.Warnings), "elapsed_ms", pt.TotalTimeMs)
	o.state(pt.PipelineID, StateDone)
	return results, pt, persistErr
}

func (o *Orchestrator) state(id string, s State) {
	slog.Debug("pipeline: state", "pipeline_id", id, "state", s.String())
	if o.hooks.OnState != nil {
		o.hooks.OnState(id, s)
	}
}

func (o *Orchestrator) selectExperts(only []string) ([]expert.Extractor, error) {
	if len(only) == 0 {
		return o.experts, nil
	}
	want := make(map[string]bool, len(only))
	for _, n := range only {
		want[n] = true
	}
	var out []expert.Extractor
	for _, x := range o.experts {
		if want[x.Name()] {
			out = append(out, x)
			delete(want, x.Name())
		}
	}
	if len(want) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExpert, strings.Join(slices.Sorted(maps.Keys(want)), ", "))
	}
	if len(out) == 0 {
		return nil, ErrNoExperts
	}
	return out, nil
}

// patternModel is reported as the model of a run with no model-backed expert.
const patternModel = "pattern"

// primaryModel returns the first model reported by a model-backed expert.
func primaryModel(experts []expert.Extractor) string {
	for _, x := range experts {
		if m, ok := x.(expert.Modeled); ok && m.ModelName() != "" {
			return m.ModelName()
		}
	}
	return patternModel
}

// invocation is what one expert call produced before screening.
type invocation struct {
	result   graph.ExtractionResult
	fallback bool
	traceErr error
	err      error
}

func invoke(ctx context.Context, x expert.Extractor, text string, ectx expert.Context) (inv invocation) {
	defer func() {
		if r := recover(); r != nil {
			inv = invocation{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if f, ok := x.(*Fallback); ok {
		d := f.Resolve(ctx, text, ectx)
		return invocation{result: d.Result, fallback: d.FallbackUsed, traceErr: d.TraceErr, err: d.Err}
	}
	res, err := x.Extract(ctx, text, ectx)
	return invocation{result: res, err: err}
}

// runExpert invokes one expert, screens its entities and finishes its
// trace. It returns when the expert does or when ctx ends, whichever is
// first; an abandoned expert's late result is discarded.
func (o *Orchestrator) runExpert(ctx context.Context, x expert.Extractor, text string, ectx expert.Context, threshold float64) slot {
	name := x.Name()
	rec := trace.Start(name, text)
	if m, ok := x.(expert.Modeled); ok {
		rec.Model(m.ModelName(), m.PromptVersion())
	}

	var inv invocation
	if err := ctx.Err(); err != nil {
		inv = invocation{err: fmt.Errorf("not started: %w", context.Cause(ctx))}
	} else {
		done := make(chan invocation, 1)
		go func() { done <- invoke(ctx, x, text, ectx) }()
		select {
		case inv = <-done:
		case <-ctx.Done():
			inv = invocation{err: fmt.Errorf("abandoned: %w", context.Cause(ctx))}
		}
	}

	if inv.fallback {
		rec.Fallback()
	}
	rec.Fail(inv.traceErr)
	if inv.err != nil {
		rec.Fail(inv.err)
		slog.Warn("pipeline: expert failed", "expert", name, "error", inv.err)
		return slot{
			result:  graph.Empty(name, "expert failed: "+inv.err.Error()),
			trace:   rec.Finish(trace.Outcome{}),
			warning: fmt.Sprintf("%s: %v", name, inv.err),
		}
	}

	res := inv.result
	res.ExpertName = name
	if res.Relationships == nil {
		res.Relationships = []graph.Relationship{}
	}
	screened, hallucinated, reasons := o.screen(name, res.Entities, text)
	accepted, rejected := guard.Filter(screened, threshold)
	for _, e := range rejected {
		if e.Confidence > 0 {
			slog.Debug("guard: below confidence threshold", "expert", name, "entity_id", e.ID,
				"confidence", e.Confidence, "threshold", threshold)
		}
	}
	res.Entities = accepted

	t := rec.Finish(trace.Outcome{
		Accepted:      accepted,
		Rejected:      len(rejected) - hallucinated,
		Hallucinated:  hallucinated,
		Relationships: len(res.Relationships),
		Reasons:       reasons,
	})
	slog.Debug("pipeline: expert finished", "expert", name, "accepted", len(accepted),
		"rejected", t.EntitiesRejected, "hallucinated", hallucinated,
		"fallback", t.FallbackUsed, "elapsed_ms", t.ProcessingTimeMs)
	return slot{result: res, trace: t}
}

// screen validates every entity. Invalid ones keep their place but get
// confidence 0 so the gate removes them. Out-of-range confidences are
// clamped first. Each clamp and each failed check is returned as a reason
// for the trace.
func (o *Orchestrator) screen(expertName string, entities []graph.Entity, text string) ([]graph.Entity, int, []string) {
	out := make([]graph.Entity, len(entities))
	hallucinated := 0
	var reasons []string
	for i, e := range entities {
		if e.SourceExpert == "" {
			e.SourceExpert = expertName
		}
		if c, changed := guard.Clamp(e.Confidence); changed {
			reason := fmt.Sprintf("confidence %v outside [0, 1], clamped to %v", e.Confidence, c)
			reasons = append(reasons, e.ID+": "+reason)
			slog.Debug("guard: confidence clamped", "expert", expertName, "entity_id", e.ID, "reason", reason)
			e.Confidence = c
		}
		if v := o.validator.Validate(e, text); !v.Valid {
			hallucinated++
			e.Confidence = 0
			for _, r := range v.Reasons {
				reasons = append(reasons, e.ID+": "+r)
			}
			slog.Info("guard: entity rejected", "expert", expertName, "entity_id", e.ID,
				"name", e.Name, "reasons", v.Reasons)
		}
		out[i] = e
	}
	return out, hallucinated, reasons
}
