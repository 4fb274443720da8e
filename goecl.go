// Package goecl extracts typed entities and relationships from documents
// with a set of domain experts, screens them against the source text and a
// confidence threshold, merges them into a context graph and keeps an audit
// trace of every run.
package goecl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/brunobiangulo/goecl/docsource"
	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/llm"
	"github.com/brunobiangulo/goecl/pipeline"
	"github.com/brunobiangulo/goecl/store"
	"github.com/brunobiangulo/goecl/trace"
)

// Engine is the main entry point for extraction.
type Engine interface {
	// Extract runs every enabled expert over text. Expert failures never
	// fail the call; they appear as warnings on the report's trace.
	Extract(ctx context.Context, text string, opts ...ExtractOption) (*Report, error)

	// ExtractDocument reads the document at path and extracts from its text.
	ExtractDocument(ctx context.Context, path string, opts ...ExtractOption) (*Report, error)

	// Trace returns a stored pipeline trace by id.
	Trace(ctx context.Context, id string) (*trace.PipelineTrace, error)

	// Traces returns up to limit stored traces, most recent first.
	Traces(ctx context.Context, limit int) ([]trace.PipelineTrace, error)

	// ExpertStats aggregates stored runs per expert when the store supports it.
	ExpertStats(ctx context.Context) ([]store.ExpertStat, error)

	// Experts describes the enabled experts in run order.
	Experts() []expert.Info

	// Graph returns the merged graph of the most recent extraction. The
	// returned graph is never modified by the engine.
	Graph() *graph.ContextGraph

	// Health reports the state of the engine's collaborators.
	Health(ctx context.Context) Health

	// Close releases the trace store and graph sink connections.
	Close() error
}

// Report is the outcome of one extraction.
type Report struct {
	Results     map[string]graph.ExtractionResult `json:"results"`
	ExpertOrder []string                          `json:"expert_order"`
	Graph       *graph.ContextGraph               `json:"-"`
	Trace       *trace.PipelineTrace              `json:"trace"`
	Published   *graph.WriteStats                 `json:"published,omitempty"`
}

// MarshalJSON includes the merged graph as a snapshot.
func (r *Report) MarshalJSON() ([]byte, error) {
	type plain Report
	snap := graph.Snapshot{Entities: []graph.Entity{}, Relationships: []graph.Relationship{}}
	if r.Graph != nil {
		snap = r.Graph.Snapshot()
	}
	return json.Marshal(struct {
		*plain
		Graph graph.Snapshot `json:"graph"`
	}{plain: (*plain)(r), Graph: snap})
}

// Health is a point-in-time view of the engine's collaborators.
type Health struct {
	Status       string `json:"status"`
	Experts      int    `json:"experts"`
	TraceStore   string `json:"trace_store"`
	ModelBackend string `json:"model_backend"`
	GraphSink    string `json:"graph_sink"`
}

// ExtractOption configures a single extraction.
type ExtractOption func(*extractOptions)

type extractOptions struct {
	threshold float64
	experts   []string
	values    map[string]any
}

// WithThreshold overrides the confidence threshold for one extraction.
func WithThreshold(t float64) ExtractOption {
	return func(o *extractOptions) { o.threshold = t }
}

// WithExperts restricts one extraction to the named enabled experts.
func WithExperts(names ...string) ExtractOption {
	return func(o *extractOptions) { o.experts = names }
}

// WithContext passes read-only values to every expert, such as a known
// tower id or company name.
func WithContext(values map[string]any) ExtractOption {
	return func(o *extractOptions) {
		if o.values == nil {
			o.values = make(map[string]any, len(values))
		}
		for k, v := range values {
			o.values[k] = v
		}
	}
}

// Option configures engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	provider llm.Provider
	store    trace.Store
	registry prometheus.Registerer
	docs     docsource.Source
	hooks    pipeline.Hooks
}

// WithProvider uses p for model-backed experts instead of building one from
// Config.LLM.
func WithProvider(p llm.Provider) Option { return func(o *engineOptions) { o.provider = p } }

// WithTraceStore uses s instead of the store selected by Config.Store. The
// engine closes it on Close.
func WithTraceStore(s trace.Store) Option { return func(o *engineOptions) { o.store = s } }

// WithRegisterer registers pipeline metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registry = reg }
}

// WithDocumentSource replaces the file-based document reader.
func WithDocumentSource(src docsource.Source) Option {
	return func(o *engineOptions) { o.docs = src }
}

// WithHooks installs pipeline observers.
func WithHooks(h pipeline.Hooks) Option { return func(o *engineOptions) { o.hooks = h } }

// engine is the concrete implementation of Engine.
type engine struct {
	cfg      Config
	store    trace.Store
	provider llm.Provider
	live     *llm.Liveness
	orch     *pipeline.Orchestrator
	infos    []expert.Info
	docs     docsource.Source
	redis    *redis.Client
	sink     *graph.FalkorSink

	latest    atomic.Pointer[graph.ContextGraph]
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates an engine from cfg.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}

	e := &engine{cfg: cfg, docs: o.docs, provider: o.provider}
	if e.docs == nil {
		e.docs = docsource.NewRegistry()
	}

	names := cfg.expertNames()
	if needsModel(names) {
		if e.provider == nil {
			p, err := llm.NewProvider(cfg.llmConfig())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
			}
			e.provider = p
		}
		ttl := time.Duration(cfg.LivenessTTLSeconds) * time.Second
		e.live = llm.NewLiveness(llm.ProberFor(e.provider), ttl)
	}

	experts, infos, err := e.buildExperts(names)
	if err != nil {
		return nil, err
	}
	e.infos = infos

	s, err := openStore(cfg, o.store)
	if err != nil {
		return nil, fmt.Errorf("opening trace store: %w", err)
	}
	e.store = s

	popts := []pipeline.Option{
		pipeline.WithThreshold(cfg.ConfidenceThreshold),
		pipeline.WithConcurrency(cfg.Concurrency),
		pipeline.WithTimeout(time.Duration(cfg.RunTimeoutSeconds) * time.Second),
		pipeline.WithMetrics(pipeline.NewMetrics(o.registry)),
		pipeline.WithHooks(o.hooks),
	}
	if s != nil {
		popts = append(popts, pipeline.WithTraceWriter(s))
	}
	if cfg.RequireDurableTraces {
		popts = append(popts, pipeline.WithDurableTraces())
	}
	orch, err := pipeline.New(experts, popts...)
	if err != nil {
		e.closeStore()
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.orch = orch

	if cfg.FalkorDB.Addr != "" {
		e.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.FalkorDB.Addr,
			Password: cfg.FalkorDB.Password,
			DB:       cfg.FalkorDB.DB,
		})
		e.sink = graph.NewFalkorSink(e.redis, cfg.FalkorDB.Graph)
	}

	e.latest.Store(graph.NewContextGraph())
	slog.Info("goecl: engine ready", "experts", strings.Join(orch.Experts(), ","),
		"threshold", cfg.ConfidenceThreshold, "store", storeDriver(cfg, o.store), "graph_sink", e.sink != nil)
	return e, nil
}

// expertNames returns the canonical names of the enabled experts.
func (c *Config) expertNames() []string {
	if len(c.Experts) > 0 {
		out := make([]string, 0, len(c.Experts))
		for _, n := range c.Experts {
			info, _ := lookupExpert(n)
			out = append(out, info.Name)
		}
		return out
	}
	out := make([]string, 0, len(expert.Domains))
	for _, d := range expert.Domains {
		if c.UseModel {
			out = append(out, expert.ModelName(d))
		} else {
			out = append(out, expert.PatternName(d))
		}
	}
	return out
}

func needsModel(names []string) bool {
	for _, n := range names {
		if info, ok := expert.Lookup(n); ok && info.Kind == expert.KindModel {
			return true
		}
	}
	return false
}

// buildExperts constructs each expert. Model experts are wrapped in a
// fallback to their pattern expert, all sharing one liveness cache.
func (e *engine) buildExperts(names []string) ([]expert.Extractor, []expert.Info, error) {
	prompts := e.cfg.promptTable()
	experts := make([]expert.Extractor, 0, len(names))
	infos := make([]expert.Info, 0, len(names))
	for _, name := range names {
		x, err := expert.Build(name, e.provider, prompts)
		if err != nil {
			if errors.Is(err, expert.ErrUnknownExpert) {
				return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExpert, name)
			}
			return nil, nil, fmt.Errorf("building expert %s: %w", name, err)
		}
		if m, ok := x.(*expert.ModelExpert); ok {
			x = pipeline.NewFallback(m, m.Fallback(), e.live)
		}
		info, _ := expert.Lookup(name)
		experts = append(experts, x)
		infos = append(infos, info)
	}
	return experts, infos, nil
}

func openStore(cfg Config, override trace.Store) (trace.Store, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.Store.Driver {
	case StoreNone:
		return nil, nil
	case StoreFile:
		return store.NewFileStore(cfg.Store.Dir)
	case StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return store.NewPostgres(ctx, store.PostgresConfig{DSN: cfg.Store.DSN})
	default:
		return store.New(cfg.resolveDBPath())
	}
}

func storeDriver(cfg Config, override trace.Store) string {
	switch {
	case override != nil:
		return "custom"
	case cfg.Store.Driver == "":
		return StoreSQLite
	}
	return cfg.Store.Driver
}

// Extract runs the pipeline over text and merges the accepted output.
func (e *engine) Extract(ctx context.Context, text string, opts ...ExtractOption) (*Report, error) {
	if e.closed.Load() {
		return nil, ErrTraceStoreClosed
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyDocument
	}
	o := &extractOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var runOpts []pipeline.RunOption
	if o.threshold != 0 {
		runOpts = append(runOpts, pipeline.WithRunThreshold(o.threshold))
	}
	if len(o.experts) > 0 {
		only := make([]string, 0, len(o.experts))
		for _, n := range o.experts {
			info, ok := lookupExpert(n)
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownExpert, n)
			}
			only = append(only, info.Name)
		}
		runOpts = append(runOpts, pipeline.WithOnly(only...))
	}

	results, pt, err := e.orch.Run(ctx, text, expert.NewContext(o.values), runOpts...)
	if pt == nil {
		switch {
		case errors.Is(err, pipeline.ErrUnknownExpert):
			return nil, fmt.Errorf("%w: %w", ErrUnknownExpert, err)
		case errors.Is(err, pipeline.ErrInvalidThreshold):
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil, err
	}

	report := &Report{Results: results, Trace: pt, ExpertOrder: make([]string, 0, len(pt.ExpertTraces))}
	g := graph.NewContextGraph()
	for _, t := range pt.ExpertTraces {
		report.ExpertOrder = append(report.ExpertOrder, t.ExpertName)
		g.AddResult(results[t.ExpertName])
	}
	report.Graph = g
	e.latest.Store(g)

	if e.sink != nil {
		stats, perr := e.sink.Write(ctx, g)
		if perr != nil {
			slog.Warn("goecl: graph publish failed", "pipeline_id", pt.PipelineID, "error", perr)
		}
		report.Published = &stats
	}
	return report, err
}

// ExtractDocument reads path through the document source and extracts.
// The document's base name is passed to experts as the "source_document"
// context value unless the caller set one.
func (e *engine) ExtractDocument(ctx context.Context, path string, opts ...ExtractOption) (*Report, error) {
	text, err := e.docs.Text(ctx, path)
	if err != nil {
		if errors.Is(err, docsource.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}
	opts = append([]ExtractOption{WithContext(map[string]any{"source_document": filepath.Base(path)})}, opts...)
	return e.Extract(ctx, text, opts...)
}

// Trace returns a stored pipeline trace.
func (e *engine) Trace(ctx context.Context, id string) (*trace.PipelineTrace, error) {
	if e.store == nil {
		return nil, fmt.Errorf("%w: %s (no trace store configured)", ErrTraceNotFound, id)
	}
	t, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, e.storeErr(err, id)
	}
	return t, nil
}

// Traces lists stored pipeline traces, most recent first.
func (e *engine) Traces(ctx context.Context, limit int) ([]trace.PipelineTrace, error) {
	if e.store == nil {
		return []trace.PipelineTrace{}, nil
	}
	ts, err := e.store.List(ctx, limit)
	if err != nil {
		return nil, e.storeErr(err, "")
	}
	return ts, nil
}

type statsStore interface {
	ExpertStats(ctx context.Context) ([]store.ExpertStat, error)
}

// ExpertStats aggregates stored runs per expert.
func (e *engine) ExpertStats(ctx context.Context) ([]store.ExpertStat, error) {
	ss, ok := e.store.(statsStore)
	if !ok {
		return nil, fmt.Errorf("goecl: store driver %q does not aggregate expert stats", e.cfg.Store.Driver)
	}
	stats, err := ss.ExpertStats(ctx)
	if err != nil {
		return nil, e.storeErr(err, "")
	}
	return stats, nil
}

func (e *engine) storeErr(err error, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidID):
		return fmt.Errorf("%w: %s", ErrTraceNotFound, id)
	case errors.Is(err, store.ErrClosed):
		return ErrTraceStoreClosed
	}
	return err
}

// Experts describes the enabled experts in run order.
func (e *engine) Experts() []expert.Info {
	return append([]expert.Info(nil), e.infos...)
}

// Graph returns the most recently merged graph.
func (e *engine) Graph() *graph.ContextGraph { return e.latest.Load() }

// Health probes the model backend and graph sink. A trace store that was
// configured is reported as "ok" unless the engine is closed.
func (e *engine) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Experts: len(e.infos), TraceStore: "disabled", ModelBackend: "not_configured", GraphSink: "disabled"}
	if e.store != nil {
		h.TraceStore = "ok"
	}
	if e.closed.Load() {
		h.Status, h.TraceStore = "closed", "closed"
		return h
	}
	if e.live != nil {
		h.ModelBackend = "up"
		if !e.live.Available(ctx) {
			h.ModelBackend, h.Status = "down", "degraded"
		}
	}
	if e.sink != nil {
		h.GraphSink = "up"
		if !e.sink.Available(ctx) {
			h.GraphSink, h.Status = "down", "degraded"
		}
	}
	return h
}

// Close shuts the engine down. It is safe to call more than once.
func (e *engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		var errs []error
		if err := e.closeStore(); err != nil {
			errs = append(errs, err)
		}
		if e.redis != nil {
			if err := e.redis.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing graph sink: %w", err))
			}
		}
		e.closeErr = errors.Join(errs...)
	})
	return e.closeErr
}

func (e *engine) closeStore() error {
	if e.store == nil {
		return nil
	}
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("closing trace store: %w", err)
	}
	return nil
}
