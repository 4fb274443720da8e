package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/llm"
)

// ErrBackendUnavailable is recorded on the trace when a primary's backend is
// down and no secondary is configured.
var ErrBackendUnavailable = errors.New("pipeline: backend unavailable")

// Fallback pairs a primary expert, usually model-backed, with a secondary
// that is always available. At most one of the two results is returned.
type Fallback struct {
	primary   expert.Attempter
	secondary expert.Extractor
	live      llm.Prober
}

// NewFallback wraps primary. secondary may be nil. live is consulted before
// every call; pass a shared *llm.Liveness so experts on the same backend
// reuse one probe result. A nil live treats the backend as always up.
func NewFallback(primary expert.Attempter, secondary expert.Extractor, live llm.Prober) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, live: live}
}

// Reason says why a Decision took the path it did.
type Reason string

const (
	ReasonPrimary     Reason = "primary"
	ReasonUnavailable Reason = "backend_unavailable"
	ReasonNoOutput    Reason = "no_usable_output"
	ReasonParseError  Reason = "parse_error"
)

// Decision is the full account of one Resolve call.
type Decision struct {
	Result        graph.ExtractionResult
	Reason        Reason
	FallbackUsed  bool
	PrimaryCalled bool
	// TraceErr is a diagnostic for the trace; it is not an expert failure.
	TraceErr error
	// Err is set when the expert that produced Result failed outright.
	Err error
}

func (f *Fallback) Name() string { return f.primary.Name() }

// Primary returns the wrapped primary expert.
func (f *Fallback) Primary() expert.Attempter { return f.primary }

// Secondary returns the fallback expert, or nil.
func (f *Fallback) Secondary() expert.Extractor { return f.secondary }

// ModelName reports the primary's model when it has one.
func (f *Fallback) ModelName() string {
	if m, ok := f.primary.(expert.Modeled); ok {
		return m.ModelName()
	}
	return ""
}

// PromptVersion reports the primary's prompt version when it has one.
func (f *Fallback) PromptVersion() string {
	if m, ok := f.primary.(expert.Modeled); ok {
		return m.PromptVersion()
	}
	return ""
}

// Extract implements expert.Extractor.
func (f *Fallback) Extract(ctx context.Context, text string, ectx expert.Context) (graph.ExtractionResult, error) {
	d := f.Resolve(ctx, text, ectx)
	return d.Result, d.Err
}

// Resolve applies the rules in order: an unreachable backend goes straight
// to the secondary without contacting the primary; a primary with no usable
// output goes to the secondary; a primary whose output cannot be parsed goes
// to the secondary, or yields an empty result, and the parse error is kept
// for the trace either way.
func (f *Fallback) Resolve(ctx context.Context, text string, ectx expert.Context) Decision {
	name := f.primary.Name()

	if f.live != nil && !f.live.Available(ctx) {
		slog.Info("pipeline: backend unavailable, using fallback", "expert", name, "has_fallback", f.secondary != nil)
		if f.secondary == nil {
			return Decision{
				Result:   graph.Empty(name, "backend unavailable and no fallback configured"),
				Reason:   ReasonUnavailable,
				TraceErr: ErrBackendUnavailable,
			}
		}
		return f.useSecondary(ctx, text, ectx, Decision{Reason: ReasonUnavailable})
	}

	a := f.primary.Attempt(ctx, text, ectx)
	switch a.Outcome {
	case expert.Success:
		return Decision{Result: a.Result, Reason: ReasonPrimary, PrimaryCalled: true}

	case expert.NeedsFallback:
		d := Decision{Reason: ReasonNoOutput, PrimaryCalled: true}
		if f.secondary == nil {
			d.Result = emptyFor(name, a)
			d.TraceErr = a.Err
			return d
		}
		slog.Info("pipeline: primary produced no usable output, using fallback", "expert", name, "error", a.Err)
		return f.useSecondary(ctx, text, ectx, d)

	default:
		d := Decision{Reason: ReasonParseError, PrimaryCalled: true, TraceErr: a.Err}
		if f.secondary == nil {
			d.Result = emptyFor(name, a)
			return d
		}
		slog.Warn("pipeline: primary output could not be parsed, using fallback", "expert", name, "error", a.Err)
		return f.useSecondary(ctx, text, ectx, d)
	}
}

// useSecondary runs the fallback expert. A panic in it is reported as the
// decision's Err so the decision still records that the fallback ran.
func (f *Fallback) useSecondary(ctx context.Context, text string, ectx expert.Context, d Decision) (out Decision) {
	d.FallbackUsed = true
	defer func() {
		if r := recover(); r != nil {
			d.Err = fmt.Errorf("fallback %s: panic: %v", f.secondary.Name(), r)
			d.Result = graph.Empty(f.primary.Name(), d.Err.Error())
			out = d
		}
	}()
	res, err := f.secondary.Extract(ctx, text, ectx)
	if err != nil {
		d.Err = fmt.Errorf("fallback %s: %w", f.secondary.Name(), err)
		d.Result = graph.Empty(f.primary.Name(), d.Err.Error())
		return d
	}
	d.Result = res
	return d
}

func emptyFor(name string, a expert.Attempt) graph.ExtractionResult {
	if a.Result.Reasoning != "" {
		return graph.Empty(name, a.Result.Reasoning)
	}
	return graph.Empty(name, fmt.Sprintf("%s: %v", a.Outcome, a.Err))
}
