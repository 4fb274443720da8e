// Package expert holds the pluggable extraction strategies. Each expert turns
// document text into entities and relationships; pattern experts are
// deterministic regex matchers and model experts prompt a chat backend.
package expert

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/llm"
)

// ErrUnknownExpert is returned by Build for a name missing from the catalog.
var ErrUnknownExpert = errors.New("expert: unknown expert")

// Extractor is one extraction strategy. Implementations must not panic on
// recoverable input and must treat ectx as read-only.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, text string, ectx Context) (graph.ExtractionResult, error)
}

// Context carries optional read-only values shared with every expert of a
// run, for example entities produced by earlier runs.
type Context struct {
	values map[string]any
}

// NewContext copies values so later changes by the caller are not visible.
func NewContext(values map[string]any) Context {
	if len(values) == 0 {
		return Context{}
	}
	return Context{values: maps.Clone(values)}
}

// Value returns the value stored under key.
func (c Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (c Context) String(key string) string {
	s, _ := c.values[key].(string)
	return s
}

// Keys returns the stored keys in sorted order.
func (c Context) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Len reports the number of stored values.
func (c Context) Len() int { return len(c.values) }

// Outcome classifies one attempt of a model-backed expert.
type Outcome int

const (
	// Success means the result is usable as-is.
	Success Outcome = iota
	// NeedsFallback means the backend produced nothing usable: transport
	// failure, empty content or content that is not JSON.
	NeedsFallback
	// Fatal means the backend answered with JSON that could not be turned
	// into entities.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NeedsFallback:
		return "needs_fallback"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt is the typed result of one primary invocation.
type Attempt struct {
	Outcome Outcome
	Result  graph.ExtractionResult
	Err     error
}

// Attempter is an extractor whose failures are classified rather than
// returned, so a fallback policy can decide what to do next.
type Attempter interface {
	Extractor
	Attempt(ctx context.Context, text string, ectx Context) Attempt
}

// Modeled is implemented by experts backed by a model, so traces can record
// which model and prompt were involved.
type Modeled interface {
	ModelName() string
	PromptVersion() string
}

// Kind distinguishes deterministic experts from model-backed ones.
type Kind string

const (
	KindPattern Kind = "pattern"
	KindModel   Kind = "model"
)

// Domain groups a pattern expert with its model-backed counterpart.
type Domain string

const (
	DomainContract      Domain = "contract"
	DomainEquipment     Domain = "equipment"
	DomainFinancialRisk Domain = "financial_risk"
	DomainOpportunity   Domain = "opportunity"
	DomainHealthcare    Domain = "healthcare"
)

// Domains lists every supported domain in catalog order.
var Domains = []Domain{DomainContract, DomainEquipment, DomainFinancialRisk, DomainOpportunity, DomainHealthcare}

// Info describes one catalog entry.
type Info struct {
	Name        string `json:"name"`
	Domain      Domain `json:"domain"`
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	// Fallback names the pattern expert used when a model expert cannot run.
	Fallback string `json:"fallback,omitempty"`
}

var descriptions = map[Domain]string{
	DomainContract:      "Contracts, tenant companies, status, occupancy and revenue",
	DomainEquipment:     "Installed equipment, quantities, condition and drone observations",
	DomainFinancialRisk: "Payment defaults, arrears and revenue exposure",
	DomainOpportunity:   "Upsell capacity, equipment removal and maintenance needs",
	DomainHealthcare:    "Patients, ICD-10 diagnoses, medications and prescribing doctors",
}

// Catalog lists every expert Build can construct: each pattern expert
// followed by its model-backed variant.
func Catalog() []Info {
	out := make([]Info, 0, 2*len(Domains))
	for _, d := range Domains {
		p := PatternName(d)
		out = append(out,
			Info{Name: p, Domain: d, Kind: KindPattern, Description: descriptions[d]},
			Info{Name: ModelName(d), Domain: d, Kind: KindModel, Description: descriptions[d] + " (model-backed)", Fallback: p},
		)
	}
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (Info, bool) {
	for _, info := range Catalog() {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// Build constructs the named expert. Model experts need a provider; passing
// nil for one is an error.
func Build(name string, provider llm.Provider, prompts PromptTable) (Extractor, error) {
	info, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExpert, name)
	}
	if info.Kind == KindPattern {
		return NewPattern(info.Domain)
	}
	if provider == nil {
		return nil, fmt.Errorf("expert %s: no model provider configured", name)
	}
	return NewModelExpert(info.Domain, provider, prompts)
}

// PatternName is the pattern expert name for a domain, e.g. "ContractExpert".
func PatternName(d Domain) string {
	switch d {
	case DomainContract:
		return "ContractExpert"
	case DomainEquipment:
		return "EquipmentExpert"
	case DomainFinancialRisk:
		return "FinancialRiskExpert"
	case DomainOpportunity:
		return "OpportunityExpert"
	case DomainHealthcare:
		return "HealthcareExpert"
	default:
		return ""
	}
}

// ModelName is the model-backed expert name for a domain.
func ModelName(d Domain) string {
	if p := PatternName(d); p != "" {
		return "LLM" + p
	}
	return ""
}

// NewPattern returns the deterministic expert for a domain.
func NewPattern(d Domain) (Extractor, error) {
	switch d {
	case DomainContract:
		return ContractExpert{}, nil
	case DomainEquipment:
		return EquipmentExpert{}, nil
	case DomainFinancialRisk:
		return FinancialRiskExpert{}, nil
	case DomainOpportunity:
		return OpportunityExpert{}, nil
	case DomainHealthcare:
		return HealthcareExpert{}, nil
	default:
		return nil, fmt.Errorf("%w: domain %q", ErrUnknownExpert, d)
	}
}
