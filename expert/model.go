package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/llm"
)

// ErrEmptyResponse is reported when the backend answered with no content.
var ErrEmptyResponse = errors.New("expert: empty model response")

// Entity property keys stamped on everything a model expert emits.
const (
	PropModelVersion  = "_model_version"
	PropPromptVersion = "_prompt_version"
	PropExtractedBy   = "_extracted_by"
)

// modelTemperature keeps extraction close to deterministic.
const modelTemperature = 0.1

const modelMaxTokens = 2048

// ModelExpert prompts a chat backend for JSON, checks it against the
// domain's schema and converts it into entities and relationships.
type ModelExpert struct {
	name     string
	v        variant
	provider llm.Provider
	prompts  PromptTable
	schema   *jsonschema.Schema
	fallback Extractor
}

// NewModelExpert builds the model-backed expert for a domain. A nil prompts
// table uses DefaultPrompts.
func NewModelExpert(d Domain, provider llm.Provider, prompts PromptTable) (*ModelExpert, error) {
	v, ok := variants[d]
	if !ok {
		return nil, fmt.Errorf("%w: domain %q", ErrUnknownExpert, d)
	}
	if provider == nil {
		return nil, fmt.Errorf("expert %s: nil provider", ModelName(d))
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	schema, err := compileSchema(v.schema)
	if err != nil {
		return nil, fmt.Errorf("expert %s: %w", ModelName(d), err)
	}
	fallback, err := NewPattern(d)
	if err != nil {
		return nil, err
	}
	return &ModelExpert{
		name:     ModelName(d),
		v:        v,
		provider: provider,
		prompts:  prompts,
		schema:   schema,
		fallback: fallback,
	}, nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func (m *ModelExpert) Name() string { return m.name }

// ModelName returns the backend's default model.
func (m *ModelExpert) ModelName() string { return m.provider.Model() }

// PromptVersion returns the version of the extraction prompt.
func (m *ModelExpert) PromptVersion() string {
	return m.prompts.Version(m.name, PromptExtraction)
}

// Fallback returns the pattern expert of the same domain.
func (m *ModelExpert) Fallback() Extractor { return m.fallback }

// Provider returns the backend the expert prompts.
func (m *ModelExpert) Provider() llm.Provider { return m.provider }

// Extract runs one attempt and reports anything but Success as an error.
func (m *ModelExpert) Extract(ctx context.Context, text string, ectx Context) (graph.ExtractionResult, error) {
	a := m.Attempt(ctx, text, ectx)
	if a.Outcome != Success {
		return a.Result, fmt.Errorf("%s: %s: %w", m.name, a.Outcome, a.Err)
	}
	return a.Result, nil
}

// Attempt prompts the backend once and classifies the outcome.
func (m *ModelExpert) Attempt(ctx context.Context, text string, ectx Context) Attempt {
	fail := func(o Outcome, err error) Attempt {
		slog.Debug("expert: model attempt failed", "expert", m.name, "outcome", o.String(), "error", err)
		return Attempt{Outcome: o, Result: graph.Empty(m.name, fmt.Sprintf("[LLM] %s: %v", o, err)), Err: err}
	}

	resp, err := m.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: m.v.system},
			{Role: "user", Content: fmt.Sprintf(m.v.prompt, contextSection(ectx), text)},
		},
		Temperature:    modelTemperature,
		MaxTokens:      modelMaxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return fail(NeedsFallback, fmt.Errorf("chat: %w", err))
	}
	if strings.TrimSpace(resp.Content) == "" {
		return fail(NeedsFallback, ErrEmptyResponse)
	}
	raw, err := llm.ExtractJSON(resp.Content)
	if err != nil {
		return fail(NeedsFallback, err)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fail(NeedsFallback, fmt.Errorf("decode response: %w", err))
	}
	if err := m.schema.Validate(doc); err != nil {
		return fail(Fatal, fmt.Errorf("json does not match schema: %w", err))
	}

	b := newBuilder(m.name)
	reasoning, err := m.v.parse([]byte(raw), b)
	if err != nil {
		return fail(Fatal, fmt.Errorf("parse response: %w", err))
	}

	model := resp.Model
	if model == "" {
		model = m.provider.Model()
	}
	prompt := m.PromptVersion()
	for i := range b.res.Entities {
		p := b.res.Entities[i].Properties
		p[PropModelVersion] = graph.String(model)
		p[PropPromptVersion] = graph.String(prompt)
		p[PropExtractedBy] = graph.String(m.name)
	}
	return Attempt{Outcome: Success, Result: b.done("[LLM] " + reasoning)}
}

// contextSection renders string values of ectx as hints for the model.
func contextSection(ectx Context) string {
	var sb strings.Builder
	for _, k := range ectx.Keys() {
		if s := ectx.String(k); s != "" {
			fmt.Fprintf(&sb, "- %s: %s\n", k, s)
		}
	}
	if sb.Len() == 0 {
		return ""
	}
	return "KNOWN CONTEXT:\n" + sb.String() + "\n"
}
