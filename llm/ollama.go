package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ollamaProvider talks to Ollama's native generate endpoint, which accepts
// a system prompt plus a single prompt and supports JSON-constrained output.
type ollamaProvider struct {
	base openAICompatClient
}

// NewOllama creates a provider for Ollama.
func NewOllama(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	return &ollamaProvider{base: newOpenAICompatClient(cfg)}
}

const (
	ollamaTemperature = 0.1
	ollamaNumPredict  = 2048
	ollamaNumCtx      = 8192
)

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	NumCtx      int     `json:"num_ctx"`
}

type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (p *ollamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.base.cfg.Model
	}

	var system, prompt []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, m.Content)
		} else {
			prompt = append(prompt, m.Content)
		}
	}

	body := ollamaGenerateRequest{
		Model:  model,
		Prompt: strings.Join(prompt, "\n\n"),
		System: strings.Join(system, "\n\n"),
		Options: ollamaOptions{
			Temperature: ollamaTemperature,
			NumPredict:  ollamaNumPredict,
			NumCtx:      ollamaNumCtx,
		},
	}
	if req.Temperature > 0 {
		body.Options.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		body.Options.NumPredict = req.MaxTokens
	}
	if req.ResponseFormat == "json_object" {
		body.Format = "json"
	}

	respBody, err := p.base.doPost(ctx, "/api/generate", body)
	if err != nil {
		return nil, err
	}

	var resp ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding ollama response: %w", err)
	}

	return &ChatResponse{
		Content:          resp.Response,
		Model:            resp.Model,
		FinishReason:     resp.DoneReason,
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

func (p *ollamaProvider) Model() string { return p.base.cfg.Model }

// Available checks that the Ollama server answers its tags endpoint.
func (p *ollamaProvider) Available(ctx context.Context) bool {
	return p.base.probe(ctx, "/api/tags")
}
