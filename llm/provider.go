package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider is the interface for LLM chat interactions.
type Provider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Model returns the model requests default to.
	Model() string
}

// Prober is a cheap liveness check for a provider's backend.
type Prober interface {
	Available(ctx context.Context) bool
}

// ChatRequest is a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// ResponseFormat can be set to "json_object" for JSON mode.
	ResponseFormat string `json:"response_format,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // ollama, anthropic, openai, groq, openrouter, xai, gemini, lmstudio, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`

	// MaxRetries bounds retries of transient failures. Zero means the
	// default of 2; negative disables retries.
	MaxRetries int `json:"max_retries"`
	// RetryDelay is the first backoff step. Zero means 2s.
	RetryDelay time.Duration `json:"retry_delay"`
	// Timeout caps one HTTP request. Zero means 120s.
	Timeout time.Duration `json:"timeout"`
}

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 2 * time.Second
	defaultTimeout    = 120 * time.Second

	// probeTimeout bounds a single liveness probe.
	probeTimeout = 2 * time.Second
)

func (c Config) retries() int {
	switch {
	case c.MaxRetries < 0:
		return 0
	case c.MaxRetries == 0:
		return defaultMaxRetries
	}
	return c.MaxRetries
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay <= 0 {
		return defaultRetryDelay
	}
	return c.RetryDelay
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	}
	if _, ok := hosted[cfg.Provider]; ok {
		return NewHosted(cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
}

// ProberFor returns p's own liveness check, or one that always reports
// available when p has none.
func ProberFor(p Provider) Prober {
	if pr, ok := p.(Prober); ok {
		return pr
	}
	return alwaysUp{}
}

type alwaysUp struct{}

func (alwaysUp) Available(context.Context) bool { return true }
