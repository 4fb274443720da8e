package llm

// hostedDefaults are the endpoint and model used when a hosted
// OpenAI-compatible provider is configured without them.
type hostedDefaults struct {
	baseURL    string
	pathPrefix string
	model      string
}

// hosted lists the OpenAI-compatible services NewProvider knows by name.
// Gemini's compatibility endpoint has no /v1 prefix.
var hosted = map[string]hostedDefaults{
	"openai":     {baseURL: "https://api.openai.com", pathPrefix: "/v1", model: "gpt-4o-mini"},
	"groq":       {baseURL: "https://api.groq.com/openai", pathPrefix: "/v1", model: "llama-3.3-70b-versatile"},
	"openrouter": {baseURL: "https://openrouter.ai/api", pathPrefix: "/v1"},
	"xai":        {baseURL: "https://api.x.ai", pathPrefix: "/v1"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", pathPrefix: "", model: "gemini-2.5-flash"},
	"lmstudio":   {baseURL: "http://localhost:1234", pathPrefix: "/v1"},
}

// NewHosted creates a provider for one of the named OpenAI-compatible
// services, filling in its default base URL and model.
func NewHosted(cfg Config) Provider {
	d := hosted[cfg.Provider]
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}
	return &openAICompatProvider{base: newOpenAICompatClientPrefix(cfg, d.pathPrefix)}
}
