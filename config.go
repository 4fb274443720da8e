package goecl

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/guard"
	"github.com/brunobiangulo/goecl/llm"
)

// Trace store drivers.
const (
	StoreSQLite   = "sqlite"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// Config holds all configuration for the extraction engine.
type Config struct {
	Store StoreConfig `json:"store" yaml:"store" mapstructure:"store"`

	// LLM configures the chat backend used by model-backed experts.
	LLM LLMConfig `json:"llm" yaml:"llm" mapstructure:"llm"`

	// UseModel swaps every pattern expert for its model-backed variant,
	// with the pattern expert kept as fallback.
	UseModel bool `json:"use_model" yaml:"use_model" mapstructure:"use_model"`

	// Experts lists the enabled expert names in run order. Empty enables
	// every pattern expert, or every model expert when UseModel is set.
	// Names are matched case-insensitively.
	Experts []string `json:"experts" yaml:"experts" mapstructure:"experts"`

	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"`

	// Concurrency bounds parallel experts per run. Zero runs all at once.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// RunTimeoutSeconds is the per-run deadline. Zero disables it.
	RunTimeoutSeconds int `json:"run_timeout_seconds" yaml:"run_timeout_seconds" mapstructure:"run_timeout_seconds"`

	// LivenessTTLSeconds is how long a backend probe result is reused.
	LivenessTTLSeconds int `json:"liveness_ttl_seconds" yaml:"liveness_ttl_seconds" mapstructure:"liveness_ttl_seconds"`

	// RequireDurableTraces makes a failed trace write an extraction error.
	RequireDurableTraces bool `json:"require_durable_traces" yaml:"require_durable_traces" mapstructure:"require_durable_traces"`

	FalkorDB FalkorDBConfig `json:"falkordb" yaml:"falkordb" mapstructure:"falkordb"`

	// Prompts overrides prompt versions per model expert.
	Prompts map[string]PromptVersions `json:"prompts,omitempty" yaml:"prompts,omitempty" mapstructure:"prompts"`
}

// StoreConfig selects and configures the trace store.
type StoreConfig struct {
	// Driver is sqlite (default), file, postgres or none.
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`

	// DBPath is the full path to the SQLite database file. If empty it is
	// <DBName>.db inside the storage directory.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir is "home" (~/.goecl/) or "local" (working directory).
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// Dir is the directory used by the file driver.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// DSN is the PostgreSQL connection string.
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider       string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, anthropic, openai, groq, openrouter, xai, gemini, lmstudio, custom
	Model          string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL        string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey         string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	MaxRetries     int    `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// FalkorDBConfig configures publishing merged graphs. An empty Addr
// disables it.
type FalkorDBConfig struct {
	Addr     string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`
	DB       int    `json:"db" yaml:"db" mapstructure:"db"`
	Graph    string `json:"graph" yaml:"graph" mapstructure:"graph"`
}

// PromptVersions overrides one expert's prompt versions. Empty fields keep
// the built-in version.
type PromptVersions struct {
	System     string `json:"system" yaml:"system" mapstructure:"system"`
	Extraction string `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
// Traces go to ~/.goecl/goecl.db.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:     StoreSQLite,
			DBName:     "goecl",
			StorageDir: "home",
			Dir:        "ecl_traces",
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		ConfidenceThreshold: guard.DefaultThreshold,
		RunTimeoutSeconds:   120,
		LivenessTTLSeconds:  int(llm.DefaultLivenessTTL / time.Second),
		FalkorDB:            FalkorDBConfig{Graph: graph.DefaultGraphName},
	}
}

// LoadConfig reads configuration from path, if given, then applies
// GOECL_* environment overrides (GOECL_LLM_MODEL, GOECL_STORE_DRIVER, ...)
// on top of DefaultConfig. The file format follows its extension.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("store.driver", def.Store.Driver)
	v.SetDefault("store.db_path", def.Store.DBPath)
	v.SetDefault("store.db_name", def.Store.DBName)
	v.SetDefault("store.storage_dir", def.Store.StorageDir)
	v.SetDefault("store.dir", def.Store.Dir)
	v.SetDefault("store.dsn", def.Store.DSN)
	v.SetDefault("llm.provider", def.LLM.Provider)
	v.SetDefault("llm.model", def.LLM.Model)
	v.SetDefault("llm.base_url", def.LLM.BaseURL)
	v.SetDefault("llm.api_key", def.LLM.APIKey)
	v.SetDefault("llm.max_retries", def.LLM.MaxRetries)
	v.SetDefault("llm.timeout_seconds", def.LLM.TimeoutSeconds)
	v.SetDefault("use_model", def.UseModel)
	v.SetDefault("experts", []string{})
	v.SetDefault("confidence_threshold", def.ConfidenceThreshold)
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("run_timeout_seconds", def.RunTimeoutSeconds)
	v.SetDefault("liveness_ttl_seconds", def.LivenessTTLSeconds)
	v.SetDefault("require_durable_traces", def.RequireDurableTraces)
	v.SetDefault("falkordb.addr", def.FalkorDB.Addr)
	v.SetDefault("falkordb.password", def.FalkorDB.Password)
	v.SetDefault("falkordb.db", def.FalkorDB.DB)
	v.SetDefault("falkordb.graph", def.FalkorDB.Graph)

	v.SetEnvPrefix("GOECL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.applyKeyFallbacks()
	return cfg, nil
}

// applyKeyFallbacks fills a missing API key from the provider's usual
// environment variable.
func (c *Config) applyKeyFallbacks() {
	if c.LLM.APIKey != "" {
		return
	}
	switch c.LLM.Provider {
	case "openai":
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	case "groq":
		c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
	case "anthropic":
		c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openrouter":
		c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
}

// Validate reports every problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	var errs []error
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be in (0, 1], got %v", c.ConfidenceThreshold))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	if c.RunTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("run_timeout_seconds must not be negative, got %d", c.RunTimeoutSeconds))
	}
	switch c.Store.Driver {
	case "", StoreSQLite, StoreFile, StoreNone:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	for _, name := range c.Experts {
		if _, ok := lookupExpert(name); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownExpert, name))
		}
	}
	for name := range c.Prompts {
		if info, ok := lookupExpert(name); !ok || info.Kind != expert.KindModel {
			errs = append(errs, fmt.Errorf("prompts: %q is not a model expert", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// resolveDBPath computes the SQLite path from the store fields.
func (c *Config) resolveDBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	name := c.Store.DBName
	if name == "" {
		name = "goecl"
	}
	switch c.Store.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".goecl", name+".db")
	}
}

// promptTable merges the configured overrides into the built-in versions.
func (c *Config) promptTable() expert.PromptTable {
	overrides := expert.PromptTable{}
	for name, pv := range c.Prompts {
		info, ok := lookupExpert(name)
		if !ok {
			continue
		}
		if pv.System != "" {
			overrides[info.Name+"."+expert.PromptSystem] = pv.System
		}
		if pv.Extraction != "" {
			overrides[info.Name+"."+expert.PromptExtraction] = pv.Extraction
		}
	}
	return expert.DefaultPrompts().With(overrides)
}

func (c *Config) llmConfig() llm.Config {
	return llm.Config{
		Provider:   c.LLM.Provider,
		Model:      c.LLM.Model,
		BaseURL:    c.LLM.BaseURL,
		APIKey:     c.LLM.APIKey,
		MaxRetries: c.LLM.MaxRetries,
		Timeout:    time.Duration(c.LLM.TimeoutSeconds) * time.Second,
	}
}

// lookupExpert finds a catalog entry by case-insensitive name. Config keys
// arrive lower-cased from viper.
func lookupExpert(name string) (expert.Info, bool) {
	for _, info := range expert.Catalog() {
		if strings.EqualFold(info.Name, name) {
			return info, true
		}
	}
	return expert.Info{}, false
}
