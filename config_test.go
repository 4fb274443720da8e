package goecl

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.70 {
		t.Errorf("threshold = %v, want 0.70", cfg.ConfidenceThreshold)
	}
	if cfg.LivenessTTLSeconds != 30 {
		t.Errorf("liveness ttl = %d, want 30", cfg.LivenessTTLSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"threshold zero", func(c *Config) { c.ConfidenceThreshold = 0 }, false},
		{"threshold above one", func(c *Config) { c.ConfidenceThreshold = 1.2 }, false},
		{"threshold one", func(c *Config) { c.ConfidenceThreshold = 1 }, true},
		{"negative concurrency", func(c *Config) { c.Concurrency = -1 }, false},
		{"negative timeout", func(c *Config) { c.RunTimeoutSeconds = -5 }, false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, false},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = StorePostgres }, false},
		{"postgres with dsn", func(c *Config) {
			c.Store.Driver = StorePostgres
			c.Store.DSN = "postgres://localhost/ecl"
		}, true},
		{"unknown expert", func(c *Config) { c.Experts = []string{"WeatherExpert"} }, false},
		{"expert case-insensitive", func(c *Config) { c.Experts = []string{"contractexpert"} }, true},
		{"prompt override for pattern expert", func(c *Config) {
			c.Prompts = map[string]PromptVersions{"ContractExpert": {System: "v2"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateUnknownExpertIsTyped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Experts = []string{"Nope"}
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownExpert) {
		t.Errorf("error = %v, want ErrUnknownExpert in chain", err)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goecl.yaml")
	yaml := `
confidence_threshold: 0.8
use_model: true
experts:
  - LLMContractExpert
  - EquipmentExpert
store:
  driver: file
  dir: /tmp/ecl
llm:
  provider: groq
  model: llama-3.3-70b-versatile
prompts:
  LLMContractExpert:
    system: v2.1.0
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOECL_CONCURRENCY", "3")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ConfidenceThreshold != 0.8 || !cfg.UseModel {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("env override concurrency = %d, want 3", cfg.Concurrency)
	}
	if cfg.Store.Driver != StoreFile || cfg.Store.Dir != "/tmp/ecl" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.LLM.APIKey != "gsk-test" {
		t.Errorf("api key fallback = %q", cfg.LLM.APIKey)
	}
	if cfg.RunTimeoutSeconds != 120 || cfg.FalkorDB.Graph != "ecl_graph" {
		t.Errorf("defaults lost: timeout %d graph %q", cfg.RunTimeoutSeconds, cfg.FalkorDB.Graph)
	}
	if len(cfg.Experts) != 2 || cfg.Experts[0] != "LLMContractExpert" {
		t.Errorf("experts = %v", cfg.Experts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}

	prompts := cfg.promptTable()
	if got := prompts.Version("LLMContractExpert", "system"); got != "v2.1.0" {
		t.Errorf("system prompt version = %q, want v2.1.0", got)
	}
	if got := prompts.Version("LLMContractExpert", "extraction"); got != "v1.0.0" {
		t.Errorf("extraction prompt version = %q, want v1.0.0", got)
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Store.Driver != def.Store.Driver || cfg.ConfidenceThreshold != def.ConfidenceThreshold || cfg.LLM.Model != def.LLM.Model {
		t.Errorf("got %+v, want defaults", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestResolveDBPath(t *testing.T) {
	cfg := Config{Store: StoreConfig{DBPath: "/data/x.db"}}
	if got := cfg.resolveDBPath(); got != "/data/x.db" {
		t.Errorf("explicit path = %s", got)
	}
	cfg = Config{Store: StoreConfig{DBName: "audit", StorageDir: "local"}}
	if got := cfg.resolveDBPath(); got != "audit.db" {
		t.Errorf("local path = %s", got)
	}
}
