package goecl

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/llm"
	"github.com/brunobiangulo/goecl/store"
)

const contractDoc = "Tower ATL-001\nContract #1001 - Company: Acme. Status: Active.\nAcme monthly revenue: $2,500"

// fakeProvider answers every chat with a fixed body and reports its backend
// as up or down.
type fakeProvider struct {
	up    bool
	body  string
	calls atomic.Int32
}

func (p *fakeProvider) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	p.calls.Add(1)
	return &llm.ChatResponse{Content: p.body, Model: "fake-model"}, nil
}

func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Available(context.Context) bool { return p.up }

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Store = StoreConfig{Driver: StoreFile, Dir: filepath.Join(t.TempDir(), "traces")}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) Engine {
	t.Helper()
	opts = append([]Option{WithRegisterer(prometheus.NewRegistry())}, opts...)
	eng, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConfidenceThreshold = 2
	if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseModel = true
	cfg.LLM.Provider = "carrier-pigeon"
	if _, err := New(cfg); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("error = %v, want ErrModelUnavailable", err)
	}
}

func TestExtractMergesExperts(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))

	report, err := eng.Extract(context.Background(), contractDoc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got, want := len(report.ExpertOrder), len(expert.Domains); got != want {
		t.Fatalf("expert order has %d entries, want %d", got, want)
	}
	if report.ExpertOrder[0] != "ContractExpert" {
		t.Errorf("first expert = %s, want ContractExpert", report.ExpertOrder[0])
	}
	for _, id := range []string{"contract_1001", "company_acme", "tower_atl-001"} {
		if _, ok := report.Graph.Entity(id); !ok {
			t.Errorf("merged graph missing %s", id)
		}
	}
	c, _ := report.Graph.Entity("contract_1001")
	if v, ok := c.Properties["monthly_revenue"].Num(); !ok || v != 2500 {
		t.Errorf("monthly_revenue = %v, want 2500", c.Properties["monthly_revenue"])
	}
	if !report.Trace.Consistent() {
		t.Error("pipeline totals disagree with expert traces")
	}
	if report.Trace.ModelUsed != "pattern" {
		t.Errorf("model used = %s, want pattern", report.Trace.ModelUsed)
	}
	if eng.Graph() != report.Graph {
		t.Error("engine graph is not the latest report graph")
	}
	if report.Published != nil {
		t.Error("no graph sink configured, report should not be published")
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	for _, text := range []string{"", "   \n\t"} {
		if _, err := eng.Extract(context.Background(), text); !errors.Is(err, ErrEmptyDocument) {
			t.Errorf("Extract(%q) error = %v, want ErrEmptyDocument", text, err)
		}
	}
}

func TestExtractWithExperts(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	report, err := eng.Extract(ctx, contractDoc, WithExperts("contractexpert"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(report.ExpertOrder) != 1 || report.ExpertOrder[0] != "ContractExpert" {
		t.Errorf("expert order = %v, want [ContractExpert]", report.ExpertOrder)
	}

	if _, err := eng.Extract(ctx, contractDoc, WithExperts("WeatherExpert")); !errors.Is(err, ErrUnknownExpert) {
		t.Errorf("unknown name error = %v, want ErrUnknownExpert", err)
	}

	// Known to the catalog but not enabled on this engine.
	if _, err := eng.Extract(ctx, contractDoc, WithExperts("LLMContractExpert")); !errors.Is(err, ErrUnknownExpert) {
		t.Errorf("disabled expert error = %v, want ErrUnknownExpert", err)
	}
}

func TestExtractThresholdOverride(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	report, err := eng.Extract(ctx, contractDoc, WithExperts("ContractExpert"), WithThreshold(0.93))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, ok := report.Graph.Entity("contract_1001"); ok {
		t.Error("contract at 0.92 should be rejected at threshold 0.93")
	}
	if _, ok := report.Graph.Entity("company_acme"); !ok {
		t.Error("company at 0.95 should pass threshold 0.93")
	}
	if report.Trace.MinConfidenceThreshold != 0.93 {
		t.Errorf("trace threshold = %v, want 0.93", report.Trace.MinConfidenceThreshold)
	}

	if _, err := eng.Extract(ctx, contractDoc, WithThreshold(1.5)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("threshold 1.5 error = %v, want ErrInvalidConfig", err)
	}
}

func TestExtractDocument(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	dir := t.TempDir()

	txt := filepath.Join(dir, "lease.txt")
	if err := os.WriteFile(txt, []byte(contractDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	report, err := eng.ExtractDocument(context.Background(), txt)
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if _, ok := report.Graph.Entity("contract_1001"); !ok {
		t.Error("contract missing from document extraction")
	}

	bin := filepath.Join(dir, "lease.odt")
	if err := os.WriteFile(bin, []byte("PK"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ExtractDocument(context.Background(), bin); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("odt error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTraceRoundTrip(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	ctx := context.Background()

	first, err := eng.Extract(ctx, contractDoc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := eng.Extract(ctx, contractDoc+"\nContract #1002 - Company: Zeta. Status: Pending.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got, err := eng.Trace(ctx, first.Trace.PipelineID)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if got.DocumentHash != first.Trace.DocumentHash || got.TotalEntities != first.Trace.TotalEntities {
		t.Errorf("stored trace = %+v, want %+v", got, first.Trace)
	}

	list, err := eng.Traces(ctx, 10)
	if err != nil {
		t.Fatalf("Traces: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("listed %d traces, want 2", len(list))
	}
	if list[0].PipelineID != second.Trace.PipelineID {
		t.Errorf("most recent trace = %s, want %s", list[0].PipelineID, second.Trace.PipelineID)
	}

	for _, id := range []string{"pipeline_missing", "../escape"} {
		if _, err := eng.Trace(ctx, id); !errors.Is(err, ErrTraceNotFound) {
			t.Errorf("Trace(%q) error = %v, want ErrTraceNotFound", id, err)
		}
	}
}

func TestTraceWithoutStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = StoreNone
	eng := newTestEngine(t, cfg)
	ctx := context.Background()

	if _, err := eng.Extract(ctx, contractDoc); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := eng.Trace(ctx, "pipeline_x"); !errors.Is(err, ErrTraceNotFound) {
		t.Errorf("error = %v, want ErrTraceNotFound", err)
	}
	list, err := eng.Traces(ctx, 0)
	if err != nil || len(list) != 0 {
		t.Errorf("Traces = %v, %v; want empty", list, err)
	}
	if _, err := eng.ExpertStats(ctx); err == nil {
		t.Error("expected an error aggregating stats without a store")
	}
	if h := eng.Health(ctx); h.TraceStore != "disabled" {
		t.Errorf("trace store health = %s, want disabled", h.TraceStore)
	}
}

func TestModelExpertsFallBackWhenBackendDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.UseModel = true
	p := &fakeProvider{up: false}
	eng := newTestEngine(t, cfg, WithProvider(p))

	infos := eng.Experts()
	if len(infos) != len(expert.Domains) || infos[0].Name != "LLMContractExpert" || infos[0].Fallback != "ContractExpert" {
		t.Fatalf("experts = %+v", infos)
	}

	report, err := eng.Extract(context.Background(), contractDoc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.calls.Load() != 0 {
		t.Errorf("provider called %d times while down", p.calls.Load())
	}
	for _, ct := range report.Trace.ExpertTraces {
		if !ct.FallbackUsed {
			t.Errorf("%s: fallback not recorded", ct.ExpertName)
		}
		if ct.ModelUsed != "fake-model" {
			t.Errorf("%s: model = %s, want fake-model", ct.ExpertName, ct.ModelUsed)
		}
	}
	if _, ok := report.Results["LLMContractExpert"]; !ok {
		t.Fatal("results not keyed by the configured expert name")
	}
	if _, ok := report.Graph.Entity("contract_1001"); !ok {
		t.Error("fallback output missing from merged graph")
	}

	h := eng.Health(context.Background())
	if h.ModelBackend != "down" || h.Status != "degraded" {
		t.Errorf("health = %+v, want degraded with model down", h)
	}
}

func TestModelExpertsUsePrimary(t *testing.T) {
	cfg := testConfig(t)
	cfg.Experts = []string{"LLMContractExpert"}
	cfg.Prompts = map[string]PromptVersions{"llmcontractexpert": {System: "v2.5.0", Extraction: "v3.0.0"}}
	p := &fakeProvider{up: true, body: `{"contracts":[{"contract_id":"1001","company":"Acme","status":"ACTIVE","confidence":0.9}],"companies":[{"name":"Acme","confidence":0.9}]}`}
	eng := newTestEngine(t, cfg, WithProvider(p))

	report, err := eng.Extract(context.Background(), contractDoc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if p.calls.Load() == 0 {
		t.Fatal("provider never called while up")
	}
	ct := report.Trace.ExpertTraces[0]
	if ct.FallbackUsed {
		t.Errorf("fallback used with a healthy backend: %s", ct.Error)
	}
	if ct.PromptVersion != "v3.0.0" {
		t.Errorf("prompt version = %s, want the extraction override v3.0.0", ct.PromptVersion)
	}
	c, ok := report.Graph.Entity("contract_1001")
	if !ok {
		t.Fatal("primary output missing from merged graph")
	}
	if v, _ := c.Properties[expert.PropPromptVersion].Str(); v != "v3.0.0" {
		t.Errorf("%s = %q, want v3.0.0", expert.PropPromptVersion, v)
	}
	if h := eng.Health(context.Background()); h.Status != "ok" || h.ModelBackend != "up" {
		t.Errorf("health = %+v", h)
	}
}

func TestExpertStatsRequiresSQLite(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	if _, err := eng.ExpertStats(context.Background()); err == nil {
		t.Error("file store should not aggregate expert stats")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	eng, err := New(testConfig(t), WithTraceStore(fs), WithRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := eng.Extract(context.Background(), contractDoc); !errors.Is(err, ErrTraceStoreClosed) {
		t.Errorf("Extract after Close error = %v, want ErrTraceStoreClosed", err)
	}
	if h := eng.Health(context.Background()); h.Status != "closed" {
		t.Errorf("health after Close = %+v", h)
	}
}

func TestReportJSONIncludesGraph(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	report, err := eng.Extract(context.Background(), contractDoc, WithExperts("ContractExpert"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded struct {
		Graph struct {
			Entities      []graph.Entity       `json:"entities"`
			Relationships []graph.Relationship `json:"relationships"`
		} `json:"graph"`
		Trace struct {
			PipelineID string `json:"pipeline_id"`
		} `json:"trace"`
		ExpertOrder []string `json:"expert_order"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Graph.Entities) != report.Graph.Len() {
		t.Errorf("json graph has %d entities, want %d", len(decoded.Graph.Entities), report.Graph.Len())
	}
	if len(decoded.Graph.Relationships) == 0 {
		t.Error("json graph has no relationships")
	}
	if decoded.Trace.PipelineID != report.Trace.PipelineID {
		t.Errorf("trace id = %s", decoded.Trace.PipelineID)
	}
}

func TestEmptyGraphBeforeFirstRun(t *testing.T) {
	eng := newTestEngine(t, testConfig(t))
	if g := eng.Graph(); g == nil || g.Len() != 0 {
		t.Errorf("initial graph = %v, want empty", g)
	}
}
