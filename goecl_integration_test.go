//go:build integration && cgo

package goecl

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brunobiangulo/goecl/graph"
)

const (
	ollamaURL   = "http://localhost:11434"
	chatModel   = "qwen3:8b"
	testTimeout = 10 * time.Minute
)

const towerDocument = `TOWER LEASE SUMMARY - Tower ATL-001
Contract #5001 - Company: Verizon. Status: Active.
Verizon monthly revenue: $4,500
Verizon occupancy: 60%
Contract #5002 - Company: Sprint. Status: Defaulted.
Sprint outstanding: $12,000, 95 days overdue
Equipment: 3x antenna panels (Sprint), condition: abandoned
Drone inspection: rust observed on mounting bracket`

// shared holds the engine set up once for all tests.
var shared struct {
	once  sync.Once
	eng   Engine
	dbDir string
	err   error
}

func ollamaAvailable() bool {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(ollamaURL + "/api/tags")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// warmModel sends a tiny request to force Ollama to load a model into memory.
func warmModel(model string) error {
	body := fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":"hi"}],"stream":false,"options":{"num_predict":1}}`, model)
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(ollamaURL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func setupShared(t *testing.T) {
	t.Helper()
	shared.once.Do(func() {
		if !ollamaAvailable() {
			shared.err = fmt.Errorf("ollama not available")
			return
		}
		t.Log("Warming up chat model...")
		if err := warmModel(chatModel); err != nil {
			shared.err = fmt.Errorf("warming chat model: %w", err)
			return
		}

		dir, err := os.MkdirTemp("", "goecl-integration-*")
		if err != nil {
			shared.err = err
			return
		}
		shared.dbDir = dir

		cfg := DefaultConfig()
		cfg.Store.DBPath = filepath.Join(dir, "integration_test.db")
		cfg.LLM = LLMConfig{Provider: "ollama", Model: chatModel, BaseURL: ollamaURL}
		cfg.UseModel = true
		cfg.RunTimeoutSeconds = int(testTimeout / time.Second)

		eng, err := New(cfg)
		if err != nil {
			shared.err = fmt.Errorf("creating engine: %w", err)
			return
		}
		shared.eng = eng
	})
	if shared.err != nil {
		t.Skipf("integration setup: %v", shared.err)
	}
}

func TestIntegrationModelExtraction(t *testing.T) {
	setupShared(t)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	report, err := shared.eng.Extract(ctx, towerDocument)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	pt := report.Trace
	t.Logf("pipeline %s: %d entities, %d rejected, %d hallucinated, %d warnings, %.0fms",
		pt.PipelineID, pt.TotalEntities, pt.TotalEntitiesRejected, pt.TotalEntitiesHallucinated,
		len(pt.Warnings), pt.TotalTimeMs)

	if !pt.Consistent() {
		t.Error("pipeline totals do not match expert traces")
	}
	if pt.TotalExperts != 5 {
		t.Errorf("total experts = %d, want 5", pt.TotalExperts)
	}
	if report.Graph.Len() == 0 {
		t.Error("no entities extracted from the tower document")
	}
	for _, ct := range pt.ExpertTraces {
		if ct.ModelUsed != chatModel {
			t.Errorf("%s model = %q, want %q", ct.ExpertName, ct.ModelUsed, chatModel)
		}
	}
	if len(report.Graph.EntitiesOfType(graph.EntityContract)) == 0 {
		t.Error("expected at least one contract")
	}

	stored, err := shared.eng.Trace(ctx, pt.PipelineID)
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if stored.DocumentHash != pt.DocumentHash {
		t.Errorf("stored trace hash = %s, want %s", stored.DocumentHash, pt.DocumentHash)
	}
}

func TestIntegrationHealth(t *testing.T) {
	setupShared(t)
	h := shared.eng.Health(context.Background())
	if h.ModelBackend != "up" || h.Status != "ok" {
		t.Errorf("health = %+v", h)
	}
}
