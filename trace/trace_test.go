package trace

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/goecl/graph"
)

func TestHashText(t *testing.T) {
	a := HashText("Contract #1001")
	if a != HashText("Contract #1001") {
		t.Error("hash is not deterministic")
	}
	if a == HashText("Contract #1001!") {
		t.Error("hash collides on one-character change")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
	// sha256("") prefix
	if got := HashText(""); got != "e3b0c44298fc1c14" {
		t.Errorf("HashText(\"\") = %s", got)
	}
}

func TestIDsAreUniqueAndPrefixed(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewTraceID()
		if !strings.HasPrefix(id, "trace_") {
			t.Fatalf("trace id %q missing prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace id %q", id)
		}
		seen[id] = true
	}
	if !strings.HasPrefix(NewPipelineID(), "pipeline_") {
		t.Error("pipeline id missing prefix")
	}
}

func TestRecorderStatsOverAccepted(t *testing.T) {
	r := Start("ContractExpert", "some text")
	tr := r.Finish(Outcome{
		Accepted: []graph.Entity{
			{Name: "A", Confidence: 0.9},
			{Name: "B", Confidence: 0.7},
		},
		Rejected:      3,
		Hallucinated:  1,
		Relationships: 2,
	})
	if tr.EntitiesExtracted != 2 || tr.EntitiesRejected != 3 || tr.EntitiesHallucinated != 1 || tr.RelationshipsExtracted != 2 {
		t.Errorf("counts = %+v", tr)
	}
	if diff := tr.AvgConfidence - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("avg = %v, want 0.8", tr.AvgConfidence)
	}
	if tr.MinConfidence != 0.7 {
		t.Errorf("min = %v, want 0.7", tr.MinConfidence)
	}
	if strings.Join(tr.EntityNames, ",") != "A,B" {
		t.Errorf("names = %v", tr.EntityNames)
	}
	if tr.InputTextHash != HashText("some text") || tr.InputTextLength != 9 {
		t.Errorf("input stamp = %s/%d", tr.InputTextHash, tr.InputTextLength)
	}
}

func TestRecorderEmptyAccepted(t *testing.T) {
	tr := Start("x", "").Finish(Outcome{})
	if tr.AvgConfidence != 0 || tr.MinConfidence != 0 {
		t.Errorf("stats over empty set = %v/%v, want 0/0", tr.AvgConfidence, tr.MinConfidence)
	}
	if tr.ConfidenceScores == nil || tr.EntityNames == nil {
		t.Error("slices must be non-nil")
	}
}

func TestRecorderFinishIsFinal(t *testing.T) {
	r := Start("x", "t")
	r.Fail(errors.New("first"))
	r.Fail(errors.New("second"))
	first := r.Finish(Outcome{Accepted: []graph.Entity{{Name: "A", Confidence: 1}}})
	first.EntityNames[0] = "mutated"
	second := r.Finish(Outcome{})
	if second.EntitiesExtracted != 1 || second.EntityNames[0] != "A" {
		t.Errorf("second Finish changed the trace: %+v", second)
	}
	if second.Error != "first" {
		t.Errorf("Error = %q, want first", second.Error)
	}
	if !second.Failed() {
		t.Error("Failed() = false")
	}
}

func TestAggregateSumsChildren(t *testing.T) {
	p := NewPipeline("doc", 3, 0.7)
	if p.Warnings == nil || len(p.ExpertTraces) != 0 {
		t.Fatal("new pipeline should have empty, non-nil lists")
	}
	children := []ExtractionTrace{
		{ExpertName: "a", EntitiesExtracted: 2, EntitiesRejected: 1, RelationshipsExtracted: 1},
		{ExpertName: "b", EntitiesExtracted: 3, EntitiesHallucinated: 2, FallbackUsed: true},
		{ExpertName: "c", Error: "boom"},
	}
	p.Aggregate(children, []string{"c: boom"}, 1500*time.Microsecond)

	if p.TotalEntities != 5 || p.TotalEntitiesRejected != 1 || p.TotalEntitiesHallucinated != 2 || p.TotalRelationships != 1 {
		t.Errorf("totals = %d/%d/%d/%d", p.TotalEntities, p.TotalEntitiesRejected, p.TotalEntitiesHallucinated, p.TotalRelationships)
	}
	if p.TotalTimeMs != 1.5 {
		t.Errorf("TotalTimeMs = %v, want 1.5", p.TotalTimeMs)
	}
	if !p.Consistent() {
		t.Error("aggregated trace not consistent")
	}
	if p.FallbackCount() != 1 {
		t.Errorf("FallbackCount = %d", p.FallbackCount())
	}
	p.TotalEntities++
	if p.Consistent() {
		t.Error("Consistent() missed a tampered total")
	}
}
