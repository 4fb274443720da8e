package graph

import (
	"testing"
	"time"
)

func sampleResult() ExtractionResult {
	return ExtractionResult{
		ExpertName: "ContractExpert",
		Entities: []Entity{
			{ID: "contract_1001", Type: EntityContract, Name: "Contract #1001",
				Properties: Properties{"status": String("ACTIVE")}, SourceExpert: "ContractExpert", Confidence: 0.92},
			{ID: "company_acme", Type: EntityCompany, Name: "Acme",
				Properties: Properties{"name": String("Acme")}, SourceExpert: "ContractExpert", Confidence: 0.95},
		},
		Relationships: []Relationship{
			{SourceID: "company_acme", TargetID: "contract_1001", Type: RelHasContract, Confidence: 0.92},
		},
	}
}

func TestMergeInsertsNewEntities(t *testing.T) {
	g := Merge(map[string]ExtractionResult{"ContractExpert": sampleResult()})
	if g.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", g.Len())
	}
	if len(g.Relationships()) != 1 {
		t.Fatalf("relationships = %d, want 1", len(g.Relationships()))
	}
	ents := g.Entities()
	if ents[0].ID != "contract_1001" || ents[1].ID != "company_acme" {
		t.Errorf("insertion order not preserved: %s, %s", ents[0].ID, ents[1].ID)
	}
}

func TestMergeUnionsPropertiesAndKeepsIdentity(t *testing.T) {
	g := NewContextGraph()
	g.AddResult(ExtractionResult{ExpertName: "A", Entities: []Entity{{
		ID: "x", Type: EntityCompany, Name: "First", SourceExpert: "A", Confidence: 0.9,
		Properties: Properties{"shared": String("a"), "only_a": Int(1)},
	}}})
	g.AddResult(ExtractionResult{ExpertName: "B", Entities: []Entity{{
		ID: "x", Type: EntityRisk, Name: "Second", SourceExpert: "B", Confidence: 0.1,
		Properties: Properties{"shared": String("b"), "only_b": Bool(true)},
	}}})

	e, ok := g.Entity("x")
	if !ok {
		t.Fatal("entity x missing")
	}
	if e.Type != EntityCompany || e.Name != "First" || e.SourceExpert != "A" || e.Confidence != 0.9 {
		t.Errorf("identity fields changed on merge: %+v", e)
	}
	if got, _ := e.Properties["shared"].Str(); got != "b" {
		t.Errorf("shared = %q, want later writer %q", got, "b")
	}
	if _, ok := e.Properties["only_a"].Num(); !ok {
		t.Error("only_a lost during merge")
	}
	if b, ok := e.Properties["only_b"].Truth(); !ok || !b {
		t.Error("only_b not unioned")
	}
}

func TestMergeSameResultTwice(t *testing.T) {
	r := sampleResult()
	once := NewContextGraph()
	once.AddResult(r)

	twice := NewContextGraph()
	twice.AddResult(r)
	twice.AddResult(r)

	if once.Len() != twice.Len() {
		t.Errorf("entity count: once=%d twice=%d", once.Len(), twice.Len())
	}
	// Duplicate edges are appended, never deduplicated.
	if got := len(twice.Relationships()); got != 2*len(once.Relationships()) {
		t.Errorf("relationships = %d, want %d", got, 2*len(once.Relationships()))
	}
	e, _ := twice.Entity("contract_1001")
	if len(e.Properties) != 1 {
		t.Errorf("properties = %v, want the single unioned key", e.Properties)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := ExtractionResult{Entities: []Entity{{ID: "x", Properties: Properties{"k": String("a")}}}}
	b := ExtractionResult{Entities: []Entity{{ID: "x", Properties: Properties{"k": String("b")}}}}
	g := NewContextGraph()
	g.AddResult(a)
	g.AddResult(b)
	if got, _ := a.Entities[0].Properties["k"].Str(); got != "a" {
		t.Errorf("input result mutated: k = %q", got)
	}
}

func TestMergeSortedExpertOrder(t *testing.T) {
	results := map[string]ExtractionResult{
		"b": {Entities: []Entity{{ID: "x", Name: "from b", SourceExpert: "b"}}},
		"a": {Entities: []Entity{{ID: "x", Name: "from a", SourceExpert: "a"}}},
	}
	for i := 0; i < 5; i++ {
		e, _ := Merge(results).Entity("x")
		if e.SourceExpert != "a" {
			t.Fatalf("run %d: first inserted expert = %q, want a", i, e.SourceExpert)
		}
	}
}

func TestRelationshipsWithUnresolvedEndpoints(t *testing.T) {
	g := NewContextGraph()
	g.AddResult(ExtractionResult{Relationships: []Relationship{
		{SourceID: "ghost", TargetID: "nowhere", Type: RelAffects},
	}})
	if len(g.Relationships()) != 1 {
		t.Fatal("unresolved relationship dropped")
	}
	if n := g.Neighbors("ghost"); len(n) != 0 {
		t.Errorf("Neighbors of unresolved id = %v, want none", n)
	}
}

func TestNeighborsAndFind(t *testing.T) {
	g := NewContextGraph()
	g.AddResult(sampleResult())
	g.AddEntity(Entity{ID: "tower_t1", Type: EntityTower, Name: "Tower T-1", ExtractedAt: time.Now()})
	g.AddRelationship(Relationship{SourceID: "contract_1001", TargetID: "tower_t1", Type: RelOccupies})

	c, ok := g.FindByName(EntityCompany, "ACM")
	if !ok || c.ID != "company_acme" {
		t.Fatalf("FindByName = %+v, %v", c, ok)
	}
	n := g.Neighbors("contract_1001")
	if len(n) != 2 {
		t.Fatalf("Neighbors = %d, want 2", len(n))
	}
	if got := len(g.EntitiesOfType(EntityTower)); got != 1 {
		t.Errorf("EntitiesOfType(Tower) = %d, want 1", got)
	}
}
