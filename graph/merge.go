package graph

import (
	"maps"
	"slices"
	"strings"
)

// ContextGraph is the merged, id-deduplicated view over every expert's
// accepted output. Entities keep first-insertion order for display.
type ContextGraph struct {
	nodes map[string]*Entity
	order []string
	edges []Relationship
}

// NewContextGraph returns an empty graph.
func NewContextGraph() *ContextGraph {
	return &ContextGraph{nodes: make(map[string]*Entity)}
}

// Merge builds one graph from results keyed by expert name. Experts are
// visited in sorted name order; use AddResult directly to control order.
func Merge(results map[string]ExtractionResult) *ContextGraph {
	g := NewContextGraph()
	for _, name := range slices.Sorted(maps.Keys(results)) {
		g.AddResult(results[name])
	}
	return g
}

// AddResult folds one result into the graph. A new id is inserted as-is; a
// known id only has its properties unioned (later values win) and keeps its
// original type, name, source expert and confidence. Relationships are
// appended without filtering or deduplication.
func (g *ContextGraph) AddResult(r ExtractionResult) {
	for _, e := range r.Entities {
		g.AddEntity(e)
	}
	g.edges = append(g.edges, r.Relationships...)
}

// AddEntity inserts or merges a single entity. The graph stores its own copy
// of the property map so callers' results are never mutated.
func (g *ContextGraph) AddEntity(e Entity) {
	if existing, ok := g.nodes[e.ID]; ok {
		existing.Properties.Union(e.Properties)
		return
	}
	e.Properties = e.Properties.Clone()
	g.nodes[e.ID] = &e
	g.order = append(g.order, e.ID)
}

// AddRelationship appends one edge.
func (g *ContextGraph) AddRelationship(r Relationship) {
	g.edges = append(g.edges, r)
}

// Entity returns a copy of the entity with the given id.
func (g *ContextGraph) Entity(id string) (Entity, bool) {
	e, ok := g.nodes[id]
	if !ok {
		return Entity{}, false
	}
	out := *e
	out.Properties = e.Properties.Clone()
	return out, true
}

// Entities returns copies of all entities in insertion order.
func (g *ContextGraph) Entities() []Entity {
	out := make([]Entity, 0, len(g.order))
	for _, id := range g.order {
		e, _ := g.Entity(id)
		out = append(out, e)
	}
	return out
}

// Relationships returns the edge list in insertion order.
func (g *ContextGraph) Relationships() []Relationship {
	return append([]Relationship{}, g.edges...)
}

// Len returns the number of distinct entities.
func (g *ContextGraph) Len() int { return len(g.order) }

// EntitiesOfType returns entities of type t in insertion order.
func (g *ContextGraph) EntitiesOfType(t EntityType) []Entity {
	var out []Entity
	for _, e := range g.Entities() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// FindByName returns the first entity of type t whose name contains the
// given fragment, case-insensitively.
func (g *ContextGraph) FindByName(t EntityType, fragment string) (Entity, bool) {
	fragment = strings.ToLower(fragment)
	for _, id := range g.order {
		e := g.nodes[id]
		if e.Type == t && strings.Contains(strings.ToLower(e.Name), fragment) {
			return g.Entity(id)
		}
	}
	return Entity{}, false
}

// Incident returns every edge that touches id, in insertion order.
func (g *ContextGraph) Incident(id string) []Relationship {
	var out []Relationship
	for _, r := range g.edges {
		if r.SourceID == id || r.TargetID == id {
			out = append(out, r)
		}
	}
	return out
}

// Neighbors returns the entities on the other end of id's edges, each once,
// skipping endpoints that are not in the graph.
func (g *ContextGraph) Neighbors(id string) []Entity {
	seen := map[string]bool{id: true}
	var out []Entity
	for _, r := range g.Incident(id) {
		for _, other := range []string{r.SourceID, r.TargetID} {
			if seen[other] {
				continue
			}
			seen[other] = true
			if e, ok := g.Entity(other); ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// Snapshot is the serialisable form of a ContextGraph.
type Snapshot struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// Snapshot returns entities and edges in insertion order.
func (g *ContextGraph) Snapshot() Snapshot {
	return Snapshot{Entities: g.Entities(), Relationships: g.Relationships()}
}
