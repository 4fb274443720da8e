package graph

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

var (
	unsafeVarChars = regexp.MustCompile(`[^a-zA-Z0-9]`)
	plainKey       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// varName turns an entity id into a Cypher variable. A leading letter is
// forced because Cypher identifiers may not start with a digit.
func varName(id string) string {
	return "n_" + unsafeVarChars.ReplaceAllString(id, "_")
}

// cypherString quotes s as a single-quoted Cypher string literal.
func cypherString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func cypherValue(v Value) string {
	switch v.Kind() {
	case KindNumber, KindBool:
		return v.String()
	default:
		s, _ := v.Str()
		return cypherString(s)
	}
}

// cypherKey backquotes keys that are not plain identifiers.
func cypherKey(k string) string {
	if plainKey.MatchString(k) {
		return k
	}
	return "`" + strings.ReplaceAll(k, "`", "``") + "`"
}

// formatProps renders a property map in sorted key order so output is
// deterministic.
func formatProps(p Properties) string {
	parts := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		parts = append(parts, cypherKey(k)+": "+cypherValue(p[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// nodeProps returns the property set written for an entity: identity fields
// first, then the entity's own properties. Identity fields win on clash.
func nodeProps(e Entity) Properties {
	p := e.Properties.Clone()
	p["id"] = String(e.ID)
	p["name"] = String(e.Name)
	p["confidence"] = Number(e.Confidence)
	p["source_expert"] = String(e.SourceExpert)
	return p
}

// MergeNodeStatement returns an idempotent MERGE for one entity.
func MergeNodeStatement(e Entity) string {
	props := nodeProps(e)
	delete(props, "id")
	return fmt.Sprintf("MERGE (n:%s {id: %s}) SET n += %s",
		e.Type, cypherString(e.ID), formatProps(props))
}

// CreateEdgeStatement returns a MATCH/CREATE for one relationship.
func CreateEdgeStatement(r Relationship) string {
	props := ""
	if len(r.Properties) > 0 {
		props = " " + formatProps(r.Properties)
	}
	return fmt.Sprintf("MATCH (a {id: %s}), (b {id: %s}) CREATE (a)-[:%s%s]->(b)",
		cypherString(r.SourceID), cypherString(r.TargetID), r.Type, props)
}

// Cypher renders the whole graph as a single CREATE script: one index per
// entity type, one CREATE per node, one CREATE per edge.
func (g *ContextGraph) Cypher() string {
	var b strings.Builder
	b.WriteString("// goecl context graph\n\n")

	seen := map[EntityType]bool{}
	var types []string
	for _, e := range g.Entities() {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, string(e.Type))
		}
	}
	slices.Sort(types)
	for _, t := range types {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS FOR (n:%s) ON (n.id);\n", t)
	}
	b.WriteString("\n")

	for _, e := range g.Entities() {
		fmt.Fprintf(&b, "CREATE (%s:%s %s)\n", varName(e.ID), e.Type, formatProps(nodeProps(e)))
	}
	for _, r := range g.edges {
		props := ""
		if len(r.Properties) > 0 {
			props = " " + formatProps(r.Properties)
		}
		fmt.Fprintf(&b, "CREATE (%s)-[:%s%s]->(%s)\n", varName(r.SourceID), r.Type, props, varName(r.TargetID))
	}
	b.WriteString(";\n")
	return b.String()
}
