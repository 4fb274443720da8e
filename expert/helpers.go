package expert

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brunobiangulo/goecl/graph"
)

// slug lower-cases s and joins its words with underscores, for use in ids.
func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

// parseAmount reads a money or count figure such as "2,500", "$1,200.50"
// or "15". The second return is false when nothing numeric was found.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// titleWord upper-cases the first letter of a single word.
func titleWord(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// builder accumulates one expert's output with a shared timestamp.
type builder struct {
	expert string
	at     time.Time
	res    graph.ExtractionResult
}

func newBuilder(expert string) *builder {
	return &builder{
		expert: expert,
		at:     time.Now().UTC(),
		res: graph.ExtractionResult{
			ExpertName:    expert,
			Entities:      []graph.Entity{},
			Relationships: []graph.Relationship{},
		},
	}
}

func (b *builder) entity(id string, typ graph.EntityType, name string, conf float64, props graph.Properties) {
	if props == nil {
		props = graph.Properties{}
	}
	b.res.Entities = append(b.res.Entities, graph.Entity{
		ID:           id,
		Type:         typ,
		Name:         name,
		Properties:   props,
		SourceExpert: b.expert,
		Confidence:   conf,
		ExtractedAt:  b.at,
	})
}

func (b *builder) edge(src, dst string, typ graph.RelationType, conf float64, props graph.Properties) {
	b.res.Relationships = append(b.res.Relationships, graph.Relationship{
		SourceID:   src,
		TargetID:   dst,
		Type:       typ,
		Properties: props,
		Confidence: conf,
	})
}

func (b *builder) has(id string) bool {
	for _, e := range b.res.Entities {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (b *builder) done(reasoning string) graph.ExtractionResult {
	b.res.Reasoning = reasoning
	return b.res
}
