package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

var (
	lineOccupancyRe = regexp.MustCompile(`(?i)^\W*(\w+)[^\n]*?(?:occupancy|capacity)[:\s]*(\d+)\s*%`)
	monthlyRateRe   = regexp.MustCompile(`(?i)\$\s*([\d,]+(?:\.\d+)?)\s*(?:/\s*mo(?:nth)?|per\s+month)`)
	removalRe       = regexp.MustCompile(`(?i)\b(defaulted|inactive|abandoned|terminated)\b[^\n]*?\b(?:equipment|hardware|dish|antenna)s?\b([^\n.]*)`)
	maintenanceRe   = regexp.MustCompile(`(?i)\b(rust(?:ed|y)?|corrosion|corroded|damaged|cracked|loose|degraded)\b([^\n.]*)`)
)

// OpportunityExpert looks for revenue upside and operational work: spare
// tenant capacity, hardware left behind by departed tenants and visible
// damage that needs a crew.
type OpportunityExpert struct{}

func (OpportunityExpert) Name() string { return "OpportunityExpert" }

func (x OpportunityExpert) Extract(ctx context.Context, text string, _ Context) (graph.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.ExtractionResult{}, err
	}
	b := newBuilder(x.Name())
	lines := strings.Split(text, "\n")

	for _, line := range lines {
		m := lineOccupancyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		company := m[1]
		pct, _ := parseAmount(m[2])
		if pct >= 100 {
			continue
		}
		available := 100 - pct
		props := graph.Properties{
			"opportunity_type":   graph.String("UPSELL"),
			"company":            graph.String(company),
			"current_occupancy":  graph.Number(pct),
			"available_capacity": graph.Number(available),
			"reasoning":          graph.String(fmt.Sprintf("%s uses %.0f%% of its allocation; %.0f%% is unsold", company, pct, available)),
		}
		if r, ok := lineValue(lines, monthlyRateRe, company); ok && pct > 0 {
			props["potential_monthly_uplift"] = graph.Number(roundCents(r * available / pct))
		}
		id := "opportunity_upsell_" + slug(company)
		if b.has(id) {
			continue
		}
		b.entity(id, graph.EntityOpportunity, fmt.Sprintf("Upsell %s capacity", company), 0.87, props)
		b.edge(id, "company_"+slug(company), graph.RelTargets, 0.85, nil)
	}

	for i, m := range removalRe.FindAllStringSubmatch(text, -1) {
		b.entity(fmt.Sprintf("opportunity_removal_%d", i), graph.EntityOpportunity,
			fmt.Sprintf("Remove %s equipment #%d", strings.ToLower(m[1]), i+1), 0.91, graph.Properties{
				"opportunity_type": graph.String("EQUIPMENT_REMOVAL"),
				"details":          graph.String(strings.TrimSpace(m[0])),
				"action_required":  graph.Bool(true),
			})
	}

	for i, m := range maintenanceRe.FindAllStringSubmatch(text, -1) {
		b.entity(fmt.Sprintf("opportunity_maintenance_%d", i), graph.EntityOpportunity,
			fmt.Sprintf("Maintenance for %s hardware #%d", strings.ToLower(m[1]), i+1), 0.93, graph.Properties{
				"opportunity_type": graph.String("MAINTENANCE"),
				"issue":            graph.String(strings.ToLower(m[1])),
				"details":          graph.String(strings.TrimSpace(m[0])),
				"severity":         graph.String("HIGH"),
			})
	}

	return b.done(fmt.Sprintf("Identified %d opportunities across upsell, removal and maintenance", len(b.res.Entities))), nil
}

func roundCents(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
