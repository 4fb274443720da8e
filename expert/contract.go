package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

var (
	contractRe    = regexp.MustCompile(`(?is)\bContract\b\s*#?\s*(\w+).*?(?:Company|Tenant|Carrier)[:\s]*(\w[\w\s]*?)(?:\n|,|;|\.|$)`)
	statusRe      = regexp.MustCompile(`(?i)(?:Status|State)[:\s]*(Active|Defaulted|Expired|Pending|Suspended)`)
	towerRe       = regexp.MustCompile(`\bTower\s*(?:ID)?\s*[:#]?\s*([A-Z]{1,4}-?\d+)`)
	occupancyRe   = regexp.MustCompile(`(?i)(?:occupancy|capacity)[:\s]*(\d+(?:\.\d+)?)\s*%`)
	revenueRe     = regexp.MustCompile(`(?i)(?:monthly\s+)?(?:revenue|rent|pays?)[:\s]*\$\s*([\d,]+(?:\.\d+)?)`)
	outstandingRe = regexp.MustCompile(`(?i)(?:outstanding|owes?|balance)[:\s]*(?:of\s+)?\$\s*([\d,]+(?:\.\d+)?)`)
)

// ContractExpert finds contract references, the tenant company of each and
// the tower they occupy.
type ContractExpert struct{}

func (ContractExpert) Name() string { return "ContractExpert" }

type contractMatch struct {
	id, company, status string
}

func (x ContractExpert) Extract(ctx context.Context, text string, _ Context) (graph.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.ExtractionResult{}, err
	}
	b := newBuilder(x.Name())

	var contracts []contractMatch
	statuses := statusRe.FindAllStringSubmatch(text, -1)
	for i, m := range contractRe.FindAllStringSubmatch(text, -1) {
		status := "UNKNOWN"
		if i < len(statuses) {
			status = strings.ToUpper(statuses[i][1])
		}
		contracts = append(contracts, contractMatch{
			id:      m[1],
			company: strings.TrimSpace(m[2]),
			status:  status,
		})
	}

	towers := towersIn(text)
	for _, t := range towers {
		b.entity(towerID(t), graph.EntityTower, "Tower "+t, 0.95, graph.Properties{"tower_id": graph.String(t)})
	}

	lines := strings.Split(text, "\n")
	for _, c := range contracts {
		contractID := "contract_" + c.id
		props := graph.Properties{
			"contract_id": graph.String(c.id),
			"company":     graph.String(c.company),
			"status":      graph.String(c.status),
		}
		if v, ok := lineValue(lines, revenueRe, c.company, "#"+c.id); ok {
			props["monthly_revenue"] = graph.Number(v)
		}
		if v, ok := lineValue(lines, outstandingRe, c.company, "#"+c.id); ok {
			props["outstanding_amount"] = graph.Number(v)
		}
		b.entity(contractID, graph.EntityContract, "Contract #"+c.id, 0.92, props)

		companyID := "company_" + slug(c.company)
		if !b.has(companyID) {
			cprops := graph.Properties{"name": graph.String(c.company)}
			if v, ok := lineValue(lines, occupancyRe, c.company); ok {
				cprops["occupancy_pct"] = graph.Number(v)
			}
			b.entity(companyID, graph.EntityCompany, c.company, 0.95, cprops)
		}
		b.edge(companyID, contractID, graph.RelHasContract, 0.92, graph.Properties{"status": graph.String(c.status)})

		if len(towers) == 1 {
			b.edge(contractID, towerID(towers[0]), graph.RelOccupies, 0.85, nil)
		}
	}

	return b.done(fmt.Sprintf("Found %d contracts, %d companies and %d towers using pattern matching",
		len(contracts), countType(b.res.Entities, graph.EntityCompany), len(towers))), nil
}

// towersIn returns distinct tower identifiers in order of appearance.
func towersIn(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range towerRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func towerID(t string) string { return "tower_" + slug(t) }

// lineValue returns the amount captured by re on the first line that
// mentions any of the given keys.
func lineValue(lines []string, re *regexp.Regexp, keys ...string) (float64, bool) {
	for _, line := range lines {
		lower := strings.ToLower(line)
		mentioned := false
		for _, k := range keys {
			if k != "" && strings.Contains(lower, strings.ToLower(k)) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			continue
		}
		if m := re.FindStringSubmatch(line); m != nil {
			if v, ok := parseAmount(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func countType(entities []graph.Entity, t graph.EntityType) int {
	n := 0
	for _, e := range entities {
		if e.Type == t {
			n++
		}
	}
	return n
}
