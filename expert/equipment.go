package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

var (
	equipmentRe       = regexp.MustCompile(`(?i)\b(?:Equipment|Hardware|Device)[:\s]+([\w ]+?)\s*(?:\n|,|;|\.|$)`)
	antennaCountRe    = regexp.MustCompile(`(?i)(\d+)\s*(?:x\s*)?(?:antennas?|radios?|panels?|dishes)`)
	equipmentStatusRe = regexp.MustCompile(`(?i)(?:status|condition)[:\s]*(operational|active|inactive|damaged|rusted|degraded|decommissioned)`)
	droneRe           = regexp.MustCompile(`(?i)(?:drone|inspection|visual|image)[^\n]*?(?:detected|found|shows?|observed)[:\s]*([^\n.]+)`)
)

// EquipmentExpert finds installed hardware and what inspections observed on
// it.
type EquipmentExpert struct{}

func (EquipmentExpert) Name() string { return "EquipmentExpert" }

func (x EquipmentExpert) Extract(ctx context.Context, text string, _ Context) (graph.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.ExtractionResult{}, err
	}
	b := newBuilder(x.Name())

	counts := antennaCountRe.FindAllStringSubmatch(text, -1)
	statuses := equipmentStatusRe.FindAllStringSubmatch(text, -1)
	drone := droneRe.FindAllStringSubmatch(text, -1)
	towers := towersIn(text)

	matches := equipmentRe.FindAllStringSubmatch(text, -1)
	for i, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		props := graph.Properties{
			"type":   graph.String(name),
			"status": graph.String("UNKNOWN"),
		}
		if i < len(statuses) {
			props["status"] = graph.String(strings.ToUpper(statuses[i][1]))
		}
		if i < len(counts) {
			if n, ok := parseAmount(counts[i][1]); ok {
				props["quantity"] = graph.Number(n)
			}
		}
		if i < len(drone) {
			props["drone_observation"] = graph.String(strings.TrimSpace(drone[i][1]))
		}
		id := fmt.Sprintf("equipment_%s_%d", slug(name), i)
		b.entity(id, graph.EntityEquipment, name, 0.88, props)
		if len(towers) == 1 {
			b.edge(id, towerID(towers[0]), graph.RelInstalledOn, 0.85, nil)
		}
	}

	return b.done(fmt.Sprintf("Found %d equipment items, %d with drone observations",
		len(b.res.Entities), min(len(drone), len(b.res.Entities)))), nil
}
