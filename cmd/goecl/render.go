package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/brunobiangulo/goecl/expert"
	"github.com/brunobiangulo/goecl/graph"
	"github.com/brunobiangulo/goecl/store"
	"github.com/brunobiangulo/goecl/trace"
)

var (
	colorAccent = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	colorPass   = lipgloss.AdaptiveColor{Light: "#2E8540", Dark: "#5FD068"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#B7791F", Dark: "#F6C343"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#C53030", Dark: "#F56565"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#718096", Dark: "#A0AEC0"}

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	passStyle   = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail)
)

func newTable(width int, headers ...string) *table.Table {
	return table.New().
		Headers(headers...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// expertStatus is the one-word outcome shown per expert.
func expertStatus(t trace.ExtractionTrace) string {
	switch {
	case t.Failed() && t.FallbackUsed:
		return warnStyle.Render("fallback*")
	case t.Failed():
		return failStyle.Render("failed")
	case t.FallbackUsed:
		return warnStyle.Render("fallback")
	default:
		return passStyle.Render("ok")
	}
}

// renderTrace renders a pipeline trace summary with one row per expert.
func renderTrace(p *trace.PipelineTrace, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Pipeline " + p.PipelineID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s  document %s (%d chars)  threshold %.2f  model %s  %.0fms\n",
		mutedStyle.Render(p.Timestamp.Format("2006-01-02 15:04:05")),
		p.DocumentHash, p.DocumentLength, p.MinConfidenceThreshold, p.ModelUsed, p.TotalTimeMs)
	fmt.Fprintf(&b, "%d experts  %d entities  %d rejected  %d hallucinated  %d relationships  %d fallbacks\n",
		p.TotalExperts, p.TotalEntities, p.TotalEntitiesRejected, p.TotalEntitiesHallucinated,
		p.TotalRelationships, p.FallbackCount())

	t := newTable(width, "Expert", "Status", "Entities", "Rejected", "Halluc.", "Rels", "Avg conf", "Min conf", "ms")
	for _, et := range p.ExpertTraces {
		t.Row(et.ExpertName, expertStatus(et),
			strconv.Itoa(et.EntitiesExtracted), strconv.Itoa(et.EntitiesRejected),
			strconv.Itoa(et.EntitiesHallucinated), strconv.Itoa(et.RelationshipsExtracted),
			confidence(et.AvgConfidence, et.EntitiesExtracted), confidence(et.MinConfidence, et.EntitiesExtracted),
			fmt.Sprintf("%.0f", et.ProcessingTimeMs))
	}
	b.WriteString(t.String())

	if len(p.Warnings) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Warnings"))
		for _, w := range p.Warnings {
			b.WriteString("\n  - " + w)
		}
	}
	return b.String()
}

func confidence(v float64, n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

// renderTraceList renders one row per stored pipeline trace.
func renderTraceList(traces []trace.PipelineTrace, width int) string {
	t := newTable(width, "Pipeline", "When", "Document", "Experts", "Entities", "Rejected", "Warnings")
	for _, p := range traces {
		warnings := strconv.Itoa(len(p.Warnings))
		if len(p.Warnings) > 0 {
			warnings = warnStyle.Render(warnings)
		}
		t.Row(p.PipelineID, p.Timestamp.Format("2006-01-02 15:04"), p.DocumentHash,
			strconv.Itoa(p.TotalExperts), strconv.Itoa(p.TotalEntities),
			strconv.Itoa(p.TotalEntitiesRejected), warnings)
	}
	return t.String()
}

// renderEntities renders the accepted entities of a merged graph.
func renderEntities(entities []graph.Entity, width int) string {
	t := newTable(width, "ID", "Type", "Name", "Conf", "Source")
	for _, e := range entities {
		t.Row(e.ID, string(e.Type), e.Name, fmt.Sprintf("%.2f", e.Confidence), e.SourceExpert)
	}
	return t.String()
}

// renderStats renders per-expert aggregates over stored runs.
func renderStats(stats []store.ExpertStat, width int) string {
	t := newTable(width, "Expert", "Runs", "Entities", "Rejected", "Halluc.", "Fallbacks", "Failures", "Avg ms")
	for _, s := range stats {
		t.Row(s.Expert, strconv.Itoa(s.Runs), strconv.Itoa(s.Entities), strconv.Itoa(s.Rejected),
			strconv.Itoa(s.Hallucinated), strconv.Itoa(s.Fallbacks), strconv.Itoa(s.Failures),
			fmt.Sprintf("%.0f", s.AvgTimeMs))
	}
	return t.String()
}

// renderExperts renders expert catalog entries.
func renderExperts(infos []expert.Info, width int) string {
	t := newTable(width, "Expert", "Domain", "Kind", "Fallback", "Description")
	for _, i := range infos {
		fallback := i.Fallback
		if fallback == "" {
			fallback = "-"
		}
		t.Row(i.Name, string(i.Domain), string(i.Kind), fallback, i.Description)
	}
	return t.String()
}
