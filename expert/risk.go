package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

var (
	paymentIssueRe  = regexp.MustCompile(`(?i)\b(defaulted|default|arrears|overdue|delinquent)\b`)
	daysRe          = regexp.MustCompile(`(?i)(\d+)\s*days?`)
	amountRe        = regexp.MustCompile(`\$\s*([\d,]+(?:\.\d{1,2})?)`)
	annualRevenueRe = regexp.MustCompile(`(?i)(annual|yearly|monthly)\s*(?:revenue|value|rent)[:\s]*\$?\s*([\d,]+(?:\.\d+)?)`)
)

// highSeverityDays is the overdue age beyond which a default counts as HIGH.
const highSeverityDays = 60

// FinancialRiskExpert flags payment problems and sums revenue exposure.
type FinancialRiskExpert struct{}

func (FinancialRiskExpert) Name() string { return "FinancialRiskExpert" }

func (x FinancialRiskExpert) Extract(ctx context.Context, text string, _ Context) (graph.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.ExtractionResult{}, err
	}
	b := newBuilder(x.Name())

	var issues []string
	for _, line := range strings.Split(text, "\n") {
		m := paymentIssueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		issues = append(issues, line)
		i := len(issues) - 1

		props := graph.Properties{
			"risk_type":          graph.String("PAYMENT_DEFAULT"),
			"severity":           graph.String("MEDIUM"),
			"amount_outstanding": graph.String("unknown"),
		}
		if d := daysRe.FindStringSubmatch(line); d != nil {
			days, _ := parseAmount(d[1])
			props["days_overdue"] = graph.Number(days)
			if days > highSeverityDays {
				props["severity"] = graph.String("HIGH")
			}
		}
		if a := amountRe.FindStringSubmatch(line); a != nil {
			if v, ok := parseAmount(a[1]); ok {
				props["amount_outstanding"] = graph.Number(v)
			}
		}
		name := fmt.Sprintf("Payment %s Risk #%d", titleWord(m[1]), i+1)
		b.entity(fmt.Sprintf("risk_payment_default_%d", i), graph.EntityRisk, name, 0.90, props)
	}
	for i := range b.res.Entities {
		b.res.Entities[i].Properties["payment_issues_count"] = graph.Int(len(issues))
	}

	var total float64
	for _, m := range annualRevenueRe.FindAllStringSubmatch(text, -1) {
		v, ok := parseAmount(m[2])
		if !ok {
			continue
		}
		if strings.EqualFold(m[1], "monthly") {
			v *= 12
		}
		total += v
	}
	if total > 0 {
		b.entity("financial_exposure_summary", graph.EntityFinancial, "Revenue Exposure Summary", 0.85, graph.Properties{
			"total_annual_exposure": graph.Number(total),
			"risk_factors":          graph.Int(len(issues)),
		})
		for i := range issues {
			b.edge("financial_exposure_summary", fmt.Sprintf("risk_payment_default_%d", i), graph.RelAffects, 0.80, nil)
		}
	}

	return b.done(fmt.Sprintf("Identified %d payment issues; annual exposure %.2f", len(issues), total)), nil
}
