package expert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

// variant is the domain-specific half of a ModelExpert. prompt takes the
// context section and the document text, in that order.
type variant struct {
	system string
	prompt string
	schema map[string]any
	parse  func(raw []byte, b *builder) (reasoning string, err error)
}

var (
	schemaNumber = map[string]any{"type": []any{"number", "string", "null"}}
	schemaText   = map[string]any{"type": []any{"string", "null"}}
	schemaIdent  = map[string]any{"type": []any{"string", "number"}}
	schemaBool   = map[string]any{"type": []any{"boolean", "string", "null"}}
)

func schemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func schemaArray(item map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": item}
}

var variants = map[Domain]variant{
	DomainContract:      contractVariant,
	DomainEquipment:     equipmentVariant,
	DomainFinancialRisk: riskVariant,
	DomainOpportunity:   opportunityVariant,
	DomainHealthcare:    healthcareVariant,
}

var contractVariant = variant{
	system: `You analyse telecom tower lease documents and extract contracts and the companies that hold them.
Answer with one JSON object of the form {"contracts": [...], "companies": [...]} and nothing else.`,
	prompt: `Read the document below and list every contract and every company it mentions.

CONTRACT fields:
- contract_id: contract number or identifier
- company: tenant company name
- status: one of Active, Defaulted, Expired, Pending, Suspended
- occupancy_pct: share of the allocated capacity in use, 0-100
- monthly_revenue: monthly amount billed
- outstanding_amount: unpaid or overdue amount

COMPANY fields:
- name: company name exactly as written
- is_active: true or false

%sDOCUMENT:
%s

Respond with:
{"contracts": [{"contract_id": "", "company": "", "status": "", "occupancy_pct": 0, "monthly_revenue": 0, "outstanding_amount": 0}], "companies": [{"name": "", "is_active": true}]}`,
	schema: schemaObject(map[string]any{
		"contracts": schemaArray(schemaObject(map[string]any{
			"contract_id":        schemaIdent,
			"company":            schemaText,
			"status":             schemaText,
			"occupancy_pct":      schemaNumber,
			"monthly_revenue":    schemaNumber,
			"outstanding_amount": schemaNumber,
		}, "contract_id")),
		"companies": schemaArray(schemaObject(map[string]any{
			"name":      map[string]any{"type": "string", "minLength": 1},
			"is_active": schemaBool,
		}, "name")),
	}),
	parse: parseContracts,
}

type llmContracts struct {
	Contracts []struct {
		ContractID        flexString `json:"contract_id"`
		Company           flexString `json:"company"`
		Status            flexString `json:"status"`
		OccupancyPct      flexNumber `json:"occupancy_pct"`
		MonthlyRevenue    flexNumber `json:"monthly_revenue"`
		OutstandingAmount flexNumber `json:"outstanding_amount"`
	} `json:"contracts"`
	Companies []struct {
		Name     flexString `json:"name"`
		IsActive flexBool   `json:"is_active"`
	} `json:"companies"`
}

func parseContracts(raw []byte, b *builder) (string, error) {
	var doc llmContracts
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	for _, c := range doc.Contracts {
		id := c.ContractID.or("unknown")
		b.entity("contract_"+id, graph.EntityContract, "Contract #"+id, 0.95, graph.Properties{
			"contract_id":        graph.String(id),
			"company":            graph.String(string(c.Company)),
			"status":             graph.String(strings.ToUpper(c.Status.or("UNKNOWN"))),
			"occupancy_pct":      graph.Number(c.OccupancyPct.or(0)),
			"monthly_revenue":    graph.Number(c.MonthlyRevenue.or(0)),
			"outstanding_amount": graph.Number(c.OutstandingAmount.or(0)),
		})
	}
	for _, co := range doc.Companies {
		name := co.Name.or("Unknown")
		companyID := "company_" + slug(name)
		b.entity(companyID, graph.EntityCompany, name, 0.96, graph.Properties{
			"name":      graph.String(name),
			"is_active": graph.Bool(co.IsActive.or(true)),
		})
		for _, c := range doc.Contracts {
			if strings.EqualFold(string(c.Company), name) {
				b.edge(companyID, "contract_"+c.ContractID.or("unknown"), graph.RelHasContract, 0.95,
					graph.Properties{"status": graph.String(strings.ToUpper(string(c.Status)))})
			}
		}
	}
	return fmt.Sprintf("Extracted %d contracts and %d companies", len(doc.Contracts), len(doc.Companies)), nil
}

var equipmentVariant = variant{
	system: `You analyse telecom tower reports and drone inspection notes and extract installed equipment.
Answer with one JSON object of the form {"equipment": [...]} and nothing else.`,
	prompt: `Read the document below and list every piece of equipment it mentions.

EQUIPMENT fields:
- name: equipment name as written, e.g. "Verizon Antennas"
- equipment_type: antenna, radio, dish, panel, mounting, cable or similar
- quantity: number of units
- status: operational, inactive, damaged, rusted or degraded
- company: owning company
- drone_observation: what an inspection observed, if anything

%sDOCUMENT:
%s

Respond with:
{"equipment": [{"name": "", "equipment_type": "", "quantity": 1, "status": "", "company": "", "drone_observation": ""}]}`,
	schema: schemaObject(map[string]any{
		"equipment": schemaArray(schemaObject(map[string]any{
			"name":              schemaText,
			"equipment_type":    schemaText,
			"quantity":          schemaNumber,
			"status":            schemaText,
			"company":           schemaText,
			"drone_observation": schemaText,
		})),
	}, "equipment"),
	parse: parseEquipment,
}

type llmEquipment struct {
	Equipment []struct {
		Name             flexString `json:"name"`
		EquipmentType    flexString `json:"equipment_type"`
		Quantity         flexNumber `json:"quantity"`
		Status           flexString `json:"status"`
		Company          flexString `json:"company"`
		DroneObservation flexString `json:"drone_observation"`
	} `json:"equipment"`
}

func parseEquipment(raw []byte, b *builder) (string, error) {
	var doc llmEquipment
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	for i, eq := range doc.Equipment {
		name := eq.Name.or("Unknown Equipment")
		id := fmt.Sprintf("equipment_%s_%d", slug(name), i)
		b.entity(id, graph.EntityEquipment, name, 0.93, graph.Properties{
			"equipment_type":    graph.String(string(eq.EquipmentType)),
			"quantity":          graph.Number(eq.Quantity.or(1)),
			"status":            graph.String(eq.Status.or("unknown")),
			"company":           graph.String(string(eq.Company)),
			"drone_observation": graph.String(string(eq.DroneObservation)),
		})
		if eq.Company != "" {
			b.edge("company_"+slug(string(eq.Company)), id, graph.RelHasEquipment, 0.90, nil)
		}
	}
	return fmt.Sprintf("Extracted %d equipment items", len(doc.Equipment)), nil
}

var riskVariant = variant{
	system: `You are a financial risk analyst. Find payment defaults, arrears and revenue exposure in business documents.
Answer with one JSON object of the form {"risks": [...], "financial_summary": {...}} and nothing else.`,
	prompt: `Read the document below and list every financial risk, then summarise the exposure.

RISK fields:
- risk_type: PAYMENT_DEFAULT, LATE_PAYMENT, CONTRACT_VIOLATION or REVENUE_LOSS
- description: what the risk is
- days_overdue: days a payment is late, 0 when not applicable
- amount_outstanding: amount at risk
- severity: LOW, MEDIUM, HIGH or CRITICAL
- affected_entity: company or contract affected

FINANCIAL SUMMARY fields:
- total_annual_revenue: total revenue mentioned, annualised
- total_at_risk: total amount at risk
- risk_count: number of risks listed

%sDOCUMENT:
%s

Respond with:
{"risks": [{"risk_type": "", "description": "", "days_overdue": 0, "amount_outstanding": 0, "severity": "", "affected_entity": ""}], "financial_summary": {"total_annual_revenue": 0, "total_at_risk": 0, "risk_count": 0}}`,
	schema: schemaObject(map[string]any{
		"risks": schemaArray(schemaObject(map[string]any{
			"risk_type":          schemaText,
			"description":        schemaText,
			"days_overdue":       schemaNumber,
			"amount_outstanding": schemaNumber,
			"severity":           schemaText,
			"affected_entity":    schemaText,
		})),
		"financial_summary": map[string]any{
			"type": []any{"object", "null"},
			"properties": map[string]any{
				"total_annual_revenue": schemaNumber,
				"total_at_risk":        schemaNumber,
				"risk_count":           schemaNumber,
			},
		},
	}),
	parse: parseRisks,
}

type llmRisks struct {
	Risks []struct {
		RiskType          flexString `json:"risk_type"`
		Description       flexString `json:"description"`
		DaysOverdue       flexNumber `json:"days_overdue"`
		AmountOutstanding flexNumber `json:"amount_outstanding"`
		Severity          flexString `json:"severity"`
		AffectedEntity    flexString `json:"affected_entity"`
	} `json:"risks"`
	Summary *struct {
		TotalAnnualRevenue flexNumber `json:"total_annual_revenue"`
		TotalAtRisk        flexNumber `json:"total_at_risk"`
		RiskCount          flexNumber `json:"risk_count"`
	} `json:"financial_summary"`
}

func parseRisks(raw []byte, b *builder) (string, error) {
	var doc llmRisks
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	for i, r := range doc.Risks {
		typ := strings.ToUpper(r.RiskType.or("UNKNOWN"))
		id := fmt.Sprintf("risk_%s_%d", strings.ToLower(typ), i)
		name := fmt.Sprintf("%s #%d", humanize(typ), i+1)
		b.entity(id, graph.EntityRisk, name, 0.92, graph.Properties{
			"risk_type":          graph.String(typ),
			"description":        graph.String(string(r.Description)),
			"days_overdue":       graph.Number(r.DaysOverdue.or(0)),
			"amount_outstanding": graph.Number(r.AmountOutstanding.or(0)),
			"severity":           graph.String(strings.ToUpper(r.Severity.or("MEDIUM"))),
			"affected_entity":    graph.String(string(r.AffectedEntity)),
		})
		if r.AffectedEntity != "" {
			b.edge(id, "company_"+slug(string(r.AffectedEntity)), graph.RelAffects, 0.85, nil)
		}
	}
	var atRisk float64
	if s := doc.Summary; s != nil {
		atRisk = s.TotalAtRisk.or(0)
		b.entity("financial_exposure_summary", graph.EntityFinancial, "Revenue Exposure Summary", 0.90, graph.Properties{
			"total_annual_revenue": graph.Number(s.TotalAnnualRevenue.or(0)),
			"total_at_risk":        graph.Number(atRisk),
			"risk_count":           graph.Number(s.RiskCount.or(float64(len(doc.Risks)))),
		})
	}
	return fmt.Sprintf("Detected %d financial risks, $%.2f at risk", len(doc.Risks), atRisk), nil
}

// humanize turns "PAYMENT_DEFAULT" into "Payment Default".
func humanize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

var opportunityVariant = variant{
	system: `You are a business development analyst for telecom tower portfolios. Find actions that earn revenue or reduce risk: upsell, cross-sell, maintenance and equipment removal.
Reason step by step, then answer with one JSON object of the form {"opportunities": [...]} and nothing else.`,
	prompt: `Read the document below and list every business opportunity.

Opportunity types:
- UPSELL: a tenant using less than its full capacity
- CROSS_SELL: a new service that could be offered
- EQUIPMENT_REMOVAL: hardware left by a defaulted or departed tenant
- MAINTENANCE: rust, damage or other safety issues
- CONTRACT_RENEWAL: a contract close to expiry

OPPORTUNITY fields:
- opportunity_type: one of the types above
- name: short name that reuses words from the document
- description: what should happen
- company: company involved
- potential_revenue: estimated monthly revenue impact
- priority: LOW, MEDIUM, HIGH or CRITICAL
- reasoning: why this is an opportunity

%sDOCUMENT:
%s

Respond with:
{"opportunities": [{"opportunity_type": "", "name": "", "description": "", "company": "", "potential_revenue": 0, "priority": "", "reasoning": ""}]}`,
	schema: schemaObject(map[string]any{
		"opportunities": schemaArray(schemaObject(map[string]any{
			"opportunity_type":  schemaText,
			"name":              schemaText,
			"description":       schemaText,
			"company":           schemaText,
			"potential_revenue": schemaNumber,
			"priority":          schemaText,
			"reasoning":         schemaText,
		})),
	}, "opportunities"),
	parse: parseOpportunities,
}

type llmOpportunities struct {
	Opportunities []struct {
		OpportunityType  flexString `json:"opportunity_type"`
		Name             flexString `json:"name"`
		Description      flexString `json:"description"`
		Company          flexString `json:"company"`
		PotentialRevenue flexNumber `json:"potential_revenue"`
		Priority         flexString `json:"priority"`
		Reasoning        flexString `json:"reasoning"`
	} `json:"opportunities"`
}

func parseOpportunities(raw []byte, b *builder) (string, error) {
	var doc llmOpportunities
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	for i, o := range doc.Opportunities {
		typ := strings.ToUpper(o.OpportunityType.or("UNKNOWN"))
		id := fmt.Sprintf("opportunity_%s_%d", strings.ToLower(typ), i)
		b.entity(id, graph.EntityOpportunity, o.Name.or(fmt.Sprintf("Opportunity #%d", i+1)), 0.94, graph.Properties{
			"opportunity_type":          graph.String(typ),
			"description":               graph.String(string(o.Description)),
			"company":                   graph.String(string(o.Company)),
			"potential_monthly_revenue": graph.Number(o.PotentialRevenue.or(0)),
			"priority":                  graph.String(strings.ToUpper(o.Priority.or("MEDIUM"))),
			"reasoning":                 graph.String(string(o.Reasoning)),
		})
		if o.Company != "" {
			b.edge(id, "company_"+slug(string(o.Company)), graph.RelTargets, 0.90, nil)
		}
	}
	return fmt.Sprintf("Identified %d business opportunities", len(doc.Opportunities)), nil
}

var healthcareVariant = variant{
	system: `You extract clinical entities from medical notes: patients, diagnoses, medications and doctors.
Answer with one JSON object of the form {"patients": [...], "diagnoses": [...], "medications": [...], "doctors": [...]} and nothing else.`,
	prompt: `Read the clinical note below and list every medical entity.

PATIENT fields: name (full name), dob (date of birth if present)
DIAGNOSIS fields: icd10_code (e.g. E11.9), description
MEDICATION fields: name, dosage (e.g. "500mg")
DOCTOR fields: name, including the "Dr." prefix

%sCLINICAL NOTE:
%s

Respond with:
{"patients": [{"name": "", "dob": ""}], "diagnoses": [{"icd10_code": "", "description": ""}], "medications": [{"name": "", "dosage": ""}], "doctors": [{"name": ""}]}`,
	schema: schemaObject(map[string]any{
		"patients": schemaArray(schemaObject(map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
			"dob":  schemaText,
		}, "name")),
		"diagnoses": schemaArray(schemaObject(map[string]any{
			"icd10_code":  map[string]any{"type": "string", "minLength": 1},
			"description": schemaText,
		}, "icd10_code")),
		"medications": schemaArray(schemaObject(map[string]any{
			"name":   map[string]any{"type": "string", "minLength": 1},
			"dosage": schemaText,
		}, "name")),
		"doctors": schemaArray(schemaObject(map[string]any{
			"name": map[string]any{"type": "string", "minLength": 1},
		}, "name")),
	}),
	parse: parseClinical,
}

type llmClinical struct {
	Patients []struct {
		Name flexString `json:"name"`
		DOB  flexString `json:"dob"`
	} `json:"patients"`
	Diagnoses []struct {
		Code        flexString `json:"icd10_code"`
		Description flexString `json:"description"`
	} `json:"diagnoses"`
	Medications []struct {
		Name   flexString `json:"name"`
		Dosage flexString `json:"dosage"`
	} `json:"medications"`
	Doctors []struct {
		Name flexString `json:"name"`
	} `json:"doctors"`
}

func parseClinical(raw []byte, b *builder) (string, error) {
	var doc llmClinical
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	var patients []string
	for _, p := range doc.Patients {
		id := "patient_" + slug(string(p.Name))
		patients = append(patients, id)
		b.entity(id, graph.EntityPerson, string(p.Name), 0.97, graph.Properties{
			"role": graph.String("patient"),
			"dob":  graph.String(string(p.DOB)),
		})
	}
	link := func(target string, typ graph.RelationType, conf float64) {
		for _, p := range patients {
			b.edge(p, target, typ, conf, nil)
		}
	}
	for _, d := range doc.Diagnoses {
		code := strings.ToUpper(string(d.Code))
		id := "diagnosis_" + strings.ToLower(strings.ReplaceAll(code, ".", "_"))
		b.entity(id, graph.EntityDiagnosis, fmt.Sprintf("%s (%s)", d.Description, code), 0.96, graph.Properties{
			"icd10_code":  graph.String(code),
			"description": graph.String(string(d.Description)),
		})
		link(id, graph.RelHasDiagnosis, 0.95)
	}
	for _, m := range doc.Medications {
		id := "medication_" + slug(string(m.Name))
		b.entity(id, graph.EntityMedication, string(m.Name), 0.95, graph.Properties{
			"dosage": graph.String(string(m.Dosage)),
		})
		link(id, graph.RelTakes, 0.94)
	}
	for _, d := range doc.Doctors {
		bare := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(string(d.Name), "Dr."), "Dr "))
		id := "doctor_" + slug(bare)
		b.entity(id, graph.EntityPerson, "Dr. "+bare, 0.94, graph.Properties{"role": graph.String("doctor")})
		link(id, graph.RelPrescribedBy, 0.93)
	}
	return fmt.Sprintf("Extracted %d patients, %d diagnoses, %d medications and %d doctors",
		len(doc.Patients), len(doc.Diagnoses), len(doc.Medications), len(doc.Doctors)), nil
}
