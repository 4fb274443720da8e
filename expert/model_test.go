package expert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/goecl/llm"
)

type fakeProvider struct {
	content string
	err     error
	calls   int
	last    llm.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.content}, nil
}

func (f *fakeProvider) Model() string { return "fake-model" }

func newModel(t *testing.T, d Domain, p llm.Provider) *ModelExpert {
	t.Helper()
	m, err := NewModelExpert(d, p, nil)
	if err != nil {
		t.Fatalf("NewModelExpert(%s): %v", d, err)
	}
	return m
}

func TestModelExpertContract(t *testing.T) {
	p := &fakeProvider{content: "Here you go:\n```json\n" +
		`{"contracts":[{"contract_id":1001,"company":"Acme","status":"active","monthly_revenue":"2,500"}],` +
		`"companies":[{"name":"Acme","is_active":"yes"}]}` + "\n```"}
	m := newModel(t, DomainContract, p)

	a := m.Attempt(context.Background(), "Contract #1001 - Company: Acme. Status: Active.", Context{})
	if a.Outcome != Success {
		t.Fatalf("outcome = %s (%v), want success", a.Outcome, a.Err)
	}
	res := a.Result
	if res.ExpertName != "LLMContractExpert" {
		t.Errorf("ExpertName = %q", res.ExpertName)
	}
	if !strings.HasPrefix(res.Reasoning, "[LLM] ") {
		t.Errorf("reasoning = %q, want [LLM] prefix", res.Reasoning)
	}

	c := entityByID(t, res, "contract_1001")
	if c.Confidence != 0.95 {
		t.Errorf("contract confidence = %v", c.Confidence)
	}
	if got := strProp(t, c, "status"); got != "ACTIVE" {
		t.Errorf("status = %q", got)
	}
	if got := numProp(t, c, "monthly_revenue"); got != 2500 {
		t.Errorf("monthly_revenue = %v", got)
	}
	if got := strProp(t, c, PropModelVersion); got != "fake-model" {
		t.Errorf("%s = %q", PropModelVersion, got)
	}
	if got := strProp(t, c, PropPromptVersion); got != "v1.0.0" {
		t.Errorf("%s = %q", PropPromptVersion, got)
	}
	if got := strProp(t, c, PropExtractedBy); got != "LLMContractExpert" {
		t.Errorf("%s = %q", PropExtractedBy, got)
	}

	co := entityByID(t, res, "company_acme")
	if b, ok := co.Properties["is_active"].Truth(); !ok || !b {
		t.Errorf("is_active = %v", co.Properties["is_active"])
	}
	if len(res.Relationships) != 1 || res.Relationships[0].SourceID != "company_acme" {
		t.Errorf("relationships = %+v", res.Relationships)
	}

	if p.last.ResponseFormat != "json_object" || len(p.last.Messages) != 2 || p.last.Messages[0].Role != "system" {
		t.Errorf("unexpected request shape: %+v", p.last)
	}
}

func TestModelExpertOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		want    Outcome
	}{
		{"transport error", "", errors.New("connection refused"), NeedsFallback},
		{"empty content", "   ", nil, NeedsFallback},
		{"no json", "I could not find anything.", nil, NeedsFallback},
		{"undecodable json", "{not json", nil, NeedsFallback},
		{"wrong shape", `{"contracts":"none"}`, nil, Fatal},
		{"missing required id", `{"contracts":[{"company":"Acme"}]}`, nil, Fatal},
		{"empty lists", `{"contracts":[],"companies":[]}`, nil, Success},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, DomainContract, &fakeProvider{content: tt.content, err: tt.err})
			a := m.Attempt(context.Background(), "text", Context{})
			if a.Outcome != tt.want {
				t.Fatalf("outcome = %s (%v), want %s", a.Outcome, a.Err, tt.want)
			}
			if tt.want != Success {
				if a.Err == nil {
					t.Error("failed attempt must carry an error")
				}
				if len(a.Result.Entities) != 0 || a.Result.Reasoning == "" {
					t.Errorf("failed attempt result = %+v", a.Result)
				}
			}
		})
	}
}

func TestModelExpertExtractReportsFailure(t *testing.T) {
	m := newModel(t, DomainEquipment, &fakeProvider{content: ""})
	_, err := m.Extract(context.Background(), "text", Context{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("Extract error = %v, want ErrEmptyResponse", err)
	}
}

func TestModelExpertVariants(t *testing.T) {
	tests := []struct {
		domain  Domain
		content string
		ids     []string
	}{
		{DomainEquipment,
			`{"equipment":[{"name":"Verizon Antennas","equipment_type":"antenna","quantity":"12","status":"rusted","company":"Verizon"}]}`,
			[]string{"equipment_verizon_antennas_0"}},
		{DomainFinancialRisk,
			`{"risks":[{"risk_type":"payment_default","days_overdue":90,"amount_outstanding":"$12,000","affected_entity":"Acme"}],"financial_summary":{"total_at_risk":12000}}`,
			[]string{"risk_payment_default_0", "financial_exposure_summary"}},
		{DomainOpportunity,
			`{"opportunities":[{"opportunity_type":"UPSELL","name":"Verizon capacity","company":"Verizon","potential_revenue":800}]}`,
			[]string{"opportunity_upsell_0"}},
		{DomainHealthcare,
			`{"patients":[{"name":"John Smith"}],"diagnoses":[{"icd10_code":"E11.9","description":"Type 2 diabetes"}],"medications":[{"name":"Metformin","dosage":"500mg"}],"doctors":[{"name":"Dr. Sarah Chen"}]}`,
			[]string{"patient_john_smith", "diagnosis_e11_9", "medication_metformin", "doctor_sarah_chen"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.domain), func(t *testing.T) {
			m := newModel(t, tt.domain, &fakeProvider{content: tt.content})
			a := m.Attempt(context.Background(), "text", Context{})
			if a.Outcome != Success {
				t.Fatalf("outcome = %s (%v)", a.Outcome, a.Err)
			}
			if len(a.Result.Entities) != len(tt.ids) {
				t.Fatalf("entities = %d, want %d", len(a.Result.Entities), len(tt.ids))
			}
			for _, id := range tt.ids {
				e := entityByID(t, a.Result, id)
				if _, ok := e.Properties[PropExtractedBy]; !ok {
					t.Errorf("%s missing %s", id, PropExtractedBy)
				}
			}
		})
	}
}

func TestModelExpertRiskNameIsReadable(t *testing.T) {
	m := newModel(t, DomainFinancialRisk, &fakeProvider{content: `{"risks":[{"risk_type":"PAYMENT_DEFAULT"}]}`})
	a := m.Attempt(context.Background(), "text", Context{})
	if got := entityByID(t, a.Result, "risk_payment_default_0").Name; got != "Payment Default #1" {
		t.Errorf("name = %q, want Payment Default #1", got)
	}
}

func TestModelExpertPromptCarriesContext(t *testing.T) {
	p := &fakeProvider{content: `{"equipment":[]}`}
	m := newModel(t, DomainEquipment, p)
	ectx := NewContext(map[string]any{"site": "T-101", "ignored": 42})
	m.Attempt(context.Background(), "the document", ectx)

	user := p.last.Messages[1].Content
	if !strings.Contains(user, "KNOWN CONTEXT:\n- site: T-101\n") {
		t.Errorf("context section missing:\n%s", user)
	}
	if strings.Contains(user, "ignored") {
		t.Error("non-string context values must not be rendered")
	}
	if !strings.Contains(user, "the document") {
		t.Error("document text missing from prompt")
	}
}

func TestModelExpertCustomPromptVersion(t *testing.T) {
	prompts := DefaultPrompts().With(map[string]string{"LLMContractExpert.extraction": "v2.1.0"})
	m, err := NewModelExpert(DomainContract, &fakeProvider{content: `{"contracts":[{"contract_id":"7"}]}`}, prompts)
	if err != nil {
		t.Fatal(err)
	}
	if m.PromptVersion() != "v2.1.0" {
		t.Errorf("PromptVersion = %q", m.PromptVersion())
	}
	a := m.Attempt(context.Background(), "text", Context{})
	if got := strProp(t, entityByID(t, a.Result, "contract_7"), PropPromptVersion); got != "v2.1.0" {
		t.Errorf("stamped prompt version = %q", got)
	}
	if m.Fallback().Name() != "ContractExpert" {
		t.Errorf("Fallback = %s", m.Fallback().Name())
	}
}
