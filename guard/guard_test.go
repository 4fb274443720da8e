package guard

import (
	"strings"
	"testing"

	"github.com/brunobiangulo/goecl/graph"
)

const source = "Contract #1001 - Company: Acme. Status: Active. Tower T-204 hosts Nokia radios."

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		entity     graph.Entity
		wantValid  bool
		wantReason string
	}{
		{"grounded", graph.Entity{ID: "company_acme", Name: "Acme"}, true, ""},
		{"grounded case-insensitive", graph.Entity{ID: "e", Name: "NOKIA Radio"}, true, ""},
		{"empty id", graph.Entity{ID: "", Name: "Acme"}, false, "empty entity id"},
		{"blank id", graph.Entity{ID: "   ", Name: "Acme"}, false, "empty entity id"},
		{"empty name", graph.Entity{ID: "x", Name: ""}, false, "empty entity name"},
		{"ungrounded", graph.Entity{ID: "x", Name: "Globex Industries"}, false, "not grounded"},
		{"stoplist only is vacuous pass", graph.Entity{ID: "x", Name: "The Contract Company"}, true, ""},
		{"short words only is vacuous pass", graph.Entity{ID: "x", Name: "AB CD"}, true, ""},
		{"negative amount", graph.Entity{ID: "x", Name: "Acme",
			Properties: graph.Properties{"monthly_amount": graph.Number(-5)}}, false, "negative value for monthly_amount"},
		{"negative allowed key", graph.Entity{ID: "x", Name: "Acme",
			Properties: graph.Properties{"outstanding_amount": graph.Number(-5), "loss": graph.Int(-1)}}, true, ""},
		{"negative string ignored", graph.Entity{ID: "x", Name: "Acme",
			Properties: graph.Properties{"delta": graph.String("-5")}}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.entity, source)
			if got.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (reasons %v)", got.Valid, tt.wantValid, got.Reasons)
			}
			if tt.wantReason == "" {
				if len(got.Reasons) != 0 {
					t.Errorf("unexpected reasons %v", got.Reasons)
				}
				return
			}
			if !strings.Contains(strings.Join(got.Reasons, "|"), tt.wantReason) {
				t.Errorf("reasons %v missing %q", got.Reasons, tt.wantReason)
			}
		})
	}
}

func TestValidateEmptyFieldsIgnoreGrounding(t *testing.T) {
	// A name that is grounded does not rescue an empty id.
	got := Validate(graph.Entity{ID: "", Name: "Acme"}, source)
	if got.Valid {
		t.Fatal("empty id must be invalid regardless of grounding")
	}
	// An empty name fails even with no source to ground against.
	got = Validate(graph.Entity{ID: "x"}, "")
	if got.Valid {
		t.Fatal("empty name must be invalid with empty source")
	}
}

func TestValidateReportsEveryReason(t *testing.T) {
	e := graph.Entity{ID: "", Name: "Globex", Properties: graph.Properties{"capacity": graph.Int(-3)}}
	got := Validate(e, source)
	if len(got.Reasons) != 3 {
		t.Fatalf("reasons = %v, want 3 independent reasons", got.Reasons)
	}
}

func TestValidateSkipsGroundingWithoutSource(t *testing.T) {
	got := Validate(graph.Entity{ID: "x", Name: "Globex"}, "")
	if !got.Valid {
		t.Errorf("grounding should be skipped for empty source, got %v", got.Reasons)
	}
}

func TestCustomValidator(t *testing.T) {
	v := NewValidator([]string{"Globex"}, nil)
	if got := v.Validate(graph.Entity{ID: "x", Name: "Globex"}, source); !got.Valid {
		t.Errorf("custom stoplist not applied: %v", got.Reasons)
	}
	if got := v.Validate(graph.Entity{ID: "x", Name: "Acme", Properties: graph.Properties{"loss": graph.Int(-1)}}, source); got.Valid {
		t.Error("custom allow-list should not include loss")
	}
}

func TestFilterBoundary(t *testing.T) {
	const threshold = 0.70
	const eps = 1e-9
	in := []graph.Entity{
		{ID: "below", Confidence: threshold - eps},
		{ID: "equal", Confidence: threshold},
		{ID: "above", Confidence: threshold + eps},
		{ID: "zero", Confidence: 0},
	}
	accepted, rejected := Filter(in, threshold)
	if ids(accepted) != "equal,above" {
		t.Errorf("accepted = %s, want equal,above", ids(accepted))
	}
	if ids(rejected) != "below,zero" {
		t.Errorf("rejected = %s, want below,zero", ids(rejected))
	}
}

func TestFilterEmpty(t *testing.T) {
	accepted, rejected := Filter(nil, DefaultThreshold)
	if accepted == nil || rejected == nil {
		t.Fatal("Filter must return non-nil slices")
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in      float64
		want    float64
		clamped bool
	}{
		{0.5, 0.5, false},
		{0, 0, false},
		{1, 1, false},
		{-0.1, 0, true},
		{1.2, 1, true},
	}
	for _, tt := range tests {
		got, clamped := Clamp(tt.in)
		if got != tt.want || clamped != tt.clamped {
			t.Errorf("Clamp(%v) = %v, %v; want %v, %v", tt.in, got, clamped, tt.want, tt.clamped)
		}
	}
}

func ids(es []graph.Entity) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.ID
	}
	return strings.Join(parts, ",")
}
