package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Categories used by the built-in dataset.
const (
	CategoryContract  = "contract"
	CategoryEquipment = "equipment"
	CategoryRisk      = "financial-risk"
	CategoryMixed     = "mixed"
)

// Dataset is a collection of labelled documents.
type Dataset struct {
	Name  string `json:"name"`
	Cases []Case `json:"cases"`
}

// Case is one document with the entity ids a correct extraction accepts.
type Case struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Document string `json:"document"`

	// Experts restricts the run. Empty runs every enabled expert.
	Experts []string       `json:"experts,omitempty"`
	Context map[string]any `json:"context,omitempty"`

	// Expected lists every entity id the merged graph should contain.
	Expected []string `json:"expected"`
	// Forbidden lists ids whose presence fails the case regardless of recall.
	Forbidden []string `json:"forbidden,omitempty"`
}

// Validate reports structural problems in d.
func (d Dataset) Validate() error {
	if len(d.Cases) == 0 {
		return errors.New("eval: dataset has no cases")
	}
	var errs []error
	for i, c := range d.Cases {
		if c.Document == "" {
			errs = append(errs, fmt.Errorf("case %d (%s): empty document", i, c.Name))
		}
		if len(c.Expected) == 0 && len(c.Forbidden) == 0 {
			errs = append(errs, fmt.Errorf("case %d (%s): no expected or forbidden ids", i, c.Name))
		}
	}
	return errors.Join(errs...)
}

// LoadDataset reads a JSON dataset file.
func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, err
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return Dataset{}, fmt.Errorf("eval: decoding %s: %w", path, err)
	}
	if d.Name == "" {
		d.Name = path
	}
	return d, d.Validate()
}

// TowerDataset returns labelled tower lease and inspection snippets, one per
// pattern expert plus a mixed document.
func TowerDataset() Dataset {
	return Dataset{
		Name: "Tower leases",
		Cases: []Case{
			{
				Name:     "single active contract",
				Category: CategoryContract,
				Document: "Tower ATL-001\nContract #1001 - Company: Acme. Status: Active.",
				Experts:  []string{"ContractExpert"},
				Expected: []string{"tower_atl-001", "contract_1001", "company_acme"},
			},
			{
				Name:     "defaulted tenant",
				Category: CategoryRisk,
				Document: "Contract #5002 - Company: Sprint. Status: Defaulted.\nSprint outstanding: $12,000, 95 days overdue",
				Experts:  []string{"FinancialRiskExpert"},
				Expected: []string{"risk_payment_default_0", "risk_payment_default_1"},
			},
			{
				Name:      "equipment on one tower",
				Category:  CategoryEquipment,
				Document:  "Tower ATL-001\nEquipment: antenna panels\nCondition: rusted",
				Experts:   []string{"EquipmentExpert"},
				Expected:  []string{"equipment_antenna_panels_0"},
				Forbidden: []string{"tower_atl-001"},
			},
			{
				Name:     "lease summary",
				Category: CategoryMixed,
				Document: "Tower ATL-001\n" +
					"Contract #5001 - Company: Verizon. Status: Active.\n" +
					"Contract #5002 - Company: Sprint. Status: Defaulted.\n" +
					"Sprint outstanding: $12,000, 95 days overdue",
				Experts: []string{"ContractExpert", "FinancialRiskExpert"},
				Expected: []string{
					"tower_atl-001", "contract_5001", "contract_5002", "company_verizon", "company_sprint",
					"risk_payment_default_0", "risk_payment_default_1",
				},
			},
		},
	}
}
