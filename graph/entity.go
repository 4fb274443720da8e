package graph

import "time"

// EntityType is the fixed set of domain categories an expert may emit.
type EntityType string

// Entity type constants used during extraction and storage.
const (
	EntityTower       EntityType = "Tower"
	EntityCompany     EntityType = "Company"
	EntityContract    EntityType = "Contract"
	EntityEquipment   EntityType = "Equipment"
	EntityOpportunity EntityType = "Opportunity"
	EntityRisk        EntityType = "Risk"
	EntityFinancial   EntityType = "Financial"
	EntityPerson      EntityType = "Person"
	EntityDiagnosis   EntityType = "Diagnosis"
	EntityMedication  EntityType = "Medication"
)

// RelationType labels a directed edge between two entities.
type RelationType string

// Relation type constants used during extraction and storage.
const (
	RelOccupies       RelationType = "OCCUPIES"
	RelHasContract    RelationType = "HAS_CONTRACT"
	RelHasEquipment   RelationType = "HAS_EQUIPMENT"
	RelWithClient     RelationType = "WITH_CLIENT"
	RelOwnedBy        RelationType = "OWNED_BY"
	RelInstalledOn    RelationType = "INSTALLED_ON"
	RelHasOpportunity RelationType = "HAS_OPPORTUNITY"
	RelTargets        RelationType = "TARGETS"
	RelInvolves       RelationType = "INVOLVES"
	RelHasRisk        RelationType = "HAS_RISK"
	RelAffects        RelationType = "AFFECTS"
	RelPrescribedBy   RelationType = "PRESCRIBED_BY"
	RelHasDiagnosis   RelationType = "HAS_DIAGNOSIS"
	RelTakes          RelationType = "TAKES"
)

// Entity is one extracted node. IDs are caller-assigned and stable across
// experts so that the merger can recognise the same real-world thing.
type Entity struct {
	ID           string     `json:"id"`
	Type         EntityType `json:"type"`
	Name         string     `json:"name"`
	Properties   Properties `json:"properties"`
	SourceExpert string     `json:"source_expert"`
	Confidence   float64    `json:"confidence"`
	ExtractedAt  time.Time  `json:"extracted_at"`
}

// Relationship is a directed, typed edge. Endpoints need not resolve to an
// entity in the same result.
type Relationship struct {
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Type       RelationType `json:"type"`
	Properties Properties   `json:"properties,omitempty"`
	Confidence float64      `json:"confidence"`
}

// ExtractionResult is one expert's output for one document.
type ExtractionResult struct {
	ExpertName    string         `json:"expert_name"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Reasoning     string         `json:"reasoning"`
}

// Empty returns a result carrying no entities, used when an expert failed.
func Empty(expertName, reasoning string) ExtractionResult {
	return ExtractionResult{
		ExpertName:    expertName,
		Entities:      []Entity{},
		Relationships: []Relationship{},
		Reasoning:     reasoning,
	}
}
