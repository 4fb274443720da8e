package expert

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunobiangulo/goecl/graph"
)

var (
	patientRe    = regexp.MustCompile(`(?m)\bPatient(?:\s+name)?[:\s]+([A-Z][\w'-]*(?: [A-Z][\w'-]*)*)`)
	medicationRe = regexp.MustCompile(`(?i)\b(?:Medication|Rx|Drug)[:\s]+([a-z][\w-]*)(?:[\s,]*(?:dosage|dose)?[:\s]*(\d+(?:\.\d+)?\s*(?:mg|mcg|g|ml|units?)))?`)
	diagnosisRe  = regexp.MustCompile(`(?i)\bICD-?10[:\s]*([A-Z]\d{2}(?:\.\d{1,4})?)\s*\(([^)]+)\)`)
	doctorRe     = regexp.MustCompile(`(?m)(?:\bDr\.|\bDoctor:|\bPrescribed by:?)\s*(?:Dr\.\s*)?([A-Z][\w'-]*(?: [A-Z][\w'-]*)*)`)
)

// HealthcareExpert reads clinical notes for patients, ICD-10 coded
// diagnoses, medications and prescribing doctors.
type HealthcareExpert struct{}

func (HealthcareExpert) Name() string { return "HealthcareExpert" }

func (x HealthcareExpert) Extract(ctx context.Context, text string, _ Context) (graph.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return graph.ExtractionResult{}, err
	}
	b := newBuilder(x.Name())

	var patients, meds, diagnoses, doctors []string

	for _, m := range patientRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		id := "patient_" + slug(name)
		if b.has(id) {
			continue
		}
		b.entity(id, graph.EntityPerson, name, 0.95, graph.Properties{"role": graph.String("patient")})
		patients = append(patients, id)
	}

	for _, m := range medicationRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		id := "medication_" + slug(name)
		if b.has(id) {
			continue
		}
		props := graph.Properties{}
		if m[2] != "" {
			props["dosage"] = graph.String(strings.TrimSpace(m[2]))
		}
		b.entity(id, graph.EntityMedication, titleWord(name), 0.90, props)
		meds = append(meds, id)
	}

	for _, m := range diagnosisRe.FindAllStringSubmatch(text, -1) {
		code := strings.ToUpper(m[1])
		desc := strings.TrimSpace(m[2])
		id := "diagnosis_" + strings.ToLower(strings.ReplaceAll(code, ".", "_"))
		if b.has(id) {
			continue
		}
		b.entity(id, graph.EntityDiagnosis, fmt.Sprintf("%s (%s)", desc, code), 0.95, graph.Properties{
			"icd10_code":  graph.String(code),
			"description": graph.String(desc),
		})
		diagnoses = append(diagnoses, id)
	}

	for _, m := range doctorRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		id := "doctor_" + slug(name)
		if b.has(id) {
			continue
		}
		b.entity(id, graph.EntityPerson, "Dr. "+name, 0.90, graph.Properties{"role": graph.String("doctor")})
		doctors = append(doctors, id)
	}

	for _, p := range patients {
		for _, m := range meds {
			b.edge(p, m, graph.RelTakes, 0.90, nil)
		}
		for _, d := range diagnoses {
			b.edge(p, d, graph.RelHasDiagnosis, 0.95, nil)
		}
		for _, d := range doctors {
			b.edge(p, d, graph.RelPrescribedBy, 0.88, nil)
		}
	}

	return b.done(fmt.Sprintf("Found %d patients, %d diagnoses, %d medications and %d doctors",
		len(patients), len(diagnoses), len(meds), len(doctors))), nil
}
