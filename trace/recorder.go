package trace

import (
	"time"
	"unicode/utf8"

	"github.com/brunobiangulo/goecl/graph"
)

// Recorder accumulates the facts about one expert invocation and produces
// its ExtractionTrace on Finish.
type Recorder struct {
	t     ExtractionTrace
	start time.Time
	done  bool
}

// Start opens a recorder for expertName over text, stamping the start time.
func Start(expertName, text string) *Recorder {
	now := time.Now()
	return &Recorder{
		start: now,
		t: ExtractionTrace{
			TraceID:         NewTraceID(),
			Timestamp:       now.UTC(),
			ExpertName:      expertName,
			InputTextHash:   HashText(text),
			InputTextLength: utf8.RuneCountInString(text),
		},
	}
}

// Model records the backend model and prompt version used.
func (r *Recorder) Model(model, promptVersion string) {
	r.t.ModelUsed = model
	r.t.ModelVersion = model
	r.t.PromptVersion = promptVersion
}

// Fallback marks that the secondary expert's result was used.
func (r *Recorder) Fallback() { r.t.FallbackUsed = true }

// Fail records err on the trace. Later calls do not overwrite the first.
func (r *Recorder) Fail(err error) {
	if err != nil && r.t.Error == "" {
		r.t.Error = err.Error()
	}
}

// Outcome is what the gate decided for one expert's result.
type Outcome struct {
	Accepted      []graph.Entity
	Rejected      int
	Hallucinated  int
	Relationships int
	// Reasons are validation notes recorded during screening.
	Reasons []string
}

// Finish stamps timing and counts and returns the completed trace.
// Confidence statistics cover accepted entities only and are 0 when none
// were accepted. Calling Finish twice returns the first result.
func (r *Recorder) Finish(o Outcome) ExtractionTrace {
	if r.done {
		return r.snapshot()
	}
	r.done = true

	r.t.ProcessingTimeMs = float64(time.Since(r.start).Microseconds()) / 1000
	r.t.EntitiesExtracted = len(o.Accepted)
	r.t.EntitiesRejected = o.Rejected
	r.t.EntitiesHallucinated = o.Hallucinated
	r.t.RelationshipsExtracted = o.Relationships
	r.t.ValidationReasons = append([]string(nil), o.Reasons...)

	r.t.ConfidenceScores = make([]float64, 0, len(o.Accepted))
	r.t.EntityNames = make([]string, 0, len(o.Accepted))
	for _, e := range o.Accepted {
		r.t.ConfidenceScores = append(r.t.ConfidenceScores, e.Confidence)
		r.t.EntityNames = append(r.t.EntityNames, e.Name)
	}
	r.t.AvgConfidence, r.t.MinConfidence = confidenceStats(r.t.ConfidenceScores)
	return r.snapshot()
}

func (r *Recorder) snapshot() ExtractionTrace {
	out := r.t
	out.ConfidenceScores = append([]float64{}, r.t.ConfidenceScores...)
	out.EntityNames = append([]string{}, r.t.EntityNames...)
	out.ValidationReasons = append([]string(nil), r.t.ValidationReasons...)
	return out
}

func confidenceStats(scores []float64) (avg, minimum float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	sum := 0.0
	minimum = scores[0]
	for _, s := range scores {
		sum += s
		minimum = min(minimum, s)
	}
	return sum / float64(len(scores)), minimum
}

// NewPipeline creates the trace for a run that is about to start.
func NewPipeline(text string, experts int, threshold float64) *PipelineTrace {
	return &PipelineTrace{
		PipelineID:             NewPipelineID(),
		Timestamp:              time.Now().UTC(),
		DocumentHash:           HashText(text),
		DocumentLength:         utf8.RuneCountInString(text),
		MinConfidenceThreshold: threshold,
		TotalExperts:           experts,
		ExpertTraces:           []ExtractionTrace{},
		Warnings:               []string{},
	}
}

// Aggregate attaches the child traces and warnings in the given order and
// computes every total by summing the children.
func (p *PipelineTrace) Aggregate(children []ExtractionTrace, warnings []string, elapsed time.Duration) {
	p.ExpertTraces = append([]ExtractionTrace{}, children...)
	p.Warnings = append([]string{}, warnings...)
	p.TotalTimeMs = float64(elapsed.Microseconds()) / 1000

	p.TotalEntities, p.TotalEntitiesRejected, p.TotalEntitiesHallucinated, p.TotalRelationships = 0, 0, 0, 0
	for _, c := range children {
		p.TotalEntities += c.EntitiesExtracted
		p.TotalEntitiesRejected += c.EntitiesRejected
		p.TotalEntitiesHallucinated += c.EntitiesHallucinated
		p.TotalRelationships += c.RelationshipsExtracted
	}
}

// Consistent reports whether every total equals the sum over ExpertTraces.
func (p *PipelineTrace) Consistent() bool {
	var ents, rej, hal, rels int
	for _, c := range p.ExpertTraces {
		ents += c.EntitiesExtracted
		rej += c.EntitiesRejected
		hal += c.EntitiesHallucinated
		rels += c.RelationshipsExtracted
	}
	return ents == p.TotalEntities && rej == p.TotalEntitiesRejected &&
		hal == p.TotalEntitiesHallucinated && rels == p.TotalRelationships
}

// FallbackCount returns how many experts used their fallback.
func (p *PipelineTrace) FallbackCount() int {
	n := 0
	for _, c := range p.ExpertTraces {
		if c.FallbackUsed {
			n++
		}
	}
	return n
}
