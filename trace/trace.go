// Package trace holds the audit records produced by an extraction run and
// the store boundary they are persisted through.
package trace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ExtractionTrace is the record of one expert's execution within a run.
// It is built by a Recorder and never modified afterwards.
type ExtractionTrace struct {
	TraceID         string    `json:"trace_id"`
	Timestamp       time.Time `json:"timestamp"`
	ExpertName      string    `json:"expert_name"`
	ModelUsed       string    `json:"model_used"`
	// ModelVersion is the model tag as configured on the backend; backends
	// expose no separate version, so it equals ModelUsed for model experts.
	ModelVersion    string    `json:"model_version"`
	PromptVersion   string    `json:"prompt_version"`
	InputTextHash   string    `json:"input_text_hash"`
	InputTextLength int       `json:"input_text_length"`

	EntitiesExtracted      int `json:"entities_extracted"`
	EntitiesRejected       int `json:"entities_rejected"`
	EntitiesHallucinated   int `json:"entities_hallucinated"`
	RelationshipsExtracted int `json:"relationships_extracted"`

	ConfidenceScores []float64 `json:"confidence_scores"`
	AvgConfidence    float64   `json:"avg_confidence"`
	MinConfidence    float64   `json:"min_confidence"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	FallbackUsed     bool      `json:"fallback_used"`
	Error            string    `json:"error,omitempty"`
	EntityNames      []string  `json:"entity_names"`
	// ValidationReasons lists "<entity id>: <reason>" for every clamped or
	// rejected-as-invalid entity, in screening order.
	ValidationReasons []string `json:"validation_reasons,omitempty"`
}

// Failed reports whether the expert ended with an error.
func (t ExtractionTrace) Failed() bool { return t.Error != "" }

// PipelineTrace aggregates every expert trace for one document run. Totals
// are always sums over ExpertTraces.
type PipelineTrace struct {
	PipelineID             string    `json:"pipeline_id"`
	Timestamp              time.Time `json:"timestamp"`
	ModelUsed              string    `json:"model_used"`
	// ModelVersion equals ModelUsed when a model expert ran and is empty
	// for pattern-only runs.
	ModelVersion           string    `json:"model_version"`
	DocumentHash           string    `json:"document_hash"`
	DocumentLength         int       `json:"document_length"`
	MinConfidenceThreshold float64   `json:"min_confidence_threshold"`

	TotalExperts              int     `json:"total_experts"`
	TotalEntities             int     `json:"total_entities"`
	TotalEntitiesRejected     int     `json:"total_entities_rejected"`
	TotalEntitiesHallucinated int     `json:"total_entities_hallucinated"`
	TotalRelationships        int     `json:"total_relationships"`
	TotalTimeMs               float64 `json:"total_time_ms"`

	ExpertTraces []ExtractionTrace `json:"expert_traces"`
	Warnings     []string          `json:"warnings"`
}

// HashText returns the first 16 hex characters of the SHA-256 of text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// NewTraceID returns a unique, time-ordered id for an expert trace.
func NewTraceID() string { return "trace_" + newID() }

// NewPipelineID returns a unique, time-ordered id for a pipeline trace.
func NewPipelineID() string { return "pipeline_" + newID() }

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Writer is the only store operation a run needs.
type Writer interface {
	Put(ctx context.Context, t *PipelineTrace) error
}

// Store is a key-value trace store keyed by PipelineID.
type Store interface {
	Writer
	// Get returns the trace with the given id.
	Get(ctx context.Context, id string) (*PipelineTrace, error)
	// List returns up to limit traces, most recent first. limit <= 0 means
	// no limit.
	List(ctx context.Context, limit int) ([]PipelineTrace, error)
	// ListByDocument returns traces whose DocumentHash matches, most recent
	// first.
	ListByDocument(ctx context.Context, documentHash string, limit int) ([]PipelineTrace, error)
	Close() error
}
