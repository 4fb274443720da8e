// Package store persists pipeline traces. Every implementation satisfies
// trace.Store: one record per pipeline id, listed most recent first.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/goecl/trace"
)

var (
	// ErrNotFound is returned when no trace has the requested id.
	ErrNotFound = errors.New("store: trace not found")

	// ErrInvalidID is returned for ids that cannot be used as a key.
	ErrInvalidID = errors.New("store: invalid trace id")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store: closed")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

func checkID(id string) error {
	if !validID.MatchString(id) || len(id) > 200 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite stores traces in a local SQLite database.
type SQLite struct {
	db     *sql.DB
	closed atomic.Bool
}

var _ trace.Store = (*SQLite)(nil)

// New opens (or creates) a SQLite trace database at dbPath and runs pending
// migrations.
func New(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Put inserts or replaces a pipeline trace together with one row per
// expert trace.
func (s *SQLite) Put(ctx context.Context, t *trace.PipelineTrace) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkID(t.PipelineID); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pipeline_traces (
				pipeline_id, created_at, document_hash, document_length, model_used, model_version,
				threshold, total_experts, total_entities, total_entities_rejected,
				total_entities_hallucinated, total_relationships, total_time_ms, warning_count, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pipeline_id) DO UPDATE SET
				created_at = excluded.created_at,
				document_hash = excluded.document_hash,
				document_length = excluded.document_length,
				model_used = excluded.model_used,
				model_version = excluded.model_version,
				threshold = excluded.threshold,
				total_experts = excluded.total_experts,
				total_entities = excluded.total_entities,
				total_entities_rejected = excluded.total_entities_rejected,
				total_entities_hallucinated = excluded.total_entities_hallucinated,
				total_relationships = excluded.total_relationships,
				total_time_ms = excluded.total_time_ms,
				warning_count = excluded.warning_count,
				payload = excluded.payload
		`, t.PipelineID, t.Timestamp.UTC().Format(timeLayout), t.DocumentHash, t.DocumentLength,
			t.ModelUsed, t.ModelVersion, t.MinConfidenceThreshold, t.TotalExperts, t.TotalEntities,
			t.TotalEntitiesRejected, t.TotalEntitiesHallucinated, t.TotalRelationships,
			t.TotalTimeMs, len(t.Warnings), string(payload)); err != nil {
			return fmt.Errorf("inserting pipeline trace: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM extraction_traces WHERE pipeline_id = ?", t.PipelineID); err != nil {
			return fmt.Errorf("clearing expert traces: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO extraction_traces (
				trace_id, pipeline_id, position, expert_name, entities_extracted, entities_rejected,
				entities_hallucinated, relationships_extracted, avg_confidence, min_confidence,
				processing_time_ms, fallback_used, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, et := range t.ExpertTraces {
			if _, err := stmt.ExecContext(ctx, et.TraceID, t.PipelineID, i, et.ExpertName,
				et.EntitiesExtracted, et.EntitiesRejected, et.EntitiesHallucinated,
				et.RelationshipsExtracted, et.AvgConfidence, et.MinConfidence,
				et.ProcessingTimeMs, et.FallbackUsed, et.Error); err != nil {
				return fmt.Errorf("inserting expert trace %s: %w", et.TraceID, err)
			}
		}
		return nil
	})
}

// Get returns the pipeline trace with the given id.
func (s *SQLite) Get(ctx context.Context, id string) (*trace.PipelineTrace, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM pipeline_traces WHERE pipeline_id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode([]byte(payload))
}

// List returns up to limit traces, most recent first.
func (s *SQLite) List(ctx context.Context, limit int) ([]trace.PipelineTrace, error) {
	return s.query(ctx, `
		SELECT payload FROM pipeline_traces
		ORDER BY created_at DESC, pipeline_id DESC LIMIT ?`, sqliteLimit(limit))
}

// ListByDocument returns traces of runs over the document with the given
// hash, most recent first.
func (s *SQLite) ListByDocument(ctx context.Context, documentHash string, limit int) ([]trace.PipelineTrace, error) {
	return s.query(ctx, `
		SELECT payload FROM pipeline_traces WHERE document_hash = ?
		ORDER BY created_at DESC, pipeline_id DESC LIMIT ?`, documentHash, sqliteLimit(limit))
}

// ExpertStats aggregates the stored per-expert rows.
func (s *SQLite) ExpertStats(ctx context.Context) ([]ExpertStat, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT expert_name, COUNT(*), SUM(entities_extracted), SUM(entities_rejected),
			SUM(entities_hallucinated), SUM(fallback_used),
			SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END),
			AVG(processing_time_ms)
		FROM extraction_traces GROUP BY expert_name ORDER BY expert_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpertStat
	for rows.Next() {
		var st ExpertStat
		if err := rows.Scan(&st.Expert, &st.Runs, &st.Entities, &st.Rejected,
			&st.Hallucinated, &st.Fallbacks, &st.Failures, &st.AvgTimeMs); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ExpertStat summarises every stored run of one expert.
type ExpertStat struct {
	Expert       string  `json:"expert"`
	Runs         int     `json:"runs"`
	Entities     int     `json:"entities"`
	Rejected     int     `json:"rejected"`
	Hallucinated int     `json:"hallucinated"`
	Fallbacks    int     `json:"fallbacks"`
	Failures     int     `json:"failures"`
	AvgTimeMs    float64 `json:"avg_time_ms"`
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]trace.PipelineTrace, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []trace.PipelineTrace{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		t, err := decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// sqliteLimit maps "no limit" to SQLite's -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func decode(data []byte) (*trace.PipelineTrace, error) {
	var t trace.PipelineTrace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decoding trace: %w", err)
	}
	return &t, nil
}
