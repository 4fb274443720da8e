package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brunobiangulo/goecl/trace"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ecl_pipeline_traces (
    pipeline_id TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL,
    document_hash TEXT NOT NULL,
    total_entities INTEGER NOT NULL,
    warning_count INTEGER NOT NULL,
    payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ecl_pipeline_traces_created ON ecl_pipeline_traces(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ecl_pipeline_traces_document ON ecl_pipeline_traces(document_hash);
`

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	DialTimeout     time.Duration
}

// Postgres stores traces in a shared PostgreSQL database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ trace.Store = (*Postgres)(nil)

// NewPostgres connects, pings and ensures the schema exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "goecl"

	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(dctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(dctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	slog.Info("store: connected to postgres", "max_conns", pc.MaxConns)
	return &Postgres{pool: pool}, nil
}

// Put inserts or replaces a pipeline trace.
func (s *Postgres) Put(ctx context.Context, t *trace.PipelineTrace) error {
	if err := checkID(t.PipelineID); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO ecl_pipeline_traces (pipeline_id, created_at, document_hash, total_entities, warning_count, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pipeline_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			document_hash = EXCLUDED.document_hash,
			total_entities = EXCLUDED.total_entities,
			warning_count = EXCLUDED.warning_count,
			payload = EXCLUDED.payload
	`, t.PipelineID, t.Timestamp, t.DocumentHash, t.TotalEntities, len(t.Warnings), payload)
	if err != nil {
		return fmt.Errorf("inserting pipeline trace: %w", err)
	}
	return nil
}

// Get returns the trace with the given id.
func (s *Postgres) Get(ctx context.Context, id string) (*trace.PipelineTrace, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT payload FROM ecl_pipeline_traces WHERE pipeline_id = $1", id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decode(payload)
}

// List returns up to limit traces, most recent first.
func (s *Postgres) List(ctx context.Context, limit int) ([]trace.PipelineTrace, error) {
	return s.query(ctx, `
		SELECT payload FROM ecl_pipeline_traces
		ORDER BY created_at DESC, pipeline_id DESC LIMIT $1`, pgLimit(limit))
}

// ListByDocument returns traces for one document hash, most recent first.
func (s *Postgres) ListByDocument(ctx context.Context, documentHash string, limit int) ([]trace.PipelineTrace, error) {
	return s.query(ctx, `
		SELECT payload FROM ecl_pipeline_traces WHERE document_hash = $1
		ORDER BY created_at DESC, pipeline_id DESC LIMIT $2`, documentHash, pgLimit(limit))
}

func (s *Postgres) query(ctx context.Context, q string, args ...any) ([]trace.PipelineTrace, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []trace.PipelineTrace{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		t, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// pgLimit maps "no limit" to NULL, which Postgres treats as LIMIT ALL.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
