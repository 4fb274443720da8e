package store

// schemaSQL is the base DDL for the SQLite trace store. Each pipeline trace
// is kept whole as JSON in payload; the extracted columns exist for listing
// and correlation queries.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipeline_traces (
    pipeline_id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    document_hash TEXT NOT NULL,
    document_length INTEGER NOT NULL,
    model_used TEXT,
    threshold REAL NOT NULL,
    total_experts INTEGER NOT NULL,
    total_entities INTEGER NOT NULL,
    total_entities_rejected INTEGER NOT NULL,
    total_entities_hallucinated INTEGER NOT NULL,
    total_relationships INTEGER NOT NULL,
    total_time_ms REAL NOT NULL,
    warning_count INTEGER NOT NULL,
    payload JSON NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_traces_created ON pipeline_traces(created_at);

-- One row per expert run, for per-expert audit queries
CREATE TABLE IF NOT EXISTS extraction_traces (
    trace_id TEXT PRIMARY KEY,
    pipeline_id TEXT NOT NULL REFERENCES pipeline_traces(pipeline_id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    expert_name TEXT NOT NULL,
    entities_extracted INTEGER NOT NULL,
    entities_rejected INTEGER NOT NULL,
    entities_hallucinated INTEGER NOT NULL,
    relationships_extracted INTEGER NOT NULL,
    avg_confidence REAL NOT NULL,
    min_confidence REAL NOT NULL,
    processing_time_ms REAL NOT NULL,
    fallback_used INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_extraction_traces_pipeline ON extraction_traces(pipeline_id);
`
