package stats

const SchemaVersion = 1

const schemaSQL = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);

-- One row per generation run
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    input TEXT NOT NULL,
    output TEXT NOT NULL,
    variants INTEGER NOT NULL,
    mode TEXT NOT NULL,
    features INTEGER DEFAULT 0,
    plugins INTEGER DEFAULT 0,
    preparation_ms INTEGER DEFAULT 0,
    elapsed_ms INTEGER DEFAULT 0,
    state TEXT NOT NULL,
    error_message TEXT
);

-- One row per materialized variant
CREATE TABLE IF NOT EXISTS variants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    name TEXT NOT NULL,
    features INTEGER NOT NULL,
    plugins INTEGER NOT NULL,
    milliseconds INTEGER NOT NULL,
    errors INTEGER DEFAULT 0,
    UNIQUE(run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_variants_run ON variants(run_id);
`
