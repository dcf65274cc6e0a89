// Package stats keeps a SQLite history of generation runs and the statistics
// line of every variant they produced.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"varforge/internal/generator"
	"varforge/internal/variant"
)

var ErrNoActiveRun = errors.New("stats: no active run")

// Run is one row of the history.
type Run struct {
	ID          int64         `yaml:"id"`
	Started     time.Time     `yaml:"started"`
	Input       string        `yaml:"input"`
	Output      string        `yaml:"output"`
	Variants    int           `yaml:"variants"`
	Mode        string        `yaml:"mode"`
	Features    int           `yaml:"features"`
	Plugins     int           `yaml:"plugins"`
	Preparation time.Duration `yaml:"preparation"`
	Elapsed     time.Duration `yaml:"elapsed"`
	State       string        `yaml:"state"`
	Err         string        `yaml:"error,omitempty"`
}

// VariantRow is the stored statistics line of one variant.
type VariantRow struct {
	Index        int    `yaml:"index"`
	Name         string `yaml:"name"`
	Features     int    `yaml:"features"`
	Plugins      int    `yaml:"plugins"`
	Milliseconds int64  `yaml:"milliseconds"`
	Errors       int    `yaml:"errors,omitempty"`
}

// Store records runs. It implements generator.Recorder and generator.RunHook;
// one Store tracks a single active run at a time.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	current int64
}

var (
	_ generator.Recorder = (*Store)(nil)
	_ generator.RunHook  = (*Store)(nil)
)

// Open opens (or creates) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("stats: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("stats: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: ping: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("stats: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	var clean []string
	for _, line := range strings.Split(schemaSQL, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			clean = append(clean, line)
		}
	}
	if _, err := s.db.Exec(strings.Join(clean, "\n")); err != nil {
		return fmt.Errorf("stats: execute schema: %w", err)
	}
	_, _ = s.db.Exec(`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion)
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts a run row and makes it the target of Record.
func (s *Store) BeginRun(ctx context.Context, sum generator.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (started_at, input, output, variants, mode, state)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sum.Started.UTC().Format(time.RFC3339Nano), sum.Input, sum.Output, sum.Variants, sum.Mode, sum.State)
	if err != nil {
		return fmt.Errorf("stats: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("stats: run id: %w", err)
	}
	s.current = id
	return nil
}

// Record stores the statistics line of one variant of the active run.
func (s *Store) Record(ctx context.Context, r variant.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == 0 {
		return ErrNoActiveRun
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO variants (run_id, idx, name, features, plugins, milliseconds, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			name = excluded.name,
			features = excluded.features,
			plugins = excluded.plugins,
			milliseconds = excluded.milliseconds,
			errors = excluded.errors
	`, s.current, r.Variant.Index, r.Variant.Name, len(r.Variant.Features), len(r.Variant.Components),
		r.Elapsed.Milliseconds(), len(r.Errors))
	if err != nil {
		return fmt.Errorf("stats: insert variant: %w", err)
	}
	return nil
}

// EndRun writes the final totals of the active run and detaches it.
func (s *Store) EndRun(ctx context.Context, sum generator.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == 0 {
		return ErrNoActiveRun
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			features = ?, plugins = ?, preparation_ms = ?, elapsed_ms = ?,
			mode = ?, state = ?, error_message = ?
		WHERE id = ?
	`, sum.Features, sum.Plugins, sum.Preparation.Milliseconds(), sum.Elapsed.Milliseconds(),
		sum.Mode, sum.State, nullString(sum.Err), s.current)
	if err != nil {
		return fmt.Errorf("stats: update run: %w", err)
	}
	s.current = 0
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, started_at, input, output, variants, mode, features, plugins,
			preparation_ms, elapsed_ms, state, error_message
		FROM runs ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var prep, elapsed int64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &started, &r.Input, &r.Output, &r.Variants, &r.Mode,
			&r.Features, &r.Plugins, &prep, &elapsed, &r.State, &errMsg); err != nil {
			return nil, fmt.Errorf("stats: scan run: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.Started = t
		}
		r.Preparation = time.Duration(prep) * time.Millisecond
		r.Elapsed = time.Duration(elapsed) * time.Millisecond
		if errMsg.Valid {
			r.Err = errMsg.String
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Variants returns the stored lines of run id in variant order.
func (s *Store) Variants(ctx context.Context, runID int64) ([]VariantRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, name, features, plugins, milliseconds, errors
		FROM variants WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("stats: list variants: %w", err)
	}
	defer rows.Close()

	var out []VariantRow
	for rows.Next() {
		var v VariantRow
		if err := rows.Scan(&v.Index, &v.Name, &v.Features, &v.Plugins, &v.Milliseconds, &v.Errors); err != nil {
			return nil, fmt.Errorf("stats: scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
