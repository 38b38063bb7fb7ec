// Package report keeps a SQLite log of weaving runs so that builds can be
// compared over time.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/loom/diag"
	"github.com/chazu/loom/rules"
	"github.com/chazu/loom/weaver"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	module      TEXT NOT NULL,
	mvid        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	types       INTEGER NOT NULL,
	woven       INTEGER NOT NULL,
	fields      INTEGER NOT NULL,
	created     INTEGER NOT NULL,
	errors      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	diagnostics JSON NOT NULL
);
CREATE TABLE IF NOT EXISTS injections (
	run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	type_name  TEXT NOT NULL,
	field      TEXT NOT NULL,
	method     TEXT NOT NULL,
	directive  TEXT NOT NULL,
	collection INTEGER NOT NULL,
	call       TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS runs_by_module ON runs(module, started_at);
`

// Run is one recorded weaving run.
type Run struct {
	ID          string
	Module      string
	MVID        string
	StartedAt   time.Time
	Duration    time.Duration
	Summary     weaver.Summary
	Diagnostics []diag.Diagnostic
	Failed      bool
}

// Errors returns the number of error diagnostics.
func (r *Run) Errors() int {
	return diag.Count(r.Diagnostics, diag.Error)
}

// Store is a run log backed by a SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the log at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating report directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores run and its injections in one transaction. A run without
// an ID is given a fresh one, which is written back.
func (s *Store) Record(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	diags, err := json.Marshal(run.Diagnostics)
	if err != nil {
		return fmt.Errorf("encoding diagnostics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	sum := run.Summary
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, module, mvid, started_at, duration_us, types, woven, fields, created, errors, failed, diagnostics)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, json(?))`,
		run.ID, run.Module, run.MVID, run.StartedAt.UnixMicro(), run.Duration.Microseconds(),
		sum.Types, sum.Woven, sum.Fields, sum.Created, run.Errors(), run.Failed, string(diags),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	for i, inj := range sum.Injections {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO injections (run_id, seq, type_name, field, method, directive, collection, call)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, inj.Type, inj.Field, inj.Method, inj.Directive.String(), inj.Collection, inj.Call,
		)
		if err != nil {
			return fmt.Errorf("saving injection %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Get loads the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, module, mvid, started_at, duration_us, types, woven, fields, created, failed, diagnostics
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if run.Summary.Injections, err = s.injections(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// Recent returns up to limit runs for moduleName, newest first. Injections
// are not loaded.
func (s *Store) Recent(ctx context.Context, moduleName string, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module, mvid, started_at, duration_us, types, woven, fields, created, failed, diagnostics
		 FROM runs WHERE module = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, moduleName, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run        Run
		startedAt  int64
		durationUs int64
		diags      string
	)
	err := sc.Scan(&run.ID, &run.Module, &run.MVID, &startedAt, &durationUs,
		&run.Summary.Types, &run.Summary.Woven, &run.Summary.Fields, &run.Summary.Created,
		&run.Failed, &diags)
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.UnixMicro(startedAt).UTC()
	run.Duration = time.Duration(durationUs) * time.Microsecond
	if err := json.Unmarshal([]byte(diags), &run.Diagnostics); err != nil {
		return nil, fmt.Errorf("decoding diagnostics: %w", err)
	}
	return &run, nil
}

func (s *Store) injections(ctx context.Context, id string) ([]weaver.Injection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type_name, field, method, directive, collection, call
		 FROM injections WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying injections: %w", err)
	}
	defer rows.Close()

	var out []weaver.Injection
	for rows.Next() {
		var (
			inj       weaver.Injection
			directive string
		)
		if err := rows.Scan(&inj.Type, &inj.Field, &inj.Method, &directive, &inj.Collection, &inj.Call); err != nil {
			return nil, fmt.Errorf("reading injection: %w", err)
		}
		if inj.Directive, err = rules.ParseDirectiveKind(directive); err != nil {
			return nil, err
		}
		out = append(out, inj)
	}
	return out, rows.Err()
}
