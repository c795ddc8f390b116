// Package postgres persists harvest runs and their email records.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RecordsTable    string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Run is the row stored per harvest run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates int
	Progress   harvest.Progress
	Plan       any
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordStore upserts email records into Postgres.
type RecordStore struct {
	pool    pool
	records string
	runs    string
}

// NewRecordStore connects to Postgres using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(p, cfg.RecordsTable, cfg.RunsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, recordsTable, runsTable string) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if recordsTable == "" {
		recordsTable = "harvested_emails"
	}
	if runsTable == "" {
		runsTable = "harvest_runs"
	}
	for _, table := range []string{recordsTable, runsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RecordStore{pool: p, records: recordsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id      TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	candidates  INTEGER NOT NULL,
	progress    JSONB NOT NULL,
	plan        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	email             TEXT PRIMARY KEY,
	first_seen_source TEXT NOT NULL,
	sources           TEXT[] NOT NULL,
	domain            TEXT NOT NULL,
	mx_ok             BOOLEAN NOT NULL,
	verify_result     TEXT,
	verify_confidence INTEGER,
	quality           TEXT NOT NULL,
	first_seen        TIMESTAMPTZ NOT NULL,
	notes             TEXT[] NOT NULL,
	last_run_id       TEXT NOT NULL
)`, s.runs, s.records)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveRun writes the run row and upserts every record in one transaction.
// Existing rows keep the union of sources and notes and the earliest first-seen.
func (s *RecordStore) SaveRun(ctx context.Context, run Run, records []harvest.EmailRecord) (err error) {
	if s == nil || s.pool == nil {
		return errors.New("record store is not configured")
	}
	if run.ID == "" {
		return errors.New("run id is required")
	}
	progressJSON, err := json.Marshal(run.Progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	planJSON, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	runQuery := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, finished_at, candidates, progress, plan)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	candidates = EXCLUDED.candidates,
	progress = EXCLUDED.progress,
	plan = EXCLUDED.plan`, s.runs)
	if _, err = tx.Exec(ctx, runQuery, run.ID, run.StartedAt, run.FinishedAt, run.Candidates, progressJSON, planJSON); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	recordQuery := fmt.Sprintf(`
INSERT INTO %[1]s (
	email, first_seen_source, sources, domain, mx_ok,
	verify_result, verify_confidence, quality, first_seen, notes, last_run_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (email) DO UPDATE SET
	sources = ARRAY(SELECT DISTINCT s FROM unnest(%[1]s.sources || EXCLUDED.sources) AS s ORDER BY s),
	notes = ARRAY(SELECT DISTINCT n FROM unnest(%[1]s.notes || EXCLUDED.notes) AS n ORDER BY n),
	first_seen_source = CASE WHEN EXCLUDED.first_seen < %[1]s.first_seen
		THEN EXCLUDED.first_seen_source ELSE %[1]s.first_seen_source END,
	domain = CASE WHEN EXCLUDED.first_seen < %[1]s.first_seen
		THEN EXCLUDED.domain ELSE %[1]s.domain END,
	first_seen = LEAST(%[1]s.first_seen, EXCLUDED.first_seen),
	mx_ok = EXCLUDED.mx_ok,
	verify_result = COALESCE(EXCLUDED.verify_result, %[1]s.verify_result),
	verify_confidence = COALESCE(EXCLUDED.verify_confidence, %[1]s.verify_confidence),
	quality = EXCLUDED.quality,
	last_run_id = EXCLUDED.last_run_id`, s.records)

	for _, rec := range records {
		var result *string
		var confidence *int
		if rec.Verification != nil {
			r := string(rec.Verification.Result)
			result = &r
			confidence = rec.Verification.Confidence
		}
		if _, err = tx.Exec(ctx, recordQuery,
			rec.Email,
			rec.FirstSource,
			rec.Sources,
			rec.Domain,
			rec.MXValid,
			result,
			confidence,
			string(rec.Quality),
			rec.FirstSeen,
			rec.Notes,
			run.ID,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.Email, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
