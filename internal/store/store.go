package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the store can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunRecord is one suite run as persisted in the history tables.
type RunRecord struct {
	ID         string
	Suite      string
	StartedAt  time.Time
	FinishedAt time.Time
	Cases      []CaseRecord
}

// CaseRecord is the outcome of one case within a run.
type CaseRecord struct {
	Name       string
	Status     string
	Attempts   int
	Duration   time.Duration
	Error      string
	Screenshot string
}

// RunSummary is a row of the run listing.
type RunSummary struct {
	ID         string
	Suite      string
	StartedAt  time.Time
	FinishedAt time.Time
	Passed     int
	Failed     int
	Skipped    int
}

// Schema creates the history tables. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS qa_runs (
    id          UUID PRIMARY KEY,
    suite       TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    passed      INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS qa_case_results (
    run_id      UUID NOT NULL REFERENCES qa_runs(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    status      TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    duration_ms BIGINT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    screenshot  TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, name)
);`

const (
	insertRunSQL = `INSERT INTO qa_runs (id, suite, started_at, finished_at, passed, failed, skipped)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	insertCaseSQL = `INSERT INTO qa_case_results (run_id, name, status, attempts, duration_ms, error, screenshot)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	recentRunsSQL = `SELECT id, suite, started_at, finished_at, passed, failed, skipped
FROM qa_runs ORDER BY started_at DESC LIMIT $1`
)

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store over pool and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// Connect opens a pgx pool for url and wraps it in a Store. The returned func
// closes the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// EnsureSchema creates the history tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run row and all of its case rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	passed, failed, skipped := tally(run.Cases)
	if _, err := tx.Exec(ctx, insertRunSQL,
		run.ID, run.Suite, run.StartedAt.UTC(), run.FinishedAt.UTC(), passed, failed, skipped,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	for _, c := range run.Cases {
		if _, err := tx.Exec(ctx, insertCaseSQL,
			run.ID, c.Name, c.Status, c.Attempts, c.Duration.Milliseconds(), c.Error, c.Screenshot,
		); err != nil {
			return fmt.Errorf("failed to insert case %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", run.ID), zap.Int("cases", len(run.Cases)))
	return nil
}

// RecentRuns lists the latest runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Suite, &r.StartedAt, &r.FinishedAt, &r.Passed, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

func tally(cases []CaseRecord) (passed, failed, skipped int) {
	for _, c := range cases {
		switch c.Status {
		case "passed":
			passed++
		case "failed":
			failed++
		default:
			skipped++
		}
	}
	return
}
