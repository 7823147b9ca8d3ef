package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"grailed-lister/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresWriter keeps a history of run outcomes in PostgreSQL.
type PostgresWriter struct {
	db *sql.DB
}

var _ ReportWriter = (*PostgresWriter)(nil)

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	pw := &PostgresWriter{db: db}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listing_runs (
			run_id      UUID         PRIMARY KEY,
			command     VARCHAR(20)  NOT NULL,
			dry_run     BOOLEAN      NOT NULL DEFAULT FALSE,
			total       INTEGER      NOT NULL DEFAULT 0,
			invalid     INTEGER      NOT NULL DEFAULT 0,
			succeeded   INTEGER      NOT NULL DEFAULT 0,
			skipped     INTEGER      NOT NULL DEFAULT 0,
			failed      INTEGER      NOT NULL DEFAULT 0,
			started_at  TIMESTAMPTZ  NOT NULL,
			finished_at TIMESTAMPTZ  NOT NULL
		);

		CREATE TABLE IF NOT EXISTS listing_outcomes (
			id          SERIAL PRIMARY KEY,
			run_id      UUID         NOT NULL REFERENCES listing_runs(run_id) ON DELETE CASCADE,
			item_index  INTEGER      NOT NULL,
			title       TEXT         NOT NULL DEFAULT '',
			valid       BOOLEAN      NOT NULL,
			violations  TEXT[]       NOT NULL DEFAULT '{}',
			outcome     VARCHAR(20)  NOT NULL DEFAULT '',
			reason      TEXT         NOT NULL DEFAULT '',
			stage       VARCHAR(40)  NOT NULL DEFAULT '',
			error       TEXT         NOT NULL DEFAULT '',
			UNIQUE (run_id, item_index)
		);

		CREATE INDEX IF NOT EXISTS idx_listing_outcomes_outcome ON listing_outcomes(outcome);
	`)
	return err
}

// WriteReport stores the run header and its entries in one transaction.
func (pw *PostgresWriter) WriteReport(ctx context.Context, r *models.RunReport) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery, runArgs, err := psql.Insert("listing_runs").
		Columns("run_id", "command", "dry_run", "total", "invalid", "succeeded", "skipped", "failed", "started_at", "finished_at").
		Values(r.RunID, r.Command, r.DryRun, r.Total, r.Invalid, r.Succeeded(), r.Skipped, r.Failed, r.StartedAt, r.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build run insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, runQuery, runArgs...); err != nil {
		return fmt.Errorf("postgres: insert run: %w", err)
	}

	const batchSize = 50
	for i := 0; i < len(r.Entries); i += batchSize {
		end := i + batchSize
		if end > len(r.Entries) {
			end = len(r.Entries)
		}
		if err := insertEntries(ctx, tx, r.RunID, r.Entries[i:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, runID string, batch []models.ReportEntry) error {
	ib := psql.Insert("listing_outcomes").
		Columns("run_id", "item_index", "title", "valid", "violations", "outcome", "reason", "stage", "error")

	for _, e := range batch {
		violations := make([]string, 0, len(e.Validation.Violations))
		for _, v := range e.Validation.Violations {
			violations = append(violations, v.String())
		}
		var kind, reason, stage, errMsg string
		if e.Outcome != nil {
			kind, reason, stage, errMsg = string(e.Outcome.Kind), e.Outcome.Reason, string(e.Outcome.Stage), e.Outcome.Err
		}
		ib = ib.Values(runID, e.Index, e.Title, e.Validation.Valid, pq.StringArray(violations), kind, reason, stage, errMsg)
	}

	query, args, err := ib.Suffix("ON CONFLICT (run_id, item_index) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build outcome insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert outcomes: %w", err)
	}
	return nil
}

// FailedIndexes returns the item indexes that failed in a previous run, so an
// operator can retry just those.
func (pw *PostgresWriter) FailedIndexes(ctx context.Context, runID string) ([]int, error) {
	query, args, err := psql.Select("item_index").
		From("listing_outcomes").
		Where(sq.Eq{"run_id": runID, "outcome": string(models.OutcomeFailed)}).
		OrderBy("item_index").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build select: %w", err)
	}

	rows, err := pw.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch failed: %w", err)
	}
	defer rows.Close()

	var indexes []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
