// Package store persists run history in PostgreSQL.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/skurename/internal/core"
)

// DBTX is implemented by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a core.RunStore backed by the rename_runs table.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore wraps a connection or pool.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const createRunsTable = `
CREATE TABLE IF NOT EXISTS rename_runs (
	id           UUID PRIMARY KEY,
	source       TEXT NOT NULL CHECK (source IN ('archive', 'folder')),
	source_name  TEXT NOT NULL,
	mapping_name TEXT,
	encoding     TEXT,
	counter_mode TEXT NOT NULL,
	client_ip    TEXT,
	total        INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	cancelled    BOOLEAN NOT NULL DEFAULT FALSE,
	error        TEXT,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rename_runs_started_at_idx ON rename_runs (started_at DESC);`

// Migrate creates the history table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create rename_runs table: %w", err)
	}
	return nil
}

const insertRun = `
INSERT INTO rename_runs (
	id, source, source_name, mapping_name, encoding, counter_mode, client_ip,
	total, succeeded, failed, cancelled, error, started_at, finished_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO NOTHING`

// RecordRun inserts a finished run. Recording the same run twice is a no-op.
func (s *PostgresStore) RecordRun(ctx context.Context, rec core.RunRecord) error {
	id, err := toPgUUID(rec.ID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, insertRun,
		id,
		string(rec.Source),
		rec.SourceName,
		toPgText(rec.MappingName),
		toPgText(string(rec.Encoding)),
		string(rec.CounterMode),
		toPgText(rec.ClientIP),
		int32(rec.Total),
		int32(rec.Succeeded),
		int32(rec.Failed),
		rec.Cancelled,
		toPgText(rec.Error),
		toPgTimestamp(rec.StartedAt),
		toPgTimestamp(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rec.ID, err)
	}
	return nil
}

const listRuns = `
SELECT id, source, source_name, mapping_name, encoding, counter_mode, client_ip,
	total, succeeded, failed, cancelled, error, started_at, finished_at
FROM rename_runs
ORDER BY started_at DESC
LIMIT $1`

// defaultListLimit applies when ListRuns gets a non-positive limit.
const defaultListLimit = 100

// ListRuns returns the newest runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.Query(ctx, listRuns, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []core.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

const deleteRunsBefore = `DELETE FROM rename_runs WHERE started_at < $1`

// PruneRuns deletes runs that started before the cutoff.
func (s *PostgresStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteRunsBefore, toPgTimestamp(before))
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRun(row pgx.Row) (core.RunRecord, error) {
	var (
		id          pgtype.UUID
		source      string
		sourceName  string
		mappingName pgtype.Text
		encoding    pgtype.Text
		counterMode string
		clientIP    pgtype.Text
		total       int32
		succeeded   int32
		failed      int32
		cancelled   bool
		errText     pgtype.Text
		startedAt   pgtype.Timestamptz
		finishedAt  pgtype.Timestamptz
	)

	err := row.Scan(
		&id, &source, &sourceName, &mappingName, &encoding, &counterMode, &clientIP,
		&total, &succeeded, &failed, &cancelled, &errText, &startedAt, &finishedAt,
	)
	if err != nil {
		return core.RunRecord{}, err
	}

	return core.RunRecord{
		ID:          pgUUIDToString(id),
		Source:      core.SourceKind(source),
		SourceName:  sourceName,
		MappingName: mappingName.String,
		Encoding:    core.Encoding(encoding.String),
		CounterMode: core.CounterMode(counterMode),
		ClientIP:    clientIP.String,
		Total:       int(total),
		Succeeded:   int(succeeded),
		Failed:      int(failed),
		Cancelled:   cancelled,
		Error:       errText.String,
		StartedAt:   startedAt.Time,
		FinishedAt:  finishedAt.Time,
	}, nil
}

/* ----------------------------------------
	Pgx Helpers
---------------------------------------- */

func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgTimestamp(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func toPgUUID(s string) (pgtype.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid run id %q: %w", s, err)
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func pgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}
