package core

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/fusebench/pkg/api"
)

// Store is a SQLite-backed history of remote benchmark results.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunRecord describes one remote benchmark run.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	Project   string
	Region    string
	Size      string
	Test      api.TestKind
}

// HistoryRow is a stored result row with its run.
type HistoryRow struct {
	Run RunRecord
	api.ResultRow
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// NewRunRecord stamps a run with a fresh id and the current time.
func NewRunRecord(project, region, size string, test api.TestKind) RunRecord {
	return RunRecord{ID: uuid.NewString(), StartedAt: now().UTC(), Project: project, Region: region, Size: size, Test: test}
}

// SaveRun stores a run and its rows in one transaction.
func (s *Store) SaveRun(ctx context.Context, run RunRecord, rows []api.ResultRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, project, region, size, test) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Project, run.Region, run.Size, string(run.Test)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, r := range rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (run_id, seq, instance_type, file, baseline_seconds, mount_seconds) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.InstanceType, r.File, r.BaselineSeconds, r.MountSeconds); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	return tx.Commit()
}

// ListHistory returns rows of the most recent runs first, up to limit rows
// (all rows when limit <= 0).
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryRow, error) {
	q := `SELECT r.id, r.started_at, r.project, r.region, r.size, r.test,
	             x.instance_type, x.file, x.baseline_seconds, x.mount_seconds
	      FROM results x JOIN runs r ON r.id = x.run_id
	      ORDER BY r.started_at DESC, r.id, x.seq`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var h HistoryRow
		var test string
		if err := rows.Scan(&h.Run.ID, &h.Run.StartedAt, &h.Run.Project, &h.Run.Region, &h.Run.Size, &test,
			&h.InstanceType, &h.File, &h.BaselineSeconds, &h.MountSeconds); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.Run.Test = api.TestKind(test)
		out = append(out, h)
	}
	return out, rows.Err()
}
