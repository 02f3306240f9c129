package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"SectorSentinel/internal/model"
)

// SQLiteRecorder persists job history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *slog.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL mode for concurrent readers of the history (dashboards).
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT    NOT NULL,
			job          TEXT    NOT NULL,
			trade_date   TEXT,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER NOT NULL,
			observations INTEGER NOT NULL DEFAULT 0,
			indicators   INTEGER NOT NULL DEFAULT 0,
			leaders      INTEGER NOT NULL DEFAULT 0,
			recomputed   INTEGER NOT NULL DEFAULT 0,
			failed       INTEGER NOT NULL DEFAULT 0,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun appends evt to the history.
func (r *SQLiteRecorder) RecordRun(ctx context.Context, evt *RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var tradeDate, errText sql.NullString
	if !evt.TradeDate.IsZero() {
		tradeDate = sql.NullString{String: evt.TradeDate.Format(model.DateLayout), Valid: true}
	}
	if evt.Err != nil {
		errText = sql.NullString{String: evt.Err.Error(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO job_runs
		(run_id, job, trade_date, started_at, finished_at,
		 observations, indicators, leaders, recomputed, failed, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		evt.RunID, evt.Job, tradeDate, evt.StartedAt.UnixMilli(), evt.FinishedAt.UnixMilli(),
		evt.Observations, evt.Indicators, evt.Leaders, evt.Recomputed, evt.Failed, errText)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (r *SQLiteRecorder) RecentRuns(ctx context.Context, limit int) ([]RunEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, job, trade_date, started_at, finished_at,
			observations, indicators, leaders, recomputed, failed, error
		FROM job_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var (
			e                 RunEvent
			tradeDate, errTxt sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&e.RunID, &e.Job, &tradeDate, &started, &finished,
			&e.Observations, &e.Indicators, &e.Leaders, &e.Recomputed, &e.Failed, &errTxt); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		if tradeDate.Valid {
			if e.TradeDate, err = model.ParseDay(tradeDate.String); err != nil {
				return nil, err
			}
		}
		if errTxt.Valid {
			e.Err = errors.New(errTxt.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
