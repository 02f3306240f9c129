// Package sqlite implements the observation, indicator and leadership store
// on SQLite using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"SectorSentinel/internal/model"

	_ "modernc.org/sqlite"
)

// Store persists observations, sector indicators and leadership records.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex // serializes writers
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations. Use
// ":memory:" for a throwaway database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and writes serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite store opened", "path", path)
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stock_daily (
			stock_code    TEXT    NOT NULL,
			stock_name    TEXT    NOT NULL,
			market_type   TEXT    NOT NULL,
			industry      TEXT,
			trade_date    TEXT    NOT NULL,
			close_price   REAL,
			change_amount REAL,
			change_rate   REAL,
			market_cap    INTEGER,
			reg_date      INTEGER NOT NULL,
			PRIMARY KEY (stock_code, trade_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_daily_date ON stock_daily(trade_date, market_type)`,

		`CREATE TABLE IF NOT EXISTS sector_rsi (
			trade_date  TEXT    NOT NULL,
			market_type TEXT    NOT NULL,
			industry    TEXT    NOT NULL,
			horizon     TEXT    NOT NULL,
			rsi         REAL,
			reg_date    INTEGER NOT NULL,
			PRIMARY KEY (trade_date, market_type, industry, horizon)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sector_rsi_industry ON sector_rsi(industry)`,

		`CREATE TABLE IF NOT EXISTS sector_leaders (
			market_type      TEXT    NOT NULL,
			industry         TEXT    NOT NULL,
			rank_position    INTEGER NOT NULL,
			stock_code       TEXT    NOT NULL,
			stock_name       TEXT    NOT NULL,
			market_cap       INTEGER NOT NULL,
			consecutive_days INTEGER NOT NULL DEFAULT 1 CHECK (consecutive_days >= 1),
			reg_date         INTEGER NOT NULL,
			update_date      INTEGER NOT NULL,
			PRIMARY KEY (market_type, industry, rank_position)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sector_leaders_stock ON sector_leaders(stock_code)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], wrapErr(err))
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}

// wrapErr marks connection-level failures with model.ErrStoreUnavailable.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return err
}

func day(t time.Time) string { return t.Format(model.DateLayout) }

func parseDay(s string) (time.Time, error) {
	// Some drivers hand back full timestamps for date columns.
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	return time.Parse(model.DateLayout, s)
}

// ObservationsAtOrBefore returns up to limit closes of stockID, newest first.
func (s *Store) ObservationsAtOrBefore(ctx context.Context, stockID string, date time.Time, limit int) ([]model.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT trade_date, close_price
		FROM stock_daily
		WHERE stock_code = ? AND trade_date <= ?
		ORDER BY trade_date DESC
		LIMIT ?`, stockID, day(date), limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var (
			d string
			p model.PricePoint
		)
		if err := rows.Scan(&d, &p.ClosePrice); err != nil {
			return nil, wrapErr(err)
		}
		if p.TradeDate, err = parseDay(d); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, wrapErr(rows.Err())
}

// DistinctTradingDatesAtOrBefore returns up to limit stored dates, newest first.
func (s *Store) DistinctTradingDatesAtOrBefore(ctx context.Context, date time.Time, limit int) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT trade_date
		FROM stock_daily
		WHERE trade_date <= ?
		ORDER BY trade_date DESC
		LIMIT ?`, day(date), limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, wrapErr(err)
		}
		t, err := parseDay(d)
		if err != nil {
			return nil, err
		}
		dates = append(dates, t)
	}
	return dates, wrapErr(rows.Err())
}

// LatestTradingDate returns the newest stored observation date.
func (s *Store) LatestTradingDate(ctx context.Context) (time.Time, bool, error) {
	return s.maxDate(ctx, `SELECT MAX(trade_date) FROM stock_daily`)
}

// LatestIndicatorDate returns the newest date with sector indicators.
func (s *Store) LatestIndicatorDate(ctx context.Context) (time.Time, bool, error) {
	return s.maxDate(ctx, `SELECT MAX(trade_date) FROM sector_rsi`)
}

func (s *Store) maxDate(ctx context.Context, query string) (time.Time, bool, error) {
	var d sql.NullString
	if err := s.db.QueryRowContext(ctx, query).Scan(&d); err != nil {
		return time.Time{}, false, wrapErr(err)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseDay(d.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// TopByMarketCap returns up to limit stocks of an industry ordered by market
// cap descending. Stocks without a cap are ignored.
func (s *Store) TopByMarketCap(ctx context.Context, segment, industry string, date time.Time, excluded []string, limit int) ([]model.RankedStock, error) {
	query := `SELECT stock_code, stock_name, market_cap, close_price, change_rate
		FROM stock_daily
		WHERE trade_date = ? AND market_type = ? AND industry = ? AND market_cap IS NOT NULL`
	args := []any{day(date), segment, industry}
	if len(excluded) > 0 {
		query += ` AND industry NOT IN (?` + strings.Repeat(`,?`, len(excluded)-1) + `)`
		for _, e := range excluded {
			args = append(args, e)
		}
	}
	query += ` ORDER BY market_cap DESC, stock_code ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var ranked []model.RankedStock
	for rows.Next() {
		var (
			r     model.RankedStock
			price sql.NullFloat64
		)
		if err := rows.Scan(&r.StockID, &r.StockName, &r.MarketCap, &price, &r.ChangeRate); err != nil {
			return nil, wrapErr(err)
		}
		r.ClosePrice = price.Float64
		ranked = append(ranked, r)
	}
	return ranked, wrapErr(rows.Err())
}

// StocksOnDate returns every observation of segment on date.
func (s *Store) StocksOnDate(ctx context.Context, segment string, date time.Time) ([]model.PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stock_code, stock_name, market_type, industry, trade_date,
			close_price, change_amount, change_rate, market_cap
		FROM stock_daily
		WHERE trade_date = ? AND market_type = ?
		ORDER BY industry, stock_code`, day(date), segment)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []model.PriceObservation
	for rows.Next() {
		var (
			o        model.PriceObservation
			industry sql.NullString
			d        string
			price    sql.NullFloat64
		)
		if err := rows.Scan(&o.StockID, &o.StockName, &o.Segment, &industry, &d,
			&price, &o.ChangeAmount, &o.ChangeRate, &o.MarketCap); err != nil {
			return nil, wrapErr(err)
		}
		o.Industry = industry.String
		o.ClosePrice = price.Float64
		if o.TradeDate, err = parseDay(d); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, wrapErr(rows.Err())
}

// HasObservations reports whether any observation exists for date.
func (s *Store) HasObservations(ctx context.Context, date time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_daily WHERE trade_date = ?`, day(date)).Scan(&n)
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// UpsertObservations inserts or refreshes observations keyed by (stock, date).
func (s *Store) UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr(err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stock_daily
		(stock_code, stock_name, market_type, industry, trade_date,
		 close_price, change_amount, change_rate, market_cap, reg_date)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(stock_code, trade_date) DO UPDATE SET
			stock_name    = excluded.stock_name,
			market_type   = excluded.market_type,
			industry      = excluded.industry,
			close_price   = excluded.close_price,
			change_amount = excluded.change_amount,
			change_rate   = excluded.change_rate,
			market_cap    = excluded.market_cap,
			reg_date      = excluded.reg_date`)
	if err != nil {
		return 0, wrapErr(err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, o := range obs {
		industry := sql.NullString{String: o.Industry, Valid: o.Industry != ""}
		if _, err := stmt.ExecContext(ctx, o.StockID, o.StockName, o.Segment, industry, day(o.TradeDate),
			o.ClosePrice, o.ChangeAmount, o.ChangeRate, o.MarketCap, now); err != nil {
			return 0, fmt.Errorf("upsert %s %s: %w", o.StockID, day(o.TradeDate), wrapErr(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr(err)
	}
	return len(obs), nil
}

// DeleteObservationsBefore removes observations older than cutoff.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM stock_daily WHERE trade_date < ?`, day(cutoff))
	if err != nil {
		return 0, wrapErr(err)
	}
	return res.RowsAffected()
}
