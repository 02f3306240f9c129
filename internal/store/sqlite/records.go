package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"SectorSentinel/internal/model"
)

// UpsertSectorIndicators replaces the stored horizons of each indicator.
func (s *Store) UpsertSectorIndicators(ctx context.Context, indicators []model.SectorIndicator) error {
	if len(indicators) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, ind := range indicators {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sector_rsi
			WHERE trade_date = ? AND market_type = ? AND industry = ?`,
			day(ind.TradeDate), ind.Segment, ind.Industry); err != nil {
			return wrapErr(err)
		}
		for _, horizon := range sortedHorizons(ind.Values) {
			if _, err := tx.ExecContext(ctx, `INSERT INTO sector_rsi
				(trade_date, market_type, industry, horizon, rsi, reg_date)
				VALUES (?,?,?,?,?,?)`,
				day(ind.TradeDate), ind.Segment, ind.Industry, horizon, ind.Values[horizon], now); err != nil {
				return fmt.Errorf("insert %s/%s %s: %w", ind.Segment, ind.Industry, horizon, wrapErr(err))
			}
		}
	}
	return wrapErr(tx.Commit())
}

func sortedHorizons(values model.HorizonValues) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SectorIndicators returns the indicators of segment on date ordered by industry.
func (s *Store) SectorIndicators(ctx context.Context, segment string, date time.Time) ([]model.SectorIndicator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT industry, horizon, rsi
		FROM sector_rsi
		WHERE trade_date = ? AND market_type = ?
		ORDER BY industry, horizon`, day(date), segment)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []model.SectorIndicator
	for rows.Next() {
		var (
			industry, horizon string
			rsi               sql.NullFloat64
		)
		if err := rows.Scan(&industry, &horizon, &rsi); err != nil {
			return nil, wrapErr(err)
		}
		if n := len(out); n == 0 || out[n-1].Industry != industry {
			out = append(out, model.SectorIndicator{
				TradeDate: model.Day(date),
				Segment:   segment,
				Industry:  industry,
				Values:    make(model.HorizonValues),
			})
		}
		out[len(out)-1].Values[horizon] = rsi
	}
	return out, wrapErr(rows.Err())
}

// Leaders returns the records of segment, or of every segment when segment is
// empty, ordered by segment, industry and rank.
func (s *Store) Leaders(ctx context.Context, segment string) ([]model.LeadershipRecord, error) {
	query := `SELECT market_type, industry, rank_position, stock_code, stock_name,
			market_cap, consecutive_days, update_date
		FROM sector_leaders`
	var args []any
	if segment != "" {
		query += ` WHERE market_type = ?`
		args = append(args, segment)
	}
	query += ` ORDER BY market_type, industry, rank_position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []model.LeadershipRecord
	for rows.Next() {
		var (
			r       model.LeadershipRecord
			updated int64
		)
		if err := rows.Scan(&r.Key.Segment, &r.Key.Industry, &r.Key.Rank, &r.StockID, &r.StockName,
			&r.MarketCap, &r.Streak, &updated); err != nil {
			return nil, wrapErr(err)
		}
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, r)
	}
	return out, wrapErr(rows.Err())
}

// UpsertLeaders writes records keyed by (segment, industry, rank).
func (s *Store) UpsertLeaders(ctx context.Context, records []model.LeadershipRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	for _, r := range records {
		ts := r.UpdatedAt.Unix()
		if _, err := tx.ExecContext(ctx, `INSERT INTO sector_leaders
			(market_type, industry, rank_position, stock_code, stock_name,
			 market_cap, consecutive_days, reg_date, update_date)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(market_type, industry, rank_position) DO UPDATE SET
				stock_code       = excluded.stock_code,
				stock_name       = excluded.stock_name,
				market_cap       = excluded.market_cap,
				consecutive_days = excluded.consecutive_days,
				update_date      = excluded.update_date`,
			r.Key.Segment, r.Key.Industry, r.Key.Rank, r.StockID, r.StockName,
			r.MarketCap, r.Streak, ts, ts); err != nil {
			return fmt.Errorf("upsert leader %s: %w", r.Key, wrapErr(err))
		}
	}
	return wrapErr(tx.Commit())
}

// UpdateLeaderStreak overwrites the streak of an existing record. It reports
// false when no record exists for key.
func (s *Store) UpdateLeaderStreak(ctx context.Context, key model.LeaderKey, streak int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE sector_leaders
		SET consecutive_days = ?, update_date = ?
		WHERE market_type = ? AND industry = ? AND rank_position = ?`,
		streak, at.Unix(), key.Segment, key.Industry, key.Rank)
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}
