// Package mysql implements the store on MySQL through gorm, for deployments
// that share the price history with other tools.
package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"SectorSentinel/internal/model"
)

// Options configures the connection pool.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists observations, sector indicators and leadership records.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects with opts.DSN, configures the pool and migrates the schema.
// The DSN must carry parseTime=true.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(gormmysql.Open(opts.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", wrapErr(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("mysql store opened")
	return s, nil
}

// Migrate creates or alters the tables to match the models.
func (s *Store) Migrate(ctx context.Context) error {
	return wrapErr(s.db.WithContext(ctx).AutoMigrate(&stockDaily{}, &sectorRSI{}, &sectorLeader{}))
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.logger.Info("closing mysql store")
	return sqlDB.Close()
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysqldrv.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
	}
	return err
}

func (s *Store) conn(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

// ObservationsAtOrBefore returns up to limit closes of stockID, newest first.
func (s *Store) ObservationsAtOrBefore(ctx context.Context, stockID string, date time.Time, limit int) ([]model.PricePoint, error) {
	var rows []stockDaily
	err := s.conn(ctx).Select("trade_date", "close_price").
		Where("stock_code = ? AND trade_date <= ?", stockID, model.Day(date)).
		Order("trade_date DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	points := make([]model.PricePoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, model.PricePoint{TradeDate: model.Day(r.TradeDate), ClosePrice: r.ClosePrice})
	}
	return points, nil
}

// DistinctTradingDatesAtOrBefore returns up to limit stored dates, newest first.
func (s *Store) DistinctTradingDatesAtOrBefore(ctx context.Context, date time.Time, limit int) ([]time.Time, error) {
	var dates []time.Time
	err := s.conn(ctx).Model(&stockDaily{}).Distinct("trade_date").
		Where("trade_date <= ?", model.Day(date)).
		Order("trade_date DESC").Limit(limit).Pluck("trade_date", &dates).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	for i := range dates {
		dates[i] = model.Day(dates[i])
	}
	return dates, nil
}

// LatestTradingDate returns the newest stored observation date.
func (s *Store) LatestTradingDate(ctx context.Context) (time.Time, bool, error) {
	return s.maxDate(ctx, &stockDaily{})
}

// LatestIndicatorDate returns the newest date with sector indicators.
func (s *Store) LatestIndicatorDate(ctx context.Context) (time.Time, bool, error) {
	return s.maxDate(ctx, &sectorRSI{})
}

func (s *Store) maxDate(ctx context.Context, table any) (time.Time, bool, error) {
	var d sql.NullTime
	if err := s.conn(ctx).Model(table).Select("MAX(trade_date)").Row().Scan(&d); err != nil {
		return time.Time{}, false, wrapErr(err)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	return model.Day(d.Time), true, nil
}

// TopByMarketCap returns up to limit stocks of an industry ordered by market
// cap descending. Stocks without a cap are ignored.
func (s *Store) TopByMarketCap(ctx context.Context, segment, industry string, date time.Time, excluded []string, limit int) ([]model.RankedStock, error) {
	q := s.conn(ctx).
		Where("trade_date = ? AND market_type = ? AND industry = ? AND market_cap IS NOT NULL",
			model.Day(date), segment, industry)
	if len(excluded) > 0 {
		q = q.Where("industry NOT IN ?", excluded)
	}
	var rows []stockDaily
	if err := q.Order("market_cap DESC, stock_code ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	ranked := make([]model.RankedStock, 0, len(rows))
	for _, r := range rows {
		ranked = append(ranked, model.RankedStock{
			StockID:    r.StockCode,
			StockName:  r.StockName,
			MarketCap:  r.MarketCap.Int64,
			ClosePrice: r.ClosePrice.Float64,
			ChangeRate: r.ChangeRate,
		})
	}
	return ranked, nil
}

// StocksOnDate returns every observation of segment on date.
func (s *Store) StocksOnDate(ctx context.Context, segment string, date time.Time) ([]model.PriceObservation, error) {
	var rows []stockDaily
	err := s.conn(ctx).Where("trade_date = ? AND market_type = ?", model.Day(date), segment).
		Order("industry, stock_code").Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]model.PriceObservation, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PriceObservation{
			StockID:      r.StockCode,
			StockName:    r.StockName,
			Segment:      r.MarketType,
			Industry:     r.Industry.String,
			TradeDate:    model.Day(r.TradeDate),
			ClosePrice:   r.ClosePrice.Float64,
			ChangeAmount: r.ChangeAmount,
			ChangeRate:   r.ChangeRate,
			MarketCap:    r.MarketCap,
		})
	}
	return out, nil
}

// HasObservations reports whether any observation exists for date.
func (s *Store) HasObservations(ctx context.Context, date time.Time) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&stockDaily{}).Where("trade_date = ?", model.Day(date)).Count(&n).Error; err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// UpsertObservations inserts or refreshes observations keyed by (stock, date).
func (s *Store) UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	now := time.Now()
	rows := make([]stockDaily, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, stockDaily{
			StockCode:    o.StockID,
			TradeDate:    model.Day(o.TradeDate),
			StockName:    o.StockName,
			MarketType:   o.Segment,
			Industry:     sql.NullString{String: o.Industry, Valid: o.Industry != ""},
			ClosePrice:   sql.NullFloat64{Float64: o.ClosePrice, Valid: true},
			ChangeAmount: o.ChangeAmount,
			ChangeRate:   o.ChangeRate,
			MarketCap:    o.MarketCap,
			RegDate:      now,
		})
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{UpdateAll: true}).CreateInBatches(rows, 500).Error
	if err != nil {
		return 0, wrapErr(err)
	}
	return len(rows), nil
}

// DeleteObservationsBefore removes observations older than cutoff.
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.conn(ctx).Where("trade_date < ?", model.Day(cutoff)).Delete(&stockDaily{})
	return res.RowsAffected, wrapErr(res.Error)
}

// UpsertSectorIndicators replaces the stored horizons of each indicator.
func (s *Store) UpsertSectorIndicators(ctx context.Context, indicators []model.SectorIndicator) error {
	if len(indicators) == 0 {
		return nil
	}
	now := time.Now()
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ind := range indicators {
			d := model.Day(ind.TradeDate)
			if err := tx.Where("trade_date = ? AND market_type = ? AND industry = ?", d, ind.Segment, ind.Industry).
				Delete(&sectorRSI{}).Error; err != nil {
				return err
			}
			rows := make([]sectorRSI, 0, len(ind.Values))
			for horizon, v := range ind.Values {
				rows = append(rows, sectorRSI{
					TradeDate:  d,
					MarketType: ind.Segment,
					Industry:   ind.Industry,
					Horizon:    horizon,
					RSI:        v,
					RegDate:    now,
				})
			}
			if len(rows) == 0 {
				continue
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert %s/%s: %w", ind.Segment, ind.Industry, err)
			}
		}
		return nil
	})
	return wrapErr(err)
}

// SectorIndicators returns the indicators of segment on date ordered by industry.
func (s *Store) SectorIndicators(ctx context.Context, segment string, date time.Time) ([]model.SectorIndicator, error) {
	var rows []sectorRSI
	err := s.conn(ctx).Where("trade_date = ? AND market_type = ?", model.Day(date), segment).
		Order("industry, horizon").Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	var out []model.SectorIndicator
	for _, r := range rows {
		if n := len(out); n == 0 || out[n-1].Industry != r.Industry {
			out = append(out, model.SectorIndicator{
				TradeDate: model.Day(date),
				Segment:   segment,
				Industry:  r.Industry,
				Values:    make(model.HorizonValues),
			})
		}
		out[len(out)-1].Values[r.Horizon] = r.RSI
	}
	return out, nil
}

// Leaders returns the records of segment, or of every segment when segment is
// empty.
func (s *Store) Leaders(ctx context.Context, segment string) ([]model.LeadershipRecord, error) {
	q := s.conn(ctx)
	if segment != "" {
		q = q.Where("market_type = ?", segment)
	}
	var rows []sectorLeader
	if err := q.Order("market_type, industry, rank_position").Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]model.LeadershipRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.LeadershipRecord{
			Key:       model.LeaderKey{Segment: r.MarketType, Industry: r.Industry, Rank: r.RankPosition},
			StockID:   r.StockCode,
			StockName: r.StockName,
			MarketCap: r.MarketCap,
			Streak:    r.ConsecutiveDays,
			UpdatedAt: r.UpdateDate,
		})
	}
	return out, nil
}

// UpsertLeaders writes records keyed by (segment, industry, rank).
func (s *Store) UpsertLeaders(ctx context.Context, records []model.LeadershipRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]sectorLeader, 0, len(records))
	for _, r := range records {
		rows = append(rows, sectorLeader{
			MarketType:      r.Key.Segment,
			Industry:        r.Key.Industry,
			RankPosition:    r.Key.Rank,
			StockCode:       r.StockID,
			StockName:       r.StockName,
			MarketCap:       r.MarketCap,
			ConsecutiveDays: r.Streak,
			RegDate:         r.UpdatedAt,
			UpdateDate:      r.UpdatedAt,
		})
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{
			"stock_code", "stock_name", "market_cap", "consecutive_days", "update_date",
		}),
	}).Create(&rows).Error
	return wrapErr(err)
}

// UpdateLeaderStreak overwrites the streak of an existing record. It reports
// false when no record exists for key.
func (s *Store) UpdateLeaderStreak(ctx context.Context, key model.LeaderKey, streak int, at time.Time) (bool, error) {
	where := s.conn(ctx).Model(&sectorLeader{}).
		Where("market_type = ? AND industry = ? AND rank_position = ?", key.Segment, key.Industry, key.Rank)
	res := where.Updates(map[string]any{"consecutive_days": streak, "update_date": at})
	if res.Error != nil {
		return false, wrapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var n int64
	err := s.conn(ctx).Model(&sectorLeader{}).
		Where("market_type = ? AND industry = ? AND rank_position = ?", key.Segment, key.Industry, key.Rank).
		Count(&n).Error
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}
