// Package store defines the persistence contract shared by the pipeline and
// opens the configured backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"SectorSentinel/internal/config"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/store/mysql"
	"SectorSentinel/internal/store/sqlite"
)

// Store reads daily observations and reads/writes derived records.
type Store interface {
	ObservationsAtOrBefore(ctx context.Context, stockID string, date time.Time, limit int) ([]model.PricePoint, error)
	DistinctTradingDatesAtOrBefore(ctx context.Context, date time.Time, limit int) ([]time.Time, error)
	LatestTradingDate(ctx context.Context) (time.Time, bool, error)
	TopByMarketCap(ctx context.Context, segment, industry string, date time.Time, excluded []string, limit int) ([]model.RankedStock, error)
	StocksOnDate(ctx context.Context, segment string, date time.Time) ([]model.PriceObservation, error)

	HasObservations(ctx context.Context, date time.Time) (bool, error)
	UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertSectorIndicators(ctx context.Context, indicators []model.SectorIndicator) error
	SectorIndicators(ctx context.Context, segment string, date time.Time) ([]model.SectorIndicator, error)
	LatestIndicatorDate(ctx context.Context) (time.Time, bool, error)

	Leaders(ctx context.Context, segment string) ([]model.LeadershipRecord, error)
	UpsertLeaders(ctx context.Context, records []model.LeadershipRecord) error
	UpdateLeaderStreak(ctx context.Context, key model.LeaderKey, streak int, at time.Time) (bool, error)

	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*mysql.Store)(nil)
)

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.Database, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath, logger)
	case config.DriverMySQL:
		return mysql.Open(ctx, mysql.Options{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
