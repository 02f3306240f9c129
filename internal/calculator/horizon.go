package calculator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"SectorSentinel/internal/model"
)

// DefaultHistoryWindow is how many observations are fetched per stock.
const DefaultHistoryWindow = 120

// PriceHistory reads past closes for a stock, newest first.
type PriceHistory interface {
	ObservationsAtOrBefore(ctx context.Context, stockID string, date time.Time, limit int) ([]model.PricePoint, error)
}

// HorizonCalculator evaluates RSI for one stock across several horizons.
type HorizonCalculator struct {
	history   PriceHistory
	horizons  []model.Horizon
	window    int
	maxPeriod int
	logger    *slog.Logger
}

// NewHorizonCalculator creates a calculator. A non-positive window falls back
// to DefaultHistoryWindow and empty horizons to model.DefaultHorizons.
func NewHorizonCalculator(history PriceHistory, horizons []model.Horizon, window int, logger *slog.Logger) *HorizonCalculator {
	if len(horizons) == 0 {
		horizons = model.DefaultHorizons
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	periods := make([]int, len(horizons))
	for i, h := range horizons {
		periods[i] = h.Period
	}
	return &HorizonCalculator{
		history:   history,
		horizons:  horizons,
		window:    window,
		maxPeriod: MaxPeriod(periods...),
		logger:    logger,
	}
}

// Horizons returns the configured horizons in evaluation order.
func (c *HorizonCalculator) Horizons() []model.Horizon { return c.horizons }

// Calculate returns the RSI of stockID at each horizon as of date. When the
// history is shorter than the longest horizon needs, every horizon is
// undefined, even ones a shorter history could serve.
func (c *HorizonCalculator) Calculate(ctx context.Context, stockID string, date time.Time) (model.HorizonValues, error) {
	values := c.undefined()

	points, err := c.history.ObservationsAtOrBefore(ctx, stockID, date, c.window)
	if err != nil {
		return values, fmt.Errorf("price history for %s: %w", stockID, err)
	}
	if len(points) == 0 {
		c.logger.Debug("no price history", "stock", stockID, "date", date.Format(model.DateLayout))
		return values, nil
	}

	prices := make([]float64, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].ClosePrice.Valid {
			prices = append(prices, points[i].ClosePrice.Float64)
		}
	}

	if len(prices) < c.maxPeriod+1 {
		c.logger.Debug("insufficient price history",
			"stock", stockID, "have", len(prices), "need", c.maxPeriod+1)
		return values, nil
	}

	for _, h := range c.horizons {
		if rsi, ok := RSI(prices, h.Period); ok {
			values[h.Name] = sql.NullFloat64{Float64: rsi, Valid: true}
		}
	}
	return values, nil
}

func (c *HorizonCalculator) undefined() model.HorizonValues {
	values := make(model.HorizonValues, len(c.horizons))
	for _, h := range c.horizons {
		values[h.Name] = sql.NullFloat64{}
	}
	return values
}
