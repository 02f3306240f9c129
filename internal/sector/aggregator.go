// Package sector reduces per-stock RSI values into one indicator per industry.
package sector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"SectorSentinel/internal/calculator"
	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
)

// StockSource lists the stocks observed in a segment on a date.
type StockSource interface {
	StocksOnDate(ctx context.Context, segment string, date time.Time) ([]model.PriceObservation, error)
}

// StockCalculator evaluates the configured horizons for one stock.
type StockCalculator interface {
	Calculate(ctx context.Context, stockID string, date time.Time) (model.HorizonValues, error)
	Horizons() []model.Horizon
}

// IndicatorWriter persists sector indicators.
type IndicatorWriter interface {
	UpsertSectorIndicators(ctx context.Context, indicators []model.SectorIndicator) error
}

// Options tunes an Aggregator.
type Options struct {
	Excluded []string
	Workers  int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Aggregator computes per-industry RSI for a segment and date.
type Aggregator struct {
	stocks   StockSource
	calc     StockCalculator
	excluded map[string]struct{}
	workers  int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAggregator creates an Aggregator.
func NewAggregator(stocks StockSource, calc StockCalculator, opts Options) *Aggregator {
	a := &Aggregator{
		stocks:   stocks,
		calc:     calc,
		excluded: ExclusionSet(opts.Excluded),
		workers:  opts.Workers,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if a.workers < 1 {
		a.workers = 1
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	return a
}

// ExclusionSet builds a lookup set from industry labels, ignoring blanks.
func ExclusionSet(labels []string) map[string]struct{} {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			set[l] = struct{}{}
		}
	}
	return set
}

type industryGroup struct {
	name   string
	stocks []string
}

// Aggregate returns one indicator per non-excluded industry, sorted by
// industry name. Every industry seen that day gets a record, including ones
// where no stock produced a value; their horizons are all undefined.
//
// Failures of single stocks are logged and count as undefined. A store
// failure wrapped with model.ErrStoreUnavailable aborts the pass.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time, segment string) ([]model.SectorIndicator, error) {
	date = model.Day(date)
	rows, err := a.stocks.StocksOnDate(ctx, segment, date)
	if err != nil {
		return nil, fmt.Errorf("stocks on %s for %s: %w", date.Format(model.DateLayout), segment, err)
	}

	groups := a.group(rows)
	if len(groups) == 0 {
		a.logger.Warn("no industry data", "segment", segment, "date", date.Format(model.DateLayout))
		return nil, nil
	}
	a.logger.Info("sector rsi started", "segment", segment, "industries", len(groups), "date", date.Format(model.DateLayout))

	results := make([]model.SectorIndicator, len(groups))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	jobs := make(chan int)
	for w := 0; w < a.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				ind, err := a.aggregateIndustry(ctx, date, segment, groups[i])
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
						cancel()
					}
					mu.Unlock()
					continue
				}
				results[i] = ind
			}
		}()
	}

feed:
	for i := range groups {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.logger.Info("sector rsi finished", "segment", segment, "industries", len(results))
	return results, nil
}

// Publish aggregates and writes the result, returning how many records were written.
func (a *Aggregator) Publish(ctx context.Context, date time.Time, segment string, w IndicatorWriter) (int, error) {
	indicators, err := a.Aggregate(ctx, date, segment)
	if err != nil {
		return 0, err
	}
	if len(indicators) == 0 {
		return 0, nil
	}
	if err := w.UpsertSectorIndicators(ctx, indicators); err != nil {
		return 0, fmt.Errorf("upsert sector indicators: %w", err)
	}
	return len(indicators), nil
}

func (a *Aggregator) group(rows []model.PriceObservation) []industryGroup {
	byIndustry := make(map[string]map[string]struct{})
	for _, r := range rows {
		industry := strings.TrimSpace(r.Industry)
		if industry == "" {
			continue
		}
		if _, skip := a.excluded[industry]; skip {
			continue
		}
		if byIndustry[industry] == nil {
			byIndustry[industry] = make(map[string]struct{})
		}
		byIndustry[industry][r.StockID] = struct{}{}
	}

	groups := make([]industryGroup, 0, len(byIndustry))
	for name, set := range byIndustry {
		stocks := make([]string, 0, len(set))
		for id := range set {
			stocks = append(stocks, id)
		}
		sort.Strings(stocks)
		groups = append(groups, industryGroup{name: name, stocks: stocks})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].name < groups[j].name })
	return groups
}

func (a *Aggregator) aggregateIndustry(ctx context.Context, date time.Time, segment string, g industryGroup) (model.SectorIndicator, error) {
	horizons := a.calc.Horizons()
	collected := make(map[string][]float64, len(horizons))
	valid := 0

	for _, stockID := range g.stocks {
		values, err := a.calculateStock(ctx, stockID, date)
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) {
				return model.SectorIndicator{}, err
			}
			a.metrics.StockRSI.WithLabelValues("error").Inc()
			a.logger.Error("stock rsi failed", "segment", segment, "industry", g.name, "stock", stockID, "err", err)
			continue
		}

		defined := false
		for _, h := range horizons {
			if v, ok := values[h.Name]; ok && v.Valid {
				collected[h.Name] = append(collected[h.Name], v.Float64)
				defined = true
			}
		}
		if defined {
			valid++
			a.metrics.StockRSI.WithLabelValues("ok").Inc()
		} else {
			a.metrics.StockRSI.WithLabelValues("undefined").Inc()
		}
	}

	ind := model.SectorIndicator{
		TradeDate: date,
		Segment:   segment,
		Industry:  g.name,
		Values:    make(model.HorizonValues, len(horizons)),
	}
	for _, h := range horizons {
		mean, ok := calculator.Mean(collected[h.Name])
		ind.Values[h.Name] = sql.NullFloat64{Float64: mean, Valid: ok}
	}
	a.metrics.SectorIndicators.Inc()

	if valid == 0 {
		a.metrics.SectorsUnavailable.Inc()
		a.logger.Warn("sector rsi unavailable",
			"segment", segment, "industry", g.name, "stocks", len(g.stocks))
	} else {
		a.logger.Info("sector rsi computed",
			"segment", segment, "industry", g.name, "stocks", len(g.stocks), "valid", valid)
	}
	return ind, nil
}

// calculateStock isolates a single stock so a panic in its computation is
// reported as that stock's error.
func (a *Aggregator) calculateStock(ctx context.Context, stockID string, date time.Time) (values model.HorizonValues, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rsi for %s panicked: %v", stockID, r)
		}
	}()
	return a.calc.Calculate(ctx, stockID, date)
}
