// Package collector fetches the daily industry classification table from the
// exchange and stores it as price observations.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"SectorSentinel/internal/calendar"
	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
)

// Store is the part of the observation store the collector writes to.
type Store interface {
	HasObservations(ctx context.Context, date time.Time) (bool, error)
	UpsertObservations(ctx context.Context, obs []model.PriceObservation) (int, error)
}

// Options tunes a Collector.
type Options struct {
	// Delay is the pause between provider requests.
	Delay   time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Collector orchestrates fetching, normalizing and storing observations.
type Collector struct {
	fetcher  Fetcher
	store    Store
	segments []model.Segment
	calendar *calendar.Calendar
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher, store Store, segments []model.Segment, cal *calendar.Calendar, opts Options) *Collector {
	c := &Collector{
		fetcher:  fetcher,
		store:    store,
		segments: segments,
		calendar: cal,
		delay:    opts.Delay,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.calendar == nil {
		c.calendar = calendar.New(nil)
	}
	return c
}

// CollectDate fetches every segment for date and stores the result. Dates
// already stored are skipped. Nothing is written unless all segments fetch.
func (c *Collector) CollectDate(ctx context.Context, date time.Time) (int, error) {
	date = model.Day(date)
	has, err := c.store.HasObservations(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", date.Format(model.DateLayout), err)
	}
	if has {
		c.logger.Info("observations already stored", "date", date.Format(model.DateLayout))
		return 0, nil
	}

	var all []model.PriceObservation
	for i, seg := range c.segments {
		if i > 0 {
			if err := c.sleep(ctx); err != nil {
				return 0, err
			}
		}
		rows, err := c.fetcher.FetchIndustryRows(ctx, date, seg.MarketCode)
		if err != nil {
			return 0, fmt.Errorf("fetch %s %s: %w", seg.Name, date.Format(model.DateLayout), err)
		}
		obs := Normalize(rows, seg.Name, date)
		if len(rows) == 0 {
			c.logger.Warn("provider returned no rows", "segment", seg.Name, "date", date.Format(model.DateLayout))
		} else {
			c.logger.Info("fetched observations", "segment", seg.Name, "date", date.Format(model.DateLayout),
				"rows", len(rows), "kept", len(obs))
		}
		all = append(all, obs...)
	}

	if len(all) == 0 {
		return 0, nil
	}
	n, err := c.store.UpsertObservations(ctx, all)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", date.Format(model.DateLayout), err)
	}
	if c.metrics != nil {
		c.metrics.ObservationsStored.Add(float64(n))
	}
	return n, nil
}

// BackfillResult summarizes a Backfill run.
type BackfillResult struct {
	Dates     []time.Time
	Collected int
	Failed    int
	Stored    int
}

// Backfill collects up to days trading days ending at today, oldest first.
// It searches back at most days*1.5 calendar days. Per-date failures are
// logged and skipped; an unavailable store or cancelled context stops it.
func (c *Collector) Backfill(ctx context.Context, today time.Time, days int) (BackfillResult, error) {
	var res BackfillResult
	if days <= 0 {
		return res, nil
	}
	maxSearch := days * 3 / 2
	if maxSearch < days {
		maxSearch = days
	}
	res.Dates = c.calendar.RecentTradingDays(today, days, maxSearch)
	c.logger.Info("backfill started", "trading_days", len(res.Dates))

	for _, d := range res.Dates {
		n, err := c.CollectDate(ctx, d)
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) || ctx.Err() != nil {
				return res, err
			}
			res.Failed++
			c.logger.Error("backfill date failed", "date", d.Format(model.DateLayout), "err", err)
			continue
		}
		if n > 0 {
			res.Collected++
			res.Stored += n
			if err := c.sleep(ctx); err != nil {
				return res, err
			}
		}
	}
	c.logger.Info("backfill finished", "collected", res.Collected, "failed", res.Failed, "stored", res.Stored)
	return res, nil
}

func (c *Collector) sleep(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
