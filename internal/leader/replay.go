package leader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SectorSentinel/internal/model"
)

// SnapshotFunc returns the market-cap ranking of an industry on a date.
type SnapshotFunc func(ctx context.Context, date time.Time) ([]model.RankedStock, error)

// ReplayStreak counts how many of dates, walked newest first, had holder at
// position rank (1-based). The walk stops at the first date whose snapshot is
// empty, shorter than rank, or held by another stock. A missing snapshot is
// treated the same as a change of holder, so a gap in stored history ends
// the streak. The result is never below 1.
func ReplayStreak(ctx context.Context, dates []time.Time, rank int, holder string, snapshot SnapshotFunc) (int, error) {
	count := 0
	for _, d := range dates {
		ranked, err := snapshot(ctx, d)
		if err != nil {
			return 0, fmt.Errorf("snapshot %s: %w", d.Format(model.DateLayout), err)
		}
		if len(ranked) == 0 || len(ranked) < rank {
			break
		}
		if ranked[rank-1].StockID != holder {
			break
		}
		count++
	}
	if count < 1 {
		count = 1
	}
	return count, nil
}

// RecomputeResult reports a historical recomputation pass.
type RecomputeResult struct {
	Reference time.Time
	Attempted int
	Updated   int
	Failed    int
}

// Recompute rebuilds the streak of every stored record from daily snapshots
// as of reference, or as of the latest stored trading date when reference is
// zero. It ignores the stored streaks, so it also repairs drift left by the
// incremental path.
//
// Each record is written independently. A record that fails is logged and
// counted; a store outage aborts the pass and keeps what was already written.
func (t *Tracker) Recompute(ctx context.Context, reference time.Time) (RecomputeResult, error) {
	var res RecomputeResult

	if reference.IsZero() {
		latest, ok, err := t.store.LatestTradingDate(ctx)
		if err != nil {
			return res, fmt.Errorf("latest trading date: %w", err)
		}
		if !ok {
			t.logger.Warn("no observations, nothing to recompute")
			return res, nil
		}
		reference = latest
	}
	reference = model.Day(reference)
	res.Reference = reference

	records, err := t.store.Leaders(ctx, "")
	if err != nil {
		return res, fmt.Errorf("load leaders: %w", err)
	}
	dates, err := t.store.DistinctTradingDatesAtOrBefore(ctx, reference, t.window)
	if err != nil {
		return res, fmt.Errorf("trading dates: %w", err)
	}
	t.logger.Info("streak recompute started",
		"reference", reference.Format(model.DateLayout), "records", len(records), "dates", len(dates))

	for i, rec := range records {
		res.Attempted++
		key := rec.Key

		snapshot := func(ctx context.Context, d time.Time) ([]model.RankedStock, error) {
			return t.store.TopByMarketCap(ctx, key.Segment, key.Industry, d, t.excluded, t.topK)
		}
		streak, err := ReplayStreak(ctx, dates, key.Rank, rec.StockID, snapshot)
		if err == nil {
			var ok bool
			ok, err = t.store.UpdateLeaderStreak(ctx, key, streak, t.now())
			if err == nil && !ok {
				t.metrics.RecomputeRecords.WithLabelValues("missing").Inc()
				t.logger.Warn("leader record vanished", "key", key.String())
				continue
			}
		}
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) || ctx.Err() != nil {
				return res, fmt.Errorf("recompute %s: %w", key, err)
			}
			res.Failed++
			t.metrics.RecomputeRecords.WithLabelValues("failed").Inc()
			t.logger.Error("streak recompute failed", "key", key.String(), "err", err)
			continue
		}

		res.Updated++
		t.metrics.RecomputeRecords.WithLabelValues("updated").Inc()
		t.logger.Debug("streak recomputed",
			"progress", fmt.Sprintf("%d/%d", i+1, len(records)),
			"key", key.String(), "stock", rec.StockID, "streak", streak, "was", rec.Streak)
	}

	t.logger.Info("streak recompute finished",
		"attempted", res.Attempted, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}
