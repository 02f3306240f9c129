// Package leader tracks which stocks hold the top market-cap positions of
// each industry and for how many consecutive trading days.
package leader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/sector"
)

const (
	DefaultTrackedRanks     = 2
	DefaultReplayCandidates = 5
	DefaultReplayWindow     = 100
)

// Store is the subset of the observation and leadership store the tracker uses.
type Store interface {
	StocksOnDate(ctx context.Context, segment string, date time.Time) ([]model.PriceObservation, error)
	Leaders(ctx context.Context, segment string) ([]model.LeadershipRecord, error)
	UpsertLeaders(ctx context.Context, records []model.LeadershipRecord) error

	LatestTradingDate(ctx context.Context) (time.Time, bool, error)
	DistinctTradingDatesAtOrBefore(ctx context.Context, date time.Time, limit int) ([]time.Time, error)
	TopByMarketCap(ctx context.Context, segment, industry string, date time.Time, excluded []string, limit int) ([]model.RankedStock, error)
	UpdateLeaderStreak(ctx context.Context, key model.LeaderKey, streak int, at time.Time) (bool, error)
}

// Options tunes a Tracker. Zero values select the defaults.
type Options struct {
	Excluded         []string
	TrackedRanks     int
	ReplayCandidates int
	ReplayWindow     int
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

// Tracker maintains LeadershipRecords.
type Tracker struct {
	store    Store
	excluded []string
	exclSet  map[string]struct{}
	ranks    int
	topK     int
	window   int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, opts Options) *Tracker {
	t := &Tracker{
		store:    store,
		excluded: opts.Excluded,
		exclSet:  sector.ExclusionSet(opts.Excluded),
		ranks:    opts.TrackedRanks,
		topK:     opts.ReplayCandidates,
		window:   opts.ReplayWindow,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	if t.ranks <= 0 {
		t.ranks = DefaultTrackedRanks
	}
	if t.topK <= 0 {
		t.topK = DefaultReplayCandidates
	}
	if t.topK < t.ranks {
		t.topK = t.ranks
	}
	if t.window <= 0 {
		t.window = DefaultReplayWindow
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.metrics == nil {
		t.metrics = metrics.New(nil)
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// UpdateResult summarizes one incremental update of a segment.
type UpdateResult struct {
	Industries int
	Records    int
	New        int
	Extended   int
	Replaced   int
}

// Update applies date's ranking to the stored records of segment. It assumes
// the stored records reflect the previous trading day; running it twice for
// the same date counts that date twice.
func (t *Tracker) Update(ctx context.Context, date time.Time, segment string) (UpdateResult, error) {
	var res UpdateResult
	date = model.Day(date)

	rows, err := t.store.StocksOnDate(ctx, segment, date)
	if err != nil {
		return res, fmt.Errorf("stocks on %s for %s: %w", date.Format(model.DateLayout), segment, err)
	}
	ranked := RankIndustries(rows, t.exclSet, t.ranks)
	if len(ranked) == 0 {
		t.logger.Warn("no leader data", "segment", segment, "date", date.Format(model.DateLayout))
		return res, nil
	}

	existing, err := t.store.Leaders(ctx, segment)
	if err != nil {
		return res, fmt.Errorf("load leaders for %s: %w", segment, err)
	}
	streaks := StreaksFromRecords(existing)

	now := t.now()
	records := make([]model.LeadershipRecord, 0, len(ranked)*t.ranks)
	for _, industry := range SortedIndustries(ranked) {
		for i, stock := range ranked[industry] {
			key := model.LeaderKey{Segment: segment, Industry: industry, Rank: i + 1}
			prev := streaks[key]
			holding, transition := streaks.Observe(key, stock.StockID)

			switch transition {
			case TransitionNew:
				res.New++
				t.logger.Info("leader registered", "key", key.String(), "stock", stock.StockID)
			case TransitionExtend:
				res.Extended++
				t.logger.Debug("leader held", "key", key.String(), "stock", stock.StockID, "streak", holding.Streak)
			case TransitionReplace:
				res.Replaced++
				t.logger.Info("leader changed", "key", key.String(), "from", prev.StockID, "to", stock.StockID)
			}
			t.metrics.LeaderTransitions.WithLabelValues(string(transition)).Inc()

			records = append(records, model.LeadershipRecord{
				Key:       key,
				StockID:   stock.StockID,
				StockName: stock.StockName,
				MarketCap: stock.MarketCap,
				Streak:    holding.Streak,
				UpdatedAt: now,
			})
		}
	}

	if err := t.store.UpsertLeaders(ctx, records); err != nil {
		return res, fmt.Errorf("upsert leaders for %s: %w", segment, err)
	}
	res.Industries = len(ranked)
	res.Records = len(records)
	t.logger.Info("leaders updated", "segment", segment, "industries", res.Industries, "records", res.Records)
	return res, nil
}

// UpdateAll runs Update for every segment. A failing segment is logged and
// skipped unless the store is unavailable.
func (t *Tracker) UpdateAll(ctx context.Context, date time.Time, segments []string) (int, error) {
	total := 0
	for _, segment := range segments {
		res, err := t.Update(ctx, date, segment)
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) || ctx.Err() != nil {
				return total, err
			}
			t.logger.Error("leader update failed", "segment", segment, "err", err)
			continue
		}
		total += res.Records
	}
	return total, nil
}
