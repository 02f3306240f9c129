package scheduler

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SectorSentinel/internal/calculator"
	"SectorSentinel/internal/calendar"
	"SectorSentinel/internal/collector"
	"SectorSentinel/internal/leader"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/recorder"
	"SectorSentinel/internal/runstate"
	"SectorSentinel/internal/sector"
	"SectorSentinel/internal/store/sqlite"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) SendWithRetry(_ context.Context, text string, _ int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *captureSender) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 0, 0, 0, 0, time.UTC)
}

var segments = []model.Segment{{Name: "KOSPI", MarketCode: "STK"}, {Name: "KOSDAQ", MarketCode: "KSQ"}}

func obs(id, industry string, date time.Time, price float64, cap int64) model.PriceObservation {
	return model.PriceObservation{
		StockID: id, StockName: "name-" + id, Segment: "KOSPI", Industry: industry,
		TradeDate: date, ClosePrice: price, MarketCap: sql.NullInt64{Int64: cap, Valid: true},
	}
}

type fixture struct {
	store  *sqlite.Store
	sender *captureSender
	state  *runstate.Manager
	sched  *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	// Three prior trading days of history.
	var seed []model.PriceObservation
	for i, d := range []time.Time{day(10, 13), day(10, 14), day(10, 15)} {
		seed = append(seed,
			obs("A", "전기전자", d, 100+float64(i), 1000),
			obs("B", "전기전자", d, 50-float64(i), 500),
			obs("C", "기타", d, 10, 300),
		)
	}
	_, err = st.UpsertObservations(ctx, seed)
	require.NoError(t, err)

	fetcher := &collector.MockFetcher{}
	fetcher.Set(day(10, 16), "STK", []collector.RawRow{
		{"ISU_SRT_CD": "A", "ISU_ABBRV": "name-A", "IDX_IND_NM": "전기전자", "TDD_CLSPRC": "104", "MKTCAP": "1000"},
		{"ISU_SRT_CD": "B", "ISU_ABBRV": "name-B", "IDX_IND_NM": "전기전자", "TDD_CLSPRC": "49", "MKTCAP": "500"},
		{"ISU_SRT_CD": "C", "ISU_ABBRV": "name-C", "IDX_IND_NM": "기타", "TDD_CLSPRC": "10", "MKTCAP": "300"},
	})

	excluded := []string{"기타"}
	horizons := []model.Horizon{{Name: "d", Period: 2}}
	cal := calendar.New(nil)
	state, err := runstate.NewManager(filepath.Join(t.TempDir(), "state.json"), nil)
	require.NoError(t, err)
	sender := &captureSender{}
	rec, err := recorder.NewSQLiteRecorder(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })

	deps := Deps{
		Store:      st,
		Collector:  collector.NewCollector(fetcher, st, segments, cal, collector.Options{}),
		Aggregator: sector.NewAggregator(st, calculator.NewHorizonCalculator(st, horizons, 10, nil), sector.Options{Excluded: excluded}),
		Tracker:    leader.NewTracker(st, leader.Options{Excluded: excluded}),
		Notifier:   sender,
		Calendar:   cal,
		State:      state,
		Recorder:   rec,
	}
	now := func() time.Time { return time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC) }
	sched := NewScheduler(ctx, deps, Settings{
		Segments: segments, Horizons: horizons, Excluded: excluded, RetentionDays: 365, Now: now,
	})
	return &fixture{store: st, sender: sender, state: state, sched: sched}
}

func TestRunDaily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.sched.RunDaily(ctx, day(10, 16)))

	inds, err := f.store.SectorIndicators(ctx, "KOSPI", day(10, 16))
	require.NoError(t, err)
	require.Len(t, inds, 1)
	assert.Equal(t, "전기전자", inds[0].Industry)
	_, ok := inds[0].Value("d")
	assert.True(t, ok)

	leaders, err := f.store.Leaders(ctx, "KOSPI")
	require.NoError(t, err)
	require.Len(t, leaders, 2)
	assert.Equal(t, "A", leaders[0].StockID)
	assert.Equal(t, 1, leaders[0].Streak)

	st := f.state.Get()
	assert.Equal(t, day(10, 16), st.LastCollectedDate)
	assert.Equal(t, day(10, 16), st.LastIndicatorDate)
	assert.Equal(t, day(10, 16), st.LastLeaderDate)
	assert.NotEmpty(t, st.LastRunID)

	msgs := f.sender.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "KOSPI 업종 RSI")
	assert.Contains(t, msgs[0], "name-A(A)")
	assert.NotContains(t, msgs[0], "기타")
	assert.Contains(t, msgs[1], "저장된 업종 지표가 없습니다")

	// A rerun does not count the day twice.
	require.NoError(t, f.sched.RunDaily(ctx, day(10, 16)))
	leaders, err = f.store.Leaders(ctx, "KOSPI")
	require.NoError(t, err)
	assert.Equal(t, 1, leaders[0].Streak)
}

func TestReportOmitsLeadersOfUnreportedIndustries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.UpsertLeaders(ctx, []model.LeadershipRecord{
		{Key: model.LeaderKey{Segment: "KOSPI", Industry: "섬유의복", Rank: 1}, StockID: "Z", StockName: "name-Z", MarketCap: 9, Streak: 30, UpdatedAt: stale},
		{Key: model.LeaderKey{Segment: "KOSPI", Industry: "기타", Rank: 1}, StockID: "Y", StockName: "name-Y", MarketCap: 9, Streak: 12, UpdatedAt: stale},
	}))

	require.NoError(t, f.sched.RunDaily(ctx, day(10, 16)))
	msgs := f.sender.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "name-A(A)")
	assert.NotContains(t, msgs[0], "name-Z")
	assert.NotContains(t, msgs[0], "name-Y")
}

func TestCurrentLeaders(t *testing.T) {
	records := []model.LeadershipRecord{
		{Key: model.LeaderKey{Segment: "KOSPI", Industry: "화학", Rank: 1}, StockID: "A"},
		{Key: model.LeaderKey{Segment: "KOSPI", Industry: "섬유의복", Rank: 1}, StockID: "Z"},
		{Key: model.LeaderKey{Segment: "KOSPI", Industry: "화학", Rank: 2}, StockID: "B"},
	}
	got := currentLeaders(records, []model.SectorIndicator{{Industry: "화학"}})
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].StockID)
	assert.Equal(t, "B", got[1].StockID)
	assert.Empty(t, currentLeaders(records, nil))
}

func TestRunDailySkipsNonTradingDay(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.RunDaily(context.Background(), day(10, 17)))
	assert.Empty(t, f.sender.messages())
	assert.True(t, f.state.Get().LastCollectedDate.IsZero())
}

func TestRunDailyBusy(t *testing.T) {
	f := newFixture(t)
	f.sched.jobMu.Lock()
	defer f.sched.jobMu.Unlock()
	assert.ErrorIs(t, f.sched.RunDaily(context.Background(), day(10, 16)), ErrBusy)
}

func TestHandleCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sched.RunDaily(ctx, day(10, 16)))

	assert.Contains(t, f.sched.HandleCommand(ctx, "/rsi kospi"), "전기전자")
	assert.Contains(t, f.sched.HandleCommand(ctx, "/rsi@SentinelBot"), "KOSDAQ 업종 RSI")
	assert.Contains(t, f.sched.HandleCommand(ctx, "/rsi NYSE"), "알 수 없는 시장")
	assert.Contains(t, f.sched.HandleCommand(ctx, "/leaders STK"), "1위 name-A(A)")
	assert.Contains(t, f.sched.HandleCommand(ctx, "hello"), "사용 가능한 명령")
	assert.Contains(t, f.sched.HandleCommand(ctx, ""), "사용 가능한 명령")

	reply := f.sched.HandleCommand(ctx, "/recalc")
	assert.Contains(t, reply, "갱신 2")

	// Replay over 10-13..10-16 finds A on top every day.
	leaders, err := f.store.Leaders(ctx, "KOSPI")
	require.NoError(t, err)
	assert.Equal(t, 4, leaders[0].Streak)
	assert.Equal(t, 4, leaders[1].Streak)
	assert.False(t, f.state.Get().LastRecomputeAt.IsZero())

	runs := f.sched.HandleCommand(ctx, "/runs")
	assert.Contains(t, runs, "recompute")
	assert.Contains(t, runs, "daily")
	assert.Contains(t, runs, "시세 3")
}

func TestRunInitSeedsLeaderStreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.sched.RunInit(ctx, day(10, 16), 4)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(10, 13), day(10, 14), day(10, 15), day(10, 16)}, res.Backfill.Dates)
	assert.Equal(t, 1, res.Backfill.Collected)
	assert.Equal(t, 4, res.Indicators)
	assert.Equal(t, 2, res.Leaders)
	assert.Equal(t, 2, res.Recompute.Updated)

	// A and B held ranks 1 and 2 on all four stored days.
	leaders, err := f.store.Leaders(ctx, "KOSPI")
	require.NoError(t, err)
	require.Len(t, leaders, 2)
	assert.Equal(t, "A", leaders[0].StockID)
	assert.Equal(t, 4, leaders[0].Streak)
	assert.Equal(t, "B", leaders[1].StockID)
	assert.Equal(t, 4, leaders[1].Streak)

	st := f.state.Get()
	assert.Equal(t, day(10, 16), st.LastLeaderDate)
	assert.Equal(t, day(10, 16), st.LastIndicatorDate)

	// The daily run for the same date must not count it again.
	require.NoError(t, f.sched.RunDaily(ctx, day(10, 16)))
	leaders, err = f.store.Leaders(ctx, "KOSPI")
	require.NoError(t, err)
	assert.Equal(t, 4, leaders[0].Streak)
}

func TestHandleRSIWithoutData(t *testing.T) {
	f := newFixture(t)
	assert.True(t, strings.Contains(f.sched.HandleCommand(context.Background(), "/rsi"), "저장된 업종 지표가 없습니다"))
}

func TestRegisterAllRejectsBadCron(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.sched.RegisterAll("not a cron", "0 0 7 * * 6"))
	require.NoError(t, f.sched.RegisterAll("0 30 18 * * 1-5", "0 0 7 * * 6"))
	assert.Len(t, f.sched.Cron.Entries(), 2)
}
