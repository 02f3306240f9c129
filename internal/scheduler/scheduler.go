package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"SectorSentinel/internal/calendar"
	"SectorSentinel/internal/collector"
	"SectorSentinel/internal/leader"
	"SectorSentinel/internal/logger"
	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/notifier"
	"SectorSentinel/internal/recorder"
	"SectorSentinel/internal/runstate"
	"SectorSentinel/internal/sector"
	"SectorSentinel/internal/strategy"
)

// ErrBusy is returned when another job holds the job lock.
var ErrBusy = errors.New("another job is running")

// Store is the part of the store the jobs and commands read and prune.
type Store interface {
	sector.IndicatorWriter
	HasObservations(ctx context.Context, date time.Time) (bool, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	SectorIndicators(ctx context.Context, segment string, date time.Time) ([]model.SectorIndicator, error)
	LatestIndicatorDate(ctx context.Context) (time.Time, bool, error)
	Leaders(ctx context.Context, segment string) ([]model.LeadershipRecord, error)
}

// Sender delivers report text. *notifier.TelegramNotifier implements it.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Deps are the components the jobs drive.
type Deps struct {
	Store      Store
	Collector  *collector.Collector
	Aggregator *sector.Aggregator
	Tracker    *leader.Tracker
	Notifier   Sender // nil disables delivery
	Calendar   *calendar.Calendar
	State      *runstate.Manager
	Recorder   recorder.Recorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Settings are the job parameters.
type Settings struct {
	Segments      []model.Segment
	Horizons      []model.Horizon
	Excluded      []string
	RetentionDays int
	Now           func() time.Time
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	deps     Deps
	settings Settings
	logger   *slog.Logger
	jobMu    sync.Mutex
}

// NewScheduler creates a new Scheduler. Cron expressions are evaluated in
// exchange time.
func NewScheduler(ctx context.Context, deps Deps, settings Settings) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Calendar == nil {
		deps.Calendar = calendar.New(nil)
	}
	if deps.Recorder == nil {
		deps.Recorder = recorder.NewNoopRecorder()
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if len(settings.Horizons) == 0 {
		settings.Horizons = model.DefaultHorizons
	}
	cronLog := cron.PrintfLogger(slog.NewLogLogger(deps.Logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(calendar.Seoul),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		Ctx:      ctx,
		deps:     deps,
		settings: settings,
		logger:   deps.Logger,
	}
}

// RegisterAll registers the daily pipeline and the periodic recomputation.
func (s *Scheduler) RegisterAll(dailyCron, recalcCron string) error {
	if _, err := s.Cron.AddFunc(dailyCron, s.dailyTask); err != nil {
		return fmt.Errorf("register daily task: %w", err)
	}
	if _, err := s.Cron.AddFunc(recalcCron, s.recomputeTask); err != nil {
		return fmt.Errorf("register recompute task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.Cron.Entries()))
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) today() time.Time {
	return calendar.Today(s.settings.Now())
}

func (s *Scheduler) segmentNames() []string {
	names := make([]string, len(s.settings.Segments))
	for i, seg := range s.settings.Segments {
		names[i] = seg.Name
	}
	return names
}

func (s *Scheduler) dailyTask() {
	date := s.today()
	if err := s.RunDaily(s.Ctx, date); err != nil && !errors.Is(err, ErrBusy) {
		s.trySend(s.Ctx, notifier.FormatAlert("일일 작업", date, err))
	}
}

func (s *Scheduler) recomputeTask() {
	start := time.Now()
	res, err := s.RunRecompute(s.Ctx)
	if err != nil {
		if !errors.Is(err, ErrBusy) {
			s.trySend(s.Ctx, notifier.FormatAlert("연속일수 재계산", s.today(), err))
		}
		return
	}
	s.trySend(s.Ctx, notifier.FormatRecompute(res, time.Since(start)))
}

// RunDaily runs the whole pipeline for date: purge, collect, sector
// indicators, leader update and reports. Non-trading days are skipped.
func (s *Scheduler) RunDaily(ctx context.Context, date time.Time) (err error) {
	if !s.jobMu.TryLock() {
		return ErrBusy
	}
	defer s.jobMu.Unlock()

	date = model.Day(date)
	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, s.logger)
	day := date.Format(model.DateLayout)

	if !s.deps.Calendar.IsTradingDay(date) {
		log.Info("not a trading day, skipping", "date", day)
		return nil
	}

	evt := &recorder.RunEvent{RunID: runID, Job: "daily", TradeDate: date, StartedAt: time.Now()}
	log.Info("daily job started", "date", day)
	defer func() {
		evt.FinishedAt = time.Now()
		evt.Err = err
		s.deps.Metrics.JobDuration.WithLabelValues("daily").Observe(evt.FinishedAt.Sub(evt.StartedAt).Seconds())
		s.record(ctx, evt)
		if s.deps.State != nil {
			s.deps.State.MarkRun(runID, err)
		}
		if err != nil {
			log.Error("daily job failed", "date", day, "err", err)
		} else {
			log.Info("daily job finished", "date", day, "observations", evt.Observations,
				"indicators", evt.Indicators, "leaders", evt.Leaders,
				"elapsed", evt.FinishedAt.Sub(evt.StartedAt).Round(time.Millisecond))
		}
	}()

	if err := s.purge(ctx, log, date); err != nil {
		return err
	}

	if evt.Observations, err = s.deps.Collector.CollectDate(ctx, date); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	has, err := s.deps.Store.HasObservations(ctx, date)
	if err != nil {
		return fmt.Errorf("check observations: %w", err)
	}
	if !has {
		log.Warn("no observations for trading day, provider may be closed", "date", day)
		return nil
	}
	s.markState(func(m *runstate.Manager) { m.MarkCollected(date) })

	for _, seg := range s.settings.Segments {
		n, err := s.deps.Aggregator.Publish(ctx, date, seg.Name, s.deps.Store)
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) || ctx.Err() != nil {
				return fmt.Errorf("sector indicators %s: %w", seg.Name, err)
			}
			log.Error("sector indicators failed", "segment", seg.Name, "err", err)
			continue
		}
		evt.Indicators += n
	}
	if evt.Indicators > 0 {
		s.markState(func(m *runstate.Manager) { m.MarkIndicators(date) })
	}

	if s.leadersApplied(date) {
		log.Info("leaders already updated for date", "date", day)
	} else {
		if evt.Leaders, err = s.deps.Tracker.UpdateAll(ctx, date, s.segmentNames()); err != nil {
			return fmt.Errorf("leaders: %w", err)
		}
		s.markState(func(m *runstate.Manager) { m.MarkLeaders(date) })
	}

	for _, seg := range s.settings.Segments {
		report, err := s.segmentReport(ctx, seg.Name, date)
		if err != nil {
			if errors.Is(err, model.ErrStoreUnavailable) {
				return err
			}
			log.Error("build report failed", "segment", seg.Name, "err", err)
			continue
		}
		s.trySend(ctx, report)
	}
	return nil
}

func (s *Scheduler) purge(ctx context.Context, log *slog.Logger, date time.Time) error {
	if s.settings.RetentionDays <= 0 {
		return nil
	}
	cutoff := date.AddDate(0, 0, -s.settings.RetentionDays)
	n, err := s.deps.Store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		if errors.Is(err, model.ErrStoreUnavailable) {
			return fmt.Errorf("purge: %w", err)
		}
		log.Error("purge failed", "cutoff", cutoff.Format(model.DateLayout), "err", err)
		return nil
	}
	if n > 0 {
		log.Info("purged old observations", "cutoff", cutoff.Format(model.DateLayout), "rows", n)
	}
	return nil
}

// leadersApplied reports whether the incremental update already ran for
// date; applying it twice would count the day twice.
func (s *Scheduler) leadersApplied(date time.Time) bool {
	if s.deps.State == nil {
		return false
	}
	last := s.deps.State.Get().LastLeaderDate
	return !last.IsZero() && !last.Before(date)
}

func (s *Scheduler) record(ctx context.Context, evt *recorder.RunEvent) {
	// The job context may already be cancelled; history is still worth keeping.
	if err := s.deps.Recorder.RecordRun(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Error("record run", "job", evt.Job, "err", err)
	}
}

func (s *Scheduler) markState(fn func(*runstate.Manager)) {
	if s.deps.State != nil {
		fn(s.deps.State)
	}
}

// RunRecompute rebuilds every leader streak as of the latest stored date.
func (s *Scheduler) RunRecompute(ctx context.Context) (leader.RecomputeResult, error) {
	if !s.jobMu.TryLock() {
		return leader.RecomputeResult{}, ErrBusy
	}
	defer s.jobMu.Unlock()
	return s.recompute(ctx, uuid.NewString())
}

func (s *Scheduler) recompute(ctx context.Context, runID string) (leader.RecomputeResult, error) {
	ctx = logger.WithRunID(ctx, runID)
	start := time.Now()
	res, err := s.deps.Tracker.Recompute(ctx, time.Time{})
	finished := time.Now()
	s.deps.Metrics.JobDuration.WithLabelValues("recompute").Observe(finished.Sub(start).Seconds())
	s.record(ctx, &recorder.RunEvent{
		RunID: runID, Job: "recompute", TradeDate: res.Reference, StartedAt: start, FinishedAt: finished,
		Recomputed: res.Updated, Failed: res.Failed, Err: err,
	})
	if err != nil {
		return res, err
	}
	s.markState(func(m *runstate.Manager) { m.MarkRecompute(s.settings.Now()) })
	return res, nil
}

// InitResult summarizes RunInit.
type InitResult struct {
	Backfill   collector.BackfillResult
	Indicators int
	Leaders    int
	Recompute  leader.RecomputeResult
}

// RunInit seeds an empty store: it backfills days trading days ending at
// today, computes their sector indicators, registers the leaders of the
// newest date and then rebuilds their streaks from the stored history.
func (s *Scheduler) RunInit(ctx context.Context, today time.Time, days int) (InitResult, error) {
	var res InitResult
	if !s.jobMu.TryLock() {
		return res, ErrBusy
	}
	defer s.jobMu.Unlock()

	runID := uuid.NewString()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx, s.logger)

	var err error
	if res.Backfill, err = s.deps.Collector.Backfill(ctx, today, days); err != nil {
		return res, fmt.Errorf("backfill: %w", err)
	}

	var newest time.Time
	for _, d := range res.Backfill.Dates {
		has, err := s.deps.Store.HasObservations(ctx, d)
		if err != nil {
			return res, fmt.Errorf("check observations: %w", err)
		}
		if !has {
			continue
		}
		newest = d
		for _, seg := range s.settings.Segments {
			n, err := s.deps.Aggregator.Publish(ctx, d, seg.Name, s.deps.Store)
			if err != nil {
				if errors.Is(err, model.ErrStoreUnavailable) || ctx.Err() != nil {
					return res, fmt.Errorf("sector indicators %s: %w", seg.Name, err)
				}
				log.Error("sector indicators failed", "date", d.Format(model.DateLayout), "segment", seg.Name, "err", err)
				continue
			}
			res.Indicators += n
		}
	}
	if newest.IsZero() {
		log.Warn("init found no stored observations")
		return res, nil
	}
	s.markState(func(m *runstate.Manager) {
		m.MarkCollected(newest)
		m.MarkIndicators(newest)
	})

	// Recompute only visits existing records, so register today's holders first.
	if !s.leadersApplied(newest) {
		if res.Leaders, err = s.deps.Tracker.UpdateAll(ctx, newest, s.segmentNames()); err != nil {
			return res, fmt.Errorf("leaders: %w", err)
		}
		s.markState(func(m *runstate.Manager) { m.MarkLeaders(newest) })
	}

	if res.Recompute, err = s.recompute(ctx, runID); err != nil {
		return res, err
	}
	log.Info("init finished", "dates", len(res.Backfill.Dates), "indicators", res.Indicators,
		"leaders", res.Leaders, "recomputed", res.Recompute.Updated)
	return res, nil
}

// reportDate is the newest date with stored indicators.
func (s *Scheduler) reportDate(ctx context.Context) (time.Time, bool, error) {
	if s.deps.State != nil {
		if d := s.deps.State.Get().LastIndicatorDate; !d.IsZero() {
			return d, true, nil
		}
	}
	return s.deps.Store.LatestIndicatorDate(ctx)
}

func (s *Scheduler) segmentReport(ctx context.Context, segment string, date time.Time) (string, error) {
	indicators, err := s.deps.Store.SectorIndicators(ctx, segment, date)
	if err != nil {
		return "", fmt.Errorf("load indicators: %w", err)
	}
	leaders, err := s.deps.Store.Leaders(ctx, segment)
	if err != nil {
		return "", fmt.Errorf("load leaders: %w", err)
	}
	summary := strategy.Summarize(indicators, s.settings.Excluded)
	leaders = currentLeaders(leaders, summary.All)
	return notifier.FormatSectorReport(segment, date, s.settings.Horizons, summary, notifier.GroupLeaders(leaders)), nil
}

// currentLeaders keeps the records of industries present in the report.
// Industries that vanished or became excluded still have stored records.
func currentLeaders(records []model.LeadershipRecord, reported []model.SectorIndicator) []model.LeadershipRecord {
	industries := make(map[string]struct{}, len(reported))
	for _, ind := range reported {
		industries[ind.Industry] = struct{}{}
	}
	out := make([]model.LeadershipRecord, 0, len(records))
	for _, r := range records {
		if _, ok := industries[r.Key.Industry]; ok {
			out = append(out, r)
		}
	}
	return out
}

// resolveSegments maps an optional command argument to configured segments.
func (s *Scheduler) resolveSegments(args []string) ([]model.Segment, bool) {
	if len(args) == 0 {
		return s.settings.Segments, true
	}
	for _, seg := range s.settings.Segments {
		if strings.EqualFold(seg.Name, args[0]) || strings.EqualFold(seg.MarketCode, args[0]) {
			return []model.Segment{seg}, true
		}
	}
	return nil, false
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return notifier.FormatHelp()
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	args := fields[1:]

	switch name {
	case "/rsi":
		segments, ok := s.resolveSegments(args)
		if !ok {
			return fmt.Sprintf("알 수 없는 시장: %s", args[0])
		}
		date, found, err := s.reportDate(ctx)
		if err != nil {
			return fmt.Sprintf("조회 실패: %v", err)
		}
		if !found {
			return "저장된 업종 지표가 없습니다."
		}
		var parts []string
		for _, seg := range segments {
			report, err := s.segmentReport(ctx, seg.Name, date)
			if err != nil {
				return fmt.Sprintf("조회 실패: %v", err)
			}
			parts = append(parts, report)
		}
		return strings.Join(parts, "\n")

	case "/leaders":
		segments, ok := s.resolveSegments(args)
		if !ok {
			return fmt.Sprintf("알 수 없는 시장: %s", args[0])
		}
		var parts []string
		for _, seg := range segments {
			records, err := s.deps.Store.Leaders(ctx, seg.Name)
			if err != nil {
				return fmt.Sprintf("조회 실패: %v", err)
			}
			parts = append(parts, notifier.FormatLeaders(seg.Name, records))
		}
		return strings.Join(parts, "\n")

	case "/recalc":
		start := time.Now()
		res, err := s.RunRecompute(ctx)
		if err != nil {
			return notifier.FormatAlert("연속일수 재계산", s.today(), err)
		}
		return notifier.FormatRecompute(res, time.Since(start))

	case "/runs":
		runs, err := s.deps.Recorder.RecentRuns(ctx, 10)
		if err != nil {
			return fmt.Sprintf("조회 실패: %v", err)
		}
		return notifier.FormatRuns(runs)

	case "/daily":
		date := s.today()
		if err := s.RunDaily(ctx, date); err != nil {
			return notifier.FormatAlert("일일 작업", date, err)
		}
		if !s.deps.Calendar.IsTradingDay(date) {
			return fmt.Sprintf("%s 은(는) 거래일이 아닙니다.", date.Format(model.DateLayout))
		}
		return ""

	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) trySend(ctx context.Context, text string) {
	if s.deps.Notifier == nil {
		s.logger.Debug("notifier disabled, message dropped", "bytes", len(text))
		return
	}
	if err := s.deps.Notifier.SendWithRetry(ctx, text, 3); err != nil {
		s.logger.Error("send notification", "err", err)
	}
}
