package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"SectorSentinel/internal/calculator"
	"SectorSentinel/internal/calendar"
	"SectorSentinel/internal/collector"
	"SectorSentinel/internal/config"
	"SectorSentinel/internal/leader"
	"SectorSentinel/internal/logger"
	"SectorSentinel/internal/metrics"
	"SectorSentinel/internal/model"
	"SectorSentinel/internal/notifier"
	"SectorSentinel/internal/recorder"
	"SectorSentinel/internal/runstate"
	"SectorSentinel/internal/scheduler"
	"SectorSentinel/internal/sector"
	"SectorSentinel/internal/store"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config (CONFIG_PATH overrides)")
	initDays := flag.Int("init", 0, "backfill this many trading days, recompute streaks and exit")
	recalc := flag.Bool("recalc", false, "recompute leader streaks and exit")
	once := flag.Bool("once", false, "run the daily job once and exit")
	dateFlag := flag.String("date", "", "trade date for -once (YYYY-MM-DD, default today)")
	flag.Parse()

	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*cfgPath = v
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		log.Error("config validation", "err", err)
		os.Exit(1)
	}
	log.Info("SectorSentinel starting", "driver", cfg.Database.Driver, "segments", len(cfg.Segments))

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, options{
		initDays: *initDays,
		recalc:   *recalc,
		once:     *once,
		date:     *dateFlag,
	}); err != nil {
		log.Error("SectorSentinel exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("SectorSentinel stopped")
}

type options struct {
	initDays int
	recalc   bool
	once     bool
	date     string
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, opts options) error {
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Store
	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer st.Close()

	holidays, err := cfg.HolidayDates()
	if err != nil {
		return err
	}
	cal := calendar.New(append(calendar.DefaultHolidays(), holidays...))
	if year := calendar.Today(time.Now()).Year(); !cal.Covers(year) {
		log.Warn("no market holidays known for the current year, list them under holidays", "year", year)
	}

	// Fetcher
	var fetcher collector.Fetcher
	if cfg.DataSource.Mock {
		fetcher = &collector.MockFetcher{}
	} else {
		fetcher = collector.NewKRXFetcher(cfg.DataSource.BaseURL, cfg.DataSource.Timeout, cfg.Proxy)
	}
	log.Info("data source ready", "name", fetcher.Name())

	col := collector.NewCollector(fetcher, st, cfg.Segments, cal, collector.Options{
		Delay:   time.Second,
		Logger:  log.With("component", "collector"),
		Metrics: m,
	})
	calc := calculator.NewHorizonCalculator(st, cfg.Kernel.Horizons, cfg.Kernel.HistoryWindow, log.With("component", "calculator"))
	agg := sector.NewAggregator(st, calc, sector.Options{
		Excluded: cfg.Kernel.ExcludedIndustries,
		Workers:  cfg.Kernel.Workers,
		Logger:   log.With("component", "sector"),
		Metrics:  m,
	})
	tracker := leader.NewTracker(st, leader.Options{
		Excluded:         cfg.Kernel.ExcludedIndustries,
		TrackedRanks:     cfg.Kernel.TrackedRanks,
		ReplayCandidates: cfg.Kernel.ReplayCandidates,
		ReplayWindow:     cfg.Kernel.ReplayWindow,
		Logger:           log.With("component", "leader"),
		Metrics:          m,
	})

	state, err := runstate.NewManager(cfg.StateFile, log)
	if err != nil {
		return err
	}

	// Job history lives next to the run state file
	var rec recorder.Recorder
	historyPath := filepath.Join(filepath.Dir(cfg.StateFile), "job_history.db")
	if sr, err := recorder.NewSQLiteRecorder(historyPath, log); err != nil {
		log.Warn("init job history failed, using noop", "path", historyPath, "err", err)
		rec = recorder.NewNoopRecorder()
	} else {
		rec = sr
	}
	defer rec.Close()

	var tn *notifier.TelegramNotifier
	deps := scheduler.Deps{
		Store:      st,
		Collector:  col,
		Aggregator: agg,
		Tracker:    tracker,
		Calendar:   cal,
		State:      state,
		Recorder:   rec,
		Metrics:    m,
		Logger:     log.With("component", "scheduler"),
	}
	if cfg.Notify() {
		tn = notifier.NewTelegramNotifier(notifier.Options{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Proxy:    cfg.Proxy,
			Logger:   log.With("component", "telegram"),
		})
		deps.Notifier = tn
	} else {
		log.Warn("telegram not configured, reports will only be logged")
	}

	sched := scheduler.NewScheduler(ctx, deps, scheduler.Settings{
		Segments:      cfg.Segments,
		Horizons:      cfg.Kernel.Horizons,
		Excluded:      cfg.Kernel.ExcludedIndustries,
		RetentionDays: cfg.RetentionDays,
	})

	switch {
	case opts.initDays > 0:
		res, err := sched.RunInit(ctx, calendar.Today(time.Now()), opts.initDays)
		if err != nil {
			return err
		}
		log.Info("init done", "dates", len(res.Backfill.Dates), "collected", res.Backfill.Collected,
			"failed", res.Backfill.Failed, "indicators", res.Indicators, "leaders", res.Leaders,
			"streaks_updated", res.Recompute.Updated)
		return nil

	case opts.recalc:
		res, err := sched.RunRecompute(ctx)
		if err != nil {
			return err
		}
		log.Info("streaks recomputed", "updated", res.Updated, "failed", res.Failed)
		return nil

	case opts.once:
		date := calendar.Today(time.Now())
		if opts.date != "" {
			d, err := model.ParseDay(opts.date)
			if err != nil {
				return err
			}
			date = d
		}
		return sched.RunDaily(ctx, date)
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := sched.RegisterAll(cfg.Schedule.DailyCron, cfg.Schedule.RecalcCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	if tn != nil {
		go tn.StartPolling(ctx, cfg.Telegram.PollTimeout, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Info("RUN_ON_START enabled, executing daily job now")
		go func() {
			if err := sched.RunDaily(ctx, calendar.Today(time.Now())); err != nil {
				log.Error("startup daily job", "err", err)
			}
		}()
	}

	log.Info("SectorSentinel is running. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Info("shutdown signal received, stopping...")
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
