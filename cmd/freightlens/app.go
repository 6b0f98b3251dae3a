package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/laneiq/freightlens/internal/cache"
	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/config"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/engine"
	"github.com/laneiq/freightlens/internal/metrics"
	"github.com/laneiq/freightlens/internal/registry"
	"github.com/laneiq/freightlens/internal/schedule"
	"github.com/laneiq/freightlens/internal/store"
	"github.com/laneiq/freightlens/internal/store/memstore"
	"github.com/laneiq/freightlens/internal/store/postgres"
)

// app is the wired component graph a command runs against. Postgres and
// Redis are optional: an empty DSN or address falls back to the in-process
// equivalents, which is enough for one-shot commands and local runs.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	promRegistry *prometheus.Registry
	met          *metrics.Metrics

	records   store.RecordStore
	results   store.ResultStore
	periods   store.TimePeriodStore
	saved     store.SavedAnalysisStore
	schedules store.ScheduleStore

	engine   *engine.Engine
	registry *registry.Service
	executor *schedule.Executor

	closers []func()
}

func buildApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.Logger
	if cfg.Log.Level != "" {
		lvl, err := zerolog.ParseLevel(cfg.Log.Level)
		if err == nil {
			logger = logger.Level(lvl)
		}
	}

	a := &app{cfg: cfg, log: logger}
	a.promRegistry = prometheus.NewRegistry()
	a.met = metrics.New(a.promRegistry)
	clk := clock.Real()

	if cfg.Database.DSN != "" {
		db, err := postgres.Open(ctx, cfg.ToPostgres(), logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.records = postgres.NewRecordsRepo(db)
		a.results = postgres.NewResultsRepo(db)
		a.periods = postgres.NewPeriodsRepo(db)
		a.saved = postgres.NewSavedRepo(db)
		a.schedules = postgres.NewSchedulesRepo(db)
		logger.Info().Msg("using postgres stores")
	} else {
		a.records = memstore.NewRecordStore(cfg.Database.FetchBatchSize)
		a.results = memstore.NewResultStore(clk)
		a.periods = memstore.NewTimePeriodStore(clk)
		a.saved = memstore.NewSavedAnalysisStore(clk)
		a.schedules = memstore.NewScheduleStore(clk)
		logger.Warn().Msg("no database dsn configured, using in-memory stores")
	}

	var resultCache cache.Cache
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, domain.Wrap(domain.KindCacheUnavailable, "ping redis", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		resultCache = cache.NewRedis(client)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis result cache")
	} else {
		mem := cache.NewMemory(clk)
		mem.StartSweeper(time.Minute)
		a.closers = append(a.closers, mem.Stop)
		resultCache = mem
		logger.Warn().Msg("no redis addr configured, using in-process result cache")
	}

	a.engine = engine.New(engine.Deps{
		Records: a.records,
		Results: a.results,
		Periods: a.periods,
		Saved:   a.saved,
		Cache:   resultCache,
		Clock:   clk,
		Metrics: a.met,
		Logger:  logger,
	}, cfg.ToEngine())

	a.registry = registry.New(a.periods, a.saved, a.schedules, clk, logger)
	a.executor = schedule.NewExecutor(cfg.ToScheduler(), a.schedules, a.engine, clk, logger, a.met)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
