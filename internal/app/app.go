package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-risk-alerts/internal/alerting"
	"market-risk-alerts/internal/cache"
	"market-risk-alerts/internal/config"
	"market-risk-alerts/internal/metrics"
	"market-risk-alerts/internal/processing"
	"market-risk-alerts/internal/reports"
	"market-risk-alerts/internal/scheduler"
	"market-risk-alerts/internal/service"
	"market-risk-alerts/internal/storage"
	"market-risk-alerts/internal/tasks"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime holds the backends opened for one command.
type runtime struct {
	alerts   storage.AlertStore
	reports  storage.ReportStore
	writer   storage.AlertWriter
	locker   storage.AdvisoryLocker
	pg       *storage.Store
	memory   *storage.MemoryStore
	redis    *redis.Client
	cache    cache.Cache
	broker   tasks.Broker
	tracker  tasks.GroupTracker
	dead     tasks.DeadLetterSink
	recent   *tasks.RedisDeadLetters
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) needsRedis() bool {
	return a.Config.Cache.Backend == "redis" || a.Config.Tasks.Broker == "redis"
}

func (a *App) openRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		rt.closers = append(rt.closers, closeStore)
		if a.Config.Database.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				rt.Close()
				return nil, err
			}
		}
		rt.pg = store
		rt.alerts, rt.reports, rt.writer, rt.locker = store, store, store, store
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; using in-process store, data is lost on exit")
		rt.memory = storage.NewMemoryStore()
		rt.alerts, rt.reports, rt.writer = rt.memory, rt.memory, rt.memory
	}

	if a.needsRedis() {
		client, err := storage.NewRedisClient(ctx, a.Config.Redis)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.redis = client
		rt.closers = append(rt.closers, func() { _ = client.Close() })
	}

	prefix := a.Config.Redis.KeyPrefix
	if a.Config.Cache.Backend == "redis" {
		rt.cache = cache.NewRedisCache(rt.redis, prefix)
	} else {
		rt.cache = cache.NewMemoryCache(time.Minute)
	}

	var sinks tasks.MultiSink
	if a.Config.Tasks.Broker == "redis" {
		rt.broker = tasks.NewRedisBroker(rt.redis, prefix, a.Config.Tasks.PollInterval)
		rt.tracker = tasks.NewRedisGroupTracker(rt.redis, prefix, 24*time.Hour)
		rt.recent = tasks.NewRedisDeadLetters(rt.redis, prefix, 10000)
		sinks = append(sinks, rt.recent)
	} else {
		rt.broker = tasks.NewMemoryBroker()
		rt.tracker = tasks.NewMemoryGroupTracker()
		sinks = append(sinks, tasks.NewMemoryDeadLetters(1000))
	}
	if notifier := a.newNotifier(); notifier != nil {
		sinks = append(sinks, alerting.NewDeadLetterNotifier(notifier, a.Config.App.Environment))
	}
	rt.dead = sinks

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(rt.registry)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.metrics = m

	return rt, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) location() *time.Location {
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseDate parses a YYYY-MM-DD flag in the scheduler's time zone.
func (a *App) ParseDate(v string) (time.Time, error) {
	return processing.ParseDate(v, a.location())
}

func (a *App) components(rt *runtime) processing.Components {
	inv := cache.NewInvalidator(rt.cache, a.Logger, rt.metrics.CacheInvalidated)
	return processing.Components{
		Processor:    processing.NewAlertProcessor(rt.alerts, rt.broker, a.Logger),
		Dispatcher:   processing.NewBatchDispatcher(rt.broker, rt.tracker, a.Logger),
		Recalculator: processing.NewRiskRecalculator(rt.alerts, inv, a.Logger),
		Aggregator:   processing.NewDailyAggregator(rt.alerts, inv, a.location(), a.Logger),
	}
}

func (a *App) reportService(rt *runtime) *reports.Service {
	return reports.NewService(rt.reports, rt.cache, reports.Options{
		TopCompaniesLimit: a.Config.Reports.TopCompaniesLimit,
		TrendDays:         a.Config.Reports.TrendDays,
		DashboardTTL:      a.Config.Cache.DashboardTTL,
		TrendsTTL:         a.Config.Cache.TrendsTTL,
		TopCompaniesTTL:   a.Config.Cache.TopCompaniesTTL,
		Location:          a.location(),
	}, a.Logger)
}

func (a *App) newRunner(rt *runtime) *tasks.Runner {
	runner := tasks.NewRunner(rt.broker, tasks.RunnerOptions{
		Workers:     a.Config.Tasks.Workers,
		TaskTimeout: a.Config.Tasks.TaskTimeout,
		Tracker:     rt.tracker,
		DeadLetters: rt.dead,
		Observer:    rt.metrics,
	}, a.Logger)
	a.components(rt).Register(runner, a.Config.Tasks)
	return runner
}

func (a *App) newBeat(rt *runtime) (*service.Beat, error) {
	hour, minute, err := a.Config.Scheduler.ParseDailyAt()
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Options{
		Hour:         hour,
		Minute:       minute,
		Location:     a.location(),
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return service.NewBeat(sched, rt.broker, rt.locker, a.Config.Scheduler.AdvisoryLockKey, a.location(), a.Logger), nil
}

// RunOptions select which roles a long-running process plays.
type RunOptions struct {
	Worker bool
	Beat   bool
}

// Run executes the long-running roles until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if opts.Worker && a.Config.Tasks.Broker == "memory" && !opts.Beat {
		a.Logger.Warn().Msg("memory broker only sees tasks submitted in this process")
	}

	var beat *service.Beat
	if opts.Beat {
		if beat, err = a.newBeat(rt); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Worker {
		runner := a.newRunner(rt)
		g.Go(func() error { return runner.Run(gctx) })
		g.Go(func() error {
			rt.metrics.SampleQueue(gctx, rt.broker, 15*time.Second, a.Logger)
			return nil
		})
	}
	if beat != nil {
		g.Go(func() error { return beat.Run(gctx) })
	}
	if a.Config.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, a.Config.Metrics.ListenAddr, rt.registry, a.Logger)
		})
	}

	a.Logger.Info().Bool("worker", opts.Worker).Bool("beat", opts.Beat).Msg("starting risk alert service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("risk alert service stopped")
	return nil
}

// ExportOptions hold parameters for exporting daily statistics.
type ExportOptions struct {
	From    *time.Time
	To      *time.Time
	PNGPath string
	CSVPath string
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	DryRun  bool
	Workers int
}

// SeedOptions configure synthetic alert generation.
type SeedOptions struct {
	Count     int
	Companies int
	Days      int
	BatchSize int
	Seed      int64
	// Dispatch fans the inserted alerts out for processing.
	Dispatch bool
}
