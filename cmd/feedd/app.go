package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"feedplane/internal/cache"
	"feedplane/internal/catalog"
	"feedplane/internal/config"
	"feedplane/internal/controller"
	"feedplane/internal/controller/handlers"
	"feedplane/internal/feed"
	"feedplane/internal/jobs"
	"feedplane/internal/observability"
	"feedplane/internal/scheduler"
	"feedplane/internal/store"
	"feedplane/internal/store/gormstore"
	"feedplane/internal/store/postgres"
	"feedplane/internal/upload"
	"feedplane/internal/worker"

	"gorm.io/gorm"
)

// app is the fully wired daemon.
type app struct {
	catalog   *catalog.Catalog
	lifecycle *jobs.Lifecycle
	queue     *cache.QueueCache
	executor  *worker.Executor
	agent     *worker.Agent
	scheduler *scheduler.Scheduler
	handler   http.Handler
	server    *controller.Server
	closers   []func() error
}

type storage struct {
	jobs  store.JobStore
	slots store.CacheStore
	ping  handlers.Pinger
}

// build wires every component from cfg. Metrics may be nil.
func build(ctx context.Context, cfg *config.Config, log *slog.Logger, instruments *observability.Instruments, metrics http.Handler, migrate bool) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	// The catalog always lives behind GORM; on postgres it shares the database with the jobs table.
	gdb, err := gormstore.Open(cfg.StoreDriver, cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	st, err := a.openStorage(ctx, cfg, gdb, migrate)
	if err != nil {
		return fail(err)
	}
	if migrate || cfg.StoreDriver == config.DriverSQLite {
		if err := catalog.Migrate(gdb); err != nil {
			return fail(fmt.Errorf("catalog migration failed: %w", err))
		}
	}

	a.queue = cache.New(st.jobs, st.slots, cache.Options{
		TTL:         cfg.QueueCacheTTL,
		Logger:      log,
		Instruments: instruments,
	})
	a.lifecycle = jobs.New(st.jobs, a.queue, jobs.Options{Logger: log, Instruments: instruments})
	if err := instruments.RegisterActiveJobs(a.lifecycle.ActiveCount); err != nil {
		log.Warn("failed to register active jobs gauge", "error", err)
	}

	client := upload.NewClient(upload.Config{
		BaseURL:   cfg.UploadURL,
		Token:     cfg.UploadToken,
		CatalogID: cfg.CatalogID,
		Timeout:   cfg.UploadTimeout,
		RateLimit: float64(cfg.UploadRateLimit),
	})
	var uploader worker.Uploader
	if cfg.UploadConfigured() {
		uploader = client
	}

	a.catalog = catalog.New(gdb)
	feeds := worker.NewFeedHandler(worker.FeedHandlerConfig{
		Catalog:     a.catalog,
		Paths:       feedPaths(cfg),
		Uploader:    uploader,
		Logger:      log,
		Instruments: instruments,
	})
	a.executor = worker.NewExecutor(a.lifecycle, cfg.FeedRunTimeout, log)
	a.executor.Register(store.FeedTypeCatalog, feeds)
	a.executor.Register(store.FeedTypeProductSync, feeds)

	hostname, _ := os.Hostname()
	a.agent = worker.NewAgent(a.lifecycle, a.executor, worker.AgentConfig{
		ID:           hostname,
		Concurrency:  2,
		PollInterval: cfg.WorkerPollInterval,
		MaxBackoff:   cfg.WorkerMaxBackoff,
	}, log)

	a.scheduler = scheduler.New(a.lifecycle, a.queue, a.executor, scheduler.Config{
		Schedule:   cfg.FeedSchedule,
		StaleAfter: cfg.JobStaleAfter,
		Retention:  cfg.JobRetention,
		Logger:     log,
	})
	a.scheduler.Register(scheduler.Feed{
		Payload:  func() store.Payload { return store.CatalogFeedPayload{} },
		Interval: cfg.FeedInterval,
	})

	serverCfg := controller.Config{
		Addr:       fmt.Sprintf(":%d", cfg.HTTPPort),
		AdminToken: cfg.AdminToken,
		RateLimit:  cfg.APIRateLimit,
		Metrics:    metrics,
		Logger:     log,
	}
	deps := handlers.Deps{
		Jobs:      a.lifecycle,
		Queue:     a.queue,
		Scheduler: a.scheduler,
		Uploads:   upload.NewChecker(client, a.lifecycle, log),
		DB:        st.ping,
		Logger:    log,
	}
	a.handler = controller.NewHandler(serverCfg, deps)
	a.server = controller.New(serverCfg, deps)
	return a, nil
}

func (a *app) openStorage(ctx context.Context, cfg *config.Config, gdb *gorm.DB, migrate bool) (storage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return storage{}, err
		}
		a.closers = append(a.closers, pg.Close)
		if migrate {
			if err := postgres.Migrate(pg.DB()); err != nil {
				return storage{}, err
			}
		}
		version, dirty, err := postgres.SchemaVersion(pg.DB())
		if err != nil {
			return storage{}, err
		}
		if dirty {
			return storage{}, fmt.Errorf("schema version %d is dirty; fix it and rerun with -migrate", version)
		}
		if version == 0 {
			return storage{}, errors.New("jobs schema is missing; run with -migrate")
		}
		return storage{jobs: pg, slots: pg, ping: pg}, nil
	case config.DriverSQLite:
		if err := gormstore.Migrate(gdb); err != nil {
			return storage{}, err
		}
		s := gormstore.New(gdb)
		return storage{jobs: s, slots: s, ping: s}, nil
	default:
		return storage{}, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// feedPaths resolves output locations. Configured file names apply to the
// catalog feed only so product_sync batches never overwrite it.
func feedPaths(cfg *config.Config) func(store.FeedType) feed.Paths {
	return func(ft store.FeedType) feed.Paths {
		pc := feed.PathConfig{Dir: cfg.FeedDir, FeedType: string(ft), Secret: cfg.FeedSecret}
		if ft == store.FeedTypeCatalog {
			pc.FileName = cfg.FeedFileName
			pc.TempFileName = cfg.FeedTempFileName
		}
		return feed.NewPaths(pc)
	}
}

// Close releases database handles.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
