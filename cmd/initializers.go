package main

import (
	"fmt"
	"net/http"
	"time"

	"gpuindex/app/handler"
	"gpuindex/app/router"
	"gpuindex/internal/model"
	"gpuindex/internal/realtime"
	"gpuindex/internal/service/aggregate"
	"gpuindex/internal/service/catalog"
	"gpuindex/internal/service/schedule"
	"gpuindex/internal/service/scrape"
	"gpuindex/pkg/config"
	"gpuindex/pkg/lock"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	"gpuindex/pkg/notification"
	queue "gpuindex/pkg/queue/asynq"
	"gpuindex/pkg/source"
	mysqlstore "gpuindex/pkg/store/mysql"
	redisstore "gpuindex/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const schedulerLockKey = "gpuindex:lock:scheduler"

// initConfig loads the config file and applies command-line overrides
func (app *Application) initConfig() error {
	cfg, err := config.Load(app.opts.ConfigPath)
	if err != nil {
		return err
	}
	if len(app.opts.Roles) > 0 {
		cfg.Roles = app.opts.Roles
	}
	for _, r := range cfg.Roles {
		if r != RoleAPI && r != RoleWorker && r != RoleScheduler {
			return fmt.Errorf("unknown role %q", r)
		}
	}

	app.config = cfg
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initMetrics registers collectors with the default registry served on /metrics
func (app *Application) initMetrics() error {
	app.metrics = metrics.New(prometheus.DefaultRegisterer)
	return nil
}

// initMySQL initializes MySQL
func (app *Application) initMySQL() error {
	repo, err := mysqlstore.NewRepository(app.config.MySQL)
	if err != nil {
		return err
	}

	app.mysqlRepo = repo
	app.registerCleanup(func() {
		repo.Close()
		logger.InfoCtx(app.ctx, "MySQL connection has been closed")
	})

	if app.config.MySQL.AutoMigrate {
		return app.migrateSchema()
	}
	return nil
}

// initMySQLMigrated connects and migrates regardless of auto_migrate
func (app *Application) initMySQLMigrated() error {
	app.config.MySQL.AutoMigrate = false
	if err := app.initMySQL(); err != nil {
		return err
	}
	return app.migrateSchema()
}

func (app *Application) migrateSchema() error {
	if err := app.mysqlRepo.GetDatastore().Migrate(app.ctx); err != nil {
		return err
	}
	logger.InfoCtx(app.ctx, "MySQL schema migrated")
	return nil
}

// initCatalog upserts configured providers and GPU models
func (app *Application) initCatalog() error {
	app.catalogService = catalog.NewService(app.mysqlRepo.Provider, app.mysqlRepo.GpuModel)
	return app.catalogService.Seed(app.ctx, app.config.Catalog)
}

// initRedis initializes Redis
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
	if err != nil {
		return err
	}

	app.redisClient = client
	app.publisher = realtime.NewRedisPublisher(client.GetClient())
	if notifier := notification.NewFeishuNotifier(app.config.Notification); notifier.Enabled() {
		app.publisher = realtime.Fanout{app.publisher, notifier}
		logger.InfoCtx(app.ctx, "Feishu alerts enabled (min change %.1f%%, failures=%v)",
			app.config.Notification.MinChangePercent, app.config.Notification.NotifyFailures)
	}
	app.registerCleanup(func() {
		client.Close()
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	return nil
}

// initQueue initializes the asynq client, inspector and worker server
func (app *Application) initQueue() error {
	manager, err := queue.NewManager(app.config)
	if err != nil {
		return err
	}

	app.queueManager = manager
	app.registerCleanup(func() {
		manager.Close()
		logger.InfoCtx(app.ctx, "Queue client has been closed")
	})

	return nil
}

// initSources builds raw offer adapters, only workers fetch
func (app *Application) initSources() error {
	if !app.config.HasRole(RoleWorker) {
		app.sources = source.NewRegistry()
		return nil
	}

	registry, err := source.NewRegistryFromConfig(app.ctx, app.config.Sources)
	if err != nil {
		return err
	}
	app.sources = registry
	logger.InfoCtx(app.ctx, "Registered sources: %v", registry.Slugs())
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	policies := scrape.NewPolicyResolver(app.config.Scrape)

	// Initialize aggregate service (read side + rollups)
	app.aggregateService = aggregate.NewService(
		app.mysqlRepo.Instance,
		app.mysqlRepo.GpuModel,
		app.mysqlRepo.Provider,
		app.mysqlRepo.PriceHistory,
		app.config.Aggregator,
	)

	// Initialize scrape executor
	app.executor = scrape.NewExecutor(scrape.ExecutorDeps{
		Providers:        app.mysqlRepo.Provider,
		GpuModels:        app.mysqlRepo.GpuModel,
		Instances:        app.mysqlRepo.Instance,
		Jobs:             app.mysqlRepo.ScrapeJob,
		Anomalies:        app.mysqlRepo.Anomaly,
		Observations:     app.mysqlRepo.PriceHistory,
		Sources:          app.sources,
		Tx:               app.mysqlRepo.GetDatastore(),
		Policies:         policies,
		Publisher:        app.publisher,
		Metrics:          app.metrics,
		AnomalyThreshold: app.config.Scrape.AnomalyThreshold,
	})

	// Initialize scheduler, replicas serialize ticks through the lock
	app.scheduler = schedule.New(schedule.Deps{
		Providers:         app.mysqlRepo.Provider,
		Triggers:          redisstore.NewTriggerRepository(app.redisClient),
		Queue:             app.queueManager,
		Policies:          policies,
		Locker:            lock.NewRedisLock(app.redisClient.GetClient(), schedulerLockKey),
		Publisher:         app.publisher,
		Metrics:           app.metrics,
		TickInterval:      app.config.Scheduler.TickInterval,
		ReconcileInterval: app.config.Scheduler.ReconcileInterval,
	})

	if app.config.HasRole(RoleWorker) {
		app.queueManager.RegisterHandler(model.TaskTypeScrape, app.executor.HandleScrapeTask)
		app.queueManager.RegisterHandler(model.TaskTypeRollup, app.aggregateService.HandleRollupTask)
	}

	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	app.hub = realtime.NewHub(realtime.DefaultHubConfig())

	app.priceHandler = handler.NewPriceHandler(app.aggregateService)
	app.catalogHandler = handler.NewCatalogHandler(app.catalogService)
	app.opsHandler = handler.NewOpsHandler(app.mysqlRepo.ScrapeJob, app.mysqlRepo.Anomaly, app.scheduler, app.queueManager)
	app.eventsHandler = handler.NewEventsHandler(app.hub)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	if app.config.Server.Mode != "" {
		gin.SetMode(app.config.Server.Mode)
	}

	app.ginEngine = gin.New()

	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"mysql": app.mysqlRepo,
		"redis": app.redisClient,
	})
	router.NewRouter(app.priceHandler, app.catalogHandler, app.opsHandler, app.eventsHandler, app.config.Server.APIKey).
		WithHealth(health).
		Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return nil
}
