package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"gpuindex/app/handler"
	"gpuindex/internal/jobs"
	"gpuindex/internal/realtime"
	"gpuindex/internal/service/aggregate"
	"gpuindex/internal/service/catalog"
	"gpuindex/internal/service/schedule"
	"gpuindex/internal/service/scrape"
	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	queue "gpuindex/pkg/queue/asynq"
	"gpuindex/pkg/source"
	mysqlstore "gpuindex/pkg/store/mysql"
	redisstore "gpuindex/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// long enough for in-flight scrapes to finalize
const defaultShutdownTimeout = 30 * time.Second

// Process roles
const (
	RoleAPI       = "api"
	RoleWorker    = "worker"
	RoleScheduler = "scheduler"
)

// Options carries command-line overrides
type Options struct {
	ConfigPath string
	Roles      []string // replaces config roles when set
}

type initStep struct {
	name string
	fn   func() error
}

// Application manages the lifecycle of the entire application
type Application struct {
	opts Options

	// Infrastructure components
	config       *config.Config
	mysqlRepo    *mysqlstore.Repository
	redisClient  *redisstore.RedisClient
	queueManager *queue.Manager
	metrics      *metrics.Metrics
	sources      *source.Registry
	publisher    realtime.Publisher

	// Service layer
	catalogService   *catalog.Service
	aggregateService *aggregate.Service
	executor         *scrape.Executor
	scheduler        *schedule.Scheduler

	// Live ops feed (api role)
	hub *realtime.Hub

	// Handler layer
	priceHandler   *handler.PriceHandler
	catalogHandler *handler.CatalogHandler
	opsHandler     *handler.OpsHandler
	eventsHandler  *handler.EventsHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication(opts Options) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		opts:         opts,
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	err := app.runSteps([]initStep{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Metrics", app.initMetrics},
		{"MySQL", app.initMySQL},
		{"Catalog", app.initCatalog},
		{"Redis", app.initRedis},
		{"Queue", app.initQueue},
		{"Sources", app.initSources},
		{"Service Layer", app.initServices},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	})
	if err != nil {
		return err
	}

	logger.InfoCtx(app.ctx, "Application initialization completed (roles=%v)", app.roles())
	return nil
}

// Migrate creates the schema and seeds the catalog, then releases connections
func (app *Application) Migrate() error {
	defer app.runCleanups()
	return app.runSteps([]initStep{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"MySQL", app.initMySQLMigrated},
		{"Catalog", app.initCatalog},
	})
}

func (app *Application) runSteps(steps []initStep) error {
	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}
	return nil
}

// Start launches the enabled roles; it returns once everything is running
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting roles %v", app.roles())

	if app.jobsManager != nil {
		app.jobsManager.Start()
		app.goBackground("jobs", func(context.Context) { app.jobsManager.Wait() })
	}

	starters := []struct {
		role  string
		start func() error
	}{
		{RoleWorker, app.startWorker},
		{RoleScheduler, app.startScheduler},
		{RoleAPI, app.startAPI},
	}
	for _, s := range starters {
		if !app.config.HasRole(s.role) {
			continue
		}
		if err := s.start(); err != nil {
			return fmt.Errorf("failed to start %s role: %w", s.role, err)
		}
	}

	logger.InfoCtx(app.ctx, "All roles started")
	return nil
}

func (app *Application) startWorker() error {
	return app.queueManager.Start()
}

func (app *Application) startScheduler() error {
	if app.config.Scheduler.ReconcileOnBoot {
		result, err := app.scheduler.Reconcile(app.ctx)
		if err != nil {
			return fmt.Errorf("initial reconcile failed: %w", err)
		}
		logger.InfoCtx(app.ctx, "Initial reconcile: added=%d updated=%d removed=%d enqueued=%d",
			result.Added, result.Updated, result.Removed, result.Enqueued)
	}
	app.goBackground("scheduler", app.scheduler.Run)
	return nil
}

func (app *Application) startAPI() error {
	app.goBackground("events-hub", app.hub.Run)
	app.goBackground("events-relay", func(ctx context.Context) {
		realtime.Relay(ctx, app.redisClient.GetClient(), app.hub)
	})

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	logger.InfoCtx(app.ctx, "HTTP server listening on %s", ln.Addr())
	app.goBackground("http", func(ctx context.Context) {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCtx(ctx, "HTTP server stopped: %v", err)
		}
	})
	return nil
}

// goBackground runs fn on the app context and tracks it for Shutdown
func (app *Application) goBackground(name string, fn func(ctx context.Context)) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn(app.ctx)
		logger.DebugCtx(app.ctx, "%s stopped", name)
	}()
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Stop HTTP server (stop accepting new requests)
	if app.httpServer != nil && app.config.HasRole(RoleAPI) {
		logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
		}
	}

	// 2. Stop pulling tasks, in-flight scrapes finalize before Stop returns
	if app.queueManager != nil && app.config.HasRole(RoleWorker) {
		app.queueManager.Stop()
	}

	// 3. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 4. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 5. Release connections, last registered first
	app.runCleanups()

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

func (app *Application) runCleanups() {
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}
	app.cleanupFuncs = nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}

func (app *Application) roles() []string {
	var roles []string
	for _, r := range []string{RoleAPI, RoleWorker, RoleScheduler} {
		if app.config.HasRole(r) {
			roles = append(roles, r)
		}
	}
	return roles
}
