package main

import (
	"context"
	"time"

	"gpuindex/internal/jobs"
	"gpuindex/pkg/lock"
	"gpuindex/pkg/logger"
)

const (
	rollupInterval      = 10 * time.Minute
	orphanSweepInterval = time.Minute
)

// initJobs registers periodic maintenance. Each job holds a Redis lock while
// it runs so only one replica does the work.
func (app *Application) initJobs() error {
	if !app.config.HasRole(RoleWorker) {
		return nil
	}

	manager := jobs.NewManager(app.ctx, jobs.WithObserver(app.metrics.ObserveBackgroundRun))
	client := app.redisClient.GetClient()

	// Keep yesterday's rollup final and today's current
	rollup := jobs.NewAlignedFuncJob("history-rollup", rollupInterval, func(ctx context.Context) error {
		now := time.Now().UTC()
		for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
			if err := app.aggregateService.RollupDay(ctx, day); err != nil {
				return err
			}
		}
		return nil
	})
	manager.Register(jobs.WithLock(rollup, lock.NewRedisLock(client, "gpuindex:lock:rollup")))

	sweep := jobs.NewFuncJob("orphan-sweep", orphanSweepInterval, func(ctx context.Context) error {
		n, err := app.executor.SweepOrphans(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.WarnCtx(ctx, "finalized %d orphaned scrape jobs", n)
		}
		return nil
	})
	manager.Register(jobs.WithLock(sweep, lock.NewRedisLock(client, "gpuindex:lock:orphan-sweep")))

	app.jobsManager = manager
	logger.InfoCtx(app.ctx, "Registered background jobs: %v", manager.Jobs())
	return nil
}
