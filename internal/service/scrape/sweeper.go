package scrape

import (
	"context"
	"fmt"

	"gpuindex/pkg/logger"
	storemodel "gpuindex/pkg/store/mysql/model"
)

const orphanMessage = "orphaned: worker did not finalize"

// SweepOrphans finalizes jobs left running by a worker that died mid-job.
// A job counts as orphaned after twice the longest fetch timeout.
func (e *Executor) SweepOrphans(ctx context.Context) (int, error) {
	now := e.now()
	cutoff := now.Add(-2 * e.policies.MaxTimeout())

	jobs, err := e.jobs.ListRunningBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	swept := 0
	for _, job := range jobs {
		ok, err := e.jobs.Finalize(ctx, job.ID, storemodel.JobOutcome{
			Status:       storemodel.JobStatusTimeout,
			CompletedAt:  now,
			DurationMs:   now.Sub(job.StartedAt).Milliseconds(),
			ErrorMessage: orphanMessage,
		})
		if err != nil {
			logger.ErrorCtx(ctx, "failed to sweep orphaned job %s: %v", job.JobUID, err)
			continue
		}
		if !ok {
			// finalized by its worker in the meantime
			continue
		}
		swept++
		e.metrics.OrphanJobsSwept.Inc()
		logger.WarnCtx(ctx, "swept orphaned job %s of provider %d started at %s",
			job.JobUID, job.ProviderID, job.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return swept, nil
}
