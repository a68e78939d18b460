package scrape

import (
	"context"
	"encoding/json"
	"fmt"

	"gpuindex/internal/model"
	"gpuindex/pkg/logger"

	"github.com/hibiken/asynq"
)

// HandleScrapeTask is the asynq handler of model.TaskTypeScrape. A failed
// scrape is never retried by the queue; the next scheduled run is the retry.
func (e *Executor) HandleScrapeTask(ctx context.Context, task *asynq.Task) error {
	var payload model.ScrapeTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid scrape payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ProviderSlug == "" {
		return fmt.Errorf("scrape payload without provider: %w", asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	ctx = logger.WithTraceID(ctx, taskID)

	result, err := e.Execute(ctx, ExecuteRequest{
		ProviderSlug: payload.ProviderSlug,
		Trigger:      payload.Trigger,
		TaskID:       taskID,
	})
	if err != nil {
		logger.ErrorCtx(ctx, "scrape task for %s failed: %v", payload.ProviderSlug, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if result.Skipped {
		return nil
	}
	logger.DebugCtx(ctx, "scrape task for %s done: %s", payload.ProviderSlug, result.Status)
	return nil
}
