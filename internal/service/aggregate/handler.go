package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gpuindex/internal/model"
	"gpuindex/pkg/logger"

	"github.com/hibiken/asynq"
)

// HandleRollupTask is the asynq handler of model.TaskTypeRollup
func (s *Service) HandleRollupTask(ctx context.Context, task *asynq.Task) error {
	var payload model.RollupTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid rollup payload: %v: %w", err, asynq.SkipRetry)
	}
	day, err := time.Parse(dateLayout, payload.Day)
	if err != nil {
		return fmt.Errorf("invalid rollup day %q: %w", payload.Day, asynq.SkipRetry)
	}
	if day.After(s.now()) {
		return fmt.Errorf("rollup day %s is in the future: %w", payload.Day, asynq.SkipRetry)
	}

	taskID, _ := asynq.GetTaskID(ctx)
	ctx = logger.WithTraceID(ctx, taskID)

	if err := s.RollupDay(ctx, day); err != nil {
		logger.ErrorCtx(ctx, "rollup of %s failed: %v", payload.Day, err)
		return err
	}
	logger.InfoCtx(ctx, "rollup of %s done (requested by %s)", payload.Day, payload.RequestedBy)
	return nil
}
