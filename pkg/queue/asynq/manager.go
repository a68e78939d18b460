// Package asynq wraps the asynq client, server and inspector used to move
// scrape and maintenance tasks between the scheduler and the workers.
package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"

	"github.com/hibiken/asynq"
)

// Queue names and weights
const (
	QueueScrape      = "scrape"
	QueueMaintenance = "maintenance"

	scrapeWeight      = 6
	maintenanceWeight = 1

	// finished tasks keep their id reserved this long, so a slot cannot be
	// enqueued twice while it is still recent
	defaultRetention = 24 * time.Hour
)

// ErrTaskNotFound is returned when deleting a task that is not queued
var ErrTaskNotFound = errors.New("task not found")

// EnqueueOptions describes one task submission
type EnqueueOptions struct {
	TaskID    string
	Queue     string
	ProcessAt time.Time // zero means now
	Timeout   time.Duration
	Retention time.Duration
}

// QueueStats per-queue counters
type QueueStats struct {
	Queue     string `json:"queue"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Delayed   int    `json:"delayed"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
	Completed int    `json:"completed"`
	Paused    bool   `json:"paused"`
}

// Manager queue manager
type Manager struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
}

// NewManager creates queue manager
func NewManager(cfg *config.Config) (*Manager, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				QueueScrape:      scrapeWeight,
				QueueMaintenance: maintenanceWeight,
			},
			Logger:   newAsynqLogger(),
			LogLevel: asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				logger.WarnCtx(ctx, "task %s (%s) failed: %v", id, task.Type(), err)
			}),
		},
	)

	return &Manager{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       asynq.NewServeMux(),
	}, nil
}

// Enqueue submits a task with a JSON payload. Tasks are never retried by the
// queue. It returns false when a task with the same id already exists.
func (m *Manager) Enqueue(ctx context.Context, taskType string, payload interface{}, opts EnqueueOptions) (bool, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}

	info, err := m.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), buildOptions(opts)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logger.DebugCtx(ctx, "task %s already queued", opts.TaskID)
			return false, nil
		}
		return false, fmt.Errorf("failed to enqueue task: %w", err)
	}

	logger.DebugCtx(ctx, "task enqueued, task_id: %s, queue: %s, process_at: %s",
		info.ID, info.Queue, info.NextProcessAt.Format(time.RFC3339))
	return true, nil
}

func buildOptions(opts EnqueueOptions) []asynq.Option {
	queue := opts.Queue
	if queue == "" {
		queue = QueueScrape
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	options := []asynq.Option{
		asynq.Queue(queue),
		asynq.MaxRetry(0),
		asynq.Retention(retention),
	}
	if opts.TaskID != "" {
		options = append(options, asynq.TaskID(opts.TaskID))
	}
	if !opts.ProcessAt.IsZero() {
		options = append(options, asynq.ProcessAt(opts.ProcessAt))
	}
	if opts.Timeout > 0 {
		options = append(options, asynq.Timeout(opts.Timeout))
	}
	return options
}

// DeleteTask removes a pending or scheduled task
func (m *Manager) DeleteTask(ctx context.Context, queue, taskID string) error {
	err := m.inspector.DeleteTask(queue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}

	logger.InfoCtx(ctx, "task deleted, task_id: %s", taskID)
	return nil
}

// Stats returns counters of the scrape and maintenance queues. A queue that
// has never seen a task reports zeros.
func (m *Manager) Stats(ctx context.Context) ([]QueueStats, error) {
	known, err := m.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	exists := make(map[string]bool, len(known))
	for _, q := range known {
		exists[q] = true
	}

	stats := make([]QueueStats, 0, 2)
	for _, queue := range []string{QueueScrape, QueueMaintenance} {
		if !exists[queue] {
			stats = append(stats, QueueStats{Queue: queue})
			continue
		}
		info, err := m.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect queue %s: %w", queue, err)
		}
		stats = append(stats, statsFromInfo(info))
	}
	return stats, nil
}

func statsFromInfo(info *asynq.QueueInfo) QueueStats {
	return QueueStats{
		Queue:     info.Queue,
		Waiting:   info.Pending,
		Active:    info.Active,
		Delayed:   info.Scheduled,
		Retry:     info.Retry,
		Failed:    info.Archived,
		Completed: info.Completed,
		Paused:    info.Paused,
	}
}

// RegisterHandler registers task handler
func (m *Manager) RegisterHandler(pattern string, handler asynq.HandlerFunc) {
	m.mux.HandleFunc(pattern, handler)
}

// Start starts queue processor
func (m *Manager) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return m.server.Start(m.mux)
}

// Stop stops queue processor
func (m *Manager) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	m.server.Stop()
	m.server.Shutdown()
}

// Close closes client and inspector
func (m *Manager) Close() error {
	if err := m.inspector.Close(); err != nil {
		logger.WarnCtx(context.Background(), "failed to close queue inspector: %v", err)
	}
	return m.client.Close()
}
