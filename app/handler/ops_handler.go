package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"gpuindex/app/middleware"
	"gpuindex/internal/model"
	"gpuindex/internal/service/schedule"
	"gpuindex/pkg/logger"
	queue "gpuindex/pkg/queue/asynq"
	"gpuindex/pkg/store/mysql"
	storemodel "gpuindex/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	dayLayout        = "2006-01-02"
)

// JobLister reads scrape job history
type JobLister interface {
	List(ctx context.Context, filter mysql.JobFilter) ([]*storemodel.ScrapeJobView, error)
}

// AnomalyLister reads detected price anomalies
type AnomalyLister interface {
	List(ctx context.Context, filter mysql.AnomalyFilter) ([]*storemodel.PriceAnomalyView, error)
}

// ScheduleControl is the operator surface of the scheduler
type ScheduleControl interface {
	Reconcile(ctx context.Context) (*schedule.ReconcileResult, error)
	TriggerNow(ctx context.Context, slug, requestedBy string) (string, bool, error)
	Triggers(ctx context.Context) ([]*model.Trigger, error)
}

// QueueControl exposes queue depth and maintenance enqueueing
type QueueControl interface {
	Stats(ctx context.Context) ([]queue.QueueStats, error)
	Enqueue(ctx context.Context, taskType string, payload interface{}, opts queue.EnqueueOptions) (bool, error)
}

var (
	_ JobLister       = (*mysql.ScrapeJobRepository)(nil)
	_ AnomalyLister   = (*mysql.AnomalyRepository)(nil)
	_ ScheduleControl = (*schedule.Scheduler)(nil)
	_ QueueControl    = (*queue.Manager)(nil)
)

// OpsHandler serves operator endpoints
type OpsHandler struct {
	jobs      JobLister
	anomalies AnomalyLister
	scheduler ScheduleControl
	queue     QueueControl
	now       func() time.Time
}

// NewOpsHandler creates a new ops handler
func NewOpsHandler(jobs JobLister, anomalies AnomalyLister, scheduler ScheduleControl, q QueueControl) *OpsHandler {
	return &OpsHandler{
		jobs:      jobs,
		anomalies: anomalies,
		scheduler: scheduler,
		queue:     q,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ListJobs lists recent scrape jobs
// @Summary List scrape jobs
// @Tags ops
// @Produce json
// @Param provider query string false "Provider slug"
// @Param status query string false "Job status"
// @Param limit query int false "Max rows (default 50)"
// @Router /api/v1/ops/jobs [get]
func (h *OpsHandler) ListJobs(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), mysql.JobFilter{
		ProviderSlug: c.Query("provider"),
		Status:       c.Query("status"),
		Limit:        limit,
	})
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list scrape jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": len(jobs)})
}

// ListAnomalies lists recent price anomalies
// @Summary List price anomalies
// @Tags ops
// @Produce json
// @Param provider query string false "Provider slug"
// @Param hours query int false "Look back window in hours"
// @Param limit query int false "Max rows (default 50)"
// @Router /api/v1/ops/anomalies [get]
func (h *OpsHandler) ListAnomalies(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	filter := mysql.AnomalyFilter{
		ProviderSlug: c.Query("provider"),
		Limit:        limit,
	}
	if raw := c.Query("hours"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		filter.Since = h.now().Add(-time.Duration(hours) * time.Hour)
	}

	anomalies, err := h.anomalies.List(c.Request.Context(), filter)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list anomalies: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"anomalies": anomalies, "total": len(anomalies)})
}

// Reconcile re-syncs triggers with the provider list
// @Summary Reconcile schedule
// @Tags ops
// @Produce json
// @Success 200 {object} schedule.ReconcileResult
// @Router /api/v1/ops/reconcile [post]
func (h *OpsHandler) Reconcile(c *gin.Context) {
	result, err := h.scheduler.Reconcile(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "reconcile failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Trigger enqueues an immediate scrape for a provider
// @Summary Trigger a scrape now
// @Tags ops
// @Produce json
// @Param slug path string true "Provider slug"
// @Success 202 {object} map[string]interface{}
// @Router /api/v1/ops/providers/{slug}/trigger [post]
func (h *OpsHandler) Trigger(c *gin.Context) {
	slug := c.Param("slug")

	taskID, enqueued, err := h.scheduler.TriggerNow(c.Request.Context(), slug, c.GetString(middleware.ContextKeyCaller))
	if err != nil {
		if errors.Is(err, schedule.ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to trigger scrape for %s: %v", slug, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"provider": slug,
		"task_id":  taskID,
		"enqueued": enqueued,
	})
}

// Queues reports depth per queue
// @Summary Queue statistics
// @Tags ops
// @Produce json
// @Router /api/v1/ops/queues [get]
func (h *OpsHandler) Queues(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to read queue stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queues": stats})
}

// Triggers lists registered schedule triggers
// @Summary List triggers
// @Tags ops
// @Produce json
// @Router /api/v1/ops/triggers [get]
func (h *OpsHandler) Triggers(c *gin.Context) {
	triggers, err := h.scheduler.Triggers(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list triggers: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "total": len(triggers)})
}

// RollupRequest selects the day to rebuild, empty means yesterday
type RollupRequest struct {
	Day string `json:"day"`
}

// Rollup enqueues a daily price history rebuild on the maintenance queue
// @Summary Rebuild a day of price history
// @Tags ops
// @Accept json
// @Produce json
// @Param request body RollupRequest false "Day in YYYY-MM-DD"
// @Success 202 {object} map[string]interface{}
// @Router /api/v1/ops/rollup [post]
func (h *OpsHandler) Rollup(c *gin.Context) {
	var req RollupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	day := h.now().AddDate(0, 0, -1).Format(dayLayout)
	if req.Day != "" {
		parsed, err := time.Parse(dayLayout, req.Day)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		day = parsed.Format(dayLayout)
	}

	payload := model.RollupTaskPayload{
		Day:         day,
		RequestedBy: c.GetString(middleware.ContextKeyCaller),
	}
	taskID := "rollup:" + day + ":" + strconv.FormatInt(h.now().Unix()/60, 10)
	enqueued, err := h.queue.Enqueue(c.Request.Context(), model.TaskTypeRollup, payload, queue.EnqueueOptions{
		TaskID: taskID,
		Queue:  queue.QueueMaintenance,
	})
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to enqueue rollup for %s: %v", day, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"day": day, "task_id": taskID, "enqueued": enqueued})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
