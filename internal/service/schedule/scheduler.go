// Package schedule keeps one delayed scrape task queued per active provider.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gpuindex/internal/model"
	"gpuindex/internal/realtime"
	"gpuindex/internal/service/scrape"
	"gpuindex/pkg/lock"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	queue "gpuindex/pkg/queue/asynq"
	"gpuindex/pkg/store/mysql"
	storemodel "gpuindex/pkg/store/mysql/model"
	"gpuindex/pkg/store/redis"
)

// ErrProviderNotFound is returned for operator actions on unknown or inactive providers
var ErrProviderNotFound = errors.New("provider not found or inactive")

// ProviderStore reads providers
type ProviderStore interface {
	Get(ctx context.Context, slug string) (*storemodel.Provider, error)
	ListActive(ctx context.Context) ([]*storemodel.Provider, error)
}

// TriggerStore is the trigger registry
type TriggerStore interface {
	Get(ctx context.Context, slug string) (*model.Trigger, error)
	List(ctx context.Context) ([]*model.Trigger, error)
	Save(ctx context.Context, t *model.Trigger) error
	Delete(ctx context.Context, slug string) (bool, error)
}

// TaskQueue accepts delayed scrape tasks
type TaskQueue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}, opts queue.EnqueueOptions) (bool, error)
	DeleteTask(ctx context.Context, queueName, taskID string) error
}

var (
	_ ProviderStore = (*mysql.ProviderRepository)(nil)
	_ TriggerStore  = (*redis.TriggerRepository)(nil)
	_ TaskQueue     = (*queue.Manager)(nil)
)

// ReconcileResult summarizes one reconciliation
type ReconcileResult struct {
	Added    int      `json:"added"`
	Updated  int      `json:"updated"`
	Removed  int      `json:"removed"`
	Enqueued int      `json:"enqueued"`
	Failed   []string `json:"failed,omitempty"` // providers whose next slot could not be queued
}

// Changed reports whether the registry was modified
func (r *ReconcileResult) Changed() bool {
	return r.Added+r.Updated+r.Removed > 0
}

// Deps collects the collaborators of a Scheduler
type Deps struct {
	Providers ProviderStore
	Triggers  TriggerStore
	Queue     TaskQueue
	Policies  *scrape.PolicyResolver
	Locker    lock.Locker // optional, serializes ticks across scheduler replicas
	Publisher realtime.Publisher
	Metrics   *metrics.Metrics

	TickInterval      time.Duration
	ReconcileInterval time.Duration
}

// Scheduler derives triggers from providers and keeps the next slot of each queued.
// It never executes or retries scrapes.
type Scheduler struct {
	providers ProviderStore
	triggers  TriggerStore
	queue     TaskQueue
	policies  *scrape.PolicyResolver
	locker    lock.Locker
	publisher realtime.Publisher
	metrics   *metrics.Metrics

	tickInterval      time.Duration
	reconcileInterval time.Duration

	mu            sync.Mutex
	lastReconcile time.Time

	now func() time.Time
}

// New creates a scheduler
func New(deps Deps) *Scheduler {
	s := &Scheduler{
		providers:         deps.Providers,
		triggers:          deps.Triggers,
		queue:             deps.Queue,
		policies:          deps.Policies,
		locker:            deps.Locker,
		publisher:         deps.Publisher,
		metrics:           deps.Metrics,
		tickInterval:      deps.TickInterval,
		reconcileInterval: deps.ReconcileInterval,
		now:               func() time.Time { return time.Now().UTC() },
	}
	if s.publisher == nil {
		s.publisher = realtime.NopPublisher{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	if s.tickInterval <= 0 {
		s.tickInterval = 30 * time.Second
	}
	return s
}

// desiredTrigger computes the schedule of an active provider
func (s *Scheduler) desiredTrigger(p *storemodel.Provider) *model.Trigger {
	policy := s.policies.Resolve(p)
	return &model.Trigger{
		ProviderSlug:    p.Slug,
		IntervalSeconds: int64(policy.Interval / time.Second),
		OffsetSeconds:   int64(StaggerOffset(p.Slug, policy.Interval) / time.Second),
	}
}

// Reconcile brings the trigger registry in line with the active providers and
// makes sure every trigger has its next slot queued. It is idempotent.
func (s *Scheduler) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	started := time.Now()
	defer func() { s.metrics.ReconcileDuration.Observe(time.Since(started).Seconds()) }()

	active, err := s.providers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	existing, err := s.triggers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	current := make(map[string]*model.Trigger, len(existing))
	for _, t := range existing {
		current[t.ProviderSlug] = t
	}

	result := &ReconcileResult{}
	desired := make(map[string]*model.Trigger, len(active))
	now := s.now()

	for _, p := range active {
		want := s.desiredTrigger(p)
		desired[p.Slug] = want

		have, ok := current[p.Slug]
		switch {
		case !ok:
			want.UpdatedAt = now
			if err := s.triggers.Save(ctx, want); err != nil {
				return result, fmt.Errorf("failed to save trigger %s: %w", p.Slug, err)
			}
			result.Added++
			logger.InfoCtx(ctx, "trigger added: provider=%s interval=%s offset=%s", p.Slug, want.Interval(), want.Offset())
		case !have.SameSchedule(want):
			// the queued slot belongs to the old schedule
			s.cancelQueued(ctx, have)
			want.UpdatedAt = now
			if err := s.triggers.Save(ctx, want); err != nil {
				return result, fmt.Errorf("failed to save trigger %s: %w", p.Slug, err)
			}
			result.Updated++
			logger.InfoCtx(ctx, "trigger updated: provider=%s interval=%s -> %s", p.Slug, have.Interval(), want.Interval())
		default:
			desired[p.Slug] = have
		}
	}

	for slug := range current {
		if _, ok := desired[slug]; ok {
			continue
		}
		removed, err := s.RemoveProvider(ctx, slug)
		if err != nil {
			return result, err
		}
		if removed {
			result.Removed++
		}
	}

	for slug, t := range desired {
		enqueued, err := s.EnsureQueued(ctx, t)
		if err != nil {
			logger.ErrorCtx(ctx, "failed to queue next slot of %s: %v", slug, err)
			result.Failed = append(result.Failed, slug)
			continue
		}
		if enqueued {
			result.Enqueued++
		}
	}

	s.mu.Lock()
	s.lastReconcile = now
	s.mu.Unlock()
	s.metrics.TriggersRegistered.Set(float64(len(desired)))
	logger.InfoCtx(ctx, "reconcile done: added=%d updated=%d removed=%d enqueued=%d failed=%d",
		result.Added, result.Updated, result.Removed, result.Enqueued, len(result.Failed))

	if result.Changed() {
		s.publisher.Publish(ctx, realtime.NewEvent(model.EventReconciled, "", map[string]interface{}{
			"added":   result.Added,
			"updated": result.Updated,
			"removed": result.Removed,
		}))
	}
	return result, nil
}

// EnsureQueued queues the next slot of a trigger. It returns false when the
// slot was already queued.
func (s *Scheduler) EnsureQueued(ctx context.Context, t *model.Trigger) (bool, error) {
	if t.IntervalSeconds <= 0 {
		return false, fmt.Errorf("trigger %s has no interval", t.ProviderSlug)
	}

	slot := NextSlot(s.now(), t.Interval(), t.Offset())
	enqueued, err := s.queue.Enqueue(ctx, model.TaskTypeScrape, model.ScrapeTaskPayload{
		ProviderSlug: t.ProviderSlug,
		Trigger:      storemodel.TriggerSchedule,
		SlotUnix:     slot.Unix(),
	}, queue.EnqueueOptions{
		TaskID:    SlotTaskID(t.ProviderSlug, slot),
		Queue:     queue.QueueScrape,
		ProcessAt: slot,
		Timeout:   t.Interval(),
	})
	if err != nil {
		return false, err
	}

	if enqueued {
		s.metrics.TasksEnqueued.WithLabelValues(storemodel.TriggerSchedule).Inc()
		logger.DebugCtx(ctx, "queued %s for %s", t.ProviderSlug, slot.Format(time.RFC3339))
	}
	if !t.NextRunAt.Equal(slot) {
		t.NextRunAt = slot
		t.UpdatedAt = s.now()
		if err := s.triggers.Save(ctx, t); err != nil {
			return enqueued, fmt.Errorf("failed to save trigger %s: %w", t.ProviderSlug, err)
		}
	}
	return enqueued, nil
}

// RemoveProvider drops the trigger of a provider and its queued slot
func (s *Scheduler) RemoveProvider(ctx context.Context, slug string) (bool, error) {
	t, err := s.triggers.Get(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("failed to load trigger %s: %w", slug, err)
	}
	if t == nil {
		return false, nil
	}

	s.cancelQueued(ctx, t)
	removed, err := s.triggers.Delete(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("failed to delete trigger %s: %w", slug, err)
	}
	if removed {
		logger.InfoCtx(ctx, "trigger removed: provider=%s", slug)
	}
	return removed, nil
}

// cancelQueued deletes the pending task of a trigger, if still queued
func (s *Scheduler) cancelQueued(ctx context.Context, t *model.Trigger) {
	if t.NextRunAt.IsZero() || !t.NextRunAt.After(s.now()) {
		return
	}
	err := s.queue.DeleteTask(ctx, queue.QueueScrape, SlotTaskID(t.ProviderSlug, t.NextRunAt))
	if err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
		logger.WarnCtx(ctx, "failed to cancel queued slot of %s: %v", t.ProviderSlug, err)
	}
}

// Triggers lists the registry for operators
func (s *Scheduler) Triggers(ctx context.Context) ([]*model.Trigger, error) {
	return s.triggers.List(ctx)
}

// TriggerNow queues an immediate manual scrape. The executor still applies
// min spacing and the one-running-job rule.
func (s *Scheduler) TriggerNow(ctx context.Context, slug, requestedBy string) (string, bool, error) {
	p, err := s.providers.Get(ctx, slug)
	if err != nil {
		return "", false, err
	}
	if p == nil || !p.IsActive {
		return "", false, fmt.Errorf("%w: %s", ErrProviderNotFound, slug)
	}

	now := s.now()
	taskID := ManualTaskID(slug, now)
	enqueued, err := s.queue.Enqueue(ctx, model.TaskTypeScrape, model.ScrapeTaskPayload{
		ProviderSlug: slug,
		Trigger:      storemodel.TriggerManual,
		RequestedBy:  requestedBy,
	}, queue.EnqueueOptions{
		TaskID:  taskID,
		Queue:   queue.QueueScrape,
		Timeout: s.policies.Resolve(p).Interval,
	})
	if err != nil {
		return "", false, err
	}
	if enqueued {
		s.metrics.TasksEnqueued.WithLabelValues(storemodel.TriggerManual).Inc()
		logger.InfoCtx(ctx, "manual scrape of %s queued by %q as %s", slug, requestedBy, taskID)
	}
	return taskID, enqueued, nil
}

// Tick tops up the queue for every registered trigger, reconciling first
// when the reconcile interval has elapsed
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.locker != nil {
		acquired, err := s.locker.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire scheduler lock: %w", err)
		}
		if !acquired {
			logger.DebugCtx(ctx, "scheduler lock held elsewhere, skipping tick")
			return nil
		}
		defer s.locker.Unlock(ctx)
	}

	s.mu.Lock()
	due := s.reconcileInterval > 0 && s.now().Sub(s.lastReconcile) >= s.reconcileInterval
	s.mu.Unlock()

	if due {
		_, err := s.Reconcile(ctx)
		return err
	}

	triggers, err := s.triggers.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list triggers: %w", err)
	}
	for _, t := range triggers {
		if _, err := s.EnsureQueued(ctx, t); err != nil {
			logger.ErrorCtx(ctx, "failed to queue next slot of %s: %v", t.ProviderSlug, err)
		}
	}
	return nil
}

// Run ticks until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	logger.InfoCtx(ctx, "scheduler started, tick=%s reconcile=%s", s.tickInterval, s.reconcileInterval)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil {
			logger.ErrorCtx(ctx, "scheduler tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.InfoCtx(context.Background(), "scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
