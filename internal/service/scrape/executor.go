package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpuindex/internal/model"
	"gpuindex/internal/realtime"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	"gpuindex/pkg/source"
	"gpuindex/pkg/status"
	"gpuindex/pkg/store/mysql"
	storemodel "gpuindex/pkg/store/mysql/model"

	"github.com/google/uuid"
)

// ExecuteRequest identifies one refresh attempt
type ExecuteRequest struct {
	ProviderSlug string
	Trigger      string // schedule, manual
	TaskID       string
}

// ExecuteResult reports what a refresh attempt did. Skipped results carry no job.
type ExecuteResult struct {
	JobID           int64
	JobUID          string
	Status          JobStatus
	Skipped         bool
	SkipReason      string
	OffersProcessed int
	OffersSkipped   int
	Anomalies       int
	Duration        time.Duration
	Error           string
}

// ExecutorDeps collects the collaborators of an Executor
type ExecutorDeps struct {
	Providers    ProviderStore
	GpuModels    GpuModelStore
	Instances    InstanceStore
	Jobs         JobStore
	Anomalies    AnomalyStore
	Observations ObservationStore
	Sources      SourceLookup
	Tx           TxRunner
	Policies     *PolicyResolver
	Publisher    realtime.Publisher
	Metrics      *metrics.Metrics
	// AnomalyThreshold is the relative change that counts as an anomaly
	AnomalyThreshold float64
}

// Executor runs scrape jobs: one fetch, one normalized batch, one finalized job record
type Executor struct {
	providers  ProviderStore
	gpuModels  GpuModelStore
	instances  InstanceStore
	jobs       JobStore
	sources    SourceLookup
	tx         TxRunner
	policies   *PolicyResolver
	publisher  realtime.Publisher
	metrics    *metrics.Metrics
	normalizer *Normalizer
	detector   *AnomalyDetector

	now func() time.Time
}

// NewExecutor creates an executor
func NewExecutor(deps ExecutorDeps) *Executor {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNop()
	}
	tx := deps.Tx
	if tx == nil {
		tx = noTx{}
	}

	detector := NewAnomalyDetector(deps.AnomalyThreshold, deps.Anomalies, publisher, m)
	return &Executor{
		providers:  deps.Providers,
		gpuModels:  deps.GpuModels,
		instances:  deps.Instances,
		jobs:       deps.Jobs,
		sources:    deps.Sources,
		tx:         tx,
		policies:   deps.Policies,
		publisher:  publisher,
		metrics:    m,
		normalizer: NewNormalizer(deps.Instances, deps.Observations, detector, m),
		detector:   detector,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Execute runs one refresh of a provider. Provider-level failures are
// recorded on the job and are not returned as errors; an error means the
// job bookkeeping itself failed.
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.Trigger == "" {
		req.Trigger = storemodel.TriggerSchedule
	}
	ctx = logger.WithProvider(ctx, req.ProviderSlug)

	provider, err := e.providers.Get(ctx, req.ProviderSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %s: %w", req.ProviderSlug, err)
	}
	if provider == nil {
		return e.skip(ctx, req.ProviderSlug, SkipUnknownProvider), nil
	}
	if !provider.IsActive {
		return e.skip(ctx, req.ProviderSlug, SkipInactiveProvider), nil
	}

	policy := e.policies.Resolve(provider)
	startedAt := e.now()

	last, err := e.jobs.LastStartedAt(ctx, provider.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last job of %s: %w", provider.Slug, err)
	}
	if last != nil && startedAt.Sub(*last) < policy.MinSpacing {
		return e.skip(ctx, provider.Slug, SkipMinSpacing), nil
	}

	guard := provider.ID
	job := &storemodel.ScrapeJob{
		JobUID:       uuid.New().String(),
		ProviderID:   provider.ID,
		Trigger:      req.Trigger,
		TaskID:       req.TaskID,
		Status:       storemodel.JobStatusRunning,
		StartedAt:    startedAt,
		RunningGuard: &guard,
	}
	if err := e.claim(ctx, provider, job); err != nil {
		if errors.Is(err, ErrProviderBusy) {
			return e.skip(ctx, provider.Slug, SkipProviderBusy), nil
		}
		return nil, err
	}

	logger.InfoCtx(ctx, "scrape job %s started: provider=%s trigger=%s timeout=%s",
		job.JobUID, provider.Slug, req.Trigger, policy.Timeout)

	outcome, anomalies := e.run(ctx, provider, job, policy)
	return e.finalize(ctx, provider, job, outcome, anomalies)
}

// run fetches and writes one batch and returns the terminal outcome
func (e *Executor) run(ctx context.Context, provider *storemodel.Provider, job *storemodel.ScrapeJob, policy RefreshPolicy) (storemodel.JobOutcome, []*storemodel.PriceAnomaly) {
	src, err := e.sources.Get(provider.Slug)
	if err != nil {
		return e.fail(ctx, provider, policy, StatusFailed, err), nil
	}

	batch, err := e.fetch(ctx, src, policy.Timeout)
	if err != nil {
		st := classify(ctx, err)
		logger.WarnCtx(ctx, "scrape job %s: fetch from %s ended %s: %v", job.JobUID, provider.Slug, st, err)
		return e.fail(ctx, provider, policy, st, err), nil
	}

	gpus, err := e.gpuIndex(ctx)
	if err != nil {
		return e.fail(ctx, provider, policy, StatusFailed, err), nil
	}

	var (
		norm *NormalizeResult
		now  = e.now()
	)
	err = e.tx.ExecTx(ctx, func(ctx context.Context) error {
		var err error
		norm, err = e.normalizer.Normalize(ctx, provider, job.ID, batch.Offers, gpus)
		if err != nil {
			return err
		}

		withdrawn := subtract(batch.Withdrawn, norm.Seen)
		if len(withdrawn) > 0 {
			n, err := e.instances.DeactivateTypes(ctx, provider.ID, withdrawn)
			if err != nil {
				return err
			}
			e.metrics.InstancesDeactivated.WithLabelValues(provider.Slug, "withdrawn").Add(float64(n))
		}

		missed, err := e.instances.MarkMissed(ctx, provider.ID, norm.Seen, policy.InactiveAfterMisses)
		if err != nil {
			return err
		}
		if missed > 0 {
			e.metrics.InstancesDeactivated.WithLabelValues(provider.Slug, "missed").Add(float64(missed))
			logger.InfoCtx(ctx, "%d instances of %s marked inactive after %d missed scrapes",
				missed, provider.Slug, policy.InactiveAfterMisses)
		}

		return e.providers.RecordSuccess(ctx, provider.ID, now)
	})
	if err != nil {
		logger.ErrorCtx(ctx, "scrape job %s: failed to write batch of %s: %v", job.JobUID, provider.Slug, err)
		return e.fail(ctx, provider, policy, StatusFailed, err), nil
	}

	return storemodel.JobOutcome{
		Status:            string(StatusCompleted),
		OffersProcessed:   norm.Processed,
		OffersSkipped:     norm.Skipped + len(batch.Invalid),
		AnomaliesDetected: len(norm.Anomalies),
	}, norm.Anomalies
}

// fetch calls the source with a deadline. The call runs in its own goroutine
// and is abandoned when the deadline expires.
func (e *Executor) fetch(ctx context.Context, src source.Source, timeout time.Duration) (*source.Batch, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type fetchResult struct {
		batch *source.Batch
		err   error
	}
	done := make(chan fetchResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("source %s panicked: %v", src.Slug(), r)}
			}
		}()
		batch, err := src.Fetch(fetchCtx)
		done <- fetchResult{batch: batch, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.batch == nil {
			return &source.Batch{}, nil
		}
		return res.batch, res.err
	case <-fetchCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", source.ErrTimeout, timeout)
	}
}

// fail records a provider failure and builds the failed outcome
func (e *Executor) fail(ctx context.Context, provider *storemodel.Provider, policy RefreshPolicy, jobStatus JobStatus, cause error) storemodel.JobOutcome {
	// the parent may already be cancelled, bookkeeping must still land
	ctx = context.WithoutCancel(ctx)

	failures, err := e.providers.RecordFailure(ctx, provider.ID)
	if err != nil {
		logger.ErrorCtx(ctx, "failed to record failure of %s: %v", provider.Slug, err)
	} else if policy.DeactivateAfterFailures > 0 && failures >= policy.DeactivateAfterFailures {
		n, err := e.instances.DeactivateProvider(ctx, provider.ID)
		if err != nil {
			logger.ErrorCtx(ctx, "failed to deactivate instances of %s: %v", provider.Slug, err)
		} else {
			e.metrics.InstancesDeactivated.WithLabelValues(provider.Slug, "failures").Add(float64(n))
			logger.WarnCtx(ctx, "%s failed %d consecutive scrapes, %d instances marked inactive",
				provider.Slug, failures, n)
		}
	}

	return storemodel.JobOutcome{
		Status:       string(jobStatus),
		ErrorMessage: status.Sanitize(cause.Error()),
	}
}

// finalize moves the job out of running exactly once and reports the result
func (e *Executor) finalize(ctx context.Context, provider *storemodel.Provider, job *storemodel.ScrapeJob, outcome storemodel.JobOutcome, anomalies []*storemodel.PriceAnomaly) (*ExecuteResult, error) {
	ctx = context.WithoutCancel(ctx)

	completedAt := e.now()
	duration := completedAt.Sub(job.StartedAt)
	outcome.CompletedAt = completedAt
	outcome.DurationMs = duration.Milliseconds()

	next := JobStatus(outcome.Status)
	if !JobStatus(job.Status).CanTransition(next) {
		return nil, fmt.Errorf("invalid job transition %s -> %s", job.Status, next)
	}

	ok, err := e.jobs.Finalize(ctx, job.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize job %s: %w", job.JobUID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobAlreadyFinalized, job.JobUID)
	}
	job.Status = outcome.Status

	e.metrics.ObserveJob(provider.Slug, outcome.Status, duration)
	logger.InfoCtx(ctx, "scrape job %s finished: provider=%s status=%s processed=%d skipped=%d anomalies=%d duration=%dms",
		job.JobUID, provider.Slug, outcome.Status, outcome.OffersProcessed, outcome.OffersSkipped,
		outcome.AnomaliesDetected, outcome.DurationMs)

	e.publisher.Publish(ctx, realtime.NewEvent(model.EventJobFinalized, provider.Slug, map[string]interface{}{
		"job_uid":            job.JobUID,
		"status":             outcome.Status,
		"duration_ms":        outcome.DurationMs,
		"offers_processed":   outcome.OffersProcessed,
		"offers_skipped":     outcome.OffersSkipped,
		"anomalies_detected": outcome.AnomaliesDetected,
		"error":              outcome.ErrorMessage,
	}))
	e.detector.Announce(ctx, provider.Slug, anomalies)

	return &ExecuteResult{
		JobID:           job.ID,
		JobUID:          job.JobUID,
		Status:          next,
		OffersProcessed: outcome.OffersProcessed,
		OffersSkipped:   outcome.OffersSkipped,
		Anomalies:       outcome.AnomaliesDetected,
		Duration:        duration,
		Error:           outcome.ErrorMessage,
	}, nil
}

// claim inserts the running job. The running guard makes the insert fail for
// a provider that already has one, reported as ErrProviderBusy.
func (e *Executor) claim(ctx context.Context, provider *storemodel.Provider, job *storemodel.ScrapeJob) error {
	if err := e.jobs.Create(ctx, job); err != nil {
		if errors.Is(err, mysql.ErrDuplicateKey) {
			return fmt.Errorf("%w: %s", ErrProviderBusy, provider.Slug)
		}
		return fmt.Errorf("failed to create job for %s: %w", provider.Slug, err)
	}
	return nil
}

func (e *Executor) skip(ctx context.Context, slug, reason string) *ExecuteResult {
	logger.InfoCtx(ctx, "scrape of %s skipped: %s", slug, reason)
	e.metrics.ScrapeJobsSkipped.WithLabelValues(slug, reason).Inc()
	return &ExecuteResult{Skipped: true, SkipReason: reason}
}

func (e *Executor) gpuIndex(ctx context.Context) (map[string]*storemodel.GpuModel, error) {
	list, err := e.gpuModels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load gpu models: %w", err)
	}
	index := make(map[string]*storemodel.GpuModel, len(list))
	for _, g := range list {
		index[g.Slug] = g
	}
	return index, nil
}

// classify maps a fetch error to a terminal job status
func classify(ctx context.Context, err error) JobStatus {
	switch {
	case errors.Is(err, source.ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, source.ErrTimeout):
		return StatusTimeout
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// subtract returns the items of a that are not in b
func subtract(a, b []string) []string {
	if len(a) == 0 {
		return nil
	}
	exclude := make(map[string]bool, len(b))
	for _, s := range b {
		exclude[s] = true
	}
	var out []string
	for _, s := range a {
		if !exclude[s] {
			out = append(out, s)
		}
	}
	return out
}

// noTx runs fn directly
type noTx struct{}

func (noTx) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
