package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appmodel "gpuindex/internal/model"
	"gpuindex/pkg/config"
	"gpuindex/pkg/source"
	"gpuindex/pkg/store/mysql/model"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type executorFixture struct {
	store     *fakeStore
	src       *stubSource
	publisher *recordingPublisher
	clock     *testClock
	exec      *Executor
	provider  *model.Provider
}

func testScrapeConfig() config.ScrapeConfig {
	return config.ScrapeConfig{
		Default: config.PolicyConfig{
			Interval:                time.Hour,
			Timeout:                 50 * time.Millisecond,
			MinSpacing:              10 * time.Minute,
			InactiveAfterMisses:     3,
			DeactivateAfterFailures: 3,
		},
		FlakyIntervalMultiplier: 2,
		AnomalyThreshold:        0.5,
	}
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()

	store := newFakeStore()
	provider := store.addProvider(&model.Provider{Slug: "lambda", DisplayName: "Lambda", IsActive: true})

	src := &stubSource{slug: "lambda", batch: &source.Batch{}}
	registry := source.NewRegistry()
	require.NoError(t, registry.Register(src))

	cfg := testScrapeConfig()
	publisher := &recordingPublisher{}
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	exec := NewExecutor(ExecutorDeps{
		Providers:        store,
		GpuModels:        store,
		Instances:        store,
		Jobs:             store,
		Anomalies:        anomalyStore{store},
		Observations:     observationStore{store},
		Sources:          registry,
		Tx:               snapshotTx{store},
		Policies:         NewPolicyResolver(cfg),
		Publisher:        publisher,
		AnomalyThreshold: cfg.AnomalyThreshold,
	})
	exec.now = clock.Now

	return &executorFixture{
		store:     store,
		src:       src,
		publisher: publisher,
		clock:     clock,
		exec:      exec,
		provider:  provider,
	}
}

func offer(instanceType, gpu string, count int, price float64) source.RawOffer {
	return source.RawOffer{
		Provider:     "lambda",
		GPU:          gpu,
		InstanceType: instanceType,
		GPUCount:     count,
		Price:        price,
	}
}

func (f *executorFixture) run(t *testing.T, offers ...source.RawOffer) *ExecuteResult {
	t.Helper()
	f.src.setBatch(&source.Batch{Offers: offers})
	f.clock.Advance(time.Hour)
	result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	return result
}

func TestExecute_PriceJumpRecordsAnomaly(t *testing.T) {
	f := newExecutorFixture(t)

	first := f.run(t, offer("gpu_1x_h100", "h100", 1, 2.00))
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Equal(t, 1, first.OffersProcessed)
	assert.Equal(t, 0, first.Anomalies)

	second := f.run(t, offer("gpu_1x_h100", "h100", 1, 4.10))
	assert.Equal(t, StatusCompleted, second.Status)
	assert.Equal(t, 1, second.Anomalies)

	inst := f.store.instance(f.provider.ID, "gpu_1x_h100")
	require.NotNil(t, inst)
	assert.Equal(t, 4.10, inst.PricePerGPUHour)

	anomalies := f.store.anomalyList()
	require.Len(t, anomalies, 1)
	assert.Equal(t, model.ChannelOnDemand, anomalies[0].Channel)
	assert.Equal(t, 2.00, anomalies[0].OldPricePerGPUHour)
	assert.Equal(t, 4.10, anomalies[0].NewPricePerGPUHour)
	assert.True(t, anomalies[0].ChangePercent.Equal(decimal.NewFromInt(105)), "got %s", anomalies[0].ChangePercent)
	require.NotNil(t, anomalies[0].ScrapeJobID)
	assert.Equal(t, second.JobID, *anomalies[0].ScrapeJobID)

	types := f.publisher.types()
	assert.Equal(t, []string{
		string(appmodel.EventJobFinalized),
		string(appmodel.EventJobFinalized),
		string(appmodel.EventAnomalyDetected),
	}, types)
}

func TestExecute_NormalizesPerGPU(t *testing.T) {
	f := newExecutorFixture(t)

	spot := 8.0
	o := offer("gpu_8x_h100", "h100", 8, 16.0)
	o.SpotPrice = &spot
	f.run(t, o)

	inst := f.store.instance(f.provider.ID, "gpu_8x_h100")
	require.NotNil(t, inst)
	assert.Equal(t, 16.0, inst.PricePerHour)
	assert.Equal(t, 2.0, inst.PricePerGPUHour)
	require.NotNil(t, inst.PricePerHourSpot)
	assert.Equal(t, 1.0, *inst.PricePerHourSpot)
	assert.Equal(t, model.AvailabilityUnknown, inst.AvailabilityStatus)
	assert.Len(t, f.store.observed, 1)
}

func TestExecute_TimeoutLeavesRowsUnchanged(t *testing.T) {
	f := newExecutorFixture(t)
	f.run(t, offer("gpu_1x_h100", "h100", 1, 2.00))
	before := f.store.instance(f.provider.ID, "gpu_1x_h100")

	f.src.mu.Lock()
	f.src.block = true
	f.src.mu.Unlock()
	f.clock.Advance(time.Hour)

	result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
	assert.Contains(t, result.Error, "timed out")

	after := f.store.instance(f.provider.ID, "gpu_1x_h100")
	assert.Equal(t, before, after)

	p, _ := f.store.Get(context.Background(), "lambda")
	assert.Equal(t, 1, p.ConsecutiveFailures)

	jobs := f.store.jobList()
	require.Len(t, jobs, 2)
	assert.Equal(t, model.JobStatusTimeout, jobs[1].Status)
	assert.Nil(t, jobs[1].RunningGuard)
}

func TestExecute_FailureClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want JobStatus
	}{
		{"rate limited", &source.RateLimitError{Status: 429, RetryAfter: time.Minute}, StatusRateLimited},
		{"wrapped rate limit", errors.Join(errors.New("page 2"), source.ErrRateLimited), StatusRateLimited},
		{"source timeout", source.ErrTimeout, StatusTimeout},
		{"other", errors.New("unexpected html"), StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecutorFixture(t)
			f.src.mu.Lock()
			f.src.err = tt.err
			f.src.mu.Unlock()

			result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.NotEmpty(t, result.Error)
		})
	}
}

func TestExecute_FailureMessageRedacted(t *testing.T) {
	f := newExecutorFixture(t)
	f.src.mu.Lock()
	f.src.err = errors.New(`request lambda: Get "https://feed.example.com/prices?api_key=sk_live_42abcdef": connection reset`)
	f.src.mu.Unlock()

	result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotContains(t, result.Error, "sk_live_42abcdef")
	assert.Contains(t, result.Error, "api_key=[redacted]")

	job := f.store.job(result.JobID)
	require.NotNil(t, job.ErrorMessage)
	assert.NotContains(t, *job.ErrorMessage, "sk_live_42abcdef")
}

func TestExecute_SourcePanicFailsJob(t *testing.T) {
	f := newExecutorFixture(t)
	f.src.mu.Lock()
	f.src.panic = true
	f.src.mu.Unlock()

	result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "panicked")
}

func TestExecute_Skips(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		f := newExecutorFixture(t)
		result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "nope"})
		require.NoError(t, err)
		assert.True(t, result.Skipped)
		assert.Equal(t, SkipUnknownProvider, result.SkipReason)
		assert.Empty(t, f.store.jobList())
	})

	t.Run("inactive provider", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.store.addProvider(&model.Provider{Slug: "gone", IsActive: false})
		result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "gone"})
		require.NoError(t, err)
		assert.Equal(t, SkipInactiveProvider, result.SkipReason)
		assert.Empty(t, f.store.jobList())
	})

	t.Run("min spacing", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.run(t, offer("gpu_1x_h100", "h100", 1, 2.00))
		f.clock.Advance(time.Minute)

		result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
		require.NoError(t, err)
		assert.Equal(t, SkipMinSpacing, result.SkipReason)
		assert.Len(t, f.store.jobList(), 1)
	})

	t.Run("provider busy", func(t *testing.T) {
		f := newExecutorFixture(t)
		guard := f.provider.ID
		require.NoError(t, f.store.Create(context.Background(), &model.ScrapeJob{
			JobUID:       "in-flight",
			ProviderID:   f.provider.ID,
			Status:       model.JobStatusRunning,
			StartedAt:    f.clock.Now().Add(-time.Hour),
			RunningGuard: &guard,
		}))

		result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
		require.NoError(t, err)
		assert.Equal(t, SkipProviderBusy, result.SkipReason)

		running := 0
		for _, j := range f.store.jobList() {
			if j.Status == model.JobStatusRunning {
				running++
			}
		}
		assert.Equal(t, 1, running)
		assert.Equal(t, 0, f.src.calls)
	})
}

func TestExecute_ConcurrentRunsClaimOnce(t *testing.T) {
	f := newExecutorFixture(t)
	f.src.mu.Lock()
	f.src.block = true
	f.src.mu.Unlock()

	var wg sync.WaitGroup
	results := make([]*ExecuteResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
		}(i)
	}
	wg.Wait()

	started := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.Skipped {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestExecute_InvalidOffersSkipped(t *testing.T) {
	f := newExecutorFixture(t)

	wrongProvider := offer("x", "h100", 1, 1.0)
	wrongProvider.Provider = "vast"

	f.src.setBatch(&source.Batch{
		Offers: []source.RawOffer{
			offer("gpu_1x_h100", "h100", 1, 2.0),
			offer("gpu_1x_b200", "b200", 1, 5.0),
			offer("gpu_1x_a100", "a100", 1, -1.0),
			offer("gpu_8x_h100", "h100", 8, 1e9),
			wrongProvider,
		},
		Invalid: []source.InvalidOffer{{Index: 7, Reason: "price: not a number"}},
	})
	result, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, result.OffersProcessed)
	assert.Equal(t, 5, result.OffersSkipped)
	assert.Nil(t, f.store.instance(f.provider.ID, "gpu_1x_b200"))
	assert.Nil(t, f.store.instance(f.provider.ID, "gpu_8x_h100"), "price beyond column precision is skipped")
	assert.NotNil(t, f.store.instance(f.provider.ID, "gpu_1x_h100"))
}

func TestClaim_ProviderBusy(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	guard := f.provider.ID
	first := &model.ScrapeJob{JobUID: "job-1", ProviderID: f.provider.ID, Status: model.JobStatusRunning, RunningGuard: &guard}
	require.NoError(t, f.exec.claim(ctx, f.provider, first))

	second := &model.ScrapeJob{JobUID: "job-2", ProviderID: f.provider.ID, Status: model.JobStatusRunning, RunningGuard: &guard}
	err := f.exec.claim(ctx, f.provider, second)
	assert.ErrorIs(t, err, ErrProviderBusy)
	assert.ErrorContains(t, err, "lambda")

	result, err := f.exec.Execute(ctx, ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipProviderBusy, result.SkipReason)
}

func TestExecute_MissedAndWithdrawnRows(t *testing.T) {
	f := newExecutorFixture(t)
	f.run(t,
		offer("a", "h100", 1, 2.0),
		offer("b", "h100", 1, 2.0),
		offer("c", "a100", 1, 1.5),
	)

	f.src.setBatch(&source.Batch{
		Offers:    []source.RawOffer{offer("a", "h100", 1, 2.0)},
		Withdrawn: []string{"c"},
	})
	f.clock.Advance(time.Hour)
	_, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)

	assert.False(t, f.store.instance(f.provider.ID, "c").IsActive, "withdrawn rows go inactive at once")
	b := f.store.instance(f.provider.ID, "b")
	assert.True(t, b.IsActive)
	assert.Equal(t, 1, b.MissedScrapes)

	f.run(t, offer("a", "h100", 1, 2.0))
	assert.True(t, f.store.instance(f.provider.ID, "b").IsActive)
	f.run(t, offer("a", "h100", 1, 2.0))
	assert.False(t, f.store.instance(f.provider.ID, "b").IsActive)

	// reappearing revives the row
	f.run(t, offer("a", "h100", 1, 2.0), offer("b", "h100", 1, 2.0))
	b = f.store.instance(f.provider.ID, "b")
	assert.True(t, b.IsActive)
	assert.Equal(t, 0, b.MissedScrapes)
}

func TestExecute_DeactivatesAfterRepeatedFailures(t *testing.T) {
	f := newExecutorFixture(t)
	f.run(t, offer("a", "h100", 1, 2.0))

	f.src.mu.Lock()
	f.src.err = errors.New("503")
	f.src.mu.Unlock()

	for i := 0; i < 2; i++ {
		f.clock.Advance(time.Hour)
		_, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
		require.NoError(t, err)
		assert.True(t, f.store.instance(f.provider.ID, "a").IsActive)
	}

	f.clock.Advance(time.Hour)
	_, err := f.exec.Execute(context.Background(), ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.False(t, f.store.instance(f.provider.ID, "a").IsActive)

	// success resets the counter
	f.run(t, offer("a", "h100", 1, 2.0))
	p, _ := f.store.Get(context.Background(), "lambda")
	assert.Equal(t, 0, p.ConsecutiveFailures)
	assert.NotNil(t, p.LastPriceUpdate)
}

func TestExecute_WriteFailureRollsBack(t *testing.T) {
	f := newExecutorFixture(t)
	f.run(t, offer("a", "h100", 1, 2.0))
	before := f.store.instance(f.provider.ID, "a")

	f.store.mu.Lock()
	f.store.failInsideTx = true
	f.store.mu.Unlock()

	result := f.run(t, offer("a", "h100", 1, 9.0))
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, before, f.store.instance(f.provider.ID, "a"))
	assert.Equal(t, 1, f.store.txRolledBack)
}

func TestFinalize_OnlyOnce(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()

	guard := f.provider.ID
	job := &model.ScrapeJob{
		JobUID:       "job-1",
		ProviderID:   f.provider.ID,
		Status:       model.JobStatusRunning,
		StartedAt:    f.clock.Now(),
		RunningGuard: &guard,
	}
	require.NoError(t, f.store.Create(ctx, job))

	outcome := model.JobOutcome{Status: model.JobStatusCompleted}
	_, err := f.exec.finalize(ctx, f.provider, job, outcome, nil)
	require.NoError(t, err)

	// a stale copy still believes the job is running
	job.Status = model.JobStatusRunning
	_, err = f.exec.finalize(ctx, f.provider, job, model.JobOutcome{Status: model.JobStatusFailed}, nil)
	assert.ErrorIs(t, err, ErrJobAlreadyFinalized)

	jobs := f.store.jobList()
	assert.Equal(t, model.JobStatusCompleted, jobs[0].Status)
}

func TestSweepOrphans(t *testing.T) {
	f := newExecutorFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	guard := f.provider.ID
	require.NoError(t, f.store.Create(ctx, &model.ScrapeJob{
		JobUID: "stuck", ProviderID: f.provider.ID, Status: model.JobStatusRunning,
		StartedAt: now.Add(-time.Hour), RunningGuard: &guard,
	}))
	other := f.store.addProvider(&model.Provider{Slug: "vast", IsActive: true})
	otherGuard := other.ID
	require.NoError(t, f.store.Create(ctx, &model.ScrapeJob{
		JobUID: "fresh", ProviderID: other.ID, Status: model.JobStatusRunning,
		StartedAt: now, RunningGuard: &otherGuard,
	}))

	swept, err := f.exec.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	jobs := f.store.jobList()
	assert.Equal(t, model.JobStatusTimeout, jobs[0].Status)
	require.NotNil(t, jobs[0].ErrorMessage)
	assert.Equal(t, orphanMessage, *jobs[0].ErrorMessage)
	assert.Nil(t, jobs[0].RunningGuard)
	assert.Equal(t, model.JobStatusRunning, jobs[1].Status)

	// the guard is free again
	f.clock.Advance(time.Hour)
	result, err := f.exec.Execute(ctx, ExecuteRequest{ProviderSlug: "lambda"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestHandleScrapeTask(t *testing.T) {
	f := newExecutorFixture(t)
	f.src.setBatch(&source.Batch{Offers: []source.RawOffer{offer("a", "h100", 1, 2.0)}})

	payload, _ := json.Marshal(appmodel.ScrapeTaskPayload{ProviderSlug: "lambda", Trigger: model.TriggerManual})
	err := f.exec.HandleScrapeTask(context.Background(), asynq.NewTask(appmodel.TaskTypeScrape, payload))
	require.NoError(t, err)

	jobs := f.store.jobList()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.TriggerManual, jobs[0].Trigger)
	assert.Equal(t, model.JobStatusCompleted, jobs[0].Status)

	err = f.exec.HandleScrapeTask(context.Background(), asynq.NewTask(appmodel.TaskTypeScrape, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = f.exec.HandleScrapeTask(context.Background(), asynq.NewTask(appmodel.TaskTypeScrape, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, StatusTimeout, classify(context.Background(), context.DeadlineExceeded))
	assert.Equal(t, StatusFailed, classify(cancelled, context.Canceled))
	assert.Equal(t, StatusRateLimited, classify(context.Background(), &source.RateLimitError{Status: 429}))
}
