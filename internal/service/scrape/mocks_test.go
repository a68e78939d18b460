package scrape

import (
	"context"
	"fmt"
	"sync"
	"time"

	appmodel "gpuindex/internal/model"
	"gpuindex/pkg/source"
	"gpuindex/pkg/store/mysql"
	"gpuindex/pkg/store/mysql/model"
)

// fakeStore is an in-memory stand-in for the mysql repositories. It keeps the
// same semantics the executor relies on: upsert by (provider, instance type),
// one running job per provider, finalize only from running.
type fakeStore struct {
	mu sync.Mutex

	providers map[string]*model.Provider
	gpus      []*model.GpuModel
	instances map[string]*model.Instance
	jobs      []*model.ScrapeJob
	anomalies []*model.PriceAnomaly
	observed  []*model.PriceObservation

	nextID        int64
	upsertErr     error
	anomalyErr    error
	failInsideTx  bool
	txRolledBack  int
	successAt     map[int64]time.Time
	deactivations map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		providers: map[string]*model.Provider{},
		gpus: []*model.GpuModel{
			{ID: 1, Slug: "h100", DisplayName: "H100 80GB", VRAMGB: 80},
			{ID: 2, Slug: "a100", DisplayName: "A100 80GB", VRAMGB: 80},
		},
		instances:     map[string]*model.Instance{},
		successAt:     map[int64]time.Time{},
		deactivations: map[int64]int{},
	}
}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

func instanceKey(providerID int64, instanceType string) string {
	return fmt.Sprintf("%d/%s", providerID, instanceType)
}

func (s *fakeStore) addProvider(p *model.Provider) *model.Provider {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.providers[p.Slug] = p
	return p
}

func (s *fakeStore) instance(providerID int64, instanceType string) *model.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceKey(providerID, instanceType)]
	if !ok {
		return nil
	}
	cp := *inst
	return &cp
}

func (s *fakeStore) jobList() []model.ScrapeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScrapeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

func (s *fakeStore) job(id int64) *model.ScrapeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			cp := *j
			return &cp
		}
	}
	return nil
}

func (s *fakeStore) anomalyList() []model.PriceAnomaly {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PriceAnomaly, 0, len(s.anomalies))
	for _, a := range s.anomalies {
		out = append(out, *a)
	}
	return out
}

// ProviderStore

func (s *fakeStore) Get(ctx context.Context, slug string) (*model.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[slug]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) RecordSuccess(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		if p.ID == id {
			p.ConsecutiveFailures = 0
			p.LastPriceUpdate = &at
		}
	}
	s.successAt[id] = at
	return nil
}

func (s *fakeStore) RecordFailure(ctx context.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.providers {
		if p.ID == id {
			p.ConsecutiveFailures++
			return p.ConsecutiveFailures, nil
		}
	}
	return 0, nil
}

// GpuModelStore

func (s *fakeStore) List(ctx context.Context) ([]*model.GpuModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.GpuModel(nil), s.gpus...), nil
}

// InstanceStore

func (s *fakeStore) GetByKey(ctx context.Context, providerID int64, instanceType string) (*model.Instance, error) {
	return s.instance(providerID, instanceType), nil
}

func (s *fakeStore) Upsert(ctx context.Context, inst *model.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	key := instanceKey(inst.ProviderID, inst.InstanceType)
	if existing, ok := s.instances[key]; ok {
		inst.ID = existing.ID
	} else {
		inst.ID = s.id()
	}
	inst.IsActive = true
	inst.MissedScrapes = 0
	cp := *inst
	s.instances[key] = &cp
	return nil
}

func (s *fakeStore) DeactivateTypes(ctx context.Context, providerID int64, instanceTypes []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range instanceTypes {
		if inst, ok := s.instances[instanceKey(providerID, t)]; ok && inst.IsActive {
			inst.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) DeactivateProvider(ctx context.Context, providerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inst := range s.instances {
		if inst.ProviderID == providerID && inst.IsActive {
			inst.IsActive = false
			n++
		}
	}
	s.deactivations[providerID]++
	return n, nil
}

func (s *fakeStore) MarkMissed(ctx context.Context, providerID int64, seen []string, inactiveAfter int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInsideTx {
		return 0, fmt.Errorf("mark missed: connection reset")
	}
	seenSet := map[string]bool{}
	for _, t := range seen {
		seenSet[t] = true
	}
	var n int64
	for _, inst := range s.instances {
		if inst.ProviderID != providerID || !inst.IsActive || seenSet[inst.InstanceType] {
			continue
		}
		inst.MissedScrapes++
		if inst.MissedScrapes >= inactiveAfter {
			inst.IsActive = false
			n++
		}
	}
	return n, nil
}

// JobStore

func (s *fakeStore) Create(ctx context.Context, job *model.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.RunningGuard != nil {
		for _, j := range s.jobs {
			if j.RunningGuard != nil && *j.RunningGuard == *job.RunningGuard {
				return mysql.ErrDuplicateKey
			}
		}
	}
	job.ID = s.id()
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return nil
}

func (s *fakeStore) LastStartedAt(ctx context.Context, providerID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, j := range s.jobs {
		if j.ProviderID == providerID && (last == nil || j.StartedAt.After(*last)) {
			t := j.StartedAt
			last = &t
		}
	}
	return last, nil
}

func (s *fakeStore) Finalize(ctx context.Context, id int64, outcome model.JobOutcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID != id || j.Status != model.JobStatusRunning {
			continue
		}
		completed := outcome.CompletedAt
		duration := outcome.DurationMs
		j.Status = outcome.Status
		j.CompletedAt = &completed
		j.DurationMs = &duration
		j.OffersProcessed = outcome.OffersProcessed
		j.OffersSkipped = outcome.OffersSkipped
		j.AnomaliesDetected = outcome.AnomaliesDetected
		if outcome.ErrorMessage != "" {
			msg := outcome.ErrorMessage
			j.ErrorMessage = &msg
		}
		j.RunningGuard = nil
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) ListRunningBefore(ctx context.Context, cutoff time.Time) ([]*model.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ScrapeJob
	for _, j := range s.jobs {
		if j.Status == model.JobStatusRunning && j.StartedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// anomalyStore and observationStore adapt fakeStore to the remaining
// interfaces whose method names collide with the ones above

type anomalyStore struct{ s *fakeStore }

func (a anomalyStore) Create(ctx context.Context, an *model.PriceAnomaly) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.anomalyErr != nil {
		return a.s.anomalyErr
	}
	an.ID = a.s.id()
	cp := *an
	a.s.anomalies = append(a.s.anomalies, &cp)
	return nil
}

type observationStore struct{ s *fakeStore }

func (o observationStore) RecordObservation(ctx context.Context, obs *model.PriceObservation) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	obs.ID = o.s.id()
	o.s.observed = append(o.s.observed, obs)
	return nil
}

// snapshotTx emulates rollback by restoring the instance table when fn fails
type snapshotTx struct{ s *fakeStore }

func (t snapshotTx) ExecTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.s.mu.Lock()
	saved := make(map[string]model.Instance, len(t.s.instances))
	for k, v := range t.s.instances {
		saved[k] = *v
	}
	anomalies := len(t.s.anomalies)
	t.s.mu.Unlock()

	if err := fn(ctx); err != nil {
		t.s.mu.Lock()
		t.s.instances = make(map[string]*model.Instance, len(saved))
		for k, v := range saved {
			v := v
			t.s.instances[k] = &v
		}
		t.s.anomalies = t.s.anomalies[:anomalies]
		t.s.txRolledBack++
		t.s.mu.Unlock()
		return err
	}
	return nil
}

// stubSource returns a fixed batch, error, or blocks until ctx is done
type stubSource struct {
	mu    sync.Mutex
	slug  string
	batch *source.Batch
	err   error
	block bool
	panic bool
	calls int
}

func (s *stubSource) Slug() string { return s.slug }

func (s *stubSource) Fetch(ctx context.Context) (*source.Batch, error) {
	s.mu.Lock()
	s.calls++
	batch, err, block, shouldPanic := s.batch, s.err, s.block, s.panic
	s.mu.Unlock()

	if shouldPanic {
		panic("adapter bug")
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return batch, err
}

func (s *stubSource) setBatch(b *source.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch, s.err, s.block = b, nil, false
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, event *appmodel.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, string(event.Type))
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}
