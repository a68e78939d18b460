// Package jobs runs periodic maintenance inside the worker process.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gpuindex/pkg/lock"
	"gpuindex/pkg/logger"

	"github.com/google/uuid"
)

const defaultInterval = time.Minute

// Job is a periodic background task
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob starts on a wall-clock multiple of its interval
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// Observer receives the outcome of every run
type Observer func(name string, took time.Duration, err error)

// Option configures a Manager
type Option func(*Manager)

// WithObserver reports each run to fn
func WithObserver(fn Observer) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager owns the goroutines of registered jobs
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	observe Observer
	now     func() time.Time

	mu      sync.Mutex
	jobs    []Job
	started bool
	wg      sync.WaitGroup
}

// NewManager creates a manager whose jobs stop with parent
func NewManager(parent context.Context, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		ctx:     ctx,
		cancel:  cancel,
		observe: func(string, time.Duration, error) {},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a job. Jobs registered after Start are not run.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// Jobs returns the names of registered jobs
func (m *Manager) Jobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.Name())
	}
	return names
}

// Start launches every registered job once; later calls do nothing
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	for _, job := range m.jobs {
		m.wg.Add(1)
		go m.loop(job)
	}
}

// Stop cancels all jobs; use Wait to block until they return
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) loop(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = defaultInterval
	}

	if delay := m.firstDelay(job, interval); delay > 0 {
		logger.InfoCtx(m.ctx, "job %s first run in %s", job.Name(), delay.Round(time.Second))
		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	m.runOnce(job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(job)
		}
	}
}

// firstDelay is zero for plain jobs and the time to the next boundary for aligned ones
func (m *Manager) firstDelay(job Job, interval time.Duration) time.Duration {
	aligned, ok := job.(AlignedJob)
	if !ok || !aligned.AlignToInterval() {
		return 0
	}
	now := m.now()
	return now.Truncate(interval).Add(interval).Sub(now)
}

func (m *Manager) runOnce(job Job) {
	ctx := logger.WithTraceID(m.ctx, job.Name()+"-"+uuid.NewString()[:8])
	start := m.now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()

	took := m.now().Sub(start)
	if err != nil {
		logger.WarnCtx(ctx, "background job %s failed after %s: %v", job.Name(), took, err)
	}
	m.observe(job.Name(), took, err)
}

type funcJob struct {
	name     string
	interval time.Duration
	aligned  bool
	fn       func(ctx context.Context) error
}

// NewFuncJob creates a job running fn every interval
func NewFuncJob(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &funcJob{name: name, interval: interval, fn: fn}
}

// NewAlignedFuncJob creates a job running fn on interval boundaries of the wall clock
func NewAlignedFuncJob(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &funcJob{name: name, interval: interval, aligned: true, fn: fn}
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Interval() time.Duration       { return j.interval }
func (j *funcJob) AlignToInterval() bool         { return j.aligned }
func (j *funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

type lockedJob struct {
	Job
	locker lock.Locker
}

// WithLock runs job only on the replica holding locker. A cycle whose lock
// is held elsewhere is skipped without error.
func WithLock(job Job, locker lock.Locker) Job {
	if locker == nil {
		return job
	}
	return &lockedJob{Job: job, locker: locker}
}

func (j *lockedJob) AlignToInterval() bool {
	aligned, ok := j.Job.(AlignedJob)
	return ok && aligned.AlignToInterval()
}

func (j *lockedJob) Run(ctx context.Context) error {
	acquired, err := j.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "%s is running on another replica, skipping", j.Name())
		return nil
	}
	defer j.locker.Unlock(ctx)
	return j.Job.Run(ctx)
}
