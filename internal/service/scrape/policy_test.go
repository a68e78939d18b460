package scrape

import (
	"testing"
	"time"

	"gpuindex/pkg/config"
	"gpuindex/pkg/store/mysql/model"

	"github.com/stretchr/testify/assert"
)

func TestPolicyResolver_Resolve(t *testing.T) {
	cfg := config.ScrapeConfig{
		Default: config.PolicyConfig{
			Interval:                time.Hour,
			Timeout:                 2 * time.Minute,
			MinSpacing:              10 * time.Minute,
			InactiveAfterMisses:     3,
			DeactivateAfterFailures: 48,
		},
		FlakyIntervalMultiplier: 2,
		Providers: map[string]config.PolicyConfig{
			"aws":   {Interval: 6 * time.Hour, Timeout: 5 * time.Minute},
			"flaky": {Timeout: time.Minute, DeactivateAfterFailures: -1},
			"tight": {Interval: 10 * time.Minute, MinSpacing: 9 * time.Minute, Timeout: 20 * time.Minute},
		},
	}
	r := NewPolicyResolver(cfg)

	tests := []struct {
		name     string
		provider *model.Provider
		want     RefreshPolicy
	}{
		{
			name:     "defaults",
			provider: &model.Provider{Slug: "lambda"},
			want:     RefreshPolicy{time.Hour, 2 * time.Minute, 10 * time.Minute, 3, 48},
		},
		{
			name:     "override interval and timeout",
			provider: &model.Provider{Slug: "aws"},
			want:     RefreshPolicy{6 * time.Hour, 5 * time.Minute, 10 * time.Minute, 3, 48},
		},
		{
			name:     "flaky multiplier",
			provider: &model.Provider{Slug: "vast", Reliability: model.ReliabilityFlaky},
			want:     RefreshPolicy{2 * time.Hour, 2 * time.Minute, 10 * time.Minute, 3, 48},
		},
		{
			name:     "flaky with partial override keeps multiplier",
			provider: &model.Provider{Slug: "flaky", Reliability: model.ReliabilityFlaky},
			want:     RefreshPolicy{2 * time.Hour, time.Minute, 10 * time.Minute, 3, -1},
		},
		{
			name:     "interval override wins over flaky",
			provider: &model.Provider{Slug: "aws", Reliability: model.ReliabilityFlaky},
			want:     RefreshPolicy{6 * time.Hour, 5 * time.Minute, 10 * time.Minute, 3, 48},
		},
		{
			name:     "clamped to interval",
			provider: &model.Provider{Slug: "tight"},
			want:     RefreshPolicy{10 * time.Minute, 10 * time.Minute, 5 * time.Minute, 3, 48},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.provider))
		})
	}

	assert.Equal(t, 20*time.Minute, r.MaxTimeout())
}

func TestJobStatus_CanTransition(t *testing.T) {
	terminal := []JobStatus{StatusCompleted, StatusFailed, StatusTimeout, StatusRateLimited}

	for _, s := range terminal {
		assert.True(t, StatusRunning.CanTransition(s), "running -> %s", s)
		assert.True(t, s.IsTerminal())
		for _, next := range append(terminal, StatusRunning) {
			assert.False(t, s.CanTransition(next), "%s -> %s", s, next)
		}
	}
	assert.False(t, StatusRunning.CanTransition(StatusRunning))
	assert.False(t, StatusRunning.IsTerminal())
}
