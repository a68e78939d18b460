package scrape

import (
	"time"

	"gpuindex/pkg/config"
	"gpuindex/pkg/store/mysql/model"
)

// RefreshPolicy controls how often and how patiently a provider is scraped.
// A failed run is retried by the next scheduled run; there is no backoff.
type RefreshPolicy struct {
	Interval                time.Duration
	Timeout                 time.Duration
	MinSpacing              time.Duration
	InactiveAfterMisses     int
	DeactivateAfterFailures int // <= 0 never deactivates
}

// PolicyResolver derives per-provider policies from configuration
type PolicyResolver struct {
	cfg config.ScrapeConfig
}

// NewPolicyResolver creates a resolver over validated scrape configuration
func NewPolicyResolver(cfg config.ScrapeConfig) *PolicyResolver {
	return &PolicyResolver{cfg: cfg}
}

// Resolve returns the effective policy of a provider: defaults, then the
// per-slug override, then the flaky multiplier when no interval was overridden
func (r *PolicyResolver) Resolve(p *model.Provider) RefreshPolicy {
	d := r.cfg.Default
	policy := RefreshPolicy{
		Interval:                d.Interval,
		Timeout:                 d.Timeout,
		MinSpacing:              d.MinSpacing,
		InactiveAfterMisses:     d.InactiveAfterMisses,
		DeactivateAfterFailures: d.DeactivateAfterFailures,
	}

	override, hasOverride := r.cfg.Providers[p.Slug]
	if hasOverride {
		if override.Interval > 0 {
			policy.Interval = override.Interval
		}
		if override.Timeout > 0 {
			policy.Timeout = override.Timeout
		}
		if override.MinSpacing > 0 {
			policy.MinSpacing = override.MinSpacing
		}
		if override.InactiveAfterMisses > 0 {
			policy.InactiveAfterMisses = override.InactiveAfterMisses
		}
		if override.DeactivateAfterFailures != 0 {
			policy.DeactivateAfterFailures = override.DeactivateAfterFailures
		}
	}

	if p.IsFlaky() && !(hasOverride && override.Interval > 0) && r.cfg.FlakyIntervalMultiplier > 1 {
		policy.Interval = time.Duration(float64(policy.Interval) * r.cfg.FlakyIntervalMultiplier).Round(time.Second)
	}

	if policy.MinSpacing > policy.Interval/2 {
		policy.MinSpacing = policy.Interval / 2
	}
	if policy.Timeout > policy.Interval {
		policy.Timeout = policy.Interval
	}
	return policy
}

// MaxTimeout returns the largest fetch timeout any provider can have
func (r *PolicyResolver) MaxTimeout() time.Duration {
	longest := r.cfg.Default.Timeout
	for _, o := range r.cfg.Providers {
		if o.Timeout > longest {
			longest = o.Timeout
		}
	}
	return longest
}
