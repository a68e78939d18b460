// Package source defines the contract between the scrape executor and the
// per-provider offer adapters, plus the generic adapters shipped with the
// service.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrRateLimited is returned (possibly wrapped) when the provider throttled us
	ErrRateLimited = errors.New("source rate limited")
	// ErrTimeout is returned when the provider did not answer in time
	ErrTimeout = errors.New("source timed out")
	// ErrUnknownSource is returned by the registry for unregistered slugs
	ErrUnknownSource = errors.New("no source registered for provider")
	// ErrInvalidOffer is returned by Validate for offers that break the ingestion rules
	ErrInvalidOffer = errors.New("invalid offer")
)

// RateLimitError carries the provider's retry hint. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
	Status     int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d), retry after %s", e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.Status)
}

// Is makes errors.Is(err, ErrRateLimited) true for *RateLimitError
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RawOffer is one offer as reported by a provider, before normalization.
// Prices are per instance, per hour, in USD.
type RawOffer struct {
	Provider     string `json:"provider" validate:"required"`
	GPU          string `json:"gpu" validate:"required"`
	InstanceType string `json:"instance_type" validate:"required,max=128"`
	GPUCount     int    `json:"gpu_count" validate:"gte=0"`

	Price     float64  `json:"price" validate:"price"`
	SpotPrice *float64 `json:"spot_price,omitempty" validate:"omitempty,price"`

	NVLink                  bool `json:"nvlink,omitempty"`
	NVLinkBandwidthGbps     *int `json:"nvlink_bandwidth_gbps,omitempty" validate:"omitempty,gte=0"`
	InfiniBand              bool `json:"infiniband,omitempty"`
	InfiniBandBandwidthGbps *int `json:"infiniband_bandwidth_gbps,omitempty" validate:"omitempty,gte=0"`

	BillingIncrementSeconds int      `json:"billing_increment_seconds,omitempty" validate:"gte=0"`
	MinRentalHours          *float64 `json:"min_rental_hours,omitempty" validate:"omitempty,price,lte=999999.99"`

	Regions      []string `json:"regions,omitempty"`
	Availability string   `json:"availability,omitempty" validate:"omitempty,oneof=available limited sold_out unknown"`
}

// InvalidOffer describes an item dropped while decoding a payload
type InvalidOffer struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Batch is the result of one successful fetch
type Batch struct {
	Offers    []RawOffer
	Withdrawn []string       // instance types the provider reports as discontinued
	Invalid   []InvalidOffer // items that could not be decoded
}

// Source fetches the current offers of one provider
type Source interface {
	Slug() string
	Fetch(ctx context.Context) (*Batch, error)
}

// Registry maps provider slugs to sources
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// Register adds a source; a slug may only be registered once
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[s.Slug()]; exists {
		return fmt.Errorf("source for provider %s already registered", s.Slug())
	}
	r.sources[s.Slug()] = s
	return nil
}

// Get returns the source of a provider
func (r *Registry) Get(slug string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, slug)
	}
	return s, nil
}

// Slugs returns registered provider slugs in sorted order
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slugs := make([]string, 0, len(r.sources))
	for slug := range r.sources {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
