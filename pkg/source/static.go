package source

import (
	"context"

	"gpuindex/pkg/config"
)

// StaticSource serves a fixed set of offers from configuration
type StaticSource struct {
	provider string
	offers   []RawOffer
}

// NewStaticSource creates a source returning the configured offers
func NewStaticSource(provider string, offers []config.StaticOffer) *StaticSource {
	raw := make([]RawOffer, 0, len(offers))
	for _, o := range offers {
		raw = append(raw, RawOffer{
			Provider:     provider,
			GPU:          o.GPU,
			InstanceType: o.InstanceType,
			GPUCount:     o.GPUCount,
			Price:        o.Price,
			SpotPrice:    o.SpotPrice,
			Regions:      o.Regions,
			Availability: "available",
		})
	}
	return &StaticSource{provider: provider, offers: raw}
}

// Slug returns the provider slug
func (s *StaticSource) Slug() string {
	return s.provider
}

// Fetch returns a copy of the configured offers
func (s *StaticSource) Fetch(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offers := make([]RawOffer, len(s.offers))
	copy(offers, s.offers)
	return &Batch{Offers: offers}, nil
}
