// Package catalog manages provider and GPU reference data.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/store/mysql"
	"gpuindex/pkg/store/mysql/model"
)

// ProviderStore persists providers
type ProviderStore interface {
	List(ctx context.Context) ([]*model.Provider, error)
	Upsert(ctx context.Context, p *model.Provider) error
}

// GpuModelStore persists GPU models
type GpuModelStore interface {
	List(ctx context.Context) ([]*model.GpuModel, error)
	Upsert(ctx context.Context, g *model.GpuModel) error
}

var (
	_ ProviderStore = (*mysql.ProviderRepository)(nil)
	_ GpuModelStore = (*mysql.GpuModelRepository)(nil)
)

// Service handles catalog reads and boot-time seeding
type Service struct {
	providers ProviderStore
	gpus      GpuModelStore
}

// NewService creates a new catalog service
func NewService(providers ProviderStore, gpus GpuModelStore) *Service {
	return &Service{
		providers: providers,
		gpus:      gpus,
	}
}

// Seed upserts the configured reference rows. Runtime provider state
// (failure streak, last update) is left untouched.
func (s *Service) Seed(ctx context.Context, cfg config.CatalogConfig) error {
	for _, g := range cfg.GPUs {
		if err := validateSlug(g.Slug); err != nil {
			return fmt.Errorf("gpu seed: %w", err)
		}
		row := &model.GpuModel{
			Slug:         g.Slug,
			DisplayName:  orDefault(g.DisplayName, g.Slug),
			VRAMGB:       g.VRAMGB,
			Architecture: g.Architecture,
		}
		if err := s.gpus.Upsert(ctx, row); err != nil {
			return fmt.Errorf("failed to seed gpu %s: %w", g.Slug, err)
		}
	}

	for _, p := range cfg.Providers {
		if err := validateSlug(p.Slug); err != nil {
			return fmt.Errorf("provider seed: %w", err)
		}
		reliability := orDefault(p.Reliability, model.ReliabilityStable)
		if reliability != model.ReliabilityStable && reliability != model.ReliabilityFlaky {
			return fmt.Errorf("provider seed %s: unknown reliability %q", p.Slug, p.Reliability)
		}
		row := &model.Provider{
			Slug:             p.Slug,
			DisplayName:      orDefault(p.DisplayName, p.Slug),
			Tier:             orDefault(p.Tier, model.TierSpecialist),
			SupportsSpot:     p.SupportsSpot,
			SupportsReserved: p.SupportsReserved,
			HasPublicAPI:     p.HasPublicAPI,
			IsActive:         p.IsActive(),
			Reliability:      reliability,
		}
		if err := s.providers.Upsert(ctx, row); err != nil {
			return fmt.Errorf("failed to seed provider %s: %w", p.Slug, err)
		}
	}

	logger.InfoCtx(ctx, "catalog seeded: %d gpu models, %d providers", len(cfg.GPUs), len(cfg.Providers))
	return nil
}

// ListProviders lists every provider, active or not
func (s *Service) ListProviders(ctx context.Context) ([]*model.Provider, error) {
	return s.providers.List(ctx)
}

// ListGPUs lists every GPU model
func (s *Service) ListGPUs(ctx context.Context) ([]*model.GpuModel, error) {
	return s.gpus.List(ctx)
}

func validateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug is required")
	}
	if strings.ToLower(slug) != slug || strings.ContainsAny(slug, " /:") {
		return fmt.Errorf("invalid slug %q", slug)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
