package mysql

import (
	"context"
	"fmt"
	"time"

	"gpuindex/pkg/store/mysql/model"
)

// AnomalyFilter narrows anomaly listings
type AnomalyFilter struct {
	ProviderSlug string
	Since        time.Time
	Limit        int
}

// AnomalyRepository stores price anomalies. Rows are never updated.
type AnomalyRepository struct {
	ds *Datastore
}

// NewAnomalyRepository creates a new anomaly repository
func NewAnomalyRepository(ds *Datastore) *AnomalyRepository {
	return &AnomalyRepository{ds: ds}
}

// Create appends an anomaly record
func (r *AnomalyRepository) Create(ctx context.Context, a *model.PriceAnomaly) error {
	if err := r.ds.DB(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to record price anomaly: %w", err)
	}
	return nil
}

// List returns recent anomalies, newest first
func (r *AnomalyRepository) List(ctx context.Context, filter AnomalyFilter) ([]*model.PriceAnomalyView, error) {
	var rows []*model.PriceAnomalyView

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := r.ds.DB(ctx).Table("price_anomalies").
		Select("price_anomalies.*, providers.slug AS provider_slug, gpu_models.slug AS gpu_slug").
		Joins("JOIN providers ON providers.id = price_anomalies.provider_id").
		Joins("JOIN gpu_models ON gpu_models.id = price_anomalies.gpu_model_id")
	if filter.ProviderSlug != "" {
		query = query.Where("providers.slug = ?", filter.ProviderSlug)
	}
	if !filter.Since.IsZero() {
		query = query.Where("price_anomalies.detected_at >= ?", filter.Since)
	}

	if err := query.Order("price_anomalies.detected_at DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list price anomalies: %w", err)
	}
	return rows, nil
}
