package mysql

import (
	"context"
	"errors"
	"fmt"

	"gpuindex/pkg/store/mysql/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GpuModelRepository handles GPU reference data
type GpuModelRepository struct {
	ds *Datastore
}

// NewGpuModelRepository creates a new GPU model repository
func NewGpuModelRepository(ds *Datastore) *GpuModelRepository {
	return &GpuModelRepository{ds: ds}
}

// Get returns the GPU model with the given slug, or nil if unknown
func (r *GpuModelRepository) Get(ctx context.Context, slug string) (*model.GpuModel, error) {
	var g model.GpuModel
	err := r.ds.DB(ctx).Where("slug = ?", slug).First(&g).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get gpu model %s: %w", slug, err)
	}
	return &g, nil
}

// List returns all GPU models
func (r *GpuModelRepository) List(ctx context.Context) ([]*model.GpuModel, error) {
	var models []*model.GpuModel
	if err := r.ds.DB(ctx).Order("slug ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list gpu models: %w", err)
	}
	return models, nil
}

// Upsert creates or updates a GPU model keyed by slug
func (r *GpuModelRepository) Upsert(ctx context.Context, g *model.GpuModel) error {
	return r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "vram_gb", "architecture"}),
	}).Create(g).Error
}
