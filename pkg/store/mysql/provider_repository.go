package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpuindex/pkg/store/mysql/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderRepository handles provider persistence
type ProviderRepository struct {
	ds *Datastore
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(ds *Datastore) *ProviderRepository {
	return &ProviderRepository{ds: ds}
}

// Get returns the provider with the given slug, or nil if it does not exist
func (r *ProviderRepository) Get(ctx context.Context, slug string) (*model.Provider, error) {
	var p model.Provider
	err := r.ds.DB(ctx).Where("slug = ?", slug).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider %s: %w", slug, err)
	}
	return &p, nil
}

// List returns every provider ordered by slug
func (r *ProviderRepository) List(ctx context.Context) ([]*model.Provider, error) {
	var providers []*model.Provider
	if err := r.ds.DB(ctx).Order("slug ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// ListActive returns providers eligible for scheduling
func (r *ProviderRepository) ListActive(ctx context.Context) ([]*model.Provider, error) {
	var providers []*model.Provider
	if err := r.ds.DB(ctx).Where("is_active = ?", true).Order("slug ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list active providers: %w", err)
	}
	return providers, nil
}

// Upsert creates the provider or refreshes its descriptive columns.
// Runtime state (failures, last update) is never overwritten here.
func (r *ProviderRepository) Upsert(ctx context.Context, p *model.Provider) error {
	return r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "tier", "supports_spot", "supports_reserved",
			"has_public_api", "is_active", "reliability", "updated_at",
		}),
	}).Create(p).Error
}

// RecordSuccess stamps the last price update and clears the failure streak
func (r *ProviderRepository) RecordSuccess(ctx context.Context, id int64, at time.Time) error {
	err := r.ds.DB(ctx).Model(&model.Provider{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_price_update":    at,
			"consecutive_failures": 0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record success for provider %d: %w", id, err)
	}
	return nil
}

// RecordFailure increments the failure streak and returns its new length
func (r *ProviderRepository) RecordFailure(ctx context.Context, id int64) (int, error) {
	var failures int
	err := r.ds.ExecTx(ctx, func(ctx context.Context) error {
		db := r.ds.DB(ctx)
		if err := db.Model(&model.Provider{}).
			Where("id = ?", id).
			UpdateColumn("consecutive_failures", gorm.Expr("consecutive_failures + 1")).Error; err != nil {
			return err
		}
		return db.Model(&model.Provider{}).
			Where("id = ?", id).
			Pluck("consecutive_failures", &failures).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record failure for provider %d: %w", id, err)
	}
	return failures, nil
}
