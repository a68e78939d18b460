package mysql

import (
	"context"
	"errors"
	"fmt"

	"gpuindex/pkg/store/mysql/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InstanceFilter narrows instance listings
type InstanceFilter struct {
	GpuSlug      string
	ProviderSlug string
	ActiveOnly   bool
}

// InstanceRepository handles instance offers
type InstanceRepository struct {
	ds *Datastore
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(ds *Datastore) *InstanceRepository {
	return &InstanceRepository{ds: ds}
}

// upsertColumns are overwritten when (provider_id, instance_type) already exists
var upsertColumns = []string{
	"gpu_model_id", "gpu_count",
	"price_per_hour", "price_per_gpu_hour", "price_per_hour_spot",
	"nvlink", "nvlink_bandwidth_gbps", "infiniband", "infiniband_bandwidth_gbps",
	"billing_increment_seconds", "min_rental_hours",
	"regions", "availability_status", "is_active", "missed_scrapes",
	"last_scraped_at", "updated_at",
}

// GetByKey returns the instance for (providerID, instanceType), or nil if absent
func (r *InstanceRepository) GetByKey(ctx context.Context, providerID int64, instanceType string) (*model.Instance, error) {
	var inst model.Instance
	err := r.ds.DB(ctx).
		Where("provider_id = ? AND instance_type = ?", providerID, instanceType).
		First(&inst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get instance %d/%s: %w", providerID, instanceType, err)
	}
	return &inst, nil
}

// Upsert inserts the instance or replaces the existing row with the same key.
// The row is reactivated and its miss counter reset. inst.ID is set on return.
func (r *InstanceRepository) Upsert(ctx context.Context, inst *model.Instance) error {
	inst.IsActive = true
	inst.MissedScrapes = 0

	db := r.ds.DB(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}, {Name: "instance_type"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(inst).Error
	if err != nil {
		return fmt.Errorf("failed to upsert instance %d/%s: %w", inst.ProviderID, inst.InstanceType, err)
	}

	// LAST_INSERT_ID is not reliable for the update branch
	var id int64
	err = db.Model(&model.Instance{}).
		Where("provider_id = ? AND instance_type = ?", inst.ProviderID, inst.InstanceType).
		Pluck("id", &id).Error
	if err != nil {
		return fmt.Errorf("failed to resolve instance id: %w", err)
	}
	inst.ID = id
	return nil
}

// DeactivateTypes marks the given instance types of a provider inactive
func (r *InstanceRepository) DeactivateTypes(ctx context.Context, providerID int64, instanceTypes []string) (int64, error) {
	if len(instanceTypes) == 0 {
		return 0, nil
	}
	result := r.ds.DB(ctx).Model(&model.Instance{}).
		Where("provider_id = ? AND instance_type IN ? AND is_active = ?", providerID, instanceTypes, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate instances: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeactivateProvider marks every instance of a provider inactive
func (r *InstanceRepository) DeactivateProvider(ctx context.Context, providerID int64) (int64, error) {
	result := r.ds.DB(ctx).Model(&model.Instance{}).
		Where("provider_id = ? AND is_active = ?", providerID, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to deactivate provider %d instances: %w", providerID, result.Error)
	}
	return result.RowsAffected, nil
}

// MarkMissed bumps missed_scrapes on active rows of a provider that were not in
// the seen set, deactivating rows that reach inactiveAfter misses. Returns the
// number of rows deactivated.
func (r *InstanceRepository) MarkMissed(ctx context.Context, providerID int64, seen []string, inactiveAfter int) (int64, error) {
	var deactivated int64
	err := r.ds.ExecTx(ctx, func(ctx context.Context) error {
		scope := func() *gorm.DB {
			q := r.ds.DB(ctx).Model(&model.Instance{}).
				Where("provider_id = ? AND is_active = ?", providerID, true)
			if len(seen) > 0 {
				q = q.Where("instance_type NOT IN ?", seen)
			}
			return q
		}

		if err := scope().UpdateColumn("missed_scrapes", gorm.Expr("missed_scrapes + 1")).Error; err != nil {
			return err
		}

		if inactiveAfter <= 0 {
			return nil
		}
		result := scope().Where("missed_scrapes >= ?", inactiveAfter).UpdateColumn("is_active", false)
		if result.Error != nil {
			return result.Error
		}
		deactivated = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark missed instances for provider %d: %w", providerID, err)
	}
	return deactivated, nil
}

// List returns instances joined with provider and GPU slugs
func (r *InstanceRepository) List(ctx context.Context, filter InstanceFilter) ([]*model.InstanceListing, error) {
	var rows []*model.InstanceListing

	query := r.ds.DB(ctx).Table("instances").
		Select("instances.*, providers.slug AS provider_slug, providers.display_name AS provider_name, gpu_models.slug AS gpu_slug").
		Joins("JOIN providers ON providers.id = instances.provider_id").
		Joins("JOIN gpu_models ON gpu_models.id = instances.gpu_model_id")

	if filter.GpuSlug != "" {
		query = query.Where("gpu_models.slug = ?", filter.GpuSlug)
	}
	if filter.ProviderSlug != "" {
		query = query.Where("providers.slug = ?", filter.ProviderSlug)
	}
	if filter.ActiveOnly {
		query = query.Where("instances.is_active = ?", true)
	}

	if err := query.Order("instances.price_per_gpu_hour ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	return rows, nil
}
