package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gpuindex/pkg/store/mysql/model"

	"gorm.io/gorm"
)

// JobFilter narrows scrape job listings
type JobFilter struct {
	ProviderSlug string
	Status       string
	Limit        int
}

// ScrapeJobRepository handles scrape job records
type ScrapeJobRepository struct {
	ds *Datastore
}

// NewScrapeJobRepository creates a new scrape job repository
func NewScrapeJobRepository(ds *Datastore) *ScrapeJobRepository {
	return &ScrapeJobRepository{ds: ds}
}

// Create inserts a job. A running job that collides with another running job
// of the same provider fails with ErrDuplicateKey.
func (r *ScrapeJobRepository) Create(ctx context.Context, job *model.ScrapeJob) error {
	if err := r.ds.DB(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to create scrape job: %w", err)
	}
	return nil
}

// LastStartedAt returns the start time of the provider's most recent job
func (r *ScrapeJobRepository) LastStartedAt(ctx context.Context, providerID int64) (*time.Time, error) {
	var job model.ScrapeJob
	err := r.ds.DB(ctx).
		Select("started_at").
		Where("provider_id = ?", providerID).
		Order("started_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last job for provider %d: %w", providerID, err)
	}
	return &job.StartedAt, nil
}

// Finalize moves a running job to its terminal state and releases the guard.
// It reports false when the job was not running anymore.
func (r *ScrapeJobRepository) Finalize(ctx context.Context, id int64, outcome model.JobOutcome) (bool, error) {
	updates := map[string]interface{}{
		"status":             outcome.Status,
		"completed_at":       outcome.CompletedAt,
		"duration_ms":        outcome.DurationMs,
		"offers_processed":   outcome.OffersProcessed,
		"offers_skipped":     outcome.OffersSkipped,
		"anomalies_detected": outcome.AnomaliesDetected,
		"running_guard":      nil,
	}
	if outcome.ErrorMessage != "" {
		updates["error_message"] = outcome.ErrorMessage
	}

	result := r.ds.DB(ctx).Model(&model.ScrapeJob{}).
		Where("id = ? AND status = ?", id, model.JobStatusRunning).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to finalize scrape job %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListRunningBefore returns running jobs started before the cutoff
func (r *ScrapeJobRepository) ListRunningBefore(ctx context.Context, cutoff time.Time) ([]*model.ScrapeJob, error) {
	var jobs []*model.ScrapeJob
	err := r.ds.DB(ctx).
		Where("status = ? AND started_at < ?", model.JobStatusRunning, cutoff).
		Order("started_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	return jobs, nil
}

// List returns recent jobs, newest first
func (r *ScrapeJobRepository) List(ctx context.Context, filter JobFilter) ([]*model.ScrapeJobView, error) {
	var jobs []*model.ScrapeJobView

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := r.ds.DB(ctx).Table("scrape_jobs").
		Select("scrape_jobs.*, providers.slug AS provider_slug").
		Joins("JOIN providers ON providers.id = scrape_jobs.provider_id")
	if filter.ProviderSlug != "" {
		query = query.Where("providers.slug = ?", filter.ProviderSlug)
	}
	if filter.Status != "" {
		query = query.Where("scrape_jobs.status = ?", filter.Status)
	}

	if err := query.Order("scrape_jobs.started_at DESC").Limit(limit).Scan(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scrape jobs: %w", err)
	}
	return jobs, nil
}
