package mysql

import (
	"context"
	"fmt"
	"time"

	"gpuindex/pkg/store/mysql/model"
)

// PriceHistoryRepository handles the observation log and its daily rollup
type PriceHistoryRepository struct {
	ds *Datastore
}

// NewPriceHistoryRepository creates a new price history repository
func NewPriceHistoryRepository(ds *Datastore) *PriceHistoryRepository {
	return &PriceHistoryRepository{ds: ds}
}

// RecordObservation appends one price point
func (r *PriceHistoryRepository) RecordObservation(ctx context.Context, o *model.PriceObservation) error {
	if err := r.ds.DB(ctx).Create(o).Error; err != nil {
		return fmt.Errorf("failed to record price observation: %w", err)
	}
	return nil
}

// RollupDay recomputes price_history_daily for one UTC day, per provider and
// across all providers. Re-running it for the same day replaces the rows.
func (r *PriceHistoryRepository) RollupDay(ctx context.Context, day time.Time) error {
	dayStart := truncateDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)
	dayStr := dayStart.Format("2006-01-02")
	now := time.Now().UTC()

	return r.ds.ExecTx(ctx, func(ctx context.Context) error {
		db := r.ds.DB(ctx)

		// Per-provider scope
		if err := db.Exec(`
			INSERT INTO price_history_daily
			    (gpu_model_id, provider_id, day, min_price, avg_price, max_price, samples, updated_at)
			SELECT
			    gpu_model_id,
			    provider_id,
			    ? as day,
			    MIN(price_per_gpu_hour),
			    AVG(price_per_gpu_hour),
			    MAX(price_per_gpu_hour),
			    COUNT(*),
			    ?
			FROM price_observations
			WHERE observed_at >= ? AND observed_at < ?
			GROUP BY gpu_model_id, provider_id
			ON DUPLICATE KEY UPDATE
			    min_price = VALUES(min_price),
			    avg_price = VALUES(avg_price),
			    max_price = VALUES(max_price),
			    samples = VALUES(samples),
			    updated_at = VALUES(updated_at)
		`, dayStr, now, dayStart, dayEnd).Error; err != nil {
			return fmt.Errorf("failed to roll up provider scope for %s: %w", dayStr, err)
		}

		// All-provider scope
		if err := db.Exec(`
			INSERT INTO price_history_daily
			    (gpu_model_id, provider_id, day, min_price, avg_price, max_price, samples, updated_at)
			SELECT
			    gpu_model_id,
			    0 as provider_id,
			    ? as day,
			    MIN(price_per_gpu_hour),
			    AVG(price_per_gpu_hour),
			    MAX(price_per_gpu_hour),
			    COUNT(*),
			    ?
			FROM price_observations
			WHERE observed_at >= ? AND observed_at < ?
			GROUP BY gpu_model_id
			ON DUPLICATE KEY UPDATE
			    min_price = VALUES(min_price),
			    avg_price = VALUES(avg_price),
			    max_price = VALUES(max_price),
			    samples = VALUES(samples),
			    updated_at = VALUES(updated_at)
		`, dayStr, now, dayStart, dayEnd).Error; err != nil {
			return fmt.Errorf("failed to roll up global scope for %s: %w", dayStr, err)
		}

		return nil
	})
}

// DailyRange returns rollup rows in [from, to) for a GPU and provider scope,
// oldest first. providerID 0 selects the all-provider scope.
func (r *PriceHistoryRepository) DailyRange(ctx context.Context, gpuModelID, providerID int64, from, to time.Time) ([]*model.PriceHistoryDaily, error) {
	var rows []*model.PriceHistoryDaily
	err := r.ds.DB(ctx).
		Where("gpu_model_id = ? AND provider_id = ?", gpuModelID, providerID).
		Where("day >= ? AND day < ?", truncateDay(from).Format("2006-01-02"), truncateDay(to).Format("2006-01-02")).
		Order("day ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get daily price history: %w", err)
	}
	return rows, nil
}

// LiveDay aggregates observations of one day directly, for the day that has
// not been rolled up yet. Returns nil when there are no samples.
func (r *PriceHistoryRepository) LiveDay(ctx context.Context, gpuModelID, providerID int64, day time.Time) (*model.PriceHistoryDaily, error) {
	dayStart := truncateDay(day)

	var row struct {
		MinPrice *float64
		AvgPrice *float64
		MaxPrice *float64
		Samples  int
	}

	query := r.ds.DB(ctx).Table("price_observations").
		Select("MIN(price_per_gpu_hour) AS min_price, AVG(price_per_gpu_hour) AS avg_price, MAX(price_per_gpu_hour) AS max_price, COUNT(*) AS samples").
		Where("gpu_model_id = ?", gpuModelID).
		Where("observed_at >= ? AND observed_at < ?", dayStart, dayStart.AddDate(0, 0, 1))
	if providerID != model.AllProvidersScope {
		query = query.Where("provider_id = ?", providerID)
	}

	if err := query.Scan(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate live day: %w", err)
	}
	if row.Samples == 0 || row.MinPrice == nil {
		return nil, nil
	}

	return &model.PriceHistoryDaily{
		GpuModelID: gpuModelID,
		ProviderID: providerID,
		Day:        dayStart,
		MinPrice:   *row.MinPrice,
		AvgPrice:   *row.AvgPrice,
		MaxPrice:   *row.MaxPrice,
		Samples:    row.Samples,
	}, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
