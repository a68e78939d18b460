package model

import "time"

// AllProvidersScope is the provider_id used for rollups across every provider
const AllProvidersScope int64 = 0

// PriceObservation is one point of the per-instance price time series,
// appended on every successful upsert
type PriceObservation struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	InstanceID       int64     `gorm:"column:instance_id;not null;index" json:"instance_id"`
	ProviderID       int64     `gorm:"column:provider_id;not null" json:"provider_id"`
	GpuModelID       int64     `gorm:"column:gpu_model_id;not null;index:idx_gpu_observed" json:"gpu_model_id"`
	PricePerGPUHour  float64   `gorm:"column:price_per_gpu_hour;type:decimal(12,4);not null" json:"price_per_gpu_hour"`
	PricePerHourSpot *float64  `gorm:"column:price_per_hour_spot;type:decimal(12,4)" json:"price_per_hour_spot,omitempty"`
	ObservedAt       time.Time `gorm:"column:observed_at;not null;index:idx_gpu_observed" json:"observed_at"`
}

// TableName returns the table name for PriceObservation
func (PriceObservation) TableName() string {
	return "price_observations"
}

// PriceHistoryDaily is the day-bucketed rollup of observations.
// ProviderID 0 holds the all-provider scope.
type PriceHistoryDaily struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GpuModelID int64     `gorm:"column:gpu_model_id;not null;uniqueIndex:uk_gpu_provider_day" json:"gpu_model_id"`
	ProviderID int64     `gorm:"column:provider_id;not null;default:0;uniqueIndex:uk_gpu_provider_day" json:"provider_id"`
	Day        time.Time `gorm:"column:day;type:date;not null;uniqueIndex:uk_gpu_provider_day" json:"day"`
	MinPrice   float64   `gorm:"column:min_price;type:decimal(12,4);not null" json:"min_price"`
	AvgPrice   float64   `gorm:"column:avg_price;type:decimal(12,4);not null" json:"avg_price"`
	MaxPrice   float64   `gorm:"column:max_price;type:decimal(12,4);not null" json:"max_price"`
	Samples    int       `gorm:"column:samples;not null;default:0" json:"samples"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName returns the table name for PriceHistoryDaily
func (PriceHistoryDaily) TableName() string {
	return "price_history_daily"
}
