package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price channels checked for anomalies
const (
	ChannelOnDemand = "on_demand"
	ChannelSpot     = "spot"
)

// PriceAnomaly is an append-only record of a suspicious per-GPU price swing
type PriceAnomaly struct {
	ID                 int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProviderID         int64           `gorm:"column:provider_id;not null;index:idx_provider_detected" json:"provider_id"`
	GpuModelID         int64           `gorm:"column:gpu_model_id;not null" json:"gpu_model_id"`
	ScrapeJobID        *int64          `gorm:"column:scrape_job_id;index" json:"scrape_job_id,omitempty"`
	InstanceType       string          `gorm:"column:instance_type;type:varchar(128);not null" json:"instance_type"`
	Channel            string          `gorm:"column:channel;type:varchar(16);not null;default:on_demand" json:"channel"`
	OldPricePerGPUHour float64         `gorm:"column:old_price_per_gpu_hour;type:decimal(12,4);not null" json:"old_price_per_gpu_hour"`
	NewPricePerGPUHour float64         `gorm:"column:new_price_per_gpu_hour;type:decimal(12,4);not null" json:"new_price_per_gpu_hour"`
	ChangePercent      decimal.Decimal `gorm:"column:change_percent;type:decimal(10,2);not null" json:"change_percent"`
	DetectedAt         time.Time       `gorm:"column:detected_at;not null;index:idx_provider_detected;index:idx_detected" json:"detected_at"`
}

// TableName returns the table name for PriceAnomaly
func (PriceAnomaly) TableName() string {
	return "price_anomalies"
}

// PriceAnomalyView joins an anomaly with provider and GPU slugs for listings
type PriceAnomalyView struct {
	PriceAnomaly
	ProviderSlug string `gorm:"column:provider_slug" json:"provider"`
	GpuSlug      string `gorm:"column:gpu_slug" json:"gpu"`
}
