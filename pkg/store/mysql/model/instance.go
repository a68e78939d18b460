package model

import (
	"time"

	"gorm.io/datatypes"
)

// Availability values reported by sources
const (
	AvailabilityAvailable = "available"
	AvailabilityLimited   = "limited"
	AvailabilitySoldOut   = "sold_out"
	AvailabilityUnknown   = "unknown"
)

// Instance is one provider offer, identified by (provider_id, instance_type).
// Rows are never hard-deleted; absence from scrapes flips IsActive.
type Instance struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProviderID   int64  `gorm:"column:provider_id;not null;uniqueIndex:uk_provider_instance" json:"provider_id"`
	InstanceType string `gorm:"column:instance_type;type:varchar(128);not null;uniqueIndex:uk_provider_instance" json:"instance_type"`
	GpuModelID   int64  `gorm:"column:gpu_model_id;not null;index:idx_gpu_active" json:"gpu_model_id"`
	GPUCount     int    `gorm:"column:gpu_count;not null;default:1" json:"gpu_count"`

	// Pricing, USD
	PricePerHour     float64  `gorm:"column:price_per_hour;type:decimal(12,4);not null" json:"price_per_hour"`
	PricePerGPUHour  float64  `gorm:"column:price_per_gpu_hour;type:decimal(12,4);not null" json:"price_per_gpu_hour"`
	PricePerHourSpot *float64 `gorm:"column:price_per_hour_spot;type:decimal(12,4)" json:"price_per_hour_spot,omitempty"` // per GPU

	// Interconnect
	NVLink                  bool `gorm:"column:nvlink;not null;default:false" json:"nvlink"`
	NVLinkBandwidthGbps     *int `gorm:"column:nvlink_bandwidth_gbps" json:"nvlink_bandwidth_gbps,omitempty"`
	InfiniBand              bool `gorm:"column:infiniband;not null;default:false" json:"infiniband"`
	InfiniBandBandwidthGbps *int `gorm:"column:infiniband_bandwidth_gbps" json:"infiniband_bandwidth_gbps,omitempty"`

	// Billing
	BillingIncrementSeconds int      `gorm:"column:billing_increment_seconds;not null;default:3600" json:"billing_increment_seconds"`
	MinRentalHours          *float64 `gorm:"column:min_rental_hours;type:decimal(8,2)" json:"min_rental_hours,omitempty"`

	Regions            datatypes.JSONSlice[string] `gorm:"column:regions" json:"regions"`
	AvailabilityStatus string                      `gorm:"column:availability_status;type:varchar(32);not null;default:unknown" json:"availability_status"`
	IsActive           bool                        `gorm:"column:is_active;not null;default:true;index:idx_gpu_active" json:"is_active"`
	MissedScrapes      int                         `gorm:"column:missed_scrapes;not null;default:0" json:"missed_scrapes"`
	LastScrapedAt      time.Time                   `gorm:"column:last_scraped_at;not null;index" json:"last_scraped_at"`
	CreatedAt          time.Time                   `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Instance
func (Instance) TableName() string {
	return "instances"
}

// BestPrice returns the spot price when offered, otherwise the on-demand price
func (i *Instance) BestPrice() float64 {
	if i.PricePerHourSpot != nil {
		return *i.PricePerHourSpot
	}
	return i.PricePerGPUHour
}

// InstanceListing joins an instance with its provider and GPU slugs for read paths
type InstanceListing struct {
	Instance
	ProviderSlug string `gorm:"column:provider_slug" json:"provider"`
	ProviderName string `gorm:"column:provider_name" json:"provider_name"`
	GpuSlug      string `gorm:"column:gpu_slug" json:"gpu"`
}
