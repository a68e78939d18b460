package model

import "time"

// Provider tiers
const (
	TierHyperscaler = "hyperscaler"
	TierSpecialist  = "specialist"
	TierMarketplace = "marketplace"
	TierCommunity   = "community"
)

// Reliability classes, flaky providers are scraped less often
const (
	ReliabilityStable = "stable"
	ReliabilityFlaky  = "flaky"
)

// Provider represents a GPU cloud provider whose offers are scraped
type Provider struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Slug                string     `gorm:"column:slug;type:varchar(64);not null;uniqueIndex:uk_slug" json:"slug"`
	DisplayName         string     `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	Tier                string     `gorm:"column:tier;type:varchar(32);not null;default:specialist" json:"tier"`
	SupportsSpot        bool       `gorm:"column:supports_spot;not null;default:false" json:"supports_spot"`
	SupportsReserved    bool       `gorm:"column:supports_reserved;not null;default:false" json:"supports_reserved"`
	HasPublicAPI        bool       `gorm:"column:has_public_api;not null;default:false" json:"has_public_api"`
	IsActive            bool       `gorm:"column:is_active;not null;default:true;index:idx_active" json:"is_active"`
	Reliability         string     `gorm:"column:reliability;type:varchar(16);not null;default:stable" json:"reliability"`
	LastPriceUpdate     *time.Time `gorm:"column:last_price_update" json:"last_price_update,omitempty"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;not null;default:0" json:"consecutive_failures"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Provider
func (Provider) TableName() string {
	return "providers"
}

// IsFlaky reports whether the provider is marked as unreliable
func (p *Provider) IsFlaky() bool {
	return p.Reliability == ReliabilityFlaky
}
