package model

// GpuModel is reference data describing a GPU SKU
type GpuModel struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Slug         string `gorm:"column:slug;type:varchar(64);not null;uniqueIndex:uk_slug" json:"slug"`
	DisplayName  string `gorm:"column:display_name;type:varchar(128);not null" json:"display_name"`
	VRAMGB       int    `gorm:"column:vram_gb;not null;default:0" json:"vram_gb"`
	Architecture string `gorm:"column:architecture;type:varchar(32)" json:"architecture"`
}

// TableName returns the table name for GpuModel
func (GpuModel) TableName() string {
	return "gpu_models"
}
