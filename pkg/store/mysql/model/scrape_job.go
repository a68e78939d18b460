package model

import "time"

// Scrape job statuses
const (
	JobStatusRunning     = "running"
	JobStatusCompleted   = "completed"
	JobStatusFailed      = "failed"
	JobStatusTimeout     = "timeout"
	JobStatusRateLimited = "rate_limited"
)

// Scrape job triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ScrapeJob records one refresh attempt against a provider.
// RunningGuard equals ProviderID while the job runs and is cleared on
// finalization, so the unique index admits one running job per provider.
type ScrapeJob struct {
	ID                int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	JobUID            string     `gorm:"column:job_uid;type:varchar(36);not null;uniqueIndex:uk_job_uid" json:"job_uid"`
	ProviderID        int64      `gorm:"column:provider_id;not null;index:idx_provider_started" json:"provider_id"`
	Trigger           string     `gorm:"column:trigger;type:varchar(16);not null;default:schedule" json:"trigger"`
	TaskID            string     `gorm:"column:task_id;type:varchar(128)" json:"task_id,omitempty"`
	Status            string     `gorm:"column:status;type:varchar(16);not null;index:idx_status" json:"status"`
	StartedAt         time.Time  `gorm:"column:started_at;not null;index:idx_provider_started" json:"started_at"`
	CompletedAt       *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMs        *int64     `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	OffersProcessed   int        `gorm:"column:offers_processed;not null;default:0" json:"offers_processed"`
	OffersSkipped     int        `gorm:"column:offers_skipped;not null;default:0" json:"offers_skipped"`
	AnomaliesDetected int        `gorm:"column:anomalies_detected;not null;default:0" json:"anomalies_detected"`
	ErrorMessage      *string    `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	RunningGuard      *int64     `gorm:"column:running_guard;uniqueIndex:uk_running_guard" json:"-"`
	CreatedAt         time.Time  `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ScrapeJob
func (ScrapeJob) TableName() string {
	return "scrape_jobs"
}

// JobOutcome is the terminal state written when a job is finalized
type JobOutcome struct {
	Status            string
	CompletedAt       time.Time
	DurationMs        int64
	OffersProcessed   int
	OffersSkipped     int
	AnomaliesDetected int
	ErrorMessage      string
}

// ScrapeJobView joins a job with its provider slug for listings
type ScrapeJobView struct {
	ScrapeJob
	ProviderSlug string `gorm:"column:provider_slug" json:"provider"`
}
