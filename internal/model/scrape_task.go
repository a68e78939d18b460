package model

// ScrapeTaskPayload is the queue payload of a provider refresh
type ScrapeTaskPayload struct {
	ProviderSlug string `json:"provider"`
	Trigger      string `json:"trigger"`        // schedule, manual
	SlotUnix     int64  `json:"slot,omitempty"` // scheduled slot, 0 for manual runs
	RequestedBy  string `json:"requested_by,omitempty"`
}

// TaskTypeScrape is the asynq task type of a provider refresh
const TaskTypeScrape = "scrape:provider"
