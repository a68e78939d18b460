package model

import (
	"time"
)

// Trigger is the schedule entry of one provider, kept in the trigger registry
type Trigger struct {
	ProviderSlug    string    `json:"provider"`
	IntervalSeconds int64     `json:"interval_seconds"` // slot spacing
	OffsetSeconds   int64     `json:"offset_seconds"`   // stable stagger inside the interval
	NextRunAt       time.Time `json:"next_run_at"`      // last slot handed to the queue
	UpdatedAt       time.Time `json:"updated_at"`
}

// Interval returns the trigger interval as a duration
func (t *Trigger) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Offset returns the stagger offset as a duration
func (t *Trigger) Offset() time.Duration {
	return time.Duration(t.OffsetSeconds) * time.Second
}

// SameSchedule reports whether two triggers fire on identical slots
func (t *Trigger) SameSchedule(other *Trigger) bool {
	return other != nil && t.IntervalSeconds == other.IntervalSeconds && t.OffsetSeconds == other.OffsetSeconds
}
