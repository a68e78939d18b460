package model

import (
	"time"
)

// EventType ops event type
type EventType string

const (
	EventJobFinalized    EventType = "job.finalized"
	EventAnomalyDetected EventType = "anomaly.detected"
	EventReconciled      EventType = "schedule.reconciled"
)

// Event is pushed to ops subscribers as JSON
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Provider  string                 `json:"provider,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
