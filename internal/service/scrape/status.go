package scrape

import "gpuindex/pkg/store/mysql/model"

// JobStatus is the state of a scrape job
type JobStatus string

const (
	StatusRunning     JobStatus = model.JobStatusRunning
	StatusCompleted   JobStatus = model.JobStatusCompleted
	StatusFailed      JobStatus = model.JobStatusFailed
	StatusTimeout     JobStatus = model.JobStatusTimeout
	StatusRateLimited JobStatus = model.JobStatusRateLimited
)

// IsTerminal reports whether the status ends a job
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusRateLimited:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from s to next.
// Jobs only ever leave running, once, into a terminal status.
func (s JobStatus) CanTransition(next JobStatus) bool {
	return s == StatusRunning && next.IsTerminal()
}
