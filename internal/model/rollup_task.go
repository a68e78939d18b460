package model

// RollupTaskPayload asks a worker to recompute the price history of one day
type RollupTaskPayload struct {
	Day         string `json:"day"` // YYYY-MM-DD, UTC
	RequestedBy string `json:"requested_by,omitempty"`
}

// TaskTypeRollup is the asynq task type of a history rollup
const TaskTypeRollup = "maintenance:rollup"
