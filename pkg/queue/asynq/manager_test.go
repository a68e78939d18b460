package asynq

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func optionTypes(opts []asynq.Option) map[asynq.OptionType]interface{} {
	out := map[asynq.OptionType]interface{}{}
	for _, o := range opts {
		out[o.Type()] = o.Value()
	}
	return out
}

func TestBuildOptions_Defaults(t *testing.T) {
	got := optionTypes(buildOptions(EnqueueOptions{}))

	assert.Equal(t, QueueScrape, got[asynq.QueueOpt])
	assert.Equal(t, 0, got[asynq.MaxRetryOpt])
	assert.Equal(t, defaultRetention, got[asynq.RetentionOpt])
	assert.NotContains(t, got, asynq.TaskIDOpt)
	assert.NotContains(t, got, asynq.ProcessAtOpt)
	assert.NotContains(t, got, asynq.TimeoutOpt)
}

func TestBuildOptions_Scheduled(t *testing.T) {
	at := time.Date(2026, 3, 1, 13, 7, 0, 0, time.UTC)
	got := optionTypes(buildOptions(EnqueueOptions{
		TaskID:    "scrape:lambda:1772370420",
		Queue:     QueueMaintenance,
		ProcessAt: at,
		Timeout:   time.Minute,
		Retention: time.Hour,
	}))

	assert.Equal(t, "scrape:lambda:1772370420", got[asynq.TaskIDOpt])
	assert.Equal(t, QueueMaintenance, got[asynq.QueueOpt])
	assert.Equal(t, at, got[asynq.ProcessAtOpt])
	assert.Equal(t, time.Minute, got[asynq.TimeoutOpt])
	assert.Equal(t, time.Hour, got[asynq.RetentionOpt])
}

func TestStatsFromInfo(t *testing.T) {
	stats := statsFromInfo(&asynq.QueueInfo{
		Queue:     QueueScrape,
		Pending:   3,
		Active:    2,
		Scheduled: 40,
		Retry:     1,
		Archived:  5,
		Completed: 100,
	})

	assert.Equal(t, QueueStats{
		Queue:     QueueScrape,
		Waiting:   3,
		Active:    2,
		Delayed:   40,
		Retry:     1,
		Failed:    5,
		Completed: 100,
	}, stats)
}
