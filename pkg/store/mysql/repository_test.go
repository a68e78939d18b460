package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTruncateDay(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected time.Time
	}{
		{
			name:     "utc midday",
			input:    time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "already midnight",
			input:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			expected: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "non-utc zone crosses the day boundary",
			input:    time.Date(2026, 3, 14, 1, 0, 0, 0, time.FixedZone("CET", 2*3600)),
			expected: time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, truncateDay(tt.input))
		})
	}
}

func TestUpsertColumnsPreserveIdentity(t *testing.T) {
	for _, col := range upsertColumns {
		assert.NotEqual(t, "id", col)
		assert.NotEqual(t, "provider_id", col)
		assert.NotEqual(t, "instance_type", col)
		assert.NotEqual(t, "created_at", col)
	}
	assert.Contains(t, upsertColumns, "is_active")
	assert.Contains(t, upsertColumns, "missed_scrapes")
	assert.Contains(t, upsertColumns, "price_per_gpu_hour")
}
