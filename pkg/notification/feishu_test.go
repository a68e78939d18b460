package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gpuindex/internal/model"
	"gpuindex/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhook struct {
	mu     sync.Mutex
	cards  []map[string]interface{}
	status int
}

func newWebhook(t *testing.T) (*webhook, *httptest.Server) {
	t.Helper()
	w := &webhook{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		w.cards = append(w.cards, body)
		status := w.status
		w.mu.Unlock()
		rw.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return w, srv
}

func (w *webhook) received() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]interface{}(nil), w.cards...)
}

func headerTitle(t *testing.T, msg map[string]interface{}) string {
	t.Helper()
	c, ok := msg["card"].(map[string]interface{})
	require.True(t, ok)
	header := c["header"].(map[string]interface{})
	return header["title"].(map[string]interface{})["content"].(string)
}

func anomalyEvent(change string) *model.Event {
	return &model.Event{
		ID:        "evt-1",
		Type:      model.EventAnomalyDetected,
		Provider:  "vast",
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"instance_type":  "8x_h100",
			"channel":        "on_demand",
			"old_price":      2.5,
			"new_price":      4.0,
			"change_percent": change,
		},
	}
}

func failedJobEvent(status string) *model.Event {
	return &model.Event{
		ID:        "evt-2",
		Type:      model.EventJobFinalized,
		Provider:  "lambda",
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"job_uid":     "job-123",
			"status":      status,
			"duration_ms": int64(1200),
			"error":       "request lambda: connection reset",
		},
	}
}

func TestFeishuNotifier_Anomaly(t *testing.T) {
	hook, srv := newWebhook(t)
	n := NewFeishuNotifier(config.NotificationConfig{FeishuWebhookURL: srv.URL, MinChangePercent: 30})

	n.Publish(context.Background(), anomalyEvent("60.00"))
	n.Publish(context.Background(), anomalyEvent("-45.5"))

	cards := hook.received()
	require.Len(t, cards, 2)
	assert.Equal(t, "interactive", cards[0]["msg_type"])
	assert.Equal(t, "GPU price increase on vast", headerTitle(t, cards[0]))
	assert.Equal(t, "GPU price drop on vast", headerTitle(t, cards[1]))
}

func TestFeishuNotifier_Filters(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.NotificationConfig
		event *model.Event
	}{
		{
			name:  "swing below threshold",
			cfg:   config.NotificationConfig{MinChangePercent: 30},
			event: anomalyEvent("-12.5"),
		},
		{
			name:  "unparseable change",
			cfg:   config.NotificationConfig{},
			event: anomalyEvent("n/a"),
		},
		{
			name:  "failures disabled",
			cfg:   config.NotificationConfig{NotifyFailures: false},
			event: failedJobEvent("failed"),
		},
		{
			name:  "completed job",
			cfg:   config.NotificationConfig{NotifyFailures: true},
			event: failedJobEvent("completed"),
		},
		{
			name:  "rate limited job",
			cfg:   config.NotificationConfig{NotifyFailures: true},
			event: failedJobEvent("rate_limited"),
		},
		{
			name:  "other event type",
			cfg:   config.NotificationConfig{NotifyFailures: true},
			event: &model.Event{Type: model.EventReconciled},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook, srv := newWebhook(t)
			tt.cfg.FeishuWebhookURL = srv.URL
			NewFeishuNotifier(tt.cfg).Publish(context.Background(), tt.event)
			assert.Empty(t, hook.received())
		})
	}
}

func TestFeishuNotifier_JobFailure(t *testing.T) {
	hook, srv := newWebhook(t)
	n := NewFeishuNotifier(config.NotificationConfig{FeishuWebhookURL: srv.URL, NotifyFailures: true})

	n.Publish(context.Background(), failedJobEvent("timeout"))

	cards := hook.received()
	require.Len(t, cards, 1)
	assert.Equal(t, "Scrape timeout: lambda", headerTitle(t, cards[0]))
}

func TestFeishuNotifier_DisabledWithoutURL(t *testing.T) {
	n := NewFeishuNotifier(config.NotificationConfig{MinChangePercent: 10})
	assert.False(t, n.Enabled())
	n.Publish(context.Background(), anomalyEvent("90"))
}

func TestFeishuNotifier_WebhookErrorIsSwallowed(t *testing.T) {
	hook, srv := newWebhook(t)
	hook.mu.Lock()
	hook.status = http.StatusInternalServerError
	hook.mu.Unlock()

	n := NewFeishuNotifier(config.NotificationConfig{FeishuWebhookURL: srv.URL})
	assert.NotPanics(t, func() {
		n.Publish(context.Background(), anomalyEvent("55"))
	})
	assert.Len(t, hook.received(), 1)

	err := n.send(context.Background(), map[string]interface{}{"msg_type": "text"})
	assert.ErrorContains(t, err, "status code: 500")
}

func TestChangePercent(t *testing.T) {
	d, ok := changePercent("12.50")
	require.True(t, ok)
	assert.Equal(t, "12.5", d.String())

	d, ok = changePercent(-40.0)
	require.True(t, ok)
	assert.True(t, d.IsNegative())

	_, ok = changePercent(nil)
	assert.False(t, ok)
}
