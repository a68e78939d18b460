package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gpuindex/internal/model"
	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"
	storemodel "gpuindex/pkg/store/mysql/model"

	"github.com/shopspring/decimal"
)

// FeishuNotifier posts alert cards to a Feishu (Lark) webhook for price
// anomalies and failed scrapes. It satisfies the realtime publisher contract
// so it can sit next to the Redis publisher.
type FeishuNotifier struct {
	webhookURL     string
	minChange      decimal.Decimal
	notifyFailures bool
	client         *http.Client
}

// NewFeishuNotifier creates a notifier; an empty webhook URL disables it
func NewFeishuNotifier(cfg config.NotificationConfig) *FeishuNotifier {
	if cfg.FeishuWebhookURL == "" {
		logger.Warn("Feishu webhook URL not configured (check config file or FEISHU_WEBHOOK_URL env), alerts will be disabled")
	}
	return &FeishuNotifier{
		webhookURL:     cfg.FeishuWebhookURL,
		minChange:      decimal.NewFromFloat(cfg.MinChangePercent).Abs(),
		notifyFailures: cfg.NotifyFailures,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a webhook is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// Publish sends a card for alert-worthy events and ignores the rest.
// Delivery errors are logged, never returned.
func (f *FeishuNotifier) Publish(ctx context.Context, event *model.Event) {
	if !f.Enabled() || event == nil {
		return
	}

	var message map[string]interface{}
	switch event.Type {
	case model.EventAnomalyDetected:
		change, ok := changePercent(event.Data["change_percent"])
		if !ok || change.Abs().LessThan(f.minChange) {
			return
		}
		message = f.buildAnomalyMessage(event, change)
	case model.EventJobFinalized:
		st, _ := event.Data["status"].(string)
		if !f.notifyFailures || (st != storemodel.JobStatusFailed && st != storemodel.JobStatusTimeout) {
			return
		}
		message = f.buildFailureMessage(event, st)
	default:
		return
	}

	if err := f.send(ctx, message); err != nil {
		logger.WarnCtx(ctx, "failed to send Feishu %s alert for %s: %v", event.Type, event.Provider, err)
		return
	}
	logger.InfoCtx(ctx, "Feishu %s alert sent for provider: %s", event.Type, event.Provider)
}

func (f *FeishuNotifier) send(ctx context.Context, message map[string]interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	// the scrape may already be cancelled, the alert still goes out
	ctx = context.WithoutCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feishu API returned status code: %d", resp.StatusCode)
	}
	return nil
}

func (f *FeishuNotifier) buildAnomalyMessage(event *model.Event, change decimal.Decimal) map[string]interface{} {
	template, direction := "red", "increase"
	if change.IsNegative() {
		template, direction = "green", "drop"
	}
	return card(template, fmt.Sprintf("GPU price %s on %s", direction, event.Provider),
		fmt.Sprintf("**Instance**: %v (%v)", event.Data["instance_type"], event.Data["channel"]),
		[][2]string{
			{"Old price / GPU hour", fmt.Sprintf("$%v", event.Data["old_price"])},
			{"New price / GPU hour", fmt.Sprintf("$%v", event.Data["new_price"])},
			{"Change", change.StringFixed(2) + "%"},
			{"Detected", event.Timestamp.UTC().Format("2006-01-02 15:04:05")},
		},
		"Anomalies are recorded for review. Prices were written as received.")
}

func (f *FeishuNotifier) buildFailureMessage(event *model.Event, st string) map[string]interface{} {
	msg, _ := event.Data["error"].(string)
	if msg == "" {
		msg = "no error message"
	}
	return card("orange", fmt.Sprintf("Scrape %s: %s", st, event.Provider),
		fmt.Sprintf("**Job**: %v", event.Data["job_uid"]),
		[][2]string{
			{"Status", st},
			{"Duration", fmt.Sprintf("%vms", event.Data["duration_ms"])},
			{"Finished", event.Timestamp.UTC().Format("2006-01-02 15:04:05")},
		},
		msg)
}

// card lays out an interactive message: header, summary, two-column fields, note
func card(template, title, summary string, fields [][2]string, note string) map[string]interface{} {
	columns := make([]interface{}, 0, len(fields))
	for _, kv := range fields {
		columns = append(columns, map[string]interface{}{
			"is_short": true,
			"text": map[string]interface{}{
				"content": fmt.Sprintf("**%s**\n%s", kv[0], kv[1]),
				"tag":     "lark_md",
			},
		})
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": template,
				"title": map[string]interface{}{
					"content": title,
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": summary,
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{"tag": "hr"},
				map[string]interface{}{
					"tag":    "div",
					"fields": columns,
				},
				map[string]interface{}{"tag": "hr"},
				map[string]interface{}{
					"tag": "note",
					"elements": []interface{}{
						map[string]interface{}{
							"content": note,
							"tag":     "plain_text",
						},
					},
				},
			},
		},
	}
}

// changePercent accepts the decimal string set by the detector or a number
// decoded from JSON
func changePercent(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	default:
		return decimal.Zero, false
	}
}
