package scrape

import (
	"context"
	"math"
	"time"

	"gpuindex/internal/model"
	"gpuindex/internal/realtime"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	storemodel "gpuindex/pkg/store/mysql/model"

	"github.com/shopspring/decimal"
)

// Observation is one price change seen while normalizing an offer
type Observation struct {
	ProviderID   int64
	ProviderSlug string
	GpuModelID   int64
	InstanceType string
	Channel      string // on_demand, spot
	Old          *float64
	New          float64
	JobID        int64
}

// AnomalyDetector flags per-GPU price swings at or above a relative threshold.
// It only records; it never blocks or alters the write that triggered it.
type AnomalyDetector struct {
	threshold decimal.Decimal
	store     AnomalyStore
	publisher realtime.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewAnomalyDetector creates a detector; threshold is relative (0.5 = 50%)
func NewAnomalyDetector(threshold float64, store AnomalyStore, publisher realtime.Publisher, m *metrics.Metrics) *AnomalyDetector {
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	return &AnomalyDetector{
		threshold: decimal.NewFromFloat(threshold),
		store:     store,
		publisher: publisher,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Detect returns the percent change and whether it is an anomaly. There is no
// anomaly without a positive, finite previous price.
func (d *AnomalyDetector) Detect(old *float64, new float64) (decimal.Decimal, bool) {
	if old == nil || !isFinite(*old) || *old <= 0 || !isFinite(new) {
		return decimal.Zero, false
	}

	oldD := decimal.NewFromFloat(*old)
	ratio := decimal.NewFromFloat(new).Sub(oldD).Div(oldD)
	if ratio.Abs().LessThan(d.threshold) {
		return decimal.Zero, false
	}
	return ratio.Mul(decimal.NewFromInt(100)).Round(2), true
}

// Observe persists an anomaly for the observation if it qualifies. Store
// failures are logged and swallowed.
func (d *AnomalyDetector) Observe(ctx context.Context, obs Observation) *storemodel.PriceAnomaly {
	change, ok := d.Detect(obs.Old, obs.New)
	if !ok {
		return nil
	}

	anomaly := &storemodel.PriceAnomaly{
		ProviderID:         obs.ProviderID,
		GpuModelID:         obs.GpuModelID,
		InstanceType:       obs.InstanceType,
		Channel:            obs.Channel,
		OldPricePerGPUHour: *obs.Old,
		NewPricePerGPUHour: obs.New,
		ChangePercent:      change,
		DetectedAt:         d.now(),
	}
	if obs.JobID > 0 {
		jobID := obs.JobID
		anomaly.ScrapeJobID = &jobID
	}

	if err := d.store.Create(ctx, anomaly); err != nil {
		logger.WarnCtx(ctx, "failed to record %s anomaly for %s/%s: %v",
			obs.Channel, obs.ProviderSlug, obs.InstanceType, err)
		return nil
	}

	if d.metrics != nil {
		d.metrics.AnomaliesTotal.WithLabelValues(obs.ProviderSlug, obs.Channel).Inc()
	}
	logger.WarnCtx(ctx, "price anomaly: provider=%s instance=%s channel=%s %.4f -> %.4f (%s%%)",
		obs.ProviderSlug, obs.InstanceType, obs.Channel, *obs.Old, obs.New, change.String())
	return anomaly
}

// Announce publishes anomaly events once the write that produced them is committed
func (d *AnomalyDetector) Announce(ctx context.Context, providerSlug string, anomalies []*storemodel.PriceAnomaly) {
	for _, a := range anomalies {
		d.publisher.Publish(ctx, realtime.NewEvent(model.EventAnomalyDetected, providerSlug, map[string]interface{}{
			"instance_type":  a.InstanceType,
			"channel":        a.Channel,
			"old_price":      a.OldPricePerGPUHour,
			"new_price":      a.NewPricePerGPUHour,
			"change_percent": a.ChangePercent.String(),
		}))
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
