package scrape

import (
	"context"
	"fmt"
	"time"

	"gpuindex/pkg/logger"
	"gpuindex/pkg/metrics"
	"gpuindex/pkg/source"
	"gpuindex/pkg/store/mysql/model"

	"gorm.io/datatypes"
)

// NormalizeResult summarizes one normalized batch
type NormalizeResult struct {
	Processed int
	Skipped   int
	Seen      []string // instance types written in this batch
	Anomalies []*model.PriceAnomaly
}

// Normalizer turns raw offers into per-GPU-hour instance rows
type Normalizer struct {
	instances    InstanceStore
	observations ObservationStore
	detector     *AnomalyDetector
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewNormalizer creates a normalizer
func NewNormalizer(instances InstanceStore, observations ObservationStore, detector *AnomalyDetector, m *metrics.Metrics) *Normalizer {
	return &Normalizer{
		instances:    instances,
		observations: observations,
		detector:     detector,
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PerGPU divides an instance price across its GPUs; a zero count is treated as one
func PerGPU(price float64, gpuCount int) float64 {
	if gpuCount < 1 {
		gpuCount = 1
	}
	return price / float64(gpuCount)
}

// Normalize validates and writes every offer of a batch. Invalid offers are
// skipped and logged; a store error aborts the batch.
func (n *Normalizer) Normalize(ctx context.Context, provider *model.Provider, jobID int64, offers []source.RawOffer, gpus map[string]*model.GpuModel) (*NormalizeResult, error) {
	result := &NormalizeResult{}
	seen := make(map[string]bool, len(offers))

	for i := range offers {
		offer := &offers[i]

		gpu, reason := n.check(provider, offer, gpus)
		if reason != "" {
			result.Skipped++
			if n.metrics != nil {
				n.metrics.OffersSkipped.WithLabelValues(provider.Slug, reason).Inc()
			}
			logger.WarnCtx(ctx, "skipping offer %q from %s: %s", offer.InstanceType, provider.Slug, reason)
			continue
		}
		if seen[offer.InstanceType] {
			// later duplicates in one batch would overwrite the first silently
			result.Skipped++
			logger.WarnCtx(ctx, "skipping duplicate offer %q from %s", offer.InstanceType, provider.Slug)
			continue
		}

		anomalies, err := n.write(ctx, provider, jobID, offer, gpu)
		if err != nil {
			return nil, err
		}

		seen[offer.InstanceType] = true
		result.Seen = append(result.Seen, offer.InstanceType)
		result.Processed++
		result.Anomalies = append(result.Anomalies, anomalies...)
	}

	if n.metrics != nil && result.Processed > 0 {
		n.metrics.OffersProcessed.WithLabelValues(provider.Slug).Add(float64(result.Processed))
	}
	return result, nil
}

// check returns the GPU model of a valid offer, or a skip reason
func (n *Normalizer) check(provider *model.Provider, offer *source.RawOffer, gpus map[string]*model.GpuModel) (*model.GpuModel, string) {
	if err := source.Validate(offer); err != nil {
		return nil, "validation"
	}
	if offer.Provider != provider.Slug {
		return nil, "provider_mismatch"
	}
	gpu, ok := gpus[offer.GPU]
	if !ok {
		return nil, "unknown_gpu"
	}
	return gpu, ""
}

func (n *Normalizer) write(ctx context.Context, provider *model.Provider, jobID int64, offer *source.RawOffer, gpu *model.GpuModel) ([]*model.PriceAnomaly, error) {
	previous, err := n.instances.GetByKey(ctx, provider.ID, offer.InstanceType)
	if err != nil {
		return nil, err
	}

	now := n.now()
	inst := &model.Instance{
		ProviderID:              provider.ID,
		InstanceType:            offer.InstanceType,
		GpuModelID:              gpu.ID,
		GPUCount:                offer.GPUCount,
		PricePerHour:            offer.Price,
		PricePerGPUHour:         PerGPU(offer.Price, offer.GPUCount),
		NVLink:                  offer.NVLink,
		NVLinkBandwidthGbps:     offer.NVLinkBandwidthGbps,
		InfiniBand:              offer.InfiniBand,
		InfiniBandBandwidthGbps: offer.InfiniBandBandwidthGbps,
		BillingIncrementSeconds: offer.BillingIncrementSeconds,
		MinRentalHours:          offer.MinRentalHours,
		Regions:                 datatypes.JSONSlice[string](offer.Regions),
		AvailabilityStatus:      offer.Availability,
		LastScrapedAt:           now,
	}
	if inst.Regions == nil {
		inst.Regions = datatypes.JSONSlice[string]{}
	}
	if inst.AvailabilityStatus == "" {
		inst.AvailabilityStatus = model.AvailabilityUnknown
	}
	if inst.BillingIncrementSeconds == 0 {
		inst.BillingIncrementSeconds = 3600
	}
	if offer.SpotPrice != nil {
		spot := PerGPU(*offer.SpotPrice, offer.GPUCount)
		inst.PricePerHourSpot = &spot
	}

	if err := n.instances.Upsert(ctx, inst); err != nil {
		return nil, err
	}

	if err := n.observations.RecordObservation(ctx, &model.PriceObservation{
		InstanceID:       inst.ID,
		ProviderID:       provider.ID,
		GpuModelID:       gpu.ID,
		PricePerGPUHour:  inst.PricePerGPUHour,
		PricePerHourSpot: inst.PricePerHourSpot,
		ObservedAt:       now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record observation for %s: %w", offer.InstanceType, err)
	}

	if previous == nil || n.detector == nil {
		return nil, nil
	}

	var anomalies []*model.PriceAnomaly
	base := Observation{
		ProviderID:   provider.ID,
		ProviderSlug: provider.Slug,
		GpuModelID:   gpu.ID,
		InstanceType: offer.InstanceType,
		JobID:        jobID,
	}

	onDemand := base
	onDemand.Channel = model.ChannelOnDemand
	onDemand.Old = &previous.PricePerGPUHour
	onDemand.New = inst.PricePerGPUHour
	if a := n.detector.Observe(ctx, onDemand); a != nil {
		anomalies = append(anomalies, a)
	}

	if inst.PricePerHourSpot != nil {
		spot := base
		spot.Channel = model.ChannelSpot
		spot.Old = previous.PricePerHourSpot
		spot.New = *inst.PricePerHourSpot
		if a := n.detector.Observe(ctx, spot); a != nil {
			anomalies = append(anomalies, a)
		}
	}

	return anomalies, nil
}
