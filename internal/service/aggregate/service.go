// Package aggregate answers read-side price questions from committed tables.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gpuindex/pkg/config"
	"gpuindex/pkg/logger"
	"gpuindex/pkg/store/mysql"
	"gpuindex/pkg/store/mysql/model"
)

var (
	// ErrGPUNotFound is returned for unknown GPU slugs
	ErrGPUNotFound = errors.New("gpu model not found")
	// ErrProviderNotFound is returned for unknown provider slugs
	ErrProviderNotFound = errors.New("provider not found")
)

// InstanceLister lists instance rows joined with slugs
type InstanceLister interface {
	List(ctx context.Context, filter mysql.InstanceFilter) ([]*model.InstanceListing, error)
}

// GpuModelReader resolves GPU slugs
type GpuModelReader interface {
	Get(ctx context.Context, slug string) (*model.GpuModel, error)
}

// ProviderReader resolves provider slugs
type ProviderReader interface {
	Get(ctx context.Context, slug string) (*model.Provider, error)
}

// HistoryStore reads and maintains daily rollups
type HistoryStore interface {
	DailyRange(ctx context.Context, gpuModelID, providerID int64, from, to time.Time) ([]*model.PriceHistoryDaily, error)
	LiveDay(ctx context.Context, gpuModelID, providerID int64, day time.Time) (*model.PriceHistoryDaily, error)
	RollupDay(ctx context.Context, day time.Time) error
}

var (
	_ InstanceLister = (*mysql.InstanceRepository)(nil)
	_ GpuModelReader = (*mysql.GpuModelRepository)(nil)
	_ ProviderReader = (*mysql.ProviderRepository)(nil)
	_ HistoryStore   = (*mysql.PriceHistoryRepository)(nil)
)

// Service computes comparisons and history
type Service struct {
	instances InstanceLister
	gpus      GpuModelReader
	providers ProviderReader
	history   HistoryStore

	staleAfter     time.Duration
	maxHistoryDays int
	now            func() time.Time
}

// NewService creates an aggregation service
func NewService(instances InstanceLister, gpus GpuModelReader, providers ProviderReader, history HistoryStore, cfg config.AggregatorConfig) *Service {
	s := &Service{
		instances:      instances,
		gpus:           gpus,
		providers:      providers,
		history:        history,
		staleAfter:     cfg.StaleAfter,
		maxHistoryDays: cfg.MaxHistoryDays,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if s.staleAfter <= 0 {
		s.staleAfter = config.DefaultStaleAfter
	}
	if s.maxHistoryDays <= 0 {
		s.maxHistoryDays = config.DefaultMaxHistoryDays
	}
	return s
}

func (s *Service) toOffer(row *model.InstanceListing, now time.Time) Offer {
	age := now.Sub(row.LastScrapedAt)
	regions := []string(row.Regions)
	if regions == nil {
		regions = []string{}
	}
	return Offer{
		Provider:        row.ProviderSlug,
		ProviderName:    row.ProviderName,
		GPU:             row.GpuSlug,
		InstanceType:    row.InstanceType,
		GPUCount:        row.GPUCount,
		PricePerHour:    row.PricePerHour,
		PricePerGPUHour: row.PricePerGPUHour,
		SpotPerGPUHour:  row.PricePerHourSpot,
		BestPrice:       row.BestPrice(),
		NVLink:          row.NVLink,
		InfiniBand:      row.InfiniBand,
		Regions:         regions,
		Availability:    row.AvailabilityStatus,
		IsActive:        row.IsActive,
		LastScrapedAt:   row.LastScrapedAt,
		AgeHours:        math.Round(age.Hours()*10) / 10,
		Stale:           age > s.staleAfter,
	}
}

// ListOffers returns instance rows with staleness tags. Inactive rows are
// included only when activeOnly is false.
func (s *Service) ListOffers(ctx context.Context, gpuSlug, providerSlug string, activeOnly bool) ([]Offer, error) {
	rows, err := s.instances.List(ctx, mysql.InstanceFilter{
		GpuSlug:      gpuSlug,
		ProviderSlug: providerSlug,
		ActiveOnly:   activeOnly,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	offers := make([]Offer, 0, len(rows))
	for _, row := range rows {
		offers = append(offers, s.toOffer(row, now))
	}
	return offers, nil
}

// ComparePrices compares the best price of every provider offering a GPU.
// A GPU without active offers yields an empty comparison with nil stats.
func (s *Service) ComparePrices(ctx context.Context, gpuSlug string) (*PriceComparison, error) {
	gpu, err := s.gpus.Get(ctx, gpuSlug)
	if err != nil {
		return nil, err
	}
	if gpu == nil {
		return nil, fmt.Errorf("%w: %s", ErrGPUNotFound, gpuSlug)
	}

	offers, err := s.ListOffers(ctx, gpuSlug, "", true)
	if err != nil {
		return nil, err
	}

	best := make(map[string]*ProviderBest)
	for i := range offers {
		o := &offers[i]
		cur, ok := best[o.Provider]
		if !ok {
			cur = &ProviderBest{Provider: o.Provider, ProviderName: o.ProviderName, Stale: true}
			best[o.Provider] = cur
		}
		if !ok || o.BestPrice < cur.BestPrice {
			cur.InstanceType = o.InstanceType
			cur.BestPrice = o.BestPrice
			cur.AgeHours = o.AgeHours
		}
		// fresh rows are ranked separately from the overall best
		if !o.Stale && (cur.FreshBestPrice == nil || o.BestPrice < *cur.FreshBestPrice) {
			p := o.BestPrice
			cur.FreshBestPrice = &p
			cur.FreshInstanceType = o.InstanceType
			cur.Stale = false
		}
	}

	providers := make([]ProviderBest, 0, len(best))
	var all, fresh []float64
	for _, b := range best {
		providers = append(providers, *b)
		all = append(all, b.BestPrice)
		if b.FreshBestPrice != nil {
			fresh = append(fresh, *b.FreshBestPrice)
		}
	}
	sort.Slice(providers, func(i, j int) bool {
		if providers[i].BestPrice != providers[j].BestPrice {
			return providers[i].BestPrice < providers[j].BestPrice
		}
		return providers[i].Provider < providers[j].Provider
	})

	return &PriceComparison{
		GPU:             gpu.Slug,
		GPUName:         gpu.DisplayName,
		Offers:          offers,
		Providers:       providers,
		Stats:           Summarize(all),
		FreshStats:      Summarize(fresh),
		StaleAfterHours: s.staleAfter.Hours(),
	}, nil
}

// CompareProviders compares on-demand per-GPU prices on the GPU models both
// providers offer
func (s *Service) CompareProviders(ctx context.Context, slugA, slugB string) (*ProviderComparison, error) {
	pricesA, err := s.onDemandByGPU(ctx, slugA)
	if err != nil {
		return nil, err
	}
	pricesB, err := s.onDemandByGPU(ctx, slugB)
	if err != nil {
		return nil, err
	}

	cmp := &ProviderComparison{
		ProviderA:  slugA,
		ProviderB:  slugB,
		GPUCountA:  len(pricesA),
		GPUCountB:  len(pricesB),
		CommonGPUs: []GPUDelta{},
	}

	var sideA, sideB []float64
	for gpu, a := range pricesA {
		b, ok := pricesB[gpu]
		if !ok {
			continue
		}
		delta := GPUDelta{GPU: gpu, PriceA: a, PriceB: b, Delta: a - b}
		if b > 0 {
			delta.DeltaPercent = math.Round((a-b)/b*10000) / 100
		}
		cmp.CommonGPUs = append(cmp.CommonGPUs, delta)
		sideA = append(sideA, a)
		sideB = append(sideB, b)
	}
	sort.Slice(cmp.CommonGPUs, func(i, j int) bool { return cmp.CommonGPUs[i].GPU < cmp.CommonGPUs[j].GPU })

	cmp.Verdict.Cheaper = Tie
	if len(sideA) > 0 {
		ma, mb := Median(sideA), Median(sideB)
		switch {
		case ma < mb:
			cmp.Verdict.Cheaper = slugA
		case mb < ma:
			cmp.Verdict.Cheaper = slugB
		}
	}

	cmp.Verdict.MoreGPUs = Tie
	switch {
	case cmp.GPUCountA > cmp.GPUCountB:
		cmp.Verdict.MoreGPUs = slugA
	case cmp.GPUCountB > cmp.GPUCountA:
		cmp.Verdict.MoreGPUs = slugB
	}
	return cmp, nil
}

// onDemandByGPU returns the cheapest active on-demand per-GPU price of a
// provider for each GPU model it offers
func (s *Service) onDemandByGPU(ctx context.Context, slug string) (map[string]float64, error) {
	p, err := s.providers.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, slug)
	}

	rows, err := s.instances.List(ctx, mysql.InstanceFilter{ProviderSlug: slug, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	prices := make(map[string]float64)
	for _, row := range rows {
		if cur, ok := prices[row.GpuSlug]; !ok || row.PricePerGPUHour < cur {
			prices[row.GpuSlug] = row.PricePerGPUHour
		}
	}
	return prices, nil
}

// ClampDays bounds a requested history length to 1..limit
func ClampDays(days, limit int) int {
	if days < 1 {
		return 1
	}
	if days > limit {
		return limit
	}
	return days
}

// PriceHistory returns exactly days chronological points ending today (UTC).
// Past days come from the rollup, today is aggregated live.
func (s *Service) PriceHistory(ctx context.Context, gpuSlug string, days int, providerSlug string) ([]PricePoint, error) {
	gpu, err := s.gpus.Get(ctx, gpuSlug)
	if err != nil {
		return nil, err
	}
	if gpu == nil {
		return nil, fmt.Errorf("%w: %s", ErrGPUNotFound, gpuSlug)
	}

	scope := model.AllProvidersScope
	if providerSlug != "" {
		p, err := s.providers.Get(ctx, providerSlug)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerSlug)
		}
		scope = p.ID
	}

	days = ClampDays(days, s.maxHistoryDays)
	today := startOfDay(s.now())
	from := today.AddDate(0, 0, -(days - 1))

	rows, err := s.history.DailyRange(ctx, gpu.ID, scope, from, today)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]*model.PriceHistoryDaily, len(rows))
	for _, r := range rows {
		byDay[r.Day.UTC().Format(dateLayout)] = r
	}

	live, err := s.history.LiveDay(ctx, gpu.ID, scope, today)
	if err != nil {
		logger.WarnCtx(ctx, "live history for %s unavailable: %v", gpuSlug, err)
	} else if live != nil {
		byDay[today.Format(dateLayout)] = live
	}

	points := make([]PricePoint, 0, days)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		point := PricePoint{Date: key}
		if r, ok := byDay[key]; ok && r.Samples > 0 {
			lo, avg, hi := r.MinPrice, r.AvgPrice, r.MaxPrice
			point.Min, point.Avg, point.Max = &lo, &avg, &hi
			point.Samples = r.Samples
		}
		points = append(points, point)
	}
	return points, nil
}

// RollupDay recomputes the daily rollup of one day
func (s *Service) RollupDay(ctx context.Context, day time.Time) error {
	if err := s.history.RollupDay(ctx, day); err != nil {
		return err
	}
	logger.DebugCtx(ctx, "price history rolled up for %s", startOfDay(day).Format(dateLayout))
	return nil
}

const dateLayout = "2006-01-02"

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
