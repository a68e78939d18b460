package aggregate

import "time"

// Verdict value when neither provider wins
const Tie = "tie"

// Stats summarizes per-provider best prices
type Stats struct {
	Min           float64 `json:"min"`
	Median        float64 `json:"median"`
	Max           float64 `json:"max"`
	ProviderCount int     `json:"provider_count"`
}

// Offer is one listed instance with its freshness
type Offer struct {
	Provider        string    `json:"provider"`
	ProviderName    string    `json:"provider_name"`
	GPU             string    `json:"gpu"`
	InstanceType    string    `json:"instance_type"`
	GPUCount        int       `json:"gpu_count"`
	PricePerHour    float64   `json:"price_per_hour"`
	PricePerGPUHour float64   `json:"price_per_gpu_hour"`
	SpotPerGPUHour  *float64  `json:"spot_per_gpu_hour,omitempty"`
	BestPrice       float64   `json:"best_price"`
	NVLink          bool      `json:"nvlink"`
	InfiniBand      bool      `json:"infiniband"`
	Regions         []string  `json:"regions"`
	Availability    string    `json:"availability"`
	IsActive        bool      `json:"is_active"`
	LastScrapedAt   time.Time `json:"last_scraped_at"`
	AgeHours        float64   `json:"age_hours"`
	Stale           bool      `json:"stale"`
}

// ProviderBest is the cheapest active offer of one provider for a GPU.
// FreshBestPrice only considers rows within the staleness window and is nil
// when the provider has none; Stale is set exactly then.
type ProviderBest struct {
	Provider          string   `json:"provider"`
	ProviderName      string   `json:"provider_name"`
	InstanceType      string   `json:"instance_type"`
	BestPrice         float64  `json:"best_price"`
	AgeHours          float64  `json:"age_hours"`
	FreshInstanceType string   `json:"fresh_instance_type,omitempty"`
	FreshBestPrice    *float64 `json:"fresh_best_price"`
	Stale             bool     `json:"stale"`
}

// PriceComparison compares every provider offering one GPU model.
// Stats covers the best row of every provider, FreshStats the best fresh row
// of providers that have one.
type PriceComparison struct {
	GPU             string         `json:"gpu"`
	GPUName         string         `json:"gpu_name"`
	Offers          []Offer        `json:"offers"`
	Providers       []ProviderBest `json:"providers"`
	Stats           *Stats         `json:"stats"`
	FreshStats      *Stats         `json:"fresh_stats"`
	StaleAfterHours float64        `json:"stale_after_hours"`
}

// GPUDelta compares on-demand prices of one GPU model across two providers
type GPUDelta struct {
	GPU          string  `json:"gpu"`
	PriceA       float64 `json:"price_a"`
	PriceB       float64 `json:"price_b"`
	Delta        float64 `json:"delta"`         // a - b
	DeltaPercent float64 `json:"delta_percent"` // (a - b) / b * 100
}

// ProviderVerdict names the winning provider slug per criterion, or Tie
type ProviderVerdict struct {
	Cheaper  string `json:"cheaper"`
	MoreGPUs string `json:"more_gpus"`
}

// ProviderComparison compares two providers head to head
type ProviderComparison struct {
	ProviderA  string          `json:"provider_a"`
	ProviderB  string          `json:"provider_b"`
	GPUCountA  int             `json:"gpu_count_a"`
	GPUCountB  int             `json:"gpu_count_b"`
	CommonGPUs []GPUDelta      `json:"common_gpus"`
	Verdict    ProviderVerdict `json:"verdict"`
}

// PricePoint is one day of price history. Days without data have nil prices.
type PricePoint struct {
	Date    string   `json:"date"`
	Min     *float64 `json:"min"`
	Avg     *float64 `json:"avg"`
	Max     *float64 `json:"max"`
	Samples int      `json:"samples"`
}
