package scrape

import (
	"context"
	"time"

	"gpuindex/pkg/source"
	"gpuindex/pkg/store/mysql"
	"gpuindex/pkg/store/mysql/model"
)

// ProviderStore reads providers and tracks their scrape health
type ProviderStore interface {
	Get(ctx context.Context, slug string) (*model.Provider, error)
	RecordSuccess(ctx context.Context, id int64, at time.Time) error
	RecordFailure(ctx context.Context, id int64) (int, error)
}

// GpuModelStore lists GPU reference data
type GpuModelStore interface {
	List(ctx context.Context) ([]*model.GpuModel, error)
}

// InstanceStore writes normalized offers
type InstanceStore interface {
	GetByKey(ctx context.Context, providerID int64, instanceType string) (*model.Instance, error)
	Upsert(ctx context.Context, inst *model.Instance) error
	DeactivateTypes(ctx context.Context, providerID int64, instanceTypes []string) (int64, error)
	DeactivateProvider(ctx context.Context, providerID int64) (int64, error)
	MarkMissed(ctx context.Context, providerID int64, seen []string, inactiveAfter int) (int64, error)
}

// JobStore persists scrape jobs
type JobStore interface {
	Create(ctx context.Context, job *model.ScrapeJob) error
	LastStartedAt(ctx context.Context, providerID int64) (*time.Time, error)
	Finalize(ctx context.Context, id int64, outcome model.JobOutcome) (bool, error)
	ListRunningBefore(ctx context.Context, cutoff time.Time) ([]*model.ScrapeJob, error)
}

// AnomalyStore appends anomaly records
type AnomalyStore interface {
	Create(ctx context.Context, a *model.PriceAnomaly) error
}

// ObservationStore appends price observations
type ObservationStore interface {
	RecordObservation(ctx context.Context, o *model.PriceObservation) error
}

// SourceLookup resolves the source of a provider
type SourceLookup interface {
	Get(slug string) (source.Source, error)
}

// TxRunner runs fn in a transaction carried by ctx
type TxRunner interface {
	ExecTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ ProviderStore    = (*mysql.ProviderRepository)(nil)
	_ GpuModelStore    = (*mysql.GpuModelRepository)(nil)
	_ InstanceStore    = (*mysql.InstanceRepository)(nil)
	_ JobStore         = (*mysql.ScrapeJobRepository)(nil)
	_ AnomalyStore     = (*mysql.AnomalyRepository)(nil)
	_ ObservationStore = (*mysql.PriceHistoryRepository)(nil)
	_ SourceLookup     = (*source.Registry)(nil)
	_ TxRunner         = (*mysql.Datastore)(nil)
)
