package mysql

import (
	"context"

	"gpuindex/pkg/config"
)

// Repository aggregates all MySQL repositories
type Repository struct {
	ds *Datastore

	Provider     *ProviderRepository
	GpuModel     *GpuModelRepository
	Instance     *InstanceRepository
	ScrapeJob    *ScrapeJobRepository
	Anomaly      *AnomalyRepository
	PriceHistory *PriceHistoryRepository
}

// NewRepository creates a new MySQL repository with all sub-repositories
func NewRepository(cfg config.MySQLConfig) (*Repository, error) {
	ds, err := NewDatastore(cfg)
	if err != nil {
		return nil, err
	}

	return &Repository{
		ds:           ds,
		Provider:     NewProviderRepository(ds),
		GpuModel:     NewGpuModelRepository(ds),
		Instance:     NewInstanceRepository(ds),
		ScrapeJob:    NewScrapeJobRepository(ds),
		Anomaly:      NewAnomalyRepository(ds),
		PriceHistory: NewPriceHistoryRepository(ds),
	}, nil
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.ds.Ping(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
