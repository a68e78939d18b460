package source

import (
	"context"
	"fmt"
	"time"

	"gpuindex/pkg/config"
)

// Source types accepted in configuration
const (
	TypeHTTPJSON = "httpjson"
	TypeAWSEC2   = "awsec2"
	TypeStatic   = "static"
)

// New builds a source from its configuration entry
func New(ctx context.Context, cfg config.SourceConfig) (Source, error) {
	if cfg.Provider == "" {
		return nil, fmt.Errorf("source of type %q has no provider", cfg.Type)
	}

	switch cfg.Type {
	case TypeHTTPJSON:
		return NewHTTPJSONSource(HTTPJSONOptions{
			Provider:          cfg.Provider,
			URL:               cfg.URL,
			Headers:           cfg.Headers,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	case TypeAWSEC2:
		client, err := NewEC2Client(ctx, cfg.Region, cfg.AccessKeyID, cfg.SecretAccessKey)
		if err != nil {
			return nil, err
		}
		return NewEC2Source(client, EC2Options{
			Provider:       cfg.Provider,
			Region:         cfg.Region,
			OnDemandPrices: cfg.OnDemandPrices,
			GPUAliases:     cfg.GPUAliases,
		}), nil
	case TypeStatic:
		return NewStaticSource(cfg.Provider, cfg.Offers), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q for provider %s", cfg.Type, cfg.Provider)
	}
}

// NewRegistryFromConfig builds every configured source
func NewRegistryFromConfig(ctx context.Context, sources []config.SourceConfig) (*Registry, error) {
	registry := NewRegistry()
	for _, sc := range sources {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		s, err := New(initCtx, sc)
		cancel()
		if err != nil {
			return nil, err
		}
		if err := registry.Register(s); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
