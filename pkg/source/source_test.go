package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gpuindex/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitError_Is(t *testing.T) {
	err := fmt.Errorf("fetch: %w", &RateLimitError{Status: 429})
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Contains(t, err.Error(), "429")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewStaticSource("vast", nil)))
	require.NoError(t, r.Register(NewStaticSource("aws", nil)))
	assert.Error(t, r.Register(NewStaticSource("aws", nil)), "duplicate slug")

	s, err := r.Get("vast")
	require.NoError(t, err)
	assert.Equal(t, "vast", s.Slug())

	_, err = r.Get("missing")
	assert.True(t, errors.Is(err, ErrUnknownSource))

	assert.Equal(t, []string{"aws", "vast"}, r.Slugs())
}

func TestStaticSource_Fetch(t *testing.T) {
	spot := 1.2
	s := NewStaticSource("lambda", []config.StaticOffer{
		{GPU: "h100-80gb", InstanceType: "gpu_8x_h100", GPUCount: 8, Price: 23.92, SpotPrice: &spot},
	})

	batch, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Offers, 1)
	assert.Equal(t, "lambda", batch.Offers[0].Provider)
	assert.NoError(t, Validate(&batch.Offers[0]))

	// callers may mutate the batch without affecting the next fetch
	batch.Offers[0].Price = 0
	again, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 23.92, again.Offers[0].Price, 1e-9)
}

func TestStaticSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStaticSource("x", nil).Fetch(ctx)
	assert.Error(t, err)
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := New(context.Background(), config.SourceConfig{Provider: "x", Type: "ftp"})
	assert.Error(t, err)

	_, err = New(context.Background(), config.SourceConfig{Type: TypeStatic})
	assert.Error(t, err, "provider required")
}

func TestNewRegistryFromConfig(t *testing.T) {
	registry, err := NewRegistryFromConfig(context.Background(), []config.SourceConfig{
		{Provider: "lambda", Type: TypeStatic},
		{Provider: "runpod", Type: TypeHTTPJSON, URL: "https://feeds.example.invalid/runpod.json"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"lambda", "runpod"}, registry.Slugs())

	_, err = NewRegistryFromConfig(context.Background(), []config.SourceConfig{
		{Provider: "lambda", Type: TypeStatic},
		{Provider: "lambda", Type: TypeStatic},
	})
	assert.Error(t, err)
}
