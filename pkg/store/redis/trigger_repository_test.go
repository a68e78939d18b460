package redis

import (
	"context"
	"testing"
	"time"

	"gpuindex/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTriggerRepository(t *testing.T) (*TriggerRepository, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTriggerRepository(NewRedisClientFrom(client)), mr
}

func TestTriggerRepository_SaveAndGet(t *testing.T) {
	repo, _ := newTestTriggerRepository(t)
	ctx := context.Background()

	trigger := &model.Trigger{
		ProviderSlug:    "lambda",
		IntervalSeconds: 3600,
		OffsetSeconds:   1234,
		UpdatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, trigger))

	got, err := repo.Get(ctx, "lambda")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3600), got.IntervalSeconds)
	assert.Equal(t, time.Hour, got.Interval())
	assert.Equal(t, 1234*time.Second, got.Offset())
	assert.True(t, got.SameSchedule(trigger))
}

func TestTriggerRepository_GetMissing(t *testing.T) {
	repo, _ := newTestTriggerRepository(t)

	got, err := repo.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestTriggerRepository_ListSorted(t *testing.T) {
	repo, _ := newTestTriggerRepository(t)
	ctx := context.Background()

	for _, slug := range []string{"vast", "aws", "lambda"} {
		require.NoError(t, repo.Save(ctx, &model.Trigger{ProviderSlug: slug, IntervalSeconds: 3600}))
	}

	triggers, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, triggers, 3)
	assert.Equal(t, "aws", triggers[0].ProviderSlug)
	assert.Equal(t, "lambda", triggers[1].ProviderSlug)
	assert.Equal(t, "vast", triggers[2].ProviderSlug)
}

func TestTriggerRepository_Delete(t *testing.T) {
	repo, mr := newTestTriggerRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Trigger{ProviderSlug: "aws", IntervalSeconds: 3600}))

	existed, err := repo.Delete(ctx, "aws")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.False(t, mr.Exists(triggerHashKey))

	existed, err = repo.Delete(ctx, "aws")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTriggerRepository_CorruptEntry(t *testing.T) {
	repo, mr := newTestTriggerRepository(t)

	mr.HSet(triggerHashKey, "broken", "{not json")

	_, err := repo.Get(context.Background(), "broken")
	assert.Error(t, err)

	_, err = repo.List(context.Background())
	assert.Error(t, err)
}
