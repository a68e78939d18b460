package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gpuindex/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	triggerHashKey = "gpuindex:triggers" // provider slug -> trigger JSON
)

// TriggerRepository is the registry of per-provider schedule triggers.
// Entries have no TTL; the scheduler reconciles them against the database.
type TriggerRepository struct {
	redis *redis.Client
}

// NewTriggerRepository creates trigger repository
func NewTriggerRepository(redisClient *RedisClient) *TriggerRepository {
	return &TriggerRepository{
		redis: redisClient.GetClient(),
	}
}

// Get returns the trigger for a provider, or nil if none is registered
func (r *TriggerRepository) Get(ctx context.Context, slug string) (*model.Trigger, error) {
	data, err := r.redis.HGet(ctx, triggerHashKey, slug).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger %s: %w", slug, err)
	}

	var t model.Trigger
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger %s: %w", slug, err)
	}
	return &t, nil
}

// List returns every registered trigger ordered by provider slug
func (r *TriggerRepository) List(ctx context.Context) ([]*model.Trigger, error) {
	entries, err := r.redis.HGetAll(ctx, triggerHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}

	triggers := make([]*model.Trigger, 0, len(entries))
	for slug, data := range entries {
		var t model.Trigger
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger %s: %w", slug, err)
		}
		triggers = append(triggers, &t)
	}

	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].ProviderSlug < triggers[j].ProviderSlug
	})
	return triggers, nil
}

// Save stores or replaces a trigger
func (r *TriggerRepository) Save(ctx context.Context, t *model.Trigger) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}
	if err := r.redis.HSet(ctx, triggerHashKey, t.ProviderSlug, data).Err(); err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", t.ProviderSlug, err)
	}
	return nil
}

// Delete removes a trigger and reports whether it existed
func (r *TriggerRepository) Delete(ctx context.Context, slug string) (bool, error) {
	n, err := r.redis.HDel(ctx, triggerHashKey, slug).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete trigger %s: %w", slug, err)
	}
	return n > 0, nil
}
