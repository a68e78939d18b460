package realtime

import (
	"context"
	"encoding/json"

	"gpuindex/internal/model"
	"gpuindex/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const eventChannel = "gpuindex:events"

// Publisher emits ops events. Publishing never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, event *model.Event)
}

// RedisPublisher publishes events on a Redis channel so every API replica sees
// events produced by workers
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis backed publisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends the event as JSON
func (p *RedisPublisher) Publish(ctx context.Context, event *model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.WarnCtx(ctx, "failed to marshal %s event: %v", event.Type, err)
		return
	}
	if err := p.client.Publish(ctx, eventChannel, data).Err(); err != nil {
		logger.WarnCtx(ctx, "failed to publish %s event: %v", event.Type, err)
	}
}

// Relay subscribes to the event channel and forwards events into the hub
// until ctx is done
func Relay(ctx context.Context, client *redis.Client, hub *Hub) {
	sub := client.Subscribe(ctx, eventChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.WarnCtx(ctx, "dropping malformed event: %v", err)
				continue
			}
			hub.Publish(ctx, &event)
		}
	}
}

// Fanout delivers each event to every publisher in order
type Fanout []Publisher

// Publish forwards the event to all publishers
func (f Fanout) Publish(ctx context.Context, event *model.Event) {
	for _, p := range f {
		p.Publish(ctx, event)
	}
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(context.Context, *model.Event) {}

var (
	_ Publisher = (*RedisPublisher)(nil)
	_ Publisher = (*Hub)(nil)
	_ Publisher = Fanout(nil)
	_ Publisher = NopPublisher{}
)
