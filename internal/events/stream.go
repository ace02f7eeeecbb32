package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func channel(aggregateID string) string {
	return "events:aggregate:" + aggregateID
}

// RedisNotifier publishes events on a per-aggregate pub/sub channel.
type RedisNotifier struct {
	R *redis.Client
}

func (RedisNotifier) Name() string { return "redis" }

func (n RedisNotifier) Notify(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.R.Publish(ctx, channel(ev.AggregateID), data).Err()
}

// Stream delivers live events for a single aggregate from Redis pub/sub.
type Stream struct {
	R      *redis.Client
	Logger zerolog.Logger
	Buffer int
}

// Subscribe starts listening for events on aggregateID. The returned channel
// closes when ctx ends or the close func is called.
func (s Stream) Subscribe(ctx context.Context, aggregateID string) (<-chan Event, func(), error) {
	sub := s.R.Subscribe(ctx, channel(aggregateID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("events: subscribe: %w", err)
	}
	buffer := s.Buffer
	if buffer <= 0 {
		buffer = 16
	}
	out := make(chan Event, buffer)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.Logger.Warn().Err(err).Str("aggregate_id", aggregateID).Msg("drop malformed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
