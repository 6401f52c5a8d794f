package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/tabnova/internal/storage"
	"github.com/redis/go-redis/v9"
)

var appendEvent = redis.NewScript(appendEventScript)

type eventLog struct {
	client *redis.Client
	keys   keys
}

// Append pushes an event onto the capped list and notifies watchers
func (l *eventLog) Append(ctx context.Context, event storage.ThresholdEvent, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid event log capacity: %d", capacity)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold event: %w", err)
	}

	if err := appendEvent.Run(ctx, l.client, []string{l.keys.key(keyThresholdEvents)}, string(payload), capacity).Err(); err != nil {
		return fmt.Errorf("failed to append threshold event: %w", err)
	}

	// The event is durable at this point; a lost wakeup is covered by polling
	_ = l.client.Publish(ctx, l.keys.key(keyThresholdNotify), "1").Err()

	return nil
}

// Drain returns every retained event, oldest first
func (l *eventLog) Drain(ctx context.Context) ([]storage.ThresholdEvent, error) {
	entries, err := l.client.LRange(ctx, l.keys.key(keyThresholdEvents), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	events := make([]storage.ThresholdEvent, 0, len(entries))
	for _, raw := range entries {
		event, err := parseThresholdEvent(raw)
		if err != nil {
			continue
		}
		events = append(events, *event)
	}

	return events, nil
}

// Checkpoint returns the newest folded event of a package
func (l *eventLog) Checkpoint(ctx context.Context, packageID string) (*storage.ThresholdEvent, error) {
	raw, err := l.client.HGet(ctx, l.keys.key(keyThresholdCheckpoints), packageID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return parseThresholdEvent(raw)
}

// SetCheckpoint stores the newest folded event of a package
func (l *eventLog) SetCheckpoint(ctx context.Context, event storage.ThresholdEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	if err := l.client.HSet(ctx, l.keys.key(keyThresholdCheckpoints), event.PackageID, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to store checkpoint: %w", err)
	}
	return nil
}

// Watch subscribes to append notifications from any process
func (l *eventLog) Watch(ctx context.Context) (<-chan struct{}, error) {
	pubsub := l.client.Subscribe(ctx, l.keys.key(keyThresholdNotify))

	// Wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to event notifications: %w", err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				// Coalesce bursts into a single wakeup
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out, nil
}
