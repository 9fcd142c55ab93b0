package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier delivers a single event. Implementations must be safe for
// concurrent use by the dispatcher's workers.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// RedisNotifier appends event envelopes to a Redis list drained by the
// email and invoice workers.
type RedisNotifier struct {
	client redis.Cmdable
	list   string
}

// NewRedisNotifier creates a notifier that RPUSHes onto list.
func NewRedisNotifier(client redis.Cmdable, list string) *RedisNotifier {
	return &RedisNotifier{client: client, list: list}
}

// Notify pushes the event envelope onto the configured list.
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.envelope())
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.client.RPush(ctx, n.list, payload).Err(); err != nil {
		return fmt.Errorf("failed to push event to %s: %w", n.list, err)
	}
	return nil
}

// LogNotifier only logs events. Used in development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs events.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
	}
	if event.Order != nil {
		fields = append(fields,
			zap.String("order_number", event.Order.OrderNumber),
			zap.String("status", string(event.Order.Status)),
			zap.String("total", event.Order.Total.StringFixed(2)),
		)
	}
	n.logger.Info("Notification event", fields...)
	return nil
}
