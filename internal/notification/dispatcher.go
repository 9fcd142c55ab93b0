package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pantry-store/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DispatcherConfig sizes the worker pool and queue.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Dispatcher fans events out to a Notifier on a fixed pool of workers.
// Dispatch never blocks; events that do not fit in the queue are dropped.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *zap.Logger
	metrics  *metrics.NotificationMetrics

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	group  errgroup.Group
}

// NewDispatcher starts cfg.Workers workers delivering to notifier.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, logger *zap.Logger, m *metrics.NotificationMetrics) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		queue:    make(chan Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.group.Go(d.work)
	}
	return d
}

// Dispatch enqueues event and reports whether it was accepted.
func (d *Dispatcher) Dispatch(event Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(event, "dispatcher closed")
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		d.drop(event, "queue full")
		return false
	}
}

// Close stops accepting events and waits for queued ones to be delivered,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notification queue not drained: %w", ctx.Err())
	}
}

func (d *Dispatcher) work() error {
	for event := range d.queue {
		d.deliver(event)
	}
	return nil
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.Inc(string(event.Type), metrics.OutcomeFailed)
			d.logger.Error("Notifier panicked",
				zap.String("event_id", event.ID.String()),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := d.notifier.Notify(ctx, event); err != nil {
		d.metrics.Inc(string(event.Type), metrics.OutcomeFailed)
		d.logger.Error("Failed to deliver notification",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("order_number", orderNumber(event)),
			zap.Error(err),
		)
		return
	}

	d.metrics.Inc(string(event.Type), metrics.OutcomeDelivered)
}

func (d *Dispatcher) drop(event Event, reason string) {
	d.metrics.Inc(string(event.Type), metrics.OutcomeDropped)
	d.logger.Warn("Dropping notification",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("order_number", orderNumber(event)),
		zap.String("reason", reason),
	)
}

func orderNumber(event Event) string {
	if event.Order == nil {
		return ""
	}
	return event.Order.OrderNumber
}
