package queue

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dgnsrekt/voxline/queue"

type metrics struct {
	processedCounter metric.Int64Counter
	failedCounter    metric.Int64Counter
	discardedCounter metric.Int64Counter
	depth            metric.Registration
	logger           *slog.Logger
}

// newMetrics registers the queue instruments on meter, or on the global
// meter provider when meter is nil. Instrument errors are logged and leave
// the instrument as a no-op.
func newMetrics(q *Queue, meter metric.Meter, logger *slog.Logger) *metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	m := &metrics{logger: logger}

	var err error
	if m.processedCounter, err = meter.Int64Counter("voxline.queue.items.processed",
		metric.WithDescription("Items handled by the worker")); err != nil {
		logger.Warn("failed to create metric", "name", "items.processed", "error", err)
	}
	if m.failedCounter, err = meter.Int64Counter("voxline.queue.items.failed",
		metric.WithDescription("Items whose handler returned an error")); err != nil {
		logger.Warn("failed to create metric", "name", "items.failed", "error", err)
	}
	if m.discardedCounter, err = meter.Int64Counter("voxline.queue.items.discarded",
		metric.WithDescription("Pending items removed by cancellation")); err != nil {
		logger.Warn("failed to create metric", "name", "items.discarded", "error", err)
	}

	depth, err := meter.Int64ObservableGauge("voxline.queue.depth",
		metric.WithDescription("Items waiting for the worker"))
	if err != nil {
		logger.Warn("failed to create metric", "name", "queue.depth", "error", err)
		return m
	}
	m.depth, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(q.Len()))
		return nil
	}, depth)
	if err != nil {
		logger.Warn("failed to register metric callback", "name", "queue.depth", "error", err)
	}
	return m
}

// close unregisters the depth callback so a stopped queue is no longer
// observed.
func (m *metrics) close() {
	if m.depth == nil {
		return
	}
	if err := m.depth.Unregister(); err != nil {
		m.logger.Warn("failed to unregister metric callback", "name", "queue.depth", "error", err)
	}
	m.depth = nil
}

func (m *metrics) processed(item *Item) {
	if m.processedCounter != nil {
		m.processedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", item.Kind())))
	}
}

func (m *metrics) failed(item *Item) {
	if m.failedCounter != nil {
		m.failedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", item.Kind())))
	}
}

func (m *metrics) discarded(n int) {
	if m.discardedCounter != nil && n > 0 {
		m.discardedCounter.Add(context.Background(), int64(n))
	}
}
