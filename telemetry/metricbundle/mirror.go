// Package metricbundle agrupa los instrumentos de métricas de Mirror.
package metricbundle

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MirrorMetrics bundle de métricas del core de replicación.
//
// # Métricas de Conteo
//
//   - mirror.order.replicated: órdenes replicadas a followers (por resultado)
//   - mirror.order.cancelled: cancelaciones fan-out
//   - mirror.order.replaced: replaces fan-out
//   - mirror.locate.outcome: outcomes de LocateRecords (por estado final)
//   - mirror.shortsale.state: transiciones de short-sale tasks
//   - mirror.queue.enqueued: acciones encoladas por follower offline
//   - mirror.queue.replayed: acciones reproducidas tras reconexión
//
// # Métricas de Gauge-like
//
//   - mirror.queue.depth (histograma por tick del push loop)
type MirrorMetrics struct {
	OrderReplicated metric.Int64Counter
	OrderCancelled  metric.Int64Counter
	OrderReplaced   metric.Int64Counter
	LocateOutcome   metric.Int64Counter
	ShortSaleState  metric.Int64Counter
	QueueEnqueued   metric.Int64Counter
	QueueReplayed   metric.Int64Counter
	QueueDepth      metric.Float64Histogram
}

// NewMirrorMetrics crea los instrumentos sobre un meter.
//
// Retorna nil si el meter es nil (telemetría deshabilitada): todos los
// métodos Record* toleran receiver nil.
func NewMirrorMetrics(meter metric.Meter) (*MirrorMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &MirrorMetrics{}
	var err error

	if m.OrderReplicated, err = meter.Int64Counter("mirror.order.replicated",
		metric.WithDescription("Orders replicated to followers")); err != nil {
		return nil, err
	}
	if m.OrderCancelled, err = meter.Int64Counter("mirror.order.cancelled",
		metric.WithDescription("Follower order cancellations")); err != nil {
		return nil, err
	}
	if m.OrderReplaced, err = meter.Int64Counter("mirror.order.replaced",
		metric.WithDescription("Follower order replaces")); err != nil {
		return nil, err
	}
	if m.LocateOutcome, err = meter.Int64Counter("mirror.locate.outcome",
		metric.WithDescription("Locate replication outcomes by final status")); err != nil {
		return nil, err
	}
	if m.ShortSaleState, err = meter.Int64Counter("mirror.shortsale.state",
		metric.WithDescription("Short-sale task state transitions")); err != nil {
		return nil, err
	}
	if m.QueueEnqueued, err = meter.Int64Counter("mirror.queue.enqueued",
		metric.WithDescription("Actions queued while follower offline")); err != nil {
		return nil, err
	}
	if m.QueueReplayed, err = meter.Int64Counter("mirror.queue.replayed",
		metric.WithDescription("Queued actions replayed after reconnect")); err != nil {
		return nil, err
	}
	if m.QueueDepth, err = meter.Float64Histogram("mirror.queue.depth",
		metric.WithDescription("Pending queued actions observed per push tick")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordOrderReplicated registra una réplica de orden.
func (m *MirrorMetrics) RecordOrderReplicated(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.OrderReplicated == nil {
		return
	}
	m.OrderReplicated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOrderCancelled registra una cancelación fan-out.
func (m *MirrorMetrics) RecordOrderCancelled(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.OrderCancelled == nil {
		return
	}
	m.OrderCancelled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOrderReplaced registra un replace fan-out.
func (m *MirrorMetrics) RecordOrderReplaced(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.OrderReplaced == nil {
		return
	}
	m.OrderReplaced.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLocateOutcome registra el estado final de un LocateRecord.
func (m *MirrorMetrics) RecordLocateOutcome(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.LocateOutcome == nil {
		return
	}
	m.LocateOutcome.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordShortSaleState registra una transición de short-sale task.
func (m *MirrorMetrics) RecordShortSaleState(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.ShortSaleState == nil {
		return
	}
	m.ShortSaleState.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQueueEnqueued registra una acción encolada.
func (m *MirrorMetrics) RecordQueueEnqueued(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.QueueEnqueued == nil {
		return
	}
	m.QueueEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQueueReplayed registra una acción reproducida.
func (m *MirrorMetrics) RecordQueueReplayed(ctx context.Context, attrs ...attribute.KeyValue) {
	if m == nil || m.QueueReplayed == nil {
		return
	}
	m.QueueReplayed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQueueDepth registra la profundidad observada de la cola.
func (m *MirrorMetrics) RecordQueueDepth(ctx context.Context, depth float64, attrs ...attribute.KeyValue) {
	if m == nil || m.QueueDepth == nil {
		return
	}
	m.QueueDepth.Record(ctx, depth, metric.WithAttributes(attrs...))
}
