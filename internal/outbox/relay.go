package outbox

import (
	"context"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/tracing"
	"go.uber.org/zap"
)

const (
	DefaultInterval  = 500 * time.Millisecond
	DefaultBatchSize = 100
)

// Relay moves committed outbox records to the broker. Delivery is
// at-least-once: a record whose sent mark is lost is published again with
// the same event id.
type Relay struct {
	Store     Store
	Publisher events.Publisher
	Log       *zap.Logger
	Service   string
	Interval  time.Duration
	BatchSize int
}

func (r *Relay) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Relay) batch() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	r.log().Info("outbox relay started", zap.Duration("interval", interval))
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			r.log().Warn("outbox relay", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Flush publishes batches until the outbox is empty or a publish fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.Store.Drain(ctx, r.batch(), r.publish)
		total += n
		if err != nil || n < r.batch() {
			return total, err
		}
	}
}

func (r *Relay) publish(ctx context.Context, rec Record) error {
	err := r.Publisher.Publish(tracing.FromCarrier(ctx, rec.Headers), rec.Topic, rec.Envelope)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.OutboxRelayed.WithLabelValues(r.Service, rec.Envelope.EventType, result).Inc()
	if err == nil {
		r.log().Debug("outbox record relayed",
			zap.Int64("outbox_id", rec.ID),
			zap.String("event_type", rec.Envelope.EventType),
			zap.String("order_id", rec.Envelope.CorrelationID),
		)
	}
	return err
}
