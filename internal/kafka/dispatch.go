package kafka

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/tracing"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventHandler is what a coordinator exposes to the transport.
type EventHandler interface {
	Handle(ctx context.Context, env events.Envelope) error
}

type EventHandlerFunc func(ctx context.Context, env events.Envelope) error

func (f EventHandlerFunc) Handle(ctx context.Context, env events.Envelope) error { return f(ctx, env) }

// Deduper remembers event ids a service already processed successfully.
type Deduper interface {
	Seen(ctx context.Context, service, eventID string) (bool, error)
	Mark(ctx context.Context, service, eventID string) error
}

// Dispatch adapts a coordinator to a consumer Handler. It decodes the
// envelope, skips events the deduper has seen, runs the coordinator inside
// a consumer span and marks the event as processed only after success.
//
// Events that can never be processed (events.ErrInvalidEvent) are logged and
// acknowledged; any other error is returned so the message is redelivered.
func Dispatch(service string, h EventHandler, dedup Deduper, log *zap.Logger) Handler {
	if log == nil {
		log = zap.NewNop()
	}
	tracer := tracing.Tracer("github.com/ariefcatur/go-saga-orders/internal/kafka")

	return func(ctx context.Context, m kafka.Message) error {
		env, err := events.Decode(m.Value)
		if err != nil {
			metrics.EventsConsumed.WithLabelValues(service, "unknown", "rejected").Inc()
			log.Error("dropping undecodable message",
				zap.Bool("alert", true),
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			return nil
		}

		if dedup != nil {
			seen, err := dedup.Seen(ctx, service, env.EventID)
			if err != nil {
				log.Warn("dedup lookup failed", zap.String("event_id", env.EventID), zap.Error(err))
			}
			if seen {
				metrics.EventsConsumed.WithLabelValues(service, env.EventType, "duplicate").Inc()
				return nil
			}
		}

		ctx = tracing.ExtractKafkaHeaders(ctx, m.Headers)
		ctx, span := tracer.Start(ctx, "consume "+env.EventType,
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("order.id", env.CorrelationID),
				attribute.String("event.id", env.EventID),
				attribute.String("messaging.destination", m.Topic),
				attribute.Int("messaging.kafka.partition", m.Partition),
				attribute.Int64("messaging.kafka.offset", m.Offset),
			),
		)
		defer span.End()

		if err := h.Handle(ctx, env); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if errors.Is(err, events.ErrInvalidEvent) {
				metrics.EventsConsumed.WithLabelValues(service, env.EventType, "rejected").Inc()
				log.Error("dropping invalid event",
					zap.Bool("alert", true),
					zap.String("event_id", env.EventID),
					zap.String("event_type", env.EventType),
					zap.Error(err),
				)
				return nil
			}
			metrics.EventsConsumed.WithLabelValues(service, env.EventType, "error").Inc()
			return err
		}

		metrics.EventsConsumed.WithLabelValues(service, env.EventType, "ok").Inc()
		if dedup != nil {
			if err := dedup.Mark(ctx, service, env.EventID); err != nil {
				log.Warn("dedup mark failed", zap.String("event_id", env.EventID), zap.Error(err))
			}
		}
		return nil
	}
}
