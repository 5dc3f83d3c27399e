package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/tracing"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes envelopes synchronously: Publish returns only after the
// broker acknowledged (RequireAll) or failed, so the outbox relay marks a
// record sent only once it is durable.
type Producer struct {
	// Topics maps the logical topics in events to broker topic names.
	// Topics without an entry are written as is.
	Topics map[string]string

	w       Writer
	service string
	log     *zap.Logger
}

func NewProducer(brokers []string, service string, log *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, service, log)
}

func NewProducerWithWriter(w Writer, service string, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{w: w, service: service, log: log}
}

func (p *Producer) Publish(ctx context.Context, topic string, env events.Envelope) error {
	if t, ok := p.Topics[topic]; ok {
		topic = t
	}
	if env.TraceID == "" {
		env.TraceID = tracing.TraceID(ctx)
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	headers := tracing.InjectKafkaHeaders(ctx, []kafka.Header{
		{Key: HeaderEventType, Value: []byte(env.EventType)},
		{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	})

	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     events.PartitionKey(env.CorrelationID),
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(p.service, env.EventType, "error").Inc()
		p.log.Error("publish failed",
			zap.Bool("alert", true),
			zap.String("topic", topic),
			zap.String("event_type", env.EventType),
			zap.String("order_id", env.CorrelationID),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s to %s: %w", env.EventType, topic, err)
	}
	metrics.EventsPublished.WithLabelValues(p.service, env.EventType, "ok").Inc()
	p.log.Debug("published",
		zap.String("topic", topic),
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("order_id", env.CorrelationID),
	)
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }
