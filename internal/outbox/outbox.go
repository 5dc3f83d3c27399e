// Package outbox stores outgoing events next to the state change that
// produced them and relays them to the broker after the commit.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/tracing"
)

// Message is an event waiting to be published.
type Message struct {
	Topic    string
	Envelope events.Envelope
	// Headers carry the trace context of the unit that wrote the message.
	Headers map[string]string
}

// Record is a stored Message.
type Record struct {
	Message
	ID        int64
	CreatedAt time.Time
	SentAt    *time.Time
	Attempts  int
	LastError string
}

// New wraps p into a message on the topic its event type belongs to.
func New(ctx context.Context, producer string, p events.Payload) (Message, error) {
	env, err := events.Wrap(producer, p)
	if err != nil {
		return Message{}, err
	}
	env.TraceID = tracing.TraceID(ctx)
	return Message{
		Topic:    events.TopicFor(env.EventType),
		Envelope: env,
		Headers:  tracing.Carrier(ctx),
	}, nil
}

// PublishFunc hands one record to the broker.
type PublishFunc func(ctx context.Context, r Record) error

// Store is the read side used by the relay.
type Store interface {
	// Drain passes up to limit unsent records, oldest first, to publish and
	// marks the accepted ones sent. The first publish error stops the batch,
	// is recorded on its record and returned.
	Drain(ctx context.Context, limit int, publish PublishFunc) (sent int, err error)
}

// Queue is the in-memory outbox the MemStores embed. It is a value so a
// transaction can work on a Clone and drop it on rollback.
type Queue struct {
	records []Record
}

func (q Queue) Clone() Queue {
	return Queue{records: append([]Record(nil), q.records...)}
}

func (q *Queue) Add(msg Message) {
	q.records = append(q.records, Record{
		Message:   msg,
		ID:        int64(len(q.records) + 1),
		CreatedAt: time.Now().UTC(),
	})
}

// Records returns every message ever added, sent or not, in insert order.
func (q Queue) Records() []Record {
	return append([]Record(nil), q.records...)
}

func (q *Queue) Drain(ctx context.Context, limit int, publish PublishFunc) (int, error) {
	sent := 0
	for i := range q.records {
		if sent == limit {
			break
		}
		r := &q.records[i]
		if r.SentAt != nil {
			continue
		}
		r.Attempts++
		if err := publish(ctx, *r); err != nil {
			r.LastError = err.Error()
			return sent, fmt.Errorf("relay %s #%d: %w", r.Envelope.EventType, r.ID, err)
		}
		now := time.Now().UTC()
		r.SentAt = &now
		r.LastError = ""
		sent++
	}
	return sent, nil
}
