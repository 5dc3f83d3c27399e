// Package sagatest runs the three coordinators against in-memory stores and
// an in-process bus that carries the same JSON messages Kafka would.
package sagatest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	kafkax "github.com/ariefcatur/go-saga-orders/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

const maxAttempts = 3

type subscriber struct {
	group string
	h     kafkax.Handler
}

// Bus is an events.Publisher with FIFO delivery. Messages are queued by
// Publish and handed to every subscribed group by Drain.
type Bus struct {
	// Duplicate enqueues every message twice, as an at-least-once broker may.
	Duplicate bool

	mu        sync.Mutex
	queue     []kafkago.Message
	subs      map[string][]subscriber
	published []events.Envelope
	offset    int64
}

func (b *Bus) Subscribe(group string, h kafkax.Handler, topics ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = map[string][]subscriber{}
	}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], subscriber{group: group, h: h})
	}
}

func (b *Bus) Publish(_ context.Context, topic string, env events.Envelope) error {
	v, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	n := 1
	if b.Duplicate {
		n = 2
	}
	for range n {
		b.offset++
		b.queue = append(b.queue, kafkago.Message{
			Topic:  topic,
			Key:    events.PartitionKey(env.CorrelationID),
			Value:  v,
			Offset: b.offset,
		})
	}
	return nil
}

// Drain delivers until the queue is empty. A handler error is retried in
// place; after maxAttempts Drain gives up and returns it.
func (b *Bus) Drain(ctx context.Context) error {
	for {
		m, subs, ok := b.next()
		if !ok {
			return nil
		}
		for _, s := range subs {
			var err error
			for range maxAttempts {
				if err = s.h(ctx, m); err == nil {
					break
				}
			}
			if err != nil {
				return fmt.Errorf("%s on %s offset %d: %w", s.group, m.Topic, m.Offset, err)
			}
		}
	}
}

func (b *Bus) next() (kafkago.Message, []subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return kafkago.Message{}, nil, false
	}
	m := b.queue[0]
	b.queue = b.queue[1:]
	return m, append([]subscriber(nil), b.subs[m.Topic]...), true
}

// Published lists every envelope in publish order, without duplicates.
func (b *Bus) Published() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Envelope(nil), b.published...)
}

// Types is Published reduced to event types for the given order.
func (b *Bus) Types(orderID string) []string {
	var out []string
	for _, e := range b.Published() {
		if e.CorrelationID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}
