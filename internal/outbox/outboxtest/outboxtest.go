// Package outboxtest reads back what a unit of work wrote to its outbox.
package outboxtest

import (
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
)

// Envelopes returns the envelopes of rs in insert order.
func Envelopes(rs []outbox.Record) []events.Envelope {
	out := make([]events.Envelope, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Envelope)
	}
	return out
}

// OfType returns the envelopes of rs with the given event type.
func OfType(rs []outbox.Record, eventType string) []events.Envelope {
	var out []events.Envelope
	for _, r := range rs {
		if r.Envelope.EventType == eventType {
			out = append(out, r.Envelope)
		}
	}
	return out
}
