// Package eventstest provides an in-memory events.Publisher for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-saga-orders/internal/events"
)

type Published struct {
	Topic    string
	Envelope events.Envelope
}

// Recorder records every envelope it is asked to publish. After SetErr
// Publish fails with it and records nothing.
type Recorder struct {
	mu   sync.Mutex
	err  error
	msgs []Published
}

func (r *Recorder) Publish(_ context.Context, topic string, env events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, Published{Topic: topic, Envelope: env})
	return nil
}

func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) All() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.msgs...)
}

// OfType returns the recorded envelopes with the given event type.
func (r *Recorder) OfType(eventType string) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, m := range r.msgs {
		if m.Envelope.EventType == eventType {
			out = append(out, m.Envelope)
		}
	}
	return out
}

// Envelope wraps p for feeding a handler directly; it panics on invalid p.
func Envelope(producer string, p events.Payload) events.Envelope {
	env, err := events.Wrap(producer, p)
	if err != nil {
		panic(err)
	}
	return env
}
