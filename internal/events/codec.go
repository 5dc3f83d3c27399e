package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Wrap validates p and puts it in a fresh v1 envelope.
func Wrap(producer string, p Payload) (Envelope, error) {
	if err := p.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%s: %w", p.EventType(), err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", p.EventType(), err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     p.EventType(),
		EventVersion:  Version,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: p.Key().String(),
		Payload:       b,
	}, nil
}

// Decode parses a raw message value into an envelope.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("%w: decode envelope: %v", ErrInvalidEvent, err)
	}
	if env.EventType == "" {
		return env, fmt.Errorf("%w: missing event_type", ErrInvalidEvent)
	}
	return env, nil
}

// Unwrap memudahkan decode payload spesifik. The payload is validated the
// same way the constructors do; a missing timestamp falls back to the
// envelope's publication time.
func Unwrap[T Payload](env Envelope) (T, error) {
	var t T
	if env.EventType != t.EventType() {
		return t, fmt.Errorf("%w: want %s, got %s", ErrInvalidEvent, t.EventType(), env.EventType)
	}
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("%w: decode payload: %v", ErrInvalidEvent, err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, env.EventType, err)
	}
	return withTimestamp(t, env.OccurredAt), nil
}

type stamper interface{ stampDefault(at time.Time) }

func withTimestamp[T Payload](t T, at time.Time) T {
	var p any = &t
	if s, ok := p.(stamper); ok {
		s.stampDefault(at)
	}
	return t
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
