package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_consumed_total",
			Help: "Events handled by a coordinator, by result",
		},
		[]string{"service", "event_type", "result"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_published_total",
			Help: "Events written to the broker, by result",
		},
		[]string{"service", "event_type", "result"},
	)

	OutboxRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_outbox_relayed_total",
			Help: "Outbox records handed to the broker by the relay, by result",
		},
		[]string{"service", "event_type", "result"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"from", "to"},
	)

	IgnoredEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_ignored_events_total",
			Help: "Events that arrived while the order was in a state that does not accept them",
		},
		[]string{"event_type", "status"},
	)

	Reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Reservation outcomes",
		},
		[]string{"result"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payments by final status",
		},
		[]string{"status"},
	)
)
