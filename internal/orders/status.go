package orders

import "github.com/ariefcatur/go-saga-orders/internal/events"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// transitions: current status -> event type -> next status.
var transitions = map[Status]map[string]Status{
	StatusPending: {
		events.TypeInventoryReserved:          StatusProcessing,
		events.TypeInventoryReservationFailed: StatusCancelled,
	},
	StatusProcessing: {
		events.TypePaymentProcessed: StatusCompleted,
		events.TypePaymentFailed:    StatusCancelled,
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusFailed:    {},
}

// Next returns the status an order moves to when eventType arrives in
// status from. ok is false when the event must be ignored.
func Next(from Status, eventType string) (to Status, ok bool) {
	to, ok = transitions[from][eventType]
	return to, ok
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}
