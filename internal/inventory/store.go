package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

type Reader interface {
	Product(ctx context.Context, id uuid.UUID) (Product, bool, error)
	Products(ctx context.Context) ([]Product, error)
	// Reservations returns every reservation of the order, any status.
	Reservations(ctx context.Context, orderID uuid.UUID) ([]Reservation, error)
}

type Tx interface {
	Reader
	// SetStock writes stock only if the product is still at version and
	// bumps the version. ok is false on a version mismatch.
	SetStock(ctx context.Context, id uuid.UUID, stock int, version int64) (ok bool, err error)
	InsertReservation(ctx context.Context, r Reservation) error
	SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error
	// Enqueue adds msg to the outbox; it is relayed only if the unit commits.
	Enqueue(ctx context.Context, msg outbox.Message) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
