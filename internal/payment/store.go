package payment

import (
	"context"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

type Reader interface {
	ByOrderID(ctx context.Context, orderID uuid.UUID) (Payment, bool, error)
}

type Tx interface {
	Reader
	// Insert creates p unless its order already has a payment; inserted is
	// false in that case and nothing is written.
	Insert(ctx context.Context, p Payment) (inserted bool, err error)
	// Finish stores the final status, reason and processed-at of p.
	Finish(ctx context.Context, p Payment) error
	// Enqueue adds msg to the outbox; it is relayed only if the unit commits.
	Enqueue(ctx context.Context, msg outbox.Message) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
