package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

// Reader lookups report absence through the bool, not an error.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (Order, bool, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error)
}

type Tx interface {
	Reader
	// Insert stores a new order with its items. ErrDuplicateKey when the
	// idempotency key is taken.
	Insert(ctx context.Context, o Order) error
	// UpdateStatus moves id from -> to. ok is false when the stored status
	// is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (ok bool, err error)
	// Enqueue adds msg to the outbox; it is relayed only if the unit commits.
	Enqueue(ctx context.Context, msg outbox.Message) error
}

type Store interface {
	Reader
	// InTx runs fn atomically: everything fn wrote is discarded when it
	// returns an error.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Cache is the optional read-through/idempotency shortcut in front of the
// store. Implementations swallow their own failures.
type Cache interface {
	OrderIDForKey(ctx context.Context, key string) (uuid.UUID, bool)
	RememberKey(ctx context.Context, key string, id uuid.UUID)
	Order(ctx context.Context, id uuid.UUID) (Order, bool)
	StoreOrder(ctx context.Context, o Order)
	Forget(ctx context.Context, id uuid.UUID)
}
