package orders

import "errors"

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrNotFound     = errors.New("order not found")
	// ErrDuplicateKey is returned by Tx.Insert when another order already
	// holds the idempotency key.
	ErrDuplicateKey = errors.New("idempotency key already used")
	// ErrStaleStatus is returned when the status changed under a transition.
	ErrStaleStatus = errors.New("order status changed concurrently")
)
