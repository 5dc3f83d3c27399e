package redisx

import "time"

const (
	// idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order:{order_id} -> JSON order, dropped on every status change
	KeyOrder = "order:%s"

	// dedup:{service}:{event_id}, written after the event was handled
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
