package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper records processed event ids. It is a shortcut only: coordinators
// stay idempotent on their own, so a lost marker means a harmless replay.
type Deduper struct {
	RDB redis.Cmdable
}

func (d *Deduper) Seen(ctx context.Context, service, eventID string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, service, eventID))
}

func (d *Deduper) Mark(ctx context.Context, service, eventID string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, service, eventID), 1, TTLDedup).Err()
}
