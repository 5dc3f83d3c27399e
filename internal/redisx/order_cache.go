package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OrderCache implements orders.Cache. Redis errors are logged and treated
// as a miss; Postgres stays the source of truth.
type OrderCache struct {
	RDB redis.Cmdable
	Log *zap.Logger
}

var _ orders.Cache = (*OrderCache)(nil)

func (c *OrderCache) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *OrderCache) OrderIDForKey(ctx context.Context, key string) (uuid.UUID, bool) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if err != nil {
		c.miss("idempotency key lookup", err)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		c.log().Warn("bad order id in idempotency cache", zap.String("value", s))
		return uuid.Nil, false
	}
	return id, true
}

func (c *OrderCache) RememberKey(ctx context.Context, key string, id uuid.UUID) {
	// SETNX: key pertama yang menang
	if err := c.RDB.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), id.String(), TTLIdempotency).Err(); err != nil {
		c.log().Warn("remember idempotency key", zap.Error(err))
	}
}

func (c *OrderCache) Order(ctx context.Context, id uuid.UUID) (orders.Order, bool) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if err != nil {
		c.miss("order lookup", err)
		return orders.Order{}, false
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		c.log().Warn("bad cached order", zap.String("order_id", id.String()), zap.Error(err))
		return orders.Order{}, false
	}
	return o, true
}

func (c *OrderCache) StoreOrder(ctx context.Context, o orders.Order) {
	b, err := json.Marshal(o)
	if err != nil {
		c.log().Warn("encode order for cache", zap.Error(err))
		return
	}
	if err := c.RDB.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err(); err != nil {
		c.log().Warn("cache order", zap.String("order_id", o.ID.String()), zap.Error(err))
	}
}

func (c *OrderCache) Forget(ctx context.Context, id uuid.UUID) {
	if err := c.RDB.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err(); err != nil {
		c.log().Warn("evict cached order", zap.String("order_id", id.String()), zap.Error(err))
	}
}

func (c *OrderCache) miss(op string, err error) {
	if errors.Is(err, redis.Nil) {
		return
	}
	c.log().Warn("redis "+op, zap.Error(err))
}
