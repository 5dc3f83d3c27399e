package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Coordinator owns the order aggregate: it starts the saga and moves orders
// through their lifecycle as inventory and payment outcomes arrive.
type Coordinator struct {
	Store   Store
	Cache   Cache // optional
	Log     *zap.Logger
	Service string
}

type ItemInput struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type CreateInput struct {
	CustomerID     uuid.UUID   `json:"customer_id"`
	Items          []ItemInput `json:"items"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

func (in CreateInput) validate() error {
	if in.CustomerID == uuid.Nil {
		return fmt.Errorf("%w: customer_id is required", ErrInvalidOrder)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrInvalidOrder)
	}
	for i, it := range in.Items {
		switch {
		case it.ProductID == uuid.Nil:
			return fmt.Errorf("%w: items[%d].product_id is required", ErrInvalidOrder, i)
		case strings.TrimSpace(it.ProductName) == "":
			return fmt.Errorf("%w: items[%d].product_name is required", ErrInvalidOrder, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrInvalidOrder, i)
		case !it.UnitPrice.IsPositive():
			return fmt.Errorf("%w: items[%d].unit_price must be positive", ErrInvalidOrder, i)
		case !it.UnitPrice.Equal(it.UnitPrice.Round(2)):
			return fmt.Errorf("%w: items[%d].unit_price has more than 2 decimal places", ErrInvalidOrder, i)
		}
	}
	return nil
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Create starts a saga. With an idempotency key that was already used it
// returns the existing order and created=false without emitting again.
// The order row and its OrderCreated outbox record commit together.
func (c *Coordinator) Create(ctx context.Context, in CreateInput) (o Order, created bool, err error) {
	if err := in.validate(); err != nil {
		return Order{}, false, err
	}
	if in.IdempotencyKey != "" {
		if existing, ok, err := c.byKey(ctx, in.IdempotencyKey); err != nil || ok {
			return existing, false, err
		}
	}

	now := time.Now().UTC()
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, Item(it))
	}
	o = Order{
		ID:             uuid.New(),
		CustomerID:     in.CustomerID,
		Status:         StatusPending,
		TotalAmount:    Total(items),
		Items:          items,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	evItems := make([]events.Item, 0, len(items))
	for _, it := range items {
		evItems = append(evItems, events.Item(it))
	}
	payload, err := events.NewOrderCreated(o.ID, o.CustomerID, o.TotalAmount, evItems)
	if err != nil {
		return Order{}, false, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	msg, err := outbox.New(ctx, c.Service, payload)
	if err != nil {
		return Order{}, false, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	err = c.Store.InTx(ctx, func(tx Tx) error {
		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		return tx.Enqueue(ctx, msg)
	})
	switch {
	case errors.Is(err, ErrDuplicateKey):
		// kalah race dengan request lain yang pakai key sama
		existing, ok, lerr := c.Store.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if lerr != nil {
			return Order{}, false, lerr
		}
		if !ok {
			return Order{}, false, fmt.Errorf("order for idempotency key %q vanished", in.IdempotencyKey)
		}
		return existing, false, nil
	case err != nil:
		return Order{}, false, err
	}

	if c.Cache != nil && o.IdempotencyKey != "" {
		c.Cache.RememberKey(ctx, o.IdempotencyKey, o.ID)
	}
	c.log().Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("customer_id", o.CustomerID.String()),
		zap.String("total", o.TotalAmount.StringFixed(2)),
		zap.Int("items", len(o.Items)),
	)
	return o, true, nil
}

func (c *Coordinator) byKey(ctx context.Context, key string) (Order, bool, error) {
	if c.Cache != nil {
		if id, ok := c.Cache.OrderIDForKey(ctx, key); ok {
			o, found, err := c.Store.Get(ctx, id)
			if err != nil {
				return Order{}, false, err
			}
			if found {
				return o, true, nil
			}
		}
	}
	return c.Store.GetByIdempotencyKey(ctx, key)
}

// Get returns an order by id, served from the cache when possible. Only
// terminal orders are cached: they never change again, so a read racing a
// transition cannot leave a stale status behind.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	if c.Cache != nil {
		if o, ok := c.Cache.Order(ctx, id); ok {
			return o, true, nil
		}
	}
	o, ok, err := c.Store.Get(ctx, id)
	if err != nil || !ok {
		return o, ok, err
	}
	if c.Cache != nil && o.Status.Terminal() {
		c.Cache.StoreOrder(ctx, o)
	}
	return o, true, nil
}

// Handle applies a reservation or payment outcome to its order. Events that
// the order's current status does not accept are logged and ignored; a
// missing order is an error so the event is redelivered.
func (c *Coordinator) Handle(ctx context.Context, env events.Envelope) error {
	var (
		orderID uuid.UUID
		reason  string
	)
	switch env.EventType {
	case events.TypeInventoryReserved:
		p, err := events.Unwrap[events.InventoryReserved](env)
		if err != nil {
			return err
		}
		orderID = p.OrderID
	case events.TypeInventoryReservationFailed:
		p, err := events.Unwrap[events.InventoryReservationFailed](env)
		if err != nil {
			return err
		}
		orderID, reason = p.OrderID, p.Reason
	case events.TypePaymentProcessed:
		p, err := events.Unwrap[events.PaymentProcessed](env)
		if err != nil {
			return err
		}
		orderID = p.OrderID
	case events.TypePaymentFailed:
		p, err := events.Unwrap[events.PaymentFailed](env)
		if err != nil {
			return err
		}
		orderID, reason = p.OrderID, p.Reason
	default:
		return nil
	}
	return c.apply(ctx, orderID, env.EventType, reason)
}

func (c *Coordinator) apply(ctx context.Context, orderID uuid.UUID, eventType, reason string) error {
	var (
		from, to Status
		ignored  bool
	)
	err := c.Store.InTx(ctx, func(tx Tx) error {
		o, ok, err := tx.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, orderID)
		}
		from = o.Status
		next, ok := Next(o.Status, eventType)
		if !ok {
			ignored = true
			return nil
		}
		to = next

		now := time.Now().UTC()
		updated, err := tx.UpdateStatus(ctx, o.ID, from, to, now)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: %s", ErrStaleStatus, o.ID)
		}

		var payload events.Payload
		switch to {
		case StatusCompleted:
			payload, err = events.NewOrderCompleted(o.ID, o.CustomerID, o.TotalAmount)
		case StatusCancelled:
			payload, err = events.NewOrderCancelled(o.ID, o.CustomerID, reason)
		}
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		msg, err := outbox.New(ctx, c.Service, payload)
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, msg)
	})
	if err != nil {
		return err
	}

	if ignored {
		metrics.IgnoredEvents.WithLabelValues(eventType, string(from)).Inc()
		c.log().Warn("event ignored in current order status",
			zap.String("order_id", orderID.String()),
			zap.String("event_type", eventType),
			zap.String("status", string(from)),
		)
		return nil
	}

	if c.Cache != nil {
		c.Cache.Forget(ctx, orderID)
	}
	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	fields := []zap.Field{
		zap.String("order_id", orderID.String()),
		zap.String("event_type", eventType),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	}
	if reason != "" {
		fields = append(fields, zap.String("reason", reason))
	}
	c.log().Info("order status changed", fields...)
	return nil
}
