package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultConflictRetries bounds re-reads after a lost version race.
const DefaultConflictRetries = 3

// Coordinator owns product stock and reservations. It reserves stock for new
// orders, compensates when payment fails and confirms when it succeeds.
type Coordinator struct {
	Store           Store
	Log             *zap.Logger
	Service         string
	ConflictRetries int // 0 or less means DefaultConflictRetries
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Coordinator) retries() int {
	if c.ConflictRetries <= 0 {
		return DefaultConflictRetries
	}
	return c.ConflictRetries
}

func (c *Coordinator) Handle(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeOrderCreated:
		p, err := events.Unwrap[events.OrderCreated](env)
		if err != nil {
			return err
		}
		return c.OnOrderCreated(ctx, p)
	case events.TypePaymentFailed:
		p, err := events.Unwrap[events.PaymentFailed](env)
		if err != nil {
			return err
		}
		return c.OnPaymentFailed(ctx, p)
	case events.TypePaymentProcessed:
		p, err := events.Unwrap[events.PaymentProcessed](env)
		if err != nil {
			return err
		}
		return c.OnPaymentProcessed(ctx, p)
	default:
		return nil
	}
}

// OnOrderCreated reserves every line of the order or none of them. The first
// line that cannot be served stops the pass; whatever was reserved before it
// is released in the same unit and InventoryReservationFailed is emitted.
// Missing products and exhausted version conflicts are returned as errors.
func (c *Coordinator) OnOrderCreated(ctx context.Context, p events.OrderCreated) error {
	log := c.log().With(zap.String("order_id", p.OrderID.String()))

	var (
		outcome  events.Payload
		rejected *StockError
		skipped  bool
	)
	err := c.Store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.Reservations(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			// sudah diproses sebelumnya; outcome-nya sudah di outbox
			skipped = true
			return nil
		}

		now := time.Now().UTC()
		for _, it := range p.Items {
			err := c.reserve(ctx, tx, p.OrderID, it, now)
			if errors.As(err, &rejected) {
				break
			}
			if err != nil {
				return err
			}
		}

		if rejected != nil {
			if _, err := c.release(ctx, tx, p.OrderID, now); err != nil {
				return err
			}
			outcome, err = events.NewInventoryReservationFailed(p.OrderID, p.CustomerID, rejected.Error())
		} else {
			outcome, err = events.NewInventoryReserved(p.OrderID, p.CustomerID, p.TotalAmount)
		}
		if err != nil {
			return err
		}
		msg, err := outbox.New(ctx, c.Service, outcome)
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, ErrStockConflict) {
			log.Warn("stock conflict retries exhausted", zap.Error(err))
		}
		return err
	}

	switch {
	case skipped:
		log.Info("order already processed, skipping")
	case rejected != nil:
		metrics.Reservations.WithLabelValues("insufficient_stock").Inc()
		log.Info("reservation failed",
			zap.String("product_id", rejected.ProductID.String()),
			zap.Int("requested", rejected.Requested),
			zap.Int("available", rejected.Available),
		)
	default:
		metrics.Reservations.WithLabelValues("reserved").Inc()
		log.Info("stock reserved", zap.Int("items", len(p.Items)))
	}
	return nil
}

// reserve decrements stock for one line and records the reservation. A
// version mismatch re-reads the product, up to the configured retries.
func (c *Coordinator) reserve(ctx context.Context, tx Tx, orderID uuid.UUID, it events.Item, now time.Time) error {
	for attempt := 0; attempt <= c.retries(); attempt++ {
		prod, ok, err := tx.Product(ctx, it.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if prod.StockQuantity < it.Quantity {
			return &StockError{
				ProductID:   prod.ID,
				ProductName: prod.Name,
				Requested:   it.Quantity,
				Available:   prod.StockQuantity,
			}
		}
		ok, err = tx.SetStock(ctx, prod.ID, prod.StockQuantity-it.Quantity, prod.Version)
		if err != nil {
			return err
		}
		if !ok {
			metrics.Reservations.WithLabelValues("conflict_retry").Inc()
			continue
		}
		return tx.InsertReservation(ctx, Reservation{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: prod.ID,
			Quantity:  it.Quantity,
			Status:    ReservationReserved,
			CreatedAt: now,
		})
	}
	return fmt.Errorf("%w: product %s", ErrStockConflict, it.ProductID)
}

// release gives the stock of every RESERVED reservation of the order back
// and marks it RELEASED. Other statuses are left alone.
func (c *Coordinator) release(ctx context.Context, tx Tx, orderID uuid.UUID, now time.Time) (int, error) {
	rs, err := tx.Reservations(ctx, orderID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range rs {
		if r.Status != ReservationReserved {
			continue
		}
		if err := c.restock(ctx, tx, r); err != nil {
			return n, err
		}
		if err := tx.SetReservationStatus(ctx, r.ID, ReservationReleased, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Coordinator) restock(ctx context.Context, tx Tx, r Reservation) error {
	for attempt := 0; attempt <= c.retries(); attempt++ {
		prod, ok, err := tx.Product(ctx, r.ProductID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrProductNotFound, r.ProductID)
		}
		ok, err = tx.SetStock(ctx, prod.ID, prod.StockQuantity+r.Quantity, prod.Version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: product %s", ErrStockConflict, r.ProductID)
}

// OnPaymentFailed releases whatever the order still holds. Running it again,
// or for an order whose stock was never reserved, changes nothing.
func (c *Coordinator) OnPaymentFailed(ctx context.Context, p events.PaymentFailed) error {
	var released int
	err := c.Store.InTx(ctx, func(tx Tx) error {
		var err error
		released, err = c.release(ctx, tx, p.OrderID, time.Now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	c.log().Info("compensated reservations",
		zap.String("order_id", p.OrderID.String()),
		zap.String("reason", p.Reason),
		zap.Int("released", released),
	)
	return nil
}

// OnPaymentProcessed turns the order's RESERVED reservations into CONFIRMED
// ones; a PaymentFailed arriving later then has nothing left to release.
func (c *Coordinator) OnPaymentProcessed(ctx context.Context, p events.PaymentProcessed) error {
	var confirmed int
	err := c.Store.InTx(ctx, func(tx Tx) error {
		rs, err := tx.Reservations(ctx, p.OrderID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, r := range rs {
			if r.Status != ReservationReserved {
				continue
			}
			if err := tx.SetReservationStatus(ctx, r.ID, ReservationConfirmed, now); err != nil {
				return err
			}
			confirmed++
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.log().Info("confirmed reservations",
		zap.String("order_id", p.OrderID.String()),
		zap.Int("confirmed", confirmed),
	)
	return nil
}

func (c *Coordinator) Product(ctx context.Context, id uuid.UUID) (Product, bool, error) {
	return c.Store.Product(ctx, id)
}

func (c *Coordinator) Products(ctx context.Context) ([]Product, error) {
	return c.Store.Products(ctx)
}

func (c *Coordinator) Reservations(ctx context.Context, orderID uuid.UUID) ([]Reservation, error) {
	return c.Store.Reservations(ctx, orderID)
}
