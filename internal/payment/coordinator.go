package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/metrics"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator charges an order once its stock is reserved. There is at most
// one payment per order and its outcome is decided exactly once.
type Coordinator struct {
	Store   Store
	Gateway Gateway
	Log     *zap.Logger
	Service string
}

func (c *Coordinator) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func (c *Coordinator) Handle(ctx context.Context, env events.Envelope) error {
	if env.EventType != events.TypeInventoryReserved {
		return nil
	}
	p, err := events.Unwrap[events.InventoryReserved](env)
	if err != nil {
		return err
	}
	_, err = c.Process(ctx, p)
	return err
}

// Process returns the order's payment, creating and settling it on first
// call. Later calls, including a concurrent one that lost the insert race,
// return the stored payment and emit nothing. The decision, the payment row
// and the outcome event commit together; if the commit fails nothing of the
// attempt survives and a redelivery decides afresh.
func (c *Coordinator) Process(ctx context.Context, ev events.InventoryReserved) (Payment, error) {
	log := c.log().With(zap.String("order_id", ev.OrderID.String()))

	var (
		result  Payment
		existed bool
	)
	err := c.Store.InTx(ctx, func(tx Tx) error {
		if p, ok, err := tx.ByOrderID(ctx, ev.OrderID); err != nil {
			return err
		} else if ok {
			result, existed = p, true
			return nil
		}

		p := Payment{
			ID:         uuid.New(),
			OrderID:    ev.OrderID,
			CustomerID: ev.CustomerID,
			Amount:     ev.TotalAmount,
			Status:     StatusProcessing,
			CreatedAt:  time.Now().UTC(),
		}
		inserted, err := tx.Insert(ctx, p)
		if err != nil {
			return err
		}
		if !inserted {
			existing, ok, err := tx.ByOrderID(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("payment for order %s not visible after conflict", ev.OrderID)
			}
			result, existed = existing, true
			return nil
		}

		d, err := c.Gateway.Authorize(ctx, p)
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		now := time.Now().UTC()
		p.ProcessedAt = &now

		var outcome events.Payload
		if d.Approved {
			p.Status = StatusCompleted
			outcome, err = events.NewPaymentProcessed(p.OrderID, p.CustomerID, p.ID, p.Amount)
		} else {
			p.Status = StatusFailed
			p.FailureReason = d.Reason
			outcome, err = events.NewPaymentFailed(p.OrderID, p.CustomerID, d.Reason)
		}
		if err != nil {
			return err
		}
		if err := tx.Finish(ctx, p); err != nil {
			return err
		}
		msg, err := outbox.New(ctx, c.Service, outcome)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, msg); err != nil {
			return err
		}
		result = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	if existed {
		log.Info("payment already exists",
			zap.String("payment_id", result.ID.String()),
			zap.String("status", string(result.Status)),
		)
		return result, nil
	}
	metrics.Payments.WithLabelValues(string(result.Status)).Inc()
	log.Info("payment processed",
		zap.String("payment_id", result.ID.String()),
		zap.String("status", string(result.Status)),
		zap.String("amount", result.Amount.StringFixed(2)),
	)
	return result, nil
}

// ByOrderID is the payment lookup for the query API.
func (c *Coordinator) ByOrderID(ctx context.Context, orderID uuid.UUID) (Payment, bool, error) {
	return c.Store.ByOrderID(ctx, orderID)
}
