package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeOrderCreated               = "OrderCreated"
	TypeInventoryReserved          = "InventoryReserved"
	TypeInventoryReservationFailed = "InventoryReservationFailed"
	TypePaymentProcessed           = "PaymentProcessed"
	TypePaymentFailed              = "PaymentFailed"
	TypeOrderCompleted             = "OrderCompleted"
	TypeOrderCancelled             = "OrderCancelled"
)

// Version of the envelope and payload schema.
const Version = 1

var (
	// ErrInvalidEvent marks a message that can never be processed: bad JSON,
	// a wrong payload type or a payload that fails validation.
	ErrInvalidEvent      = errors.New("invalid event")
	ErrMissingOrderID    = errors.New("order id is required")
	ErrMissingCustomerID = errors.New("customer id is required")
	ErrNoItems           = errors.New("order must contain at least one item")
	ErrInvalidItem       = errors.New("invalid order item")
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // Type* const
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "order-service"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher sends an envelope to a topic, keyed by the envelope's order id.
// A nil error means the broker acknowledged the write.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// Payload is implemented by every event body.
type Payload interface {
	EventType() string
	Validate() error
	Key() uuid.UUID
}

// Meta is the part shared by all payloads.
type Meta struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m Meta) Key() uuid.UUID { return m.OrderID }

func (m Meta) Validate() error {
	if m.OrderID == uuid.Nil {
		return ErrMissingOrderID
	}
	return nil
}

func (m *Meta) stampDefault(at time.Time) {
	if m.Timestamp.IsZero() {
		m.Timestamp = at
	}
}

func newMeta(orderID, customerID uuid.UUID) (Meta, error) {
	m := Meta{OrderID: orderID, CustomerID: customerID, Timestamp: time.Now().UTC()}
	return m, m.Validate()
}

// ---- payloads ----

type Item struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type OrderCreated struct {
	Meta
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []Item          `json:"items"`
}

func (OrderCreated) EventType() string { return TypeOrderCreated }

func (e OrderCreated) Validate() error {
	if err := e.Meta.Validate(); err != nil {
		return err
	}
	if e.CustomerID == uuid.Nil {
		return ErrMissingCustomerID
	}
	if len(e.Items) == 0 {
		return ErrNoItems
	}
	for i, it := range e.Items {
		switch {
		case it.ProductID == uuid.Nil:
			return fmt.Errorf("%w: items[%d].product_id is required", ErrInvalidItem, i)
		case it.Quantity <= 0:
			return fmt.Errorf("%w: items[%d].quantity must be positive, got %d", ErrInvalidItem, i, it.Quantity)
		case it.UnitPrice.IsNegative():
			return fmt.Errorf("%w: items[%d].unit_price must not be negative", ErrInvalidItem, i)
		}
	}
	return nil
}

func NewOrderCreated(orderID, customerID uuid.UUID, total decimal.Decimal, items []Item) (OrderCreated, error) {
	m, err := newMeta(orderID, customerID)
	e := OrderCreated{Meta: m, TotalAmount: total, Items: items}
	if err != nil {
		return e, err
	}
	return e, e.Validate()
}

type InventoryReserved struct {
	Meta
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (InventoryReserved) EventType() string { return TypeInventoryReserved }

func NewInventoryReserved(orderID, customerID uuid.UUID, total decimal.Decimal) (InventoryReserved, error) {
	m, err := newMeta(orderID, customerID)
	return InventoryReserved{Meta: m, TotalAmount: total}, err
}

type InventoryReservationFailed struct {
	Meta
	Reason string `json:"reason"`
}

func (InventoryReservationFailed) EventType() string { return TypeInventoryReservationFailed }

func NewInventoryReservationFailed(orderID, customerID uuid.UUID, reason string) (InventoryReservationFailed, error) {
	m, err := newMeta(orderID, customerID)
	return InventoryReservationFailed{Meta: m, Reason: reason}, err
}

type PaymentProcessed struct {
	Meta
	PaymentID uuid.UUID       `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func (PaymentProcessed) EventType() string { return TypePaymentProcessed }

func NewPaymentProcessed(orderID, customerID, paymentID uuid.UUID, amount decimal.Decimal) (PaymentProcessed, error) {
	m, err := newMeta(orderID, customerID)
	return PaymentProcessed{Meta: m, PaymentID: paymentID, Amount: amount}, err
}

type PaymentFailed struct {
	Meta
	Reason string `json:"reason"`
}

func (PaymentFailed) EventType() string { return TypePaymentFailed }

func NewPaymentFailed(orderID, customerID uuid.UUID, reason string) (PaymentFailed, error) {
	m, err := newMeta(orderID, customerID)
	return PaymentFailed{Meta: m, Reason: reason}, err
}

// OrderCompleted and OrderCancelled announce a terminal order status.
// Nothing in the saga reacts to them.
type OrderCompleted struct {
	Meta
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (OrderCompleted) EventType() string { return TypeOrderCompleted }

func NewOrderCompleted(orderID, customerID uuid.UUID, total decimal.Decimal) (OrderCompleted, error) {
	m, err := newMeta(orderID, customerID)
	return OrderCompleted{Meta: m, TotalAmount: total}, err
}

type OrderCancelled struct {
	Meta
	Reason string `json:"reason"`
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func NewOrderCancelled(orderID, customerID uuid.UUID, reason string) (OrderCancelled, error) {
	m, err := newMeta(orderID, customerID)
	return OrderCancelled{Meta: m, Reason: reason}, err
}
