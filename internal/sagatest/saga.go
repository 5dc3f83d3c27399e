package sagatest

import (
	"context"

	"github.com/ariefcatur/go-saga-orders/internal/config"
	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-saga-orders/internal/kafka"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/payment"
	"go.uber.org/zap"
)

// Saga wires the coordinators the way the three binaries do, with the
// same topic subscriptions.
type Saga struct {
	Bus *Bus

	Orders    *orders.Coordinator
	Inventory *inventory.Coordinator
	Payment   *payment.Coordinator

	OrderStore     *orders.MemStore
	InventoryStore *inventory.MemStore
	PaymentStore   *payment.MemStore

	relays []*outbox.Relay
}

type Options struct {
	Gateway   payment.Gateway // default payment.Approve
	Dedup     kafkax.Deduper  // optional
	Duplicate bool
	Log       *zap.Logger
}

func New(opts Options, products ...inventory.Product) *Saga {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	gw := opts.Gateway
	if gw == nil {
		gw = payment.Approve
	}
	bus := &Bus{Duplicate: opts.Duplicate}
	s := &Saga{
		Bus:            bus,
		OrderStore:     orders.NewMemStore(),
		InventoryStore: inventory.NewMemStore(products...),
		PaymentStore:   payment.NewMemStore(),
	}
	s.Orders = &orders.Coordinator{
		Store:   s.OrderStore,
		Log:     log.Named(config.ServiceOrder),
		Service: config.ServiceOrder,
	}
	s.Inventory = &inventory.Coordinator{
		Store:   s.InventoryStore,
		Log:     log.Named(config.ServiceInventory),
		Service: config.ServiceInventory,
	}
	s.Payment = &payment.Coordinator{
		Store:   s.PaymentStore,
		Gateway: gw,
		Log:     log.Named(config.ServicePayment),
		Service: config.ServicePayment,
	}
	s.relays = []*outbox.Relay{
		{Store: s.OrderStore, Publisher: bus, Log: log.Named("outbox"), Service: config.ServiceOrder},
		{Store: s.InventoryStore, Publisher: bus, Log: log.Named("outbox"), Service: config.ServiceInventory},
		{Store: s.PaymentStore, Publisher: bus, Log: log.Named("outbox"), Service: config.ServicePayment},
	}

	bus.Subscribe(config.ServiceOrder,
		kafkax.Dispatch(config.ServiceOrder, s.Orders, opts.Dedup, log),
		events.TopicInventoryEvents, events.TopicPaymentEvents)
	bus.Subscribe(config.ServiceInventory,
		kafkax.Dispatch(config.ServiceInventory, s.Inventory, opts.Dedup, log),
		events.TopicOrderEvents, events.TopicPaymentEvents)
	bus.Subscribe(config.ServicePayment,
		kafkax.Dispatch(config.ServicePayment, s.Payment, opts.Dedup, log),
		events.TopicInventoryEvents)
	return s
}

// Drain relays every outbox to the bus and delivers, until neither has
// anything left.
func (s *Saga) Drain(ctx context.Context) error {
	for {
		if err := s.Bus.Drain(ctx); err != nil {
			return err
		}
		relayed := 0
		for _, r := range s.relays {
			n, err := r.Flush(ctx)
			if err != nil {
				return err
			}
			relayed += n
		}
		if relayed == 0 {
			return nil
		}
	}
}

// Place creates an order and runs the saga until no messages are left.
func (s *Saga) Place(ctx context.Context, in orders.CreateInput) (orders.Order, error) {
	o, _, err := s.Orders.Create(ctx, in)
	if err != nil {
		return orders.Order{}, err
	}
	if err := s.Drain(ctx); err != nil {
		return orders.Order{}, err
	}
	final, _, err := s.Orders.Get(ctx, o.ID)
	return final, err
}
