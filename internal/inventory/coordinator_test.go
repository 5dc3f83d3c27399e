package inventory_test

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/events/eventstest"
	"github.com/ariefcatur/go-saga-orders/internal/inventory"
	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/outbox/outboxtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func product(name string, stock int) inventory.Product {
	return inventory.Product{
		ID:            uuid.New(),
		SKU:           "SKU-" + name,
		Name:          name,
		Price:         decimal.NewFromInt(10),
		StockQuantity: stock,
	}
}

type testStore interface {
	inventory.Store
	Outbox() []outbox.Record
}

// emitted reads the events committed units left in the store's outbox.
type emitted struct{ s testStore }

func (e emitted) All() []outbox.Record { return e.s.Outbox() }

func (e emitted) OfType(eventType string) []events.Envelope {
	return outboxtest.OfType(e.s.Outbox(), eventType)
}

func newCoordinator(t *testing.T, store testStore) (*inventory.Coordinator, emitted) {
	t.Helper()
	return &inventory.Coordinator{
		Store:   store,
		Log:     zaptest.NewLogger(t),
		Service: "inventory-service",
	}, emitted{store}
}

type line struct {
	p   inventory.Product
	qty int
}

func orderCreated(t *testing.T, lines ...line) events.OrderCreated {
	t.Helper()
	items := make([]events.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, events.Item{
			ProductID:   l.p.ID,
			ProductName: l.p.Name,
			Quantity:    l.qty,
			UnitPrice:   l.p.Price,
		})
	}
	e, err := events.NewOrderCreated(uuid.New(), uuid.New(), decimal.NewFromInt(100), items)
	require.NoError(t, err)
	return e
}

func stockOf(t *testing.T, s inventory.Store, id uuid.UUID) int {
	t.Helper()
	p, ok, err := s.Product(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	return p.StockQuantity
}

func countStatus(t *testing.T, s inventory.Store, orderID uuid.UUID, status inventory.ReservationStatus) int {
	t.Helper()
	rs, err := s.Reservations(context.Background(), orderID)
	require.NoError(t, err)
	n := 0
	for _, r := range rs {
		if r.Status == status {
			n++
		}
	}
	return n
}

func TestOnOrderCreated_ReservesAll(t *testing.T) {
	p1, p2 := product("P1", 10), product("P2", 5)
	store := inventory.NewMemStore(p1, p2)
	c, rec := newCoordinator(t, store)

	oc := orderCreated(t, line{p1, 2}, line{p2, 5})
	require.NoError(t, c.Handle(context.Background(), eventstest.Envelope("order-service", oc)))

	assert.Equal(t, 8, stockOf(t, store, p1.ID))
	assert.Equal(t, 0, stockOf(t, store, p2.ID))
	assert.Equal(t, 2, countStatus(t, store, oc.OrderID, inventory.ReservationReserved))

	msgs := rec.All()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.TopicInventoryEvents, msgs[0].Topic)
	got, err := events.Unwrap[events.InventoryReserved](msgs[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, oc.OrderID, got.OrderID)
	assert.True(t, oc.TotalAmount.Equal(got.TotalAmount))
}

func TestOnOrderCreated_AllOrNothing(t *testing.T) {
	p1, p2 := product("P1", 10), product("P2", 0)
	store := inventory.NewMemStore(p1, p2)
	c, rec := newCoordinator(t, store)

	oc := orderCreated(t, line{p1, 2}, line{p2, 1})
	require.NoError(t, c.OnOrderCreated(context.Background(), oc))

	assert.Equal(t, 10, stockOf(t, store, p1.ID))
	assert.Equal(t, 0, stockOf(t, store, p2.ID))
	assert.Zero(t, countStatus(t, store, oc.OrderID, inventory.ReservationReserved))
	assert.Equal(t, 1, countStatus(t, store, oc.OrderID, inventory.ReservationReleased))

	failed := rec.OfType(events.TypeInventoryReservationFailed)
	require.Len(t, failed, 1)
	assert.Empty(t, rec.OfType(events.TypeInventoryReserved))
	p, err := events.Unwrap[events.InventoryReservationFailed](failed[0])
	require.NoError(t, err)
	assert.Equal(t, "Insufficient stock for product: P2", p.Reason)
}

func TestOnOrderCreated_StopsAtFirstFailure(t *testing.T) {
	p1, p2, p3 := product("P1", 0), product("P2", 0), product("P3", 10)
	store := inventory.NewMemStore(p1, p2, p3)
	c, rec := newCoordinator(t, store)

	oc := orderCreated(t, line{p3, 1}, line{p1, 1}, line{p2, 1})
	require.NoError(t, c.OnOrderCreated(context.Background(), oc))

	failed := rec.OfType(events.TypeInventoryReservationFailed)
	require.Len(t, failed, 1)
	p, err := events.Unwrap[events.InventoryReservationFailed](failed[0])
	require.NoError(t, err)
	assert.Equal(t, "Insufficient stock for product: P1", p.Reason)
	assert.Equal(t, 10, stockOf(t, store, p3.ID))
}

func TestOnOrderCreated_RedeliveryIsSkipped(t *testing.T) {
	p1 := product("P1", 10)
	store := inventory.NewMemStore(p1)
	c, rec := newCoordinator(t, store)
	env := eventstest.Envelope("order-service", orderCreated(t, line{p1, 3}))

	require.NoError(t, c.Handle(context.Background(), env))
	require.NoError(t, c.Handle(context.Background(), env))

	assert.Equal(t, 7, stockOf(t, store, p1.ID))
	assert.Len(t, rec.All(), 1)
}

func TestOnOrderCreated_ProductNotFound(t *testing.T) {
	p1 := product("P1", 10)
	store := inventory.NewMemStore(p1)
	c, rec := newCoordinator(t, store)

	oc := orderCreated(t, line{p1, 1}, line{product("ghost", 1), 1})
	err := c.OnOrderCreated(context.Background(), oc)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
	assert.NotErrorIs(t, err, inventory.ErrInsufficientStock)

	assert.Equal(t, 10, stockOf(t, store, p1.ID))
	rs, err := store.Reservations(context.Background(), oc.OrderID)
	require.NoError(t, err)
	assert.Empty(t, rs)
	assert.Empty(t, rec.All())
}

func TestOnOrderCreated_FailedCommitRollsBack(t *testing.T) {
	p1 := product("P1", 10)
	store := inventory.NewMemStore(p1)
	c, rec := newCoordinator(t, store)
	oc := orderCreated(t, line{p1, 4})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.OnOrderCreated(ctx, oc), context.Canceled)
	assert.Equal(t, 10, stockOf(t, store, p1.ID))
	assert.Empty(t, rec.All())

	// redelivery does the work exactly once
	require.NoError(t, c.OnOrderCreated(context.Background(), oc))
	require.NoError(t, c.OnOrderCreated(context.Background(), oc))
	assert.Equal(t, 6, stockOf(t, store, p1.ID))
	assert.Len(t, rec.OfType(events.TypeInventoryReserved), 1)
}

func TestHandle_RejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{-5, 0} {
		p1 := product("P1", 10)
		store := inventory.NewMemStore(p1)
		c, rec := newCoordinator(t, store)

		env := events.Envelope{
			EventType: events.TypeOrderCreated,
			Payload: events.MustMarshal(map[string]any{
				"order_id":     uuid.New(),
				"customer_id":  uuid.New(),
				"total_amount": "10",
				"items": []map[string]any{
					{"product_id": p1.ID, "product_name": p1.Name, "quantity": qty, "unit_price": "10"},
				},
			}),
		}
		err := c.Handle(context.Background(), env)
		assert.ErrorIs(t, err, events.ErrInvalidEvent, "quantity %d", qty)
		assert.Equal(t, 10, stockOf(t, store, p1.ID))
		assert.Empty(t, rec.All())
	}
}

// conflictStore makes the first n SetStock calls lose a version race: a
// concurrent writer bumps the version just before our write.
type conflictStore struct {
	*inventory.MemStore
	n int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(tx inventory.Tx) error) error {
	return s.MemStore.InTx(ctx, func(tx inventory.Tx) error {
		return fn(&conflictTx{Tx: tx, s: s})
	})
}

type conflictTx struct {
	inventory.Tx
	s *conflictStore
}

func (t *conflictTx) SetStock(ctx context.Context, id uuid.UUID, stock int, version int64) (bool, error) {
	if t.s.n > 0 {
		t.s.n--
		p, _, _ := t.Tx.Product(ctx, id)
		if _, err := t.Tx.SetStock(ctx, id, p.StockQuantity, p.Version); err != nil {
			return false, err
		}
		return t.Tx.SetStock(ctx, id, stock, version)
	}
	return t.Tx.SetStock(ctx, id, stock, version)
}

func TestOnOrderCreated_ConflictIsRetried(t *testing.T) {
	p1 := product("P1", 10)
	store := &conflictStore{MemStore: inventory.NewMemStore(p1), n: 2}
	c, rec := newCoordinator(t, store)

	require.NoError(t, c.OnOrderCreated(context.Background(), orderCreated(t, line{p1, 4})))
	assert.Equal(t, 6, stockOf(t, store, p1.ID))
	assert.Len(t, rec.OfType(events.TypeInventoryReserved), 1)
}

func TestOnOrderCreated_ConflictRetriesExhausted(t *testing.T) {
	p1 := product("P1", 10)
	store := &conflictStore{MemStore: inventory.NewMemStore(p1), n: 100}
	c, rec := newCoordinator(t, store)
	c.ConflictRetries = 2

	err := c.OnOrderCreated(context.Background(), orderCreated(t, line{p1, 4}))
	assert.ErrorIs(t, err, inventory.ErrStockConflict)
	assert.NotErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 10, stockOf(t, store, p1.ID))
	assert.Empty(t, rec.All())
}

func TestOnPaymentFailed_Compensates(t *testing.T) {
	p1, p2 := product("P1", 10), product("P2", 3)
	store := inventory.NewMemStore(p1, p2)
	c, rec := newCoordinator(t, store)
	ctx := context.Background()

	oc := orderCreated(t, line{p1, 2}, line{p2, 3})
	require.NoError(t, c.OnOrderCreated(ctx, oc))
	require.Equal(t, 8, stockOf(t, store, p1.ID))

	pf, err := events.NewPaymentFailed(oc.OrderID, oc.CustomerID, "declined")
	require.NoError(t, err)
	env := eventstest.Envelope("payment-service", pf)
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Handle(ctx, env))
		assert.Equal(t, 10, stockOf(t, store, p1.ID))
		assert.Equal(t, 3, stockOf(t, store, p2.ID))
	}

	rs, err := store.Reservations(ctx, oc.OrderID)
	require.NoError(t, err)
	require.Len(t, rs, 2)
	for _, r := range rs {
		assert.Equal(t, inventory.ReservationReleased, r.Status)
		assert.NotNil(t, r.ReleasedAt)
	}
	assert.Len(t, rec.All(), 1, "compensation emits nothing")
}

func TestOnPaymentFailed_NothingReserved(t *testing.T) {
	store := inventory.NewMemStore(product("P1", 1))
	c, _ := newCoordinator(t, store)

	pf, err := events.NewPaymentFailed(uuid.New(), uuid.New(), "declined")
	require.NoError(t, err)
	assert.NoError(t, c.OnPaymentFailed(context.Background(), pf))
}

func TestOnPaymentProcessed_ConfirmsAndBlocksLateRelease(t *testing.T) {
	p1 := product("P1", 10)
	store := inventory.NewMemStore(p1)
	c, _ := newCoordinator(t, store)
	ctx := context.Background()

	oc := orderCreated(t, line{p1, 4})
	require.NoError(t, c.OnOrderCreated(ctx, oc))

	pp, err := events.NewPaymentProcessed(oc.OrderID, oc.CustomerID, uuid.New(), oc.TotalAmount)
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", pp)))
	assert.Equal(t, 1, countStatus(t, store, oc.OrderID, inventory.ReservationConfirmed))

	pf, err := events.NewPaymentFailed(oc.OrderID, oc.CustomerID, "late")
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", pf)))
	assert.Equal(t, 6, stockOf(t, store, p1.ID))
	assert.Equal(t, 1, countStatus(t, store, oc.OrderID, inventory.ReservationConfirmed))
}

func TestHandle_IgnoresOtherEvents(t *testing.T) {
	c, rec := newCoordinator(t, inventory.NewMemStore())
	p, err := events.NewOrderCompleted(uuid.New(), uuid.New(), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.NoError(t, c.Handle(context.Background(), eventstest.Envelope("order-service", p)))
	assert.Empty(t, rec.All())
}

// stock + Σ RESERVED = initial stock after any mix of reservations and
// compensations.
func TestStockConservation(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	products := []inventory.Product{product("A", 20), product("B", 5), product("C", 0), product("D", 50)}
	initial := map[uuid.UUID]int{}
	for _, p := range products {
		initial[p.ID] = p.StockQuantity
	}
	store := inventory.NewMemStore(products...)
	c, _ := newCoordinator(t, store)
	ctx := context.Background()

	var orderIDs []uuid.UUID
	for i := 0; i < 200; i++ {
		if len(orderIDs) > 0 && rnd.Intn(3) == 0 {
			id := orderIDs[rnd.Intn(len(orderIDs))]
			pf, err := events.NewPaymentFailed(id, uuid.New(), "random")
			require.NoError(t, err)
			require.NoError(t, c.OnPaymentFailed(ctx, pf))
		} else {
			n := 1 + rnd.Intn(3)
			lines := make([]line, 0, n)
			for j := 0; j < n; j++ {
				lines = append(lines, line{products[rnd.Intn(len(products))], 1 + rnd.Intn(6)})
			}
			oc := orderCreated(t, lines...)
			require.NoError(t, c.OnOrderCreated(ctx, oc))
			orderIDs = append(orderIDs, oc.OrderID)
		}

		reserved := map[uuid.UUID]int{}
		for _, id := range orderIDs {
			rs, err := store.Reservations(ctx, id)
			require.NoError(t, err)
			for _, r := range rs {
				if r.Status == inventory.ReservationReserved {
					reserved[r.ProductID] += r.Quantity
				}
			}
		}
		for _, p := range products {
			stock := stockOf(t, store, p.ID)
			require.GreaterOrEqual(t, stock, 0)
			require.Equal(t, initial[p.ID], stock+reserved[p.ID], "product %s at step %d", p.Name, i)
		}
	}
}

func TestQueries(t *testing.T) {
	a, b := product("A", 1), product("B", 2)
	c, _ := newCoordinator(t, inventory.NewMemStore(b, a))
	ctx := context.Background()

	ps, err := c.Products(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "A", ps[0].Name)

	got, ok, err := c.Product(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, got.StockQuantity)

	_, ok, err = c.Product(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
