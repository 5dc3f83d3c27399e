package orders_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ariefcatur/go-saga-orders/internal/events"
	"github.com/ariefcatur/go-saga-orders/internal/events/eventstest"
	"github.com/ariefcatur/go-saga-orders/internal/orders"
	"github.com/ariefcatur/go-saga-orders/internal/outbox/outboxtest"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newCoordinator(t *testing.T) (*orders.Coordinator, *orders.MemStore) {
	t.Helper()
	store := orders.NewMemStore()
	return &orders.Coordinator{
		Store:   store,
		Log:     zaptest.NewLogger(t),
		Service: "order-service",
	}, store
}

func input(key string) orders.CreateInput {
	return orders.CreateInput{
		CustomerID: uuid.New(),
		Items: []orders.ItemInput{
			{ProductID: uuid.New(), ProductName: "Keyboard", Quantity: 2, UnitPrice: decimal.RequireFromString("30.00")},
			{ProductID: uuid.New(), ProductName: "Mouse", Quantity: 1, UnitPrice: decimal.RequireFromString("40.00")},
		},
		IdempotencyKey: key,
	}
}

func TestCreate(t *testing.T) {
	c, store := newCoordinator(t)
	ctx := context.Background()

	o, created, err := c.Create(ctx, input(""))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, decimal.RequireFromString("100.00").Equal(o.TotalAmount), o.TotalAmount.String())

	stored, ok, err := store.Get(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, stored.Items, 2)

	msgs := store.Outbox()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.TopicOrderEvents, msgs[0].Topic)
	assert.Equal(t, "order-service", msgs[0].Envelope.Producer)
	p, err := events.Unwrap[events.OrderCreated](msgs[0].Envelope)
	require.NoError(t, err)
	assert.Equal(t, o.ID, p.OrderID)
	assert.Equal(t, o.CustomerID, p.CustomerID)
	assert.True(t, o.TotalAmount.Equal(p.TotalAmount))
	require.Len(t, p.Items, 2)
	assert.Equal(t, "Keyboard", p.Items[0].ProductName)
}

func TestCreate_Idempotent(t *testing.T) {
	c, store := newCoordinator(t)
	ctx := context.Background()
	in := input("key-1")

	first, created, err := c.Create(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := c.Create(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCreated), 1)
	assert.Equal(t, 1, store.Len())
}

func TestCreate_IdempotentConcurrent(t *testing.T) {
	c, store := newCoordinator(t)
	in := input("key-race")

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, _, err := c.Create(context.Background(), in)
			assert.NoError(t, err)
			ids[i] = o.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, store.Len())
	assert.Len(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCreated), 1)
}

func TestCreate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *orders.CreateInput)
	}{
		{"no customer", func(in *orders.CreateInput) { in.CustomerID = uuid.Nil }},
		{"no items", func(in *orders.CreateInput) { in.Items = nil }},
		{"zero quantity", func(in *orders.CreateInput) { in.Items[0].Quantity = 0 }},
		{"negative price", func(in *orders.CreateInput) { in.Items[0].UnitPrice = decimal.NewFromInt(-1) }},
		{"no product", func(in *orders.CreateInput) { in.Items[1].ProductID = uuid.Nil }},
		{"no product name", func(in *orders.CreateInput) { in.Items[1].ProductName = " " }},
		{"price below a cent", func(in *orders.CreateInput) { in.Items[0].UnitPrice = decimal.RequireFromString("10.005") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store := newCoordinator(t)
			in := input("")
			tt.mutate(&in)

			_, _, err := c.Create(context.Background(), in)
			assert.ErrorIs(t, err, orders.ErrInvalidOrder)
			assert.Zero(t, store.Len())
			assert.Empty(t, store.Outbox())
		})
	}
}

func TestCreate_TrailingZerosAccepted(t *testing.T) {
	c, _ := newCoordinator(t)
	in := input("")
	in.Items[0].UnitPrice = decimal.RequireFromString("30.000")

	o, _, err := c.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "100.00", o.TotalAmount.StringFixed(2))
}

func TestCreate_FailedCommitKeepsNothing(t *testing.T) {
	c, store := newCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Create(ctx, input("key-2"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Len())
	assert.Empty(t, store.Outbox())

	// the key is still free
	_, created, err := c.Create(context.Background(), input("key-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, store.Outbox(), 1)
}

func createOrder(t *testing.T, c *orders.Coordinator) orders.Order {
	t.Helper()
	o, _, err := c.Create(context.Background(), input(""))
	require.NoError(t, err)
	return o
}

func reserved(o orders.Order) events.Payload {
	p, _ := events.NewInventoryReserved(o.ID, o.CustomerID, o.TotalAmount)
	return p
}

func TestHandle_HappyPath(t *testing.T) {
	c, store := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", reserved(o))))
	got, _, _ := store.Get(ctx, o.ID)
	assert.Equal(t, orders.StatusProcessing, got.Status)

	paid, err := events.NewPaymentProcessed(o.ID, o.CustomerID, uuid.New(), o.TotalAmount)
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", paid)))
	got, _, _ = store.Get(ctx, o.ID)
	assert.Equal(t, orders.StatusCompleted, got.Status)

	completed := outboxtest.OfType(store.Outbox(), events.TypeOrderCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, o.ID.String(), completed[0].CorrelationID)
}

func TestHandle_Cancellations(t *testing.T) {
	ctx := context.Background()

	t.Run("reservation failed", func(t *testing.T) {
		c, store := newCoordinator(t)
		o := createOrder(t, c)

		p, err := events.NewInventoryReservationFailed(o.ID, o.CustomerID, "Insufficient stock for product: Mouse")
		require.NoError(t, err)
		require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", p)))

		got, _, _ := store.Get(ctx, o.ID)
		assert.Equal(t, orders.StatusCancelled, got.Status)
		cancelled := outboxtest.OfType(store.Outbox(), events.TypeOrderCancelled)
		require.Len(t, cancelled, 1)
		cp, err := events.Unwrap[events.OrderCancelled](cancelled[0])
		require.NoError(t, err)
		assert.Equal(t, "Insufficient stock for product: Mouse", cp.Reason)
	})

	t.Run("payment failed", func(t *testing.T) {
		c, store := newCoordinator(t)
		o := createOrder(t, c)

		require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", reserved(o))))
		p, err := events.NewPaymentFailed(o.ID, o.CustomerID, "declined")
		require.NoError(t, err)
		require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", p)))

		got, _, _ := store.Get(ctx, o.ID)
		assert.Equal(t, orders.StatusCancelled, got.Status)
	})
}

func TestHandle_IgnoresOutOfStateEvents(t *testing.T) {
	c, store := newCoordinator(t)
	ctx := context.Background()
	o := createOrder(t, c)

	// payment outcome before the reservation outcome
	paid, err := events.NewPaymentProcessed(o.ID, o.CustomerID, uuid.New(), o.TotalAmount)
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", paid)))
	got, _, _ := store.Get(ctx, o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)

	// terminal states are never left
	failed, err := events.NewInventoryReservationFailed(o.ID, o.CustomerID, "x")
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", failed)))
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", reserved(o))))
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", paid)))

	got, _, _ = store.Get(ctx, o.ID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Len(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCancelled), 1)
	assert.Empty(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCompleted))
}

func TestHandle_UnknownOrderIsRetried(t *testing.T) {
	c, _ := newCoordinator(t)
	p, err := events.NewInventoryReserved(uuid.New(), uuid.New(), decimal.NewFromInt(1))
	require.NoError(t, err)

	err = c.Handle(context.Background(), eventstest.Envelope("inventory-service", p))
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestHandle_FailedCommitRollsBack(t *testing.T) {
	c, store := newCoordinator(t)
	o := createOrder(t, c)
	p, err := events.NewInventoryReservationFailed(o.ID, o.CustomerID, "x")
	require.NoError(t, err)
	env := eventstest.Envelope("inventory-service", p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Handle(ctx, env), context.Canceled)
	got, _, _ := store.Get(context.Background(), o.ID)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.Empty(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCancelled))

	// redelivery applies the transition and its event once
	require.NoError(t, c.Handle(context.Background(), env))
	got, _, _ = store.Get(context.Background(), o.ID)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Len(t, outboxtest.OfType(store.Outbox(), events.TypeOrderCancelled), 1)
}

func TestHandle_IgnoresUnrelatedEvents(t *testing.T) {
	c, _ := newCoordinator(t)
	o := createOrder(t, c)
	p, err := events.NewOrderCancelled(o.ID, o.CustomerID, "x")
	require.NoError(t, err)
	assert.NoError(t, c.Handle(context.Background(), eventstest.Envelope("order-service", p)))
}

func TestHandle_InvalidPayload(t *testing.T) {
	c, _ := newCoordinator(t)
	env := events.Envelope{EventType: events.TypePaymentFailed, Payload: []byte(`{"reason":"x"}`)}
	assert.ErrorIs(t, c.Handle(context.Background(), env), events.ErrInvalidEvent)
}

type mapCache struct {
	mu     sync.Mutex
	keys   map[string]uuid.UUID
	orders map[uuid.UUID]orders.Order
}

func newMapCache() *mapCache {
	return &mapCache{keys: map[string]uuid.UUID{}, orders: map[uuid.UUID]orders.Order{}}
}

func (m *mapCache) OrderIDForKey(_ context.Context, key string) (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[key]
	return id, ok
}

func (m *mapCache) RememberKey(_ context.Context, key string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = id
}

func (m *mapCache) Order(_ context.Context, id uuid.UUID) (orders.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

func (m *mapCache) StoreOrder(_ context.Context, o orders.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *mapCache) Forget(_ context.Context, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orders, id)
}

func TestCache(t *testing.T) {
	c, _ := newCoordinator(t)
	cache := newMapCache()
	c.Cache = cache
	ctx := context.Background()

	o, _, err := c.Create(ctx, input("key-cache"))
	require.NoError(t, err)
	id, ok := cache.OrderIDForKey(ctx, "key-cache")
	require.True(t, ok)
	assert.Equal(t, o.ID, id)

	// orders still in flight are always read from the store
	got, ok, err := c.Get(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusPending, got.Status)
	_, cached := cache.Order(ctx, o.ID)
	assert.False(t, cached)

	require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", reserved(o))))
	got, _, err = c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	_, cached = cache.Order(ctx, o.ID)
	assert.False(t, cached)

	paid, err := events.NewPaymentProcessed(o.ID, o.CustomerID, uuid.New(), o.TotalAmount)
	require.NoError(t, err)
	require.NoError(t, c.Handle(ctx, eventstest.Envelope("payment-service", paid)))
	got, _, err = c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, got.Status)
	hit, cached := cache.Order(ctx, o.ID)
	require.True(t, cached)
	assert.Equal(t, orders.StatusCompleted, hit.Status)
}

// interleavedStore runs afterRead once, between a Get's store read and its
// return, the way a concurrent transition can land there.
type interleavedStore struct {
	*orders.MemStore
	afterRead func()
}

func (s *interleavedStore) Get(ctx context.Context, id uuid.UUID) (orders.Order, bool, error) {
	o, ok, err := s.MemStore.Get(ctx, id)
	if f := s.afterRead; f != nil {
		s.afterRead = nil
		f()
	}
	return o, ok, err
}

func TestGet_TransitionDuringReadLeavesNoStaleCopy(t *testing.T) {
	c, mem := newCoordinator(t)
	cache := newMapCache()
	c.Cache = cache
	ctx := context.Background()
	o := createOrder(t, c)

	store := &interleavedStore{MemStore: mem}
	c.Store = store
	store.afterRead = func() {
		require.NoError(t, c.Handle(ctx, eventstest.Envelope("inventory-service", reserved(o))))
	}

	got, _, err := c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status, "read before the transition")

	got, _, err = c.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	_, cached := cache.Order(ctx, o.ID)
	assert.False(t, cached)
}

func TestGet_NotFound(t *testing.T) {
	c, _ := newCoordinator(t)
	_, ok, err := c.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
