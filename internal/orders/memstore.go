package orders

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

// MemStore is an in-process Store. InTx works on a copy of the data that
// replaces the live data only when fn succeeds; transactions are serialized.
type MemStore struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	orders map[uuid.UUID]Order
	byKey  map[string]uuid.UUID
	outbox outbox.Queue
}

func NewMemStore() *MemStore {
	return &MemStore{data: memData{
		orders: map[uuid.UUID]Order{},
		byKey:  map[string]uuid.UUID{},
	}}
}

func (d memData) clone() memData {
	out := memData{
		orders: make(map[uuid.UUID]Order, len(d.orders)),
		byKey:  make(map[string]uuid.UUID, len(d.byKey)),
		outbox: d.outbox.Clone(),
	}
	for k, v := range d.orders {
		out.orders[k] = v
	}
	for k, v := range d.byKey {
		out.byKey[k] = v
	}
	return out
}

func (d memData) get(id uuid.UUID) (Order, bool) {
	o, ok := d.orders[id]
	if !ok {
		return Order{}, false
	}
	o.Items = append([]Item(nil), o.Items...)
	return o, true
}

func (d memData) getByKey(key string) (Order, bool) {
	id, ok := d.byKey[key]
	if !ok {
		return Order{}, false
	}
	return d.get(id)
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.get(id)
	return o, ok, nil
}

func (s *MemStore) GetByIdempotencyKey(_ context.Context, key string) (Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.data.getByKey(key)
	return o, ok, nil
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{data: s.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

// Drain makes the MemStore the outbox.Store of its own relay.
func (s *MemStore) Drain(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.outbox.Drain(ctx, limit, publish)
}

// Outbox returns every committed outbox record, sent or not.
func (s *MemStore) Outbox() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.outbox.Records()
}

// Len returns the number of stored orders.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.orders)
}

type memTx struct{ data memData }

func (t *memTx) Get(_ context.Context, id uuid.UUID) (Order, bool, error) {
	o, ok := t.data.get(id)
	return o, ok, nil
}

func (t *memTx) GetByIdempotencyKey(_ context.Context, key string) (Order, bool, error) {
	o, ok := t.data.getByKey(key)
	return o, ok, nil
}

func (t *memTx) Insert(_ context.Context, o Order) error {
	if o.IdempotencyKey != "" {
		if _, taken := t.data.byKey[o.IdempotencyKey]; taken {
			return ErrDuplicateKey
		}
		t.data.byKey[o.IdempotencyKey] = o.ID
	}
	o.Items = append([]Item(nil), o.Items...)
	t.data.orders[o.ID] = o
	return nil
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	o, ok := t.data.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	t.data.orders[id] = o
	return true, nil
}

func (t *memTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.data.outbox.Add(msg)
	return nil
}
