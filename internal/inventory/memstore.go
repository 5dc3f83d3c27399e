package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

// MemStore is an in-process Store with the same all-or-nothing InTx
// semantics as Repo. Transactions are serialized.
type MemStore struct {
	mu   sync.Mutex
	data memData
}

type memData struct {
	products     map[uuid.UUID]Product
	reservations []Reservation
	outbox       outbox.Queue
}

func NewMemStore(products ...Product) *MemStore {
	s := &MemStore{data: memData{products: map[uuid.UUID]Product{}}}
	for _, p := range products {
		s.data.products[p.ID] = p
	}
	return s
}

func (d memData) clone() memData {
	out := memData{
		products:     make(map[uuid.UUID]Product, len(d.products)),
		reservations: make([]Reservation, len(d.reservations)),
		outbox:       d.outbox.Clone(),
	}
	for k, v := range d.products {
		out.products[k] = v
	}
	copy(out.reservations, d.reservations)
	return out
}

func (d memData) product(id uuid.UUID) (Product, bool) {
	p, ok := d.products[id]
	return p, ok
}

func (d memData) list() []Product {
	out := make([]Product, 0, len(d.products))
	for _, p := range d.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (d memData) byOrder(orderID uuid.UUID) []Reservation {
	var out []Reservation
	for _, r := range d.reservations {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out
}

func (s *MemStore) Product(_ context.Context, id uuid.UUID) (Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data.product(id)
	return p, ok, nil
}

func (s *MemStore) Products(_ context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.list(), nil
}

func (s *MemStore) Reservations(_ context.Context, orderID uuid.UUID) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.byOrder(orderID), nil
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

type memTx struct{ data memData }

func (t *memTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.data.outbox.Add(msg)
	return nil
}

func (t *memTx) Product(_ context.Context, id uuid.UUID) (Product, bool, error) {
	p, ok := t.data.product(id)
	return p, ok, nil
}

func (t *memTx) Products(_ context.Context) ([]Product, error) {
	return t.data.list(), nil
}

func (t *memTx) Reservations(_ context.Context, orderID uuid.UUID) ([]Reservation, error) {
	return t.data.byOrder(orderID), nil
}

func (t *memTx) SetStock(_ context.Context, id uuid.UUID, stock int, version int64) (bool, error) {
	p, ok := t.data.products[id]
	if !ok || p.Version != version {
		return false, nil
	}
	p.StockQuantity = stock
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	t.data.products[id] = p
	return true, nil
}

func (t *memTx) InsertReservation(_ context.Context, r Reservation) error {
	t.data.reservations = append(t.data.reservations, r)
	return nil
}

func (t *memTx) SetReservationStatus(_ context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	for i := range t.data.reservations {
		if t.data.reservations[i].ID != id {
			continue
		}
		t.data.reservations[i].Status = status
		if status == ReservationReleased {
			ts := at
			t.data.reservations[i].ReleasedAt = &ts
		}
		return nil
	}
	return nil
}
