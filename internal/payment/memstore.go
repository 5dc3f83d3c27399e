package payment

import (
	"context"
	"maps"
	"sync"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/google/uuid"
)

// MemStore keeps payments keyed by order id. Transactions are serialized and
// applied only when fn succeeds.
type MemStore struct {
	mu       sync.Mutex
	payments map[uuid.UUID]Payment
	outbox   outbox.Queue
}

func NewMemStore() *MemStore {
	return &MemStore{payments: map[uuid.UUID]Payment{}}
}

func (s *MemStore) ByOrderID(_ context.Context, orderID uuid.UUID) (Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[orderID]
	return p, ok, nil
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func (s *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{payments: maps.Clone(s.payments), outbox: s.outbox.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.payments, s.outbox = tx.payments, tx.outbox
	return nil
}

// Drain makes the MemStore the outbox.Store of its own relay.
func (s *MemStore) Drain(ctx context.Context, limit int, publish outbox.PublishFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.Drain(ctx, limit, publish)
}

// Outbox returns every committed outbox record, sent or not.
func (s *MemStore) Outbox() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbox.Records()
}

type memTx struct {
	payments map[uuid.UUID]Payment
	outbox   outbox.Queue
}

func (t *memTx) Enqueue(_ context.Context, msg outbox.Message) error {
	t.outbox.Add(msg)
	return nil
}

func (t *memTx) ByOrderID(_ context.Context, orderID uuid.UUID) (Payment, bool, error) {
	p, ok := t.payments[orderID]
	return p, ok, nil
}

func (t *memTx) Insert(_ context.Context, p Payment) (bool, error) {
	if _, ok := t.payments[p.OrderID]; ok {
		return false, nil
	}
	t.payments[p.OrderID] = p
	return true, nil
}

func (t *memTx) Finish(_ context.Context, p Payment) error {
	cur, ok := t.payments[p.OrderID]
	if !ok || cur.ID != p.ID {
		return ErrNotFound
	}
	t.payments[p.OrderID] = p
	return nil
}
