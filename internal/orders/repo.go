package orders

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

const idempotencyConstraint = "orders_idempotency_key_key"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	return getOrder(ctx, r.DB, `WHERE id=$1`, id)
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error) {
	return getOrder(ctx, r.DB, `WHERE idempotency_key=$1`, key)
}

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(&repoTx{tx: tx})
	})
}

type repoTx struct{ tx pgx.Tx }

func (t *repoTx) Get(ctx context.Context, id uuid.UUID) (Order, bool, error) {
	return getOrder(ctx, t.tx, `WHERE id=$1 FOR UPDATE`, id)
}

func (t *repoTx) GetByIdempotencyKey(ctx context.Context, key string) (Order, bool, error) {
	return getOrder(ctx, t.tx, `WHERE idempotency_key=$1`, key)
}

func (t *repoTx) Insert(ctx context.Context, o Order) error {
	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, total_amount, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		o.ID, o.CustomerID, string(o.Status), o.TotalAmount.String(), key, o.CreatedAt, o.UpdatedAt,
	)
	if postgres.IsUniqueViolation(err, idempotencyConstraint) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err = t.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *repoTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2`, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *repoTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Enqueue(ctx, t.tx, msg)
}

func getOrder(ctx context.Context, q querier, where string, arg any) (Order, bool, error) {
	var (
		o      Order
		status string
		total  string
		key    *string
	)
	err := q.QueryRow(ctx, `
		SELECT id, customer_id, status, total_amount::text, idempotency_key, created_at, updated_at
		FROM orders `+where, arg).
		Scan(&o.ID, &o.CustomerID, &status, &total, &key, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, fmt.Errorf("select order: %w", err)
	}
	o.Status = Status(status)
	if key != nil {
		o.IdempotencyKey = *key
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return Order{}, false, fmt.Errorf("parse total: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT product_id, product_name, quantity, unit_price::text
		FROM order_items WHERE order_id=$1 ORDER BY line_no`, o.ID)
	if err != nil {
		return Order{}, false, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it    Item
			price string
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &price); err != nil {
			return Order{}, false, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return Order{}, false, fmt.Errorf("parse unit price: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}
