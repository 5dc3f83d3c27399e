package payment

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-saga-orders/internal/outbox"
	"github.com/ariefcatur/go-saga-orders/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var Schema string

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) ByOrderID(ctx context.Context, orderID uuid.UUID) (Payment, bool, error) {
	return byOrderID(ctx, r.DB, orderID)
}

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(&repoTx{tx: tx})
	})
}

type repoTx struct{ tx pgx.Tx }

func (t *repoTx) ByOrderID(ctx context.Context, orderID uuid.UUID) (Payment, bool, error) {
	return byOrderID(ctx, t.tx, orderID)
}

// Insert relies on the unique order_id; a concurrent insert for the same
// order waits for the other tx and then affects no rows.
func (t *repoTx) Insert(ctx context.Context, p Payment) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, customer_id, amount, status, failure_reason, created_at, processed_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)
		ON CONFLICT (order_id) DO NOTHING`,
		p.ID, p.OrderID, p.CustomerID, p.Amount.String(), string(p.Status), p.FailureReason, p.CreatedAt, p.ProcessedAt)
	if err != nil {
		return false, fmt.Errorf("insert payment: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *repoTx) Finish(ctx context.Context, p Payment) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE payments SET status=$2, failure_reason=$3, processed_at=$4
		WHERE id=$1`, p.ID, string(p.Status), p.FailureReason, p.ProcessedAt)
	if err != nil {
		return fmt.Errorf("finish payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *repoTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Enqueue(ctx, t.tx, msg)
}

func byOrderID(ctx context.Context, q querier, orderID uuid.UUID) (Payment, bool, error) {
	var (
		p      Payment
		amount string
		status string
	)
	err := q.QueryRow(ctx, `
		SELECT id, order_id, customer_id, amount::text, status, failure_reason, created_at, processed_at
		FROM payments WHERE order_id=$1`, orderID).
		Scan(&p.ID, &p.OrderID, &p.CustomerID, &amount, &status, &p.FailureReason, &p.CreatedAt, &p.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, false, nil
	}
	if err != nil {
		return Payment{}, false, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return Payment{}, false, fmt.Errorf("parse amount: %w", err)
	}
	p.Status = Status(status)
	return p, true, nil
}
