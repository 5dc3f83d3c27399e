package inventory

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

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo is the Postgres Store. Stock writes are compare-and-set on the
// version column; no row locks are taken.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Product(ctx context.Context, id uuid.UUID) (Product, bool, error) {
	return getProduct(ctx, r.DB, id)
}

func (r *Repo) Products(ctx context.Context) ([]Product, error) {
	return listProducts(ctx, r.DB)
}

func listProducts(ctx context.Context, q querier) ([]Product, error) {
	rows, err := q.Query(ctx, productSelect+` ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) Reservations(ctx context.Context, orderID uuid.UUID) ([]Reservation, error) {
	return listReservations(ctx, r.DB, orderID)
}

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return postgres.WithTx(ctx, r.DB, func(tx pgx.Tx) error {
		return fn(&repoTx{tx: tx})
	})
}

type repoTx struct{ tx pgx.Tx }

func (t *repoTx) Product(ctx context.Context, id uuid.UUID) (Product, bool, error) {
	return getProduct(ctx, t.tx, id)
}

func (t *repoTx) Products(ctx context.Context) ([]Product, error) {
	return listProducts(ctx, t.tx)
}

func (t *repoTx) Reservations(ctx context.Context, orderID uuid.UUID) ([]Reservation, error) {
	return listReservations(ctx, t.tx, orderID)
}

func (t *repoTx) SetStock(ctx context.Context, id uuid.UUID, stock int, version int64) (bool, error) {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock_quantity=$2, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$3`, id, stock, version)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (t *repoTx) InsertReservation(ctx context.Context, r Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_reservations(id, order_id, product_id, quantity, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.OrderID, r.ProductID, r.Quantity, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (t *repoTx) SetReservationStatus(ctx context.Context, id uuid.UUID, status ReservationStatus, at time.Time) error {
	var releasedAt *time.Time
	if status == ReservationReleased {
		releasedAt = &at
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE stock_reservations SET status=$2, released_at=COALESCE($3, released_at)
		WHERE id=$1`, id, string(status), releasedAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	return nil
}

func (t *repoTx) Enqueue(ctx context.Context, msg outbox.Message) error {
	return outbox.Enqueue(ctx, t.tx, msg)
}

const productSelect = `
	SELECT id, sku, name, description, price::text, stock_quantity, version, created_at, updated_at
	FROM products`

func getProduct(ctx context.Context, q querier, id uuid.UUID) (Product, bool, error) {
	p, err := scanProduct(q.QueryRow(ctx, productSelect+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	return p, true, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price string
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &price,
		&p.StockQuantity, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return Product{}, fmt.Errorf("parse price: %w", err)
	}
	return p, nil
}

func listReservations(ctx context.Context, q querier, orderID uuid.UUID) ([]Reservation, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, status, created_at, released_at
		FROM stock_reservations WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var (
			r      Reservation
			status string
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.Quantity, &status, &r.CreatedAt, &r.ReleasedAt); err != nil {
			return nil, err
		}
		r.Status = ReservationStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}
