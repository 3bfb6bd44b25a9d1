package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-bridge/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, total, currency, status, customer_email, session_id, payment_intent_id, created_at, updated_at
	FROM orders WHERE id = $1`

	getNotesSQL = `SELECT note, created_at FROM order_notes
	WHERE order_id = $1 ORDER BY id`

	createOrderSQL = `INSERT INTO orders (id, total, currency, status, customer_email, session_id, payment_intent_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateOrderSQL = `UPDATE orders
	SET status = $2, session_id = $3, payment_intent_id = $4, updated_at = now()
	WHERE id = $1`

	insertNoteSQL = `INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, $3)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Get loads an order with its audit notes.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.Total, &o.Currency, &o.Status,
		&o.CustomerEmail, &o.SessionID, &o.PaymentIntentID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting order %q", id)
	}

	rows, err := r.pool.Query(ctx, getNotesSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "getting notes for order %q", id)
	}
	defer rows.Close()
	for rows.Next() {
		var n order.Note
		if err := rows.Scan(&n.Text, &n.CreatedAt); err != nil {
			return nil, errors.Wrapf(err, "scanning note for order %q", id)
		}
		o.Notes = append(o.Notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading notes for order %q", id)
	}

	return &o, nil
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Total, o.Currency, o.Status, o.CustomerEmail, o.SessionID, o.PaymentIntentID,
	)
	if err != nil {
		return errors.Wrapf(err, "creating order %q", o.ID)
	}
	return nil
}

// Update persists the order's status and correlation metadata together with
// any pending audit notes in a single transaction, so a transition and its
// note commit as one unit.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrapf(err, "beginning tx for order %q", o.ID)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, updateOrderSQL,
		o.ID, o.Status, o.SessionID, o.PaymentIntentID,
	); err != nil {
		return errors.Wrapf(err, "updating order %q", o.ID)
	}

	for _, n := range o.PendingNotes() {
		if _, err := tx.Exec(ctx, insertNoteSQL, o.ID, n.Text, n.CreatedAt); err != nil {
			return errors.Wrapf(err, "appending note to order %q", o.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrapf(err, "committing order %q", o.ID)
	}
	o.ClearPendingNotes()
	return nil
}
