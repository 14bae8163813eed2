package postgres

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/merch-checkout/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (
		id, created_at, status, line_items, subtotal_cents, shipping_cents, total_cents,
		shipping_method, display_currency, address, external_order_ref
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`

	getOrderSQL = `SELECT id, created_at, status, line_items, subtotal_cents, shipping_cents,
		total_cents, shipping_method, display_currency, address, external_order_ref
		FROM orders WHERE id = $1`

	listOrdersSQL = `SELECT id, created_at, total_cents, status
		FROM orders ORDER BY created_at DESC, id DESC`
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

// Create inserts o unless a row with the same id exists. Line items and the
// address are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.LineItems)
	if err != nil {
		return errors.Wrap(err, "marshal line items")
	}
	addrJSON, err := json.Marshal(o.Address)
	if err != nil {
		return errors.Wrap(err, "marshal address")
	}

	var ref *string
	if o.ExternalOrderRef != "" {
		ref = &o.ExternalOrderRef
	}

	tag, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CreatedAt, string(o.Status), itemsJSON, o.SubtotalCents, o.ShippingCents,
		o.TotalCents, o.ShippingMethod, o.DisplayCurrency, addrJSON, ref,
	)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(order.ErrDuplicateOrderID, "order %s", o.ID)
	}
	return nil
}

// Get returns the order with the given id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var (
		o         order.Order
		status    string
		itemsJSON []byte
		addrJSON  []byte
		ref       *string
	)
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.CreatedAt, &status, &itemsJSON, &o.SubtotalCents, &o.ShippingCents,
		&o.TotalCents, &o.ShippingMethod, &o.DisplayCurrency, &addrJSON, &ref,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(order.ErrNotFound, "order %s", id)
		}
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	if err := json.Unmarshal(itemsJSON, &o.LineItems); err != nil {
		return nil, errors.Wrapf(err, "decode line items of %s", id)
	}
	if err := json.Unmarshal(addrJSON, &o.Address); err != nil {
		return nil, errors.Wrapf(err, "decode address of %s", id)
	}
	o.Status = order.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	if ref != nil {
		o.ExternalOrderRef = *ref
	}
	return &o, nil
}

// List streams order summaries newest first. Rows are read as the
// sequence is consumed and released when iteration stops.
func (r *OrderRepository) List(ctx context.Context) iter.Seq2[order.Summary, error] {
	return func(yield func(order.Summary, error) bool) {
		rows, err := r.pool.Query(ctx, listOrdersSQL)
		if err != nil {
			yield(order.Summary{}, errors.Wrap(err, "list orders"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				s      order.Summary
				status string
			)
			if err := rows.Scan(&s.ID, &s.CreatedAt, &s.TotalCents, &status); err != nil {
				yield(order.Summary{}, errors.Wrap(err, "scan order summary"))
				return
			}
			s.Status = order.Status(status)
			s.CreatedAt = s.CreatedAt.UTC()
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(order.Summary{}, errors.Wrap(err, "list orders"))
		}
	}
}
