package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const orderColumns = `id, order_number, customer_id, bill_id, status, shipping_address, COALESCE(shipping_phone, ''),
	COALESCE(notes, ''), subtotal, shipping_fee, discount, tax, total, ordered_at, confirmed_at, shipped_at,
	delivered_at, cancelled_at`

// OrderStore persists orders and their items.
type OrderStore struct {
	db db.DBTX
}

// NewOrderStore binds an OrderStore to a pool or transaction.
func NewOrderStore(conn db.DBTX) *OrderStore {
	return &OrderStore{db: conn}
}

// NextOrderNumber draws the next value from the order sequence.
func (s *OrderStore) NextOrderNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := s.db.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return "", shared.Persistence("nextval", "order number", err)
	}
	return FormatOrderNumber(seq), nil
}

// InsertOrder writes the order header and items, filling ids.
func (s *OrderStore) InsertOrder(ctx context.Context, o Order) (Order, error) {
	err := s.db.QueryRow(ctx, `INSERT INTO orders
		(order_number, customer_id, bill_id, status, shipping_address, shipping_phone, notes,
		 subtotal, shipping_fee, discount, tax, total, ordered_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12, $13) RETURNING id`,
		o.OrderNumber, o.CustomerID, o.BillID, o.Status, o.ShippingAddress, o.ShippingPhone, o.Notes,
		o.Subtotal, o.ShippingFee, o.Discount, o.Tax, o.Total, o.OrderedAt,
	).Scan(&o.ID)
	if err != nil {
		return Order{}, shared.Persistence("insert", "order", err, o.OrderNumber)
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := s.db.QueryRow(ctx, `INSERT INTO order_items
			(order_id, product_code, product_name, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			it.OrderID, it.ProductCode, it.ProductName, it.Quantity, it.UnitPrice, it.LineTotal,
		).Scan(&it.ID)
		if err != nil {
			return Order{}, shared.Persistence("insert", "order item", err, o.OrderNumber, it.ProductCode)
		}
	}
	return o, nil
}

// GetOrder loads an order with its items.
func (s *OrderStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.loadOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

// GetOrderByNumber loads an order by its order number.
func (s *OrderStore) GetOrderByNumber(ctx context.Context, number string) (Order, error) {
	return s.loadOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
}

// GetOrderForUpdate loads an order and locks its row for the transaction.
func (s *OrderStore) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return s.loadOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

// SaveOrderState writes status, timestamps and notes. The update only applies
// when the stored status still equals from.
func (s *OrderStore) SaveOrderState(ctx context.Context, o Order, from Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET status = $2, notes = NULLIF($3, ''), confirmed_at = $4,
		shipped_at = $5, delivered_at = $6, cancelled_at = $7
		WHERE id = $1 AND status = $8`,
		o.ID, o.Status, o.Notes, o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt, from)
	if err != nil {
		return shared.Persistence("update", "order", err, o.ID)
	}
	if tag.RowsAffected() == 0 {
		return &shared.InvalidStateTransitionError{Entity: "order " + o.OrderNumber, From: string(from), To: string(o.Status)}
	}
	return nil
}

// UpdateShipping rewrites the shipping details of an order that has not started processing.
func (s *OrderStore) UpdateShipping(ctx context.Context, id int64, address, phone string) error {
	tag, err := s.db.Exec(ctx, `UPDATE orders SET shipping_address = $2, shipping_phone = NULLIF($3, '')
		WHERE id = $1 AND status IN ($4, $5)`, id, address, phone, StatusPending, StatusConfirmed)
	if err != nil {
		return shared.Persistence("update", "order shipping", err, id)
	}
	if tag.RowsAffected() == 0 {
		return ErrShippingLocked
	}
	return nil
}

// ListOrders returns headers matching f, newest first. Items are not loaded.
func (s *OrderStore) ListOrders(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.CustomerID > 0 {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ActiveOnly {
		add("status <> ALL($%d)", []string{string(StatusDelivered), string(StatusCancelled), string(StatusRefunded)})
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY ordered_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence("list", "order", err)
	}
	out, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, shared.Persistence("scan", "order", err)
	}
	return out, nil
}

// CustomerStatuses returns the status of every order placed by customer.
func (s *OrderStore) CustomerStatuses(ctx context.Context, customerID int64) ([]Status, error) {
	rows, err := s.db.Query(ctx, `SELECT status FROM orders WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, shared.Persistence("list", "order status", err, customerID)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[Status])
	if err != nil {
		return nil, shared.Persistence("scan", "order status", err, customerID)
	}
	return out, nil
}

func scanOrder(row pgx.CollectableRow) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.BillID, &o.Status, &o.ShippingAddress, &o.ShippingPhone,
		&o.Notes, &o.Subtotal, &o.ShippingFee, &o.Discount, &o.Tax, &o.Total, &o.OrderedAt,
		&o.ConfirmedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
	)
	return o, err
}

func (s *OrderStore) loadOrder(ctx context.Context, query string, key any) (Order, error) {
	rows, err := s.db.Query(ctx, query, key)
	if err != nil {
		return Order{}, shared.Persistence("get", "order", err, key)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("order", key)
	}
	if err != nil {
		return Order{}, shared.Persistence("get", "order", err, key)
	}
	items, err := s.db.Query(ctx, `SELECT id, order_id, product_code, product_name, quantity, unit_price, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id`, o.ID)
	if err != nil {
		return Order{}, shared.Persistence("list", "order item", err, o.ID)
	}
	o.Items, err = pgx.CollectRows(items, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.OrderID, &it.ProductCode, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.LineTotal)
		return it, err
	})
	if err != nil {
		return Order{}, shared.Persistence("scan", "order item", err, o.ID)
	}
	return o, nil
}
