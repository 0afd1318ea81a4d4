package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const billColumns = `id, serial_number, channel, payment_kind, customer_id, cashier, subtotal, discount, tax,
	total, tendered, change_due, status, COALESCE(reversal_reason, ''), created_at, reversed_at`

// BillStore persists bills and their line items.
type BillStore struct {
	db  db.DBTX
	now func() time.Time
}

// NewBillStore binds a BillStore to a pool or transaction.
func NewBillStore(conn db.DBTX) *BillStore {
	return &BillStore{db: conn, now: time.Now}
}

// NextBillSerial returns the next serial for prefix on day. The advisory lock is
// held until the enclosing transaction ends, so concurrent checkouts of the same
// channel never compute the same serial.
func (s *BillStore) NextBillSerial(ctx context.Context, prefix string, day time.Time) (string, error) {
	like := SerialPrefix(prefix, day)
	if _, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, like); err != nil {
		return "", shared.Persistence("lock", "bill serial", err, like)
	}
	var last string
	err := s.db.QueryRow(ctx, `SELECT serial_number FROM bills
		WHERE serial_number LIKE $1 || '%'
		ORDER BY length(serial_number) DESC, serial_number DESC LIMIT 1`, like).Scan(&last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", shared.Persistence("max", "bill serial", err, like)
	}
	return NextSerial(prefix, day, last)
}

// InsertBill writes the bill header and items, filling ids and timestamps.
func (s *BillStore) InsertBill(ctx context.Context, b Bill) (Bill, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	err := s.db.QueryRow(ctx, `INSERT INTO bills
		(serial_number, channel, payment_kind, customer_id, cashier, subtotal, discount, tax, total,
		 tendered, change_due, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		b.SerialNumber, b.Channel, b.PaymentKind, b.CustomerID, b.Cashier, b.Subtotal, b.Discount, b.Tax, b.Total,
		b.Tendered, b.Change, b.Status, b.CreatedAt,
	).Scan(&b.ID)
	if err != nil {
		return Bill{}, shared.Persistence("insert", "bill", err, b.SerialNumber)
	}
	for i := range b.Items {
		item := &b.Items[i]
		item.BillID = b.ID
		err := s.db.QueryRow(ctx, `INSERT INTO bill_line_items
			(bill_id, product_code, product_name, batch_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			item.BillID, item.ProductCode, item.ProductName, item.BatchID, item.Quantity, item.UnitPrice, item.LineTotal,
		).Scan(&item.ID)
		if err != nil {
			return Bill{}, shared.Persistence("insert", "bill line item", err, b.SerialNumber, item.ProductCode)
		}
	}
	return b, nil
}

// GetBill loads a bill with its items.
func (s *BillStore) GetBill(ctx context.Context, id int64) (Bill, error) {
	return s.loadBill(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id)
}

// GetBillBySerial loads a bill by serial number.
func (s *BillStore) GetBillBySerial(ctx context.Context, serial string) (Bill, error) {
	return s.loadBill(ctx, `SELECT `+billColumns+` FROM bills WHERE serial_number = $1`, serial)
}

// GetBillForUpdate loads a bill and locks its row for the transaction.
func (s *BillStore) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	return s.loadBill(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1 FOR UPDATE`, id)
}

// MarkBillReversed flips a finalized bill to reversed.
func (s *BillStore) MarkBillReversed(ctx context.Context, id int64, reason string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `UPDATE bills SET status = $2, reversal_reason = $3, reversed_at = $4
		WHERE id = $1 AND status = $5`, id, BillReversed, reason, at, BillFinalized)
	if err != nil {
		return shared.Persistence("reverse", "bill", err, id)
	}
	if tag.RowsAffected() == 0 {
		return &shared.InvalidStateTransitionError{Entity: "bill", From: "non-finalized", To: string(BillReversed)}
	}
	return nil
}

func (s *BillStore) loadBill(ctx context.Context, query string, key any) (Bill, error) {
	var b Bill
	err := s.db.QueryRow(ctx, query, key).Scan(
		&b.ID, &b.SerialNumber, &b.Channel, &b.PaymentKind, &b.CustomerID, &b.Cashier,
		&b.Subtotal, &b.Discount, &b.Tax, &b.Total, &b.Tendered, &b.Change,
		&b.Status, &b.ReversalReason, &b.CreatedAt, &b.ReversedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, shared.NotFound("bill", key)
	}
	if err != nil {
		return Bill{}, shared.Persistence("get", "bill", err, key)
	}
	rows, err := s.db.Query(ctx, `SELECT id, bill_id, product_code, product_name, batch_id, quantity, unit_price, line_total
		FROM bill_line_items WHERE bill_id = $1 ORDER BY id`, b.ID)
	if err != nil {
		return Bill{}, shared.Persistence("list", "bill line item", err, b.ID)
	}
	b.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (LineItem, error) {
		var it LineItem
		err := row.Scan(&it.ID, &it.BillID, &it.ProductCode, &it.ProductName, &it.BatchID, &it.Quantity, &it.UnitPrice, &it.LineTotal)
		return it, err
	})
	if err != nil {
		return Bill{}, shared.Persistence("scan", "bill line item", err, b.ID)
	}
	return b, nil
}
