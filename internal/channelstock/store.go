package channelstock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const recordColumns = `cs.channel, cs.product_code, cs.batch_id, cs.quantity, cs.restocked_at, b.purchase_date, b.expiry_date`

const recordOrder = ` ORDER BY b.expiry_date ASC NULLS LAST, b.purchase_date ASC, cs.batch_id ASC`

// RecordStore persists channel_stock rows.
type RecordStore struct {
	db db.DBTX
}

// NewRecordStore binds a RecordStore to a pool or transaction.
func NewRecordStore(conn db.DBTX) *RecordStore {
	return &RecordStore{db: conn}
}

// AvailableRecords returns records with stock for product in FIFO-by-expiry order.
func (s *RecordStore) AvailableRecords(ctx context.Context, ch Channel, product string) ([]Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+`
		FROM channel_stock cs JOIN batches b ON b.id = cs.batch_id
		WHERE cs.channel = $1 AND cs.product_code = $2 AND cs.quantity > 0`+recordOrder, ch, product)
}

// ChannelRecords returns every record for product, including exhausted ones.
func (s *RecordStore) ChannelRecords(ctx context.Context, ch Channel, product string) ([]Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+`
		FROM channel_stock cs JOIN batches b ON b.id = cs.batch_id
		WHERE cs.channel = $1 AND cs.product_code = $2`+recordOrder, ch, product)
}

// DeductRecord decrements a record only when it holds at least qty.
func (s *RecordStore) DeductRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE channel_stock SET quantity = quantity - $4
		WHERE channel = $1 AND product_code = $2 AND batch_id = $3 AND quantity >= $4`,
		ch, product, batchID, qty)
	if err != nil {
		return false, shared.Persistence("deduct", "channel stock", err, ch, product, batchID)
	}
	return tag.RowsAffected() > 0, nil
}

// CreditRecord adds qty back to an existing record without touching restocked_at.
func (s *RecordStore) CreditRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE channel_stock SET quantity = quantity + $4
		WHERE channel = $1 AND product_code = $2 AND batch_id = $3`,
		ch, product, batchID, qty)
	if err != nil {
		return false, shared.Persistence("credit", "channel stock", err, ch, product, batchID)
	}
	return tag.RowsAffected() > 0, nil
}

// AddToRecord upserts a record, adding qty and stamping restocked_at.
func (s *RecordStore) AddToRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int, at time.Time) error {
	_, err := s.db.Exec(ctx, `INSERT INTO channel_stock (channel, product_code, batch_id, quantity, restocked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel, product_code, batch_id)
		DO UPDATE SET quantity = channel_stock.quantity + EXCLUDED.quantity, restocked_at = EXCLUDED.restocked_at`,
		ch, product, batchID, qty, at)
	if err != nil {
		return shared.Persistence("upsert", "channel stock", err, ch, product, batchID)
	}
	return nil
}

// ChannelQuantity sums the channel's records for product.
func (s *RecordStore) ChannelQuantity(ctx context.Context, ch Channel, product string) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM channel_stock
		WHERE channel = $1 AND product_code = $2`, ch, product).Scan(&total)
	if err != nil {
		return 0, shared.Persistence("sum", "channel stock", err, ch, product)
	}
	return total, nil
}

// StockLevels aggregates the channel per product.
func (s *RecordStore) StockLevels(ctx context.Context, ch Channel) ([]ProductLevel, error) {
	return s.queryLevels(ctx, `SELECT product_code, SUM(quantity), COUNT(*) FILTER (WHERE quantity > 0)
		FROM channel_stock WHERE channel = $1
		GROUP BY product_code ORDER BY product_code`, ch)
}

// LowStockLevels returns products whose channel total is below threshold, lowest first.
func (s *RecordStore) LowStockLevels(ctx context.Context, ch Channel, threshold int) ([]ProductLevel, error) {
	return s.queryLevels(ctx, `SELECT product_code, SUM(quantity) AS total, COUNT(*) FILTER (WHERE quantity > 0)
		FROM channel_stock WHERE channel = $1
		GROUP BY product_code HAVING SUM(quantity) < $2
		ORDER BY total ASC, product_code`, ch, threshold)
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, ch Channel, product string) ([]Record, error) {
	rows, err := s.db.Query(ctx, query, ch, product)
	if err != nil {
		return nil, shared.Persistence("list", "channel stock", err, ch, product)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Channel, &r.ProductCode, &r.BatchID, &r.Quantity, &r.RestockedAt, &r.PurchaseDate, &r.ExpiryDate); err != nil {
			return nil, shared.Persistence("scan", "channel stock", err, ch, product)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("list", "channel stock", err, ch, product)
	}
	return out, nil
}

func (s *RecordStore) queryLevels(ctx context.Context, query string, args ...any) ([]ProductLevel, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence("aggregate", "channel stock", err, args[0])
	}
	levels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ProductLevel, error) {
		var l ProductLevel
		err := row.Scan(&l.ProductCode, &l.Quantity, &l.BatchCount)
		return l, err
	})
	if err != nil {
		return nil, shared.Persistence("aggregate", "channel stock", err, args[0])
	}
	return levels, nil
}
