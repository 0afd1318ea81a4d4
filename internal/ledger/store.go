package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const batchColumns = `id, product_code, quantity_received, remaining_quantity, purchase_price, purchase_date, expiry_date, supplier, created_at`

// fifoOrder is the SQL rendering of LessFIFO.
const fifoOrder = `ORDER BY expiry_date ASC NULLS LAST, purchase_date ASC, id ASC`

// BatchStore runs batch queries against a pool or a transaction.
type BatchStore struct {
	db db.DBTX
}

// NewBatchStore binds a BatchStore to conn.
func NewBatchStore(conn db.DBTX) *BatchStore {
	return &BatchStore{db: conn}
}

// InsertBatch stores a new batch and returns it with its id.
func (s *BatchStore) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	err := s.db.QueryRow(ctx, `INSERT INTO batches
		(product_code, quantity_received, remaining_quantity, purchase_price, purchase_date, expiry_date, supplier)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		b.ProductCode, b.QuantityReceived, b.RemainingQuantity, b.PurchasePrice, b.PurchaseDate, b.ExpiryDate, b.Supplier,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return Batch{}, shared.Persistence("insert", "batch", err, b.ProductCode)
	}
	return b, nil
}

// GetBatch loads one batch.
func (s *BatchStore) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(s.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, shared.NotFound("batch", id)
		}
		return Batch{}, shared.Persistence("get", "batch", err, id)
	}
	return b, nil
}

// ReduceBatch decrements remaining only when enough is left. It reports whether a row changed.
func (s *BatchStore) ReduceBatch(ctx context.Context, id int64, amount int) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE batches SET remaining_quantity = remaining_quantity - $2
		WHERE id = $1 AND remaining_quantity >= $2`, id, amount)
	if err != nil {
		return false, shared.Persistence("reduce", "batch", err, id)
	}
	return tag.RowsAffected() > 0, nil
}

// IncreaseBatch increments remaining while it stays within the received quantity.
func (s *BatchStore) IncreaseBatch(ctx context.Context, id int64, amount int) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE batches SET remaining_quantity = remaining_quantity + $2
		WHERE id = $1 AND remaining_quantity + $2 <= quantity_received`, id, amount)
	if err != nil {
		return false, shared.Persistence("increase", "batch", err, id)
	}
	return tag.RowsAffected() > 0, nil
}

// ListAvailableBatches returns batches of product with stock left, in FIFO order.
func (s *BatchStore) ListAvailableBatches(ctx context.Context, product string) ([]Batch, error) {
	return s.queryBatches(ctx, "list available", `SELECT `+batchColumns+` FROM batches
		WHERE product_code = $1 AND remaining_quantity > 0 `+fifoOrder, product)
}

// ListBatches returns every batch of product, including exhausted ones.
func (s *BatchStore) ListBatches(ctx context.Context, product string) ([]Batch, error) {
	return s.queryBatches(ctx, "list", `SELECT `+batchColumns+` FROM batches WHERE product_code = $1 `+fifoOrder, product)
}

// BatchesExpiringBetween returns stocked batches whose expiry falls in [from, to].
func (s *BatchStore) BatchesExpiringBetween(ctx context.Context, from, to time.Time) ([]Batch, error) {
	return s.queryBatches(ctx, "list expiring", `SELECT `+batchColumns+` FROM batches
		WHERE expiry_date BETWEEN $1 AND $2 AND remaining_quantity > 0 `+fifoOrder, from, to)
}

// BatchesExpiredBefore returns stocked batches whose expiry is before day.
func (s *BatchStore) BatchesExpiredBefore(ctx context.Context, day time.Time) ([]Batch, error) {
	return s.queryBatches(ctx, "list expired", `SELECT `+batchColumns+` FROM batches
		WHERE expiry_date < $1 AND remaining_quantity > 0 `+fifoOrder, day)
}

// TotalRemaining sums remaining stock across the batches of product.
func (s *BatchStore) TotalRemaining(ctx context.Context, product string) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(remaining_quantity), 0) FROM batches WHERE product_code = $1`, product).Scan(&total)
	if err != nil {
		return 0, shared.Persistence("sum", "batch", err, product)
	}
	return total, nil
}

// BatchSummary aggregates batches per product.
func (s *BatchStore) BatchSummary(ctx context.Context) ([]ProductSummary, error) {
	rows, err := s.db.Query(ctx, `SELECT product_code, COALESCE(SUM(remaining_quantity), 0), COUNT(*),
		MIN(expiry_date) FILTER (WHERE remaining_quantity > 0)
		FROM batches GROUP BY product_code ORDER BY product_code`)
	if err != nil {
		return nil, shared.Persistence("summarise", "batch", err)
	}
	defer rows.Close()

	var out []ProductSummary
	for rows.Next() {
		var ps ProductSummary
		if err := rows.Scan(&ps.ProductCode, &ps.TotalRemaining, &ps.BatchCount, &ps.EarliestExpiry); err != nil {
			return nil, shared.Persistence("scan", "batch summary", err)
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("summarise", "batch", err)
	}
	return out, nil
}

func (s *BatchStore) queryBatches(ctx context.Context, op, query string, args ...any) ([]Batch, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Persistence(op, "batch", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, shared.Persistence("scan", "batch", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence(op, "batch", err)
	}
	return out, nil
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.ProductCode, &b.QuantityReceived, &b.RemainingQuantity, &b.PurchasePrice,
		&b.PurchaseDate, &b.ExpiryDate, &b.Supplier, &b.CreatedAt)
	return b, err
}
