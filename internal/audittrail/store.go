package audittrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Store reads and appends inventory_transactions rows. It has no update or delete path.
type Store struct {
	db  db.DBTX
	now func() time.Time
}

// NewStore binds a Store to a pool or transaction.
func NewStore(conn db.DBTX) *Store {
	return &Store{db: conn, now: time.Now}
}

// AppendTransactions inserts entries, filling ID and OccurredAt.
func (s *Store) AppendTransactions(ctx context.Context, entries ...Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = s.now().UTC()
		}
		var channel *string
		if e.Channel != "" {
			channel = &e.Channel
		}
		err := s.db.QueryRow(ctx, `INSERT INTO inventory_transactions
			(product_code, batch_id, channel, kind, quantity_delta, bill_id, remarks, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			e.ProductCode, e.BatchID, channel, string(e.Kind), e.QuantityDelta, e.BillID, e.Remarks, e.OccurredAt,
		).Scan(&e.ID)
		if err != nil {
			return nil, shared.Persistence("insert", "inventory transaction", err, e.ProductCode, e.BatchID)
		}
		out = append(out, e)
	}
	return out, nil
}

// ListTransactions returns entries matching filter, newest first, and the total match count.
func (s *Store) ListTransactions(ctx context.Context, filter Filter) ([]Entry, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductCode != "" {
		add("product_code = $%d", filter.ProductCode)
	}
	if filter.BatchID != 0 {
		add("batch_id = $%d", filter.BatchID)
	}
	if filter.BillID != 0 {
		add("bill_id = $%d", filter.BillID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if !filter.From.IsZero() {
		add("occurred_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("occurred_at < $%d", filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, shared.Persistence("count", "inventory transaction", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT id, product_code, batch_id, COALESCE(channel, ''), kind, quantity_delta, bill_id, remarks, occurred_at
		FROM inventory_transactions%s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, shared.Persistence("list", "inventory transaction", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.ProductCode, &e.BatchID, &e.Channel, &kind, &e.QuantityDelta, &e.BillID, &e.Remarks, &e.OccurredAt); err != nil {
			return nil, 0, shared.Persistence("scan", "inventory transaction", err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, shared.Persistence("list", "inventory transaction", err)
	}
	return entries, total, nil
}

// NetChange sums the deltas recorded for a product, skipping ledger to channel
// transfers, so the result is the stock held across the ledger and both channels.
func (s *Store) NetChange(ctx context.Context, product string) (int, error) {
	var net int
	err := s.db.QueryRow(ctx, `SELECT COALESCE(SUM(quantity_delta), 0) FROM inventory_transactions
		WHERE product_code = $1 AND kind <> ALL($2)`, product, TransferKinds()).Scan(&net)
	if err != nil {
		return 0, shared.Persistence("sum", "inventory transaction", err, product)
	}
	return net, nil
}
