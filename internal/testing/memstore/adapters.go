package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

var (
	_ ledger.RepositoryPort       = LedgerRepo{}
	_ channelstock.RepositoryPort = ChannelRepo{}
	_ checkout.RepositoryPort     = CheckoutRepo{}
	_ orders.RepositoryPort       = OrdersRepo{}
	_ audittrail.Reader           = (*Store)(nil)
	_ catalog.Lookup              = (*Store)(nil)
)

// LedgerRepo adapts Store to ledger.RepositoryPort.
type LedgerRepo struct{ *Store }

// ChannelRepo adapts Store to channelstock.RepositoryPort.
type ChannelRepo struct{ *Store }

// CheckoutRepo adapts Store to checkout.RepositoryPort.
type CheckoutRepo struct{ *Store }

// OrdersRepo adapts Store to orders.RepositoryPort.
type OrdersRepo struct{ *Store }

// Ledger returns the ledger view of s.
func (s *Store) Ledger() LedgerRepo { return LedgerRepo{s} }

// Channels returns the channel stock view of s.
func (s *Store) Channels() ChannelRepo { return ChannelRepo{s} }

// Checkout returns the checkout view of s.
func (s *Store) Checkout() CheckoutRepo { return CheckoutRepo{s} }

// OrdersRepo returns the orders view of s.
func (s *Store) OrdersRepo() OrdersRepo { return OrdersRepo{s} }

// WithTx implements ledger.RepositoryPort.
func (r LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// WithTx implements channelstock.RepositoryPort.
func (r ChannelRepo) WithTx(ctx context.Context, fn func(context.Context, channelstock.TxRepository) error) error {
	return r.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// WithTx implements checkout.RepositoryPort.
func (r CheckoutRepo) WithTx(ctx context.Context, fn func(context.Context, checkout.TxRepository) error) error {
	return r.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// WithTx implements orders.RepositoryPort.
func (r OrdersRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

// GetBatch loads one batch.
func (s *Store) GetBatch(ctx context.Context, id int64) (b ledger.Batch, err error) {
	s.read(func(t *Tx) { b, err = t.GetBatch(ctx, id) })
	return
}

// ListAvailableBatches returns stocked batches of product in FIFO order.
func (s *Store) ListAvailableBatches(ctx context.Context, product string) (out []ledger.Batch, err error) {
	s.read(func(t *Tx) { out, err = t.ListAvailableBatches(ctx, product) })
	return
}

// ListBatches returns every batch of product.
func (s *Store) ListBatches(_ context.Context, product string) (out []ledger.Batch, err error) {
	s.read(func(t *Tx) {
		out = t.batchesWhere(func(b ledger.Batch) bool { return b.ProductCode == product })
	})
	return
}

// BatchesExpiringBetween returns stocked batches whose expiry falls in [from, to].
func (s *Store) BatchesExpiringBetween(_ context.Context, from, to time.Time) (out []ledger.Batch, err error) {
	s.read(func(t *Tx) {
		out = t.batchesWhere(func(b ledger.Batch) bool {
			return b.ExpiryDate != nil && b.RemainingQuantity > 0 && !b.ExpiryDate.Before(from) && !b.ExpiryDate.After(to)
		})
	})
	return
}

// BatchesExpiredBefore returns stocked batches whose expiry is before day.
func (s *Store) BatchesExpiredBefore(_ context.Context, day time.Time) (out []ledger.Batch, err error) {
	s.read(func(t *Tx) {
		out = t.batchesWhere(func(b ledger.Batch) bool { return b.RemainingQuantity > 0 && b.ExpiresBefore(day) })
	})
	return
}

// TotalRemaining sums remaining stock across the batches of product.
func (s *Store) TotalRemaining(_ context.Context, product string) (total int, err error) {
	s.read(func(t *Tx) {
		for _, b := range t.st().batches {
			if b.ProductCode == product {
				total += b.RemainingQuantity
			}
		}
	})
	return
}

// BatchSummary aggregates batches per product.
func (s *Store) BatchSummary(context.Context) (out []ledger.ProductSummary, err error) {
	s.read(func(t *Tx) {
		byProduct := map[string]*ledger.ProductSummary{}
		for _, b := range t.st().batches {
			ps, ok := byProduct[b.ProductCode]
			if !ok {
				ps = &ledger.ProductSummary{ProductCode: b.ProductCode}
				byProduct[b.ProductCode] = ps
			}
			ps.TotalRemaining += b.RemainingQuantity
			ps.BatchCount++
			if b.RemainingQuantity > 0 && b.ExpiryDate != nil && (ps.EarliestExpiry == nil || b.ExpiryDate.Before(*ps.EarliestExpiry)) {
				ps.EarliestExpiry = b.ExpiryDate
			}
		}
		for _, ps := range byProduct {
			out = append(out, *ps)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ProductCode < out[j].ProductCode })
	})
	return
}

// AvailableRecords returns records with stock in FIFO-by-expiry order.
func (s *Store) AvailableRecords(ctx context.Context, ch channelstock.Channel, product string) (out []channelstock.Record, err error) {
	s.read(func(t *Tx) { out, err = t.AvailableRecords(ctx, ch, product) })
	return
}

// ChannelRecords returns every record for product.
func (s *Store) ChannelRecords(ctx context.Context, ch channelstock.Channel, product string) (out []channelstock.Record, err error) {
	s.read(func(t *Tx) { out, err = t.ChannelRecords(ctx, ch, product) })
	return
}

// ChannelQuantity sums the channel's records for product.
func (s *Store) ChannelQuantity(_ context.Context, ch channelstock.Channel, product string) (total int, err error) {
	s.read(func(t *Tx) {
		for k, r := range t.st().records {
			if k.channel == ch && k.product == product {
				total += r.Quantity
			}
		}
	})
	return
}

// StockLevels aggregates the channel per product.
func (s *Store) StockLevels(_ context.Context, ch channelstock.Channel) (out []channelstock.ProductLevel, err error) {
	s.read(func(t *Tx) { out = t.levels(ch) })
	return
}

// LowStockLevels returns products whose channel total is below threshold, lowest first.
func (s *Store) LowStockLevels(_ context.Context, ch channelstock.Channel, threshold int) (out []channelstock.ProductLevel, err error) {
	s.read(func(t *Tx) {
		for _, l := range t.levels(ch) {
			if l.Quantity < threshold {
				out = append(out, l)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Quantity < out[j].Quantity })
	return
}

// GetBill loads a bill with its items.
func (s *Store) GetBill(_ context.Context, id int64) (b checkout.Bill, err error) {
	s.read(func(t *Tx) { b, err = t.bill(id) })
	return
}

// GetBillBySerial loads a bill by serial number.
func (s *Store) GetBillBySerial(_ context.Context, serial string) (checkout.Bill, error) {
	var (
		id    int64
		found bool
	)
	s.read(func(t *Tx) {
		for _, b := range t.st().bills {
			if b.SerialNumber == serial {
				id, found = b.ID, true
			}
		}
	})
	if !found {
		return checkout.Bill{}, shared.NotFound("bill", serial)
	}
	return s.GetBill(context.Background(), id)
}

// GetOrder loads an order with its items.
func (s *Store) GetOrder(_ context.Context, id int64) (o orders.Order, err error) {
	s.read(func(t *Tx) { o, err = t.order(id) })
	return
}

// GetOrderByNumber loads an order by order number.
func (s *Store) GetOrderByNumber(_ context.Context, number string) (orders.Order, error) {
	var (
		id    int64
		found bool
	)
	s.read(func(t *Tx) {
		for _, o := range t.st().orders {
			if o.OrderNumber == number {
				id, found = o.ID, true
			}
		}
	})
	if !found {
		return orders.Order{}, shared.NotFound("order", number)
	}
	return s.GetOrder(context.Background(), id)
}

// ListOrders returns order headers matching f, newest first.
func (s *Store) ListOrders(_ context.Context, f orders.Filter) (out []orders.Order, err error) {
	s.read(func(t *Tx) {
		for _, o := range t.st().orders {
			switch {
			case f.CustomerID > 0 && o.CustomerID != f.CustomerID,
				f.Status != "" && o.Status != f.Status,
				f.ActiveOnly && o.Status.IsTerminal():
				continue
			}
			o.Items = nil
			out = append(out, o)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderedAt.After(out[j].OrderedAt)
		}
		return out[i].ID > out[j].ID
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	start := min(max(f.Offset, 0), len(out))
	return out[start:min(start+limit, len(out))], nil
}

// CustomerStatuses returns the status of every order placed by customer.
func (s *Store) CustomerStatuses(_ context.Context, customerID int64) (out []orders.Status, err error) {
	s.read(func(t *Tx) {
		for _, o := range t.st().orders {
			if o.CustomerID == customerID {
				out = append(out, o.Status)
			}
		}
	})
	return
}
