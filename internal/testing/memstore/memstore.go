// Package memstore is an in-memory stand-in for the PostgreSQL stores, used by
// service and handler tests. Transactions are serialised and roll back by
// restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type recordKey struct {
	channel channelstock.Channel
	product string
	batchID int64
}

type state struct {
	products map[string]catalog.Product
	batches  map[int64]ledger.Batch
	records  map[recordKey]channelstock.Record
	entries  []audittrail.Entry
	bills    map[int64]checkout.Bill
	orders   map[int64]orders.Order
	claimed  map[string]struct{}
	logs     []shared.AuditLog

	nextBatch, nextEntry, nextBill, nextItem, nextOrder int64
}

func (s state) clone() state {
	c := s
	c.products = maps.Clone(s.products)
	c.batches = maps.Clone(s.batches)
	c.records = maps.Clone(s.records)
	c.entries = slices.Clone(s.entries)
	c.bills = maps.Clone(s.bills)
	c.orders = maps.Clone(s.orders)
	c.claimed = maps.Clone(s.claimed)
	c.logs = slices.Clone(s.logs)
	return c
}

// Store holds every table in memory.
type Store struct {
	mu    sync.Mutex
	st    state
	fails map[string]error
	now   func() time.Time

	orderSeq int64
}

// New returns an empty store whose timestamps come from clock.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		st: state{
			products: map[string]catalog.Product{},
			batches:  map[int64]ledger.Batch{},
			records:  map[recordKey]channelstock.Record{},
			bills:    map[int64]checkout.Bill{},
			orders:   map[int64]orders.Order{},
			claimed:  map[string]struct{}{},
		},
		fails: map[string]error{},
		now:   clock,
	}
}

// FailNext makes the next call to the named transactional operation return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] = err
}

// withTx serialises fn and restores the snapshot when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&Tx{store: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// read runs fn under the lock without a snapshot.
func (s *Store) read(fn func(*Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{store: s})
}

// AddProduct seeds the catalog.
func (s *Store) AddProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Code = catalog.NormalizeCode(p.Code)
	s.st.products[p.Code] = p
}

// AddBatch seeds a batch and returns it with its id. Remaining defaults to received.
func (s *Store) AddBatch(b ledger.Batch) ledger.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.RemainingQuantity == 0 {
		b.RemainingQuantity = b.QuantityReceived
	}
	b, _ = (&Tx{store: s}).InsertBatch(context.Background(), b)
	return b
}

// SetRecord seeds a channel stock record for an existing batch.
func (s *Store) SetRecord(ch channelstock.Channel, batchID int64, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.st.batches[batchID]
	s.st.records[recordKey{ch, b.ProductCode, batchID}] = channelstock.Record{
		Channel:      ch,
		ProductCode:  b.ProductCode,
		BatchID:      batchID,
		Quantity:     qty,
		RestockedAt:  s.now().UTC(),
		PurchaseDate: b.PurchaseDate,
		ExpiryDate:   b.ExpiryDate,
	}
}

// AddBill seeds a stored bill and returns it with its id.
func (s *Store) AddBill(b checkout.Bill) checkout.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ = (&Tx{store: s}).InsertBill(context.Background(), b)
	return b
}

// BatchRemaining returns the remaining quantity of a batch.
func (s *Store) BatchRemaining(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.batches[id].RemainingQuantity
}

// RecordQuantity returns the quantity of one channel record.
func (s *Store) RecordQuantity(ch channelstock.Channel, product string, batchID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.records[recordKey{ch, product, batchID}].Quantity
}

// Entries returns a copy of the transaction log in append order.
func (s *Store) Entries() []audittrail.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.entries)
}

// Bills returns every stored bill ordered by id.
func (s *Store) Bills() []checkout.Bill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.bills))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns every stored order ordered by id.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.orders))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditLogs returns the operational audit records.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.logs)
}

// Product implements catalog.Lookup.
func (s *Store) Product(_ context.Context, code string) (catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[catalog.NormalizeCode(code)]
	if !ok {
		return catalog.Product{}, shared.NotFound("product", code)
	}
	return p, nil
}

// Products implements catalog.Lookup; unknown codes are absent from the map.
func (s *Store) Products(_ context.Context, codes []string) (map[string]catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]catalog.Product, len(codes))
	for _, c := range codes {
		if p, ok := s.st.products[c]; ok {
			out[c] = p
		}
	}
	return out, nil
}

// ListTransactions implements audittrail.Reader.
func (s *Store) ListTransactions(_ context.Context, f audittrail.Filter) ([]audittrail.Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match []audittrail.Entry
	for _, e := range s.st.entries {
		switch {
		case f.ProductCode != "" && e.ProductCode != f.ProductCode,
			f.BatchID != 0 && e.BatchID != f.BatchID,
			f.BillID != 0 && (e.BillID == nil || *e.BillID != f.BillID),
			f.Kind != "" && e.Kind != f.Kind,
			!f.From.IsZero() && e.OccurredAt.Before(f.From),
			!f.To.IsZero() && !e.OccurredAt.Before(f.To):
			continue
		}
		match = append(match, e)
	}
	slices.Reverse(match)
	total := len(match)
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	start := min(f.Offset, total)
	end := min(start+limit, total)
	return match[start:end], total, nil
}

// NetChange implements audittrail.Reader.
func (s *Store) NetChange(_ context.Context, product string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net := 0
	for _, e := range s.st.entries {
		if e.ProductCode == product && !e.Kind.IsTransfer() {
			net += e.QuantityDelta
		}
	}
	return net, nil
}
