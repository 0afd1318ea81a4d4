package memstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Tx is the transactional view. It satisfies the TxRepository of every package.
type Tx struct {
	store *Store
}

var (
	_ ledger.TxRepository       = (*Tx)(nil)
	_ channelstock.TxRepository = (*Tx)(nil)
	_ checkout.TxRepository     = (*Tx)(nil)
	_ orders.TxRepository       = (*Tx)(nil)
)

func (t *Tx) st() *state { return &t.store.st }

func (t *Tx) fail(op string) error {
	err, ok := t.store.fails[op]
	if !ok {
		return nil
	}
	delete(t.store.fails, op)
	return err
}

func (t *Tx) now() time.Time { return t.store.now().UTC() }

// InsertBatch stores b with a fresh id.
func (t *Tx) InsertBatch(_ context.Context, b ledger.Batch) (ledger.Batch, error) {
	if err := t.fail("InsertBatch"); err != nil {
		return ledger.Batch{}, err
	}
	st := t.st()
	st.nextBatch++
	b.ID = st.nextBatch
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.now()
	}
	st.batches[b.ID] = b
	return b, nil
}

// GetBatch loads one batch.
func (t *Tx) GetBatch(_ context.Context, id int64) (ledger.Batch, error) {
	b, ok := t.st().batches[id]
	if !ok {
		return ledger.Batch{}, shared.NotFound("batch", id)
	}
	return b, nil
}

// ReduceBatch decrements remaining when enough is left.
func (t *Tx) ReduceBatch(_ context.Context, id int64, amount int) (bool, error) {
	if err := t.fail("ReduceBatch"); err != nil {
		return false, err
	}
	b, ok := t.st().batches[id]
	if !ok || b.RemainingQuantity < amount {
		return false, nil
	}
	b.RemainingQuantity -= amount
	t.st().batches[id] = b
	return true, nil
}

// IncreaseBatch increments remaining while it stays within the received quantity.
func (t *Tx) IncreaseBatch(_ context.Context, id int64, amount int) (bool, error) {
	b, ok := t.st().batches[id]
	if !ok || b.RemainingQuantity+amount > b.QuantityReceived {
		return false, nil
	}
	b.RemainingQuantity += amount
	t.st().batches[id] = b
	return true, nil
}

// ListAvailableBatches returns stocked batches of product in FIFO order.
func (t *Tx) ListAvailableBatches(_ context.Context, product string) ([]ledger.Batch, error) {
	return t.batchesWhere(func(b ledger.Batch) bool {
		return b.ProductCode == product && b.RemainingQuantity > 0
	}), nil
}

func (t *Tx) batchesWhere(keep func(ledger.Batch) bool) []ledger.Batch {
	var out []ledger.Batch
	for _, b := range t.st().batches {
		if keep(b) {
			out = append(out, b)
		}
	}
	ledger.SortFIFO(out)
	return out
}

// AppendTransactions validates and appends entries.
func (t *Tx) AppendTransactions(_ context.Context, entries ...audittrail.Entry) ([]audittrail.Entry, error) {
	if err := t.fail("AppendTransactions"); err != nil {
		return nil, err
	}
	st := t.st()
	out := make([]audittrail.Entry, 0, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if e.OccurredAt.IsZero() {
			e.OccurredAt = t.now()
		}
		st.nextEntry++
		e.ID = st.nextEntry
		st.entries = append(st.entries, e)
		out = append(out, e)
	}
	return out, nil
}

// AvailableRecords returns records with stock in FIFO-by-expiry order.
func (t *Tx) AvailableRecords(_ context.Context, ch channelstock.Channel, product string) ([]channelstock.Record, error) {
	return t.recordsWhere(ch, product, true), nil
}

// ChannelRecords returns every record for product.
func (t *Tx) ChannelRecords(_ context.Context, ch channelstock.Channel, product string) ([]channelstock.Record, error) {
	return t.recordsWhere(ch, product, false), nil
}

func (t *Tx) recordsWhere(ch channelstock.Channel, product string, stockedOnly bool) []channelstock.Record {
	var out []channelstock.Record
	for k, r := range t.st().records {
		if k.channel != ch || k.product != product || (stockedOnly && r.Quantity <= 0) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return ledger.LessFIFO(
			ledger.Batch{ID: out[i].BatchID, PurchaseDate: out[i].PurchaseDate, ExpiryDate: out[i].ExpiryDate},
			ledger.Batch{ID: out[j].BatchID, PurchaseDate: out[j].PurchaseDate, ExpiryDate: out[j].ExpiryDate},
		)
	})
	return out
}

// DeductRecord decrements a record only when it holds at least qty.
func (t *Tx) DeductRecord(_ context.Context, ch channelstock.Channel, product string, batchID int64, qty int) (bool, error) {
	if err := t.fail("DeductRecord"); err != nil {
		return false, err
	}
	k := recordKey{ch, product, batchID}
	r, ok := t.st().records[k]
	if !ok || r.Quantity < qty {
		return false, nil
	}
	r.Quantity -= qty
	t.st().records[k] = r
	return true, nil
}

// CreditRecord adds qty to an existing record.
func (t *Tx) CreditRecord(_ context.Context, ch channelstock.Channel, product string, batchID int64, qty int) (bool, error) {
	k := recordKey{ch, product, batchID}
	r, ok := t.st().records[k]
	if !ok {
		return false, nil
	}
	r.Quantity += qty
	t.st().records[k] = r
	return true, nil
}

// AddToRecord upserts a record and stamps restocked_at.
func (t *Tx) AddToRecord(_ context.Context, ch channelstock.Channel, product string, batchID int64, qty int, at time.Time) error {
	if err := t.fail("AddToRecord"); err != nil {
		return err
	}
	k := recordKey{ch, product, batchID}
	r, ok := t.st().records[k]
	if !ok {
		b := t.st().batches[batchID]
		r = channelstock.Record{Channel: ch, ProductCode: product, BatchID: batchID, PurchaseDate: b.PurchaseDate, ExpiryDate: b.ExpiryDate}
	}
	r.Quantity += qty
	r.RestockedAt = at
	t.st().records[k] = r
	return nil
}

func (t *Tx) levels(ch channelstock.Channel) []channelstock.ProductLevel {
	byProduct := map[string]*channelstock.ProductLevel{}
	for k, r := range t.st().records {
		if k.channel != ch {
			continue
		}
		l, ok := byProduct[k.product]
		if !ok {
			l = &channelstock.ProductLevel{ProductCode: k.product}
			byProduct[k.product] = l
		}
		l.Quantity += r.Quantity
		if r.Quantity > 0 {
			l.BatchCount++
		}
	}
	out := make([]channelstock.ProductLevel, 0, len(byProduct))
	for _, l := range byProduct {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductCode < out[j].ProductCode })
	return out
}

// NextBillSerial returns the serial after the highest one stored for prefix on day.
func (t *Tx) NextBillSerial(_ context.Context, prefix string, day time.Time) (string, error) {
	like := checkout.SerialPrefix(prefix, day)
	last := ""
	for _, b := range t.st().bills {
		if strings.HasPrefix(b.SerialNumber, like) && checkout.SerialAfter(b.SerialNumber, last) {
			last = b.SerialNumber
		}
	}
	return checkout.NextSerial(prefix, day, last)
}

// InsertBill stores the bill and its items with fresh ids.
func (t *Tx) InsertBill(_ context.Context, b checkout.Bill) (checkout.Bill, error) {
	if err := t.fail("InsertBill"); err != nil {
		return checkout.Bill{}, err
	}
	st := t.st()
	for _, existing := range st.bills {
		if existing.SerialNumber == b.SerialNumber {
			return checkout.Bill{}, shared.Persistence("insert", "bill", errors.New("duplicate serial number"), b.SerialNumber)
		}
	}
	st.nextBill++
	b.ID = st.nextBill
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.now()
	}
	b.Items = slices.Clone(b.Items)
	for i := range b.Items {
		st.nextItem++
		b.Items[i].ID = st.nextItem
		b.Items[i].BillID = b.ID
	}
	st.bills[b.ID] = b
	return cloneBill(b), nil
}

// GetBillForUpdate loads a bill.
func (t *Tx) GetBillForUpdate(_ context.Context, id int64) (checkout.Bill, error) {
	return t.bill(id)
}

func (t *Tx) bill(id int64) (checkout.Bill, error) {
	b, ok := t.st().bills[id]
	if !ok {
		return checkout.Bill{}, shared.NotFound("bill", id)
	}
	return cloneBill(b), nil
}

// MarkBillReversed flips a finalized bill to reversed.
func (t *Tx) MarkBillReversed(_ context.Context, id int64, reason string, at time.Time) error {
	b, ok := t.st().bills[id]
	if !ok || b.Status != checkout.BillFinalized {
		return &shared.InvalidStateTransitionError{Entity: "bill", From: string(b.Status), To: string(checkout.BillReversed)}
	}
	b.Status = checkout.BillReversed
	b.ReversalReason = reason
	b.ReversedAt = &at
	t.st().bills[id] = b
	return nil
}

func cloneBill(b checkout.Bill) checkout.Bill {
	b.Items = slices.Clone(b.Items)
	return b
}

// Claim records an idempotency key.
func (t *Tx) Claim(_ context.Context, module, key string) error {
	k := module + "/" + key
	if _, ok := t.st().claimed[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.st().claimed[k] = struct{}{}
	return nil
}

// NextOrderNumber draws from a sequence that, like a database sequence, survives rollback.
func (t *Tx) NextOrderNumber(context.Context) (string, error) {
	t.store.orderSeq++
	return orders.FormatOrderNumber(t.store.orderSeq), nil
}

// InsertOrder stores the order with fresh ids.
func (t *Tx) InsertOrder(_ context.Context, o orders.Order) (orders.Order, error) {
	if err := t.fail("InsertOrder"); err != nil {
		return orders.Order{}, err
	}
	st := t.st()
	st.nextOrder++
	o.ID = st.nextOrder
	o.Items = slices.Clone(o.Items)
	for i := range o.Items {
		st.nextItem++
		o.Items[i].ID = st.nextItem
		o.Items[i].OrderID = o.ID
	}
	st.orders[o.ID] = o
	return cloneOrder(o), nil
}

// GetOrderForUpdate loads an order.
func (t *Tx) GetOrderForUpdate(_ context.Context, id int64) (orders.Order, error) {
	return t.order(id)
}

func (t *Tx) order(id int64) (orders.Order, error) {
	o, ok := t.st().orders[id]
	if !ok {
		return orders.Order{}, shared.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

// SaveOrderState writes status, timestamps and notes when the stored status equals from.
func (t *Tx) SaveOrderState(_ context.Context, o orders.Order, from orders.Status) error {
	if err := t.fail("SaveOrderState"); err != nil {
		return err
	}
	stored, ok := t.st().orders[o.ID]
	if !ok || stored.Status != from {
		return &shared.InvalidStateTransitionError{Entity: "order " + o.OrderNumber, From: string(from), To: string(o.Status)}
	}
	stored.Status = o.Status
	stored.Notes = o.Notes
	stored.ConfirmedAt = o.ConfirmedAt
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	stored.CancelledAt = o.CancelledAt
	t.st().orders[o.ID] = stored
	return nil
}

// UpdateShipping rewrites shipping details while the order is pending or confirmed.
func (t *Tx) UpdateShipping(_ context.Context, id int64, address, phone string) error {
	o, ok := t.st().orders[id]
	if !ok || (o.Status != orders.StatusPending && o.Status != orders.StatusConfirmed) {
		return orders.ErrShippingLocked
	}
	o.ShippingAddress = address
	o.ShippingPhone = phone
	t.st().orders[id] = o
	return nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

// Record appends an operational audit record.
func (t *Tx) Record(ctx context.Context, log shared.AuditLog) error {
	if err := t.fail("Record"); err != nil {
		return err
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.Actor == "" {
		log.Actor = shared.ActorFromContext(ctx)
	}
	if log.At.IsZero() {
		log.At = t.now()
	}
	t.st().logs = append(t.st().logs, log)
	return nil
}
