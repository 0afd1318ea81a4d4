package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	batches map[int64]Batch
	entries []audittrail.Entry
	nextID  int64
	failTx  error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{batches: make(map[int64]Batch)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]Batch, len(r.batches))
	for k, v := range r.batches {
		saved[k] = v
	}
	savedEntries := len(r.entries)
	err := fn(ctx, &memoryTx{repo: r})
	if err == nil {
		err = r.failTx
	}
	if err != nil {
		r.batches = saved
		r.entries = r.entries[:savedEntries]
	}
	return err
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{repo: r}).GetBatch(ctx, id)
}

func (r *memoryRepo) ListAvailableBatches(ctx context.Context, product string) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memoryTx{repo: r}).ListAvailableBatches(ctx, product)
}

func (r *memoryRepo) ListBatches(ctx context.Context, product string) ([]Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.ProductCode == product {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) BatchesExpiringBetween(ctx context.Context, from, to time.Time) ([]Batch, error) {
	return r.filter(func(b Batch) bool {
		return b.ExpiryDate != nil && !b.ExpiryDate.Before(from) && !b.ExpiryDate.After(to)
	}), nil
}

func (r *memoryRepo) BatchesExpiredBefore(ctx context.Context, day time.Time) ([]Batch, error) {
	return r.filter(func(b Batch) bool { return b.ExpiresBefore(day) }), nil
}

func (r *memoryRepo) TotalRemaining(ctx context.Context, product string) (int, error) {
	total := 0
	for _, b := range r.filter(func(b Batch) bool { return b.ProductCode == product }) {
		total += b.RemainingQuantity
	}
	return total, nil
}

func (r *memoryRepo) BatchSummary(ctx context.Context) ([]ProductSummary, error) {
	byProduct := map[string]*ProductSummary{}
	var order []string
	for _, b := range r.filter(func(Batch) bool { return true }) {
		ps, ok := byProduct[b.ProductCode]
		if !ok {
			ps = &ProductSummary{ProductCode: b.ProductCode}
			byProduct[b.ProductCode] = ps
			order = append(order, b.ProductCode)
		}
		ps.TotalRemaining += b.RemainingQuantity
		ps.BatchCount++
		if b.RemainingQuantity > 0 && b.ExpiryDate != nil && (ps.EarliestExpiry == nil || b.ExpiryDate.Before(*ps.EarliestExpiry)) {
			ps.EarliestExpiry = b.ExpiryDate
		}
	}
	out := make([]ProductSummary, 0, len(order))
	for _, code := range order {
		out = append(out, *byProduct[code])
	}
	return out, nil
}

func (r *memoryRepo) filter(keep func(Batch) bool) []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Batch
	for _, b := range r.batches {
		if b.RemainingQuantity > 0 && keep(b) {
			out = append(out, b)
		}
	}
	SortFIFO(out)
	return out
}

func (tx *memoryTx) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	b.CreatedAt = time.Now()
	tx.repo.batches[b.ID] = b
	return b, nil
}

func (tx *memoryTx) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, ok := tx.repo.batches[id]
	if !ok {
		return Batch{}, shared.NotFound("batch", id)
	}
	return b, nil
}

func (tx *memoryTx) ReduceBatch(ctx context.Context, id int64, amount int) (bool, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.RemainingQuantity < amount {
		return false, nil
	}
	b.RemainingQuantity -= amount
	tx.repo.batches[id] = b
	return true, nil
}

func (tx *memoryTx) IncreaseBatch(ctx context.Context, id int64, amount int) (bool, error) {
	b, ok := tx.repo.batches[id]
	if !ok || b.RemainingQuantity+amount > b.QuantityReceived {
		return false, nil
	}
	b.RemainingQuantity += amount
	tx.repo.batches[id] = b
	return true, nil
}

func (tx *memoryTx) ListAvailableBatches(ctx context.Context, product string) ([]Batch, error) {
	var out []Batch
	for _, b := range tx.repo.batches {
		if b.ProductCode == product && b.RemainingQuantity > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func (tx *memoryTx) AppendTransactions(ctx context.Context, entries ...audittrail.Entry) ([]audittrail.Entry, error) {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	tx.repo.entries = append(tx.repo.entries, entries...)
	return entries, nil
}

type stubCatalog map[string]catalog.Product

func (c stubCatalog) Product(ctx context.Context, code string) (catalog.Product, error) {
	p, ok := c[code]
	if !ok {
		return catalog.Product{}, shared.NotFound("product", code)
	}
	return p, nil
}

var today = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func newTestService(repo *memoryRepo) *Service {
	products := stubCatalog{
		"MILK-1L": {Code: "MILK-1L", Name: "Milk 1L", UnitPrice: decimal.RequireFromString("1.20"), Active: true},
		"BREAD":   {Code: "BREAD", Name: "Bread", UnitPrice: decimal.RequireFromString("2.00"), Active: true},
	}
	return NewService(repo, products, ServiceConfig{Clock: func() time.Time { return today }})
}

func daysFromToday(n int) *time.Time {
	d := Day(today).AddDate(0, 0, n)
	return &d
}

// ==========================================================================
// Receive
// ==========================================================================

func TestReceiveCreatesBatchAndRestockEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	batch, err := svc.Receive(context.Background(), ReceiveInput{
		ProductCode:   "milk-1l",
		Quantity:      50,
		PurchasePrice: decimal.RequireFromString("0.805"),
		ExpiryDate:    daysFromToday(5),
		Supplier:      "Dairy Co",
	})
	require.NoError(t, err)

	assert.Equal(t, "MILK-1L", batch.ProductCode)
	assert.Equal(t, 50, batch.RemainingQuantity)
	assert.Equal(t, Day(today), batch.PurchaseDate)
	assert.Equal(t, "0.81", batch.PurchasePrice.StringFixed(2))

	require.Len(t, repo.entries, 1)
	assert.Equal(t, audittrail.KindRestock, repo.entries[0].Kind)
	assert.Equal(t, 50, repo.entries[0].QuantityDelta)
	assert.Equal(t, batch.ID, repo.entries[0].BatchID)
}

func TestReceiveValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 0})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 1, PurchasePrice: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 1, ExpiryDate: daysFromToday(-1)})
	require.ErrorIs(t, err, ErrExpiryBeforePurchase)

	_, err = svc.Receive(ctx, ReceiveInput{ProductCode: "UNKNOWN", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReceiveRollsBackWhenCommitFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.failTx = errors.New("commit failed")
	svc := newTestService(repo)

	_, err := svc.Receive(context.Background(), ReceiveInput{ProductCode: "BREAD", Quantity: 5})
	require.Error(t, err)
	assert.Empty(t, repo.batches)
	assert.Empty(t, repo.entries)
}

// ==========================================================================
// Selection policy
// ==========================================================================

func TestSelectBatchPrefersEarliestExpiryThatCovers(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	late, err := svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 30, ExpiryDate: daysFromToday(30)})
	require.NoError(t, err)
	early, err := svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 5, ExpiryDate: daysFromToday(3)})
	require.NoError(t, err)
	undated, err := svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 100})
	require.NoError(t, err)

	got, err := svc.SelectBatchFor(ctx, "MILK-1L", 1)
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID)

	got, err = svc.SelectBatchFor(ctx, "MILK-1L", 20)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID, "first batch able to cover the request")

	got, err = svc.SelectBatchFor(ctx, "MILK-1L", 60)
	require.NoError(t, err)
	assert.Equal(t, undated.ID, got.ID)

	got, err = svc.SelectBatchFor(ctx, "MILK-1L", 500)
	require.NoError(t, err)
	assert.Equal(t, early.ID, got.ID, "falls back to earliest batch with any stock")
}

func TestSelectBatchNotFound(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	_, err := svc.SelectBatchFor(context.Background(), "BREAD", 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSortFIFOTieBreaksOnPurchaseDate(t *testing.T) {
	exp := daysFromToday(10)
	batches := []Batch{
		{ID: 1, PurchaseDate: Day(today), ExpiryDate: exp},
		{ID: 2, PurchaseDate: Day(today).AddDate(0, 0, -3), ExpiryDate: exp},
		{ID: 3, PurchaseDate: Day(today).AddDate(0, 0, -9)},
	}
	SortFIFO(batches)
	assert.Equal(t, []int64{2, 1, 3}, []int64{batches[0].ID, batches[1].ID, batches[2].ID})
}

// ==========================================================================
// Reduce / Increase
// ==========================================================================

func TestReduceAndIncreaseKeepBounds(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{ProductCode: "BREAD", Quantity: 10})
	require.NoError(t, err)

	after, err := svc.Reduce(ctx, batch.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, after.RemainingQuantity)

	_, err = svc.Reduce(ctx, batch.ID, 7)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 1, stockErr.Shortfall())

	_, err = svc.Increase(ctx, batch.ID, 5)
	require.ErrorIs(t, err, ErrExceedsReceived)

	after, err = svc.Increase(ctx, batch.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 10, after.RemainingQuantity)

	_, err = svc.Reduce(ctx, 999, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Reduce(ctx, batch.ID, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	kinds := []audittrail.Kind{}
	for _, e := range repo.entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []audittrail.Kind{audittrail.KindRestock, audittrail.KindAdjustment, audittrail.KindAdjustment}, kinds)
	assert.Equal(t, -4, repo.entries[1].QuantityDelta)
}

func TestConcurrentReducesNeverGoNegative(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	batch, err := svc.Receive(ctx, ReceiveInput{ProductCode: "BREAD", Quantity: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reduce(ctx, batch.ID, 1); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, success)
	assert.Zero(t, got.RemainingQuantity)
}

// ==========================================================================
// Queries
// ==========================================================================

func TestExpiryQueries(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	soon, err := svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 5, PurchaseDate: Day(today).AddDate(0, 0, -10), ExpiryDate: daysFromToday(2)})
	require.NoError(t, err)
	_, err = svc.Receive(ctx, ReceiveInput{ProductCode: "MILK-1L", Quantity: 5, ExpiryDate: daysFromToday(30)})
	require.NoError(t, err)
	expired, err := svc.Receive(ctx, ReceiveInput{ProductCode: "BREAD", Quantity: 3, PurchaseDate: Day(today).AddDate(0, 0, -10), ExpiryDate: daysFromToday(-1)})
	require.NoError(t, err)

	expiring, err := svc.ExpiringWithin(ctx, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.ID, expiring[0].ID)

	gone, err := svc.Expired(ctx)
	require.NoError(t, err)
	require.Len(t, gone, 1)
	assert.Equal(t, expired.ID, gone[0].ID)

	_, err = svc.ExpiringWithin(ctx, -1)
	require.ErrorIs(t, err, shared.ErrValidation)

	total, err := svc.TotalRemaining(ctx, "milk-1l")
	require.NoError(t, err)
	assert.Equal(t, 10, total)

	ok, err := svc.HasAvailable(ctx, "MILK-1L", 11)
	require.NoError(t, err)
	assert.False(t, ok)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
}
