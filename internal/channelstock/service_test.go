package channelstock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
)

var now = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func inDays(n int) *time.Time {
	d := ledger.Day(now).AddDate(0, 0, n)
	return &d
}

type fixture struct {
	store    *memstore.Store
	physical *channelstock.Stock
	online   *channelstock.Stock
}

func newFixture(t *testing.T, cfg channelstock.Config) fixture {
	t.Helper()
	store := memstore.New(clock)
	store.AddProduct(catalog.Product{Code: "MILK", Name: "Milk 1L", UnitPrice: decimal.RequireFromString("1.20"), Active: true})
	store.AddProduct(catalog.Product{Code: "BREAD", Name: "Bread", UnitPrice: decimal.RequireFromString("2.50"), Active: true})
	cfg.Clock = clock
	cfg.Catalog = store
	return fixture{
		store:    store,
		physical: channelstock.New(channelstock.Physical, store.Channels(), cfg),
		online:   channelstock.New(channelstock.Online, store.Channels(), cfg),
	}
}

func (f fixture) batch(product string, qty int, expiry *time.Time) ledger.Batch {
	return f.store.AddBatch(ledger.Batch{
		ProductCode:      product,
		QuantityReceived: qty,
		PurchasePrice:    decimal.RequireFromString("0.80"),
		PurchaseDate:     ledger.Day(now).AddDate(0, 0, -1),
		ExpiryDate:       expiry,
	})
}

func TestRestockMovesLedgerStockIntoChannel(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	b := f.batch("MILK", 100, inDays(10))

	res, err := f.physical.Restock(context.Background(), "milk", b.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, channelstock.RestockSuccess, res.Status)
	assert.Equal(t, 30, res.Moved)

	assert.Equal(t, 70, f.store.BatchRemaining(b.ID))
	assert.Equal(t, 30, f.store.RecordQuantity(channelstock.Physical, "MILK", b.ID))
	assert.Zero(t, f.store.RecordQuantity(channelstock.Online, "MILK", b.ID))

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audittrail.KindRestockPhysical, entries[0].Kind)
	assert.Equal(t, 30, entries[0].QuantityDelta)
	assert.Equal(t, string(channelstock.Physical), entries[0].Channel)
}

func TestRestockTwiceAddsToTheSameRecord(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	b := f.batch("MILK", 100, inDays(10))
	ctx := context.Background()

	_, err := f.online.Restock(ctx, "MILK", b.ID, 10)
	require.NoError(t, err)
	_, err = f.online.Restock(ctx, "MILK", b.ID, 5)
	require.NoError(t, err)

	records, err := f.online.Records(ctx, "MILK")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 15, records[0].Quantity)
	assert.Equal(t, audittrail.KindRestockOnline, f.store.Entries()[1].Kind)
}

func TestRestockRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	milk := f.batch("MILK", 10, nil)
	ctx := context.Background()

	_, err := f.physical.Restock(ctx, "MILK", milk.ID, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.physical.Restock(ctx, " ", milk.ID, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.physical.Restock(ctx, "CHEESE", milk.ID, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.physical.Restock(ctx, "BREAD", milk.ID, 1)
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.physical.Restock(ctx, "MILK", 999, 1)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	assert.Equal(t, 10, f.store.BatchRemaining(milk.ID))
	assert.Empty(t, f.store.Entries())
}

func TestRestockBeyondBatchLeavesEverythingUntouched(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	b := f.batch("MILK", 20, inDays(5))

	_, err := f.physical.Restock(context.Background(), "MILK", b.ID, 21)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, string(channelstock.Physical), stockErr.Channel)
	assert.Equal(t, 20, f.store.BatchRemaining(b.ID))
	assert.Zero(t, f.store.RecordQuantity(channelstock.Physical, "MILK", b.ID))
	assert.Empty(t, f.store.Entries())
}

func TestRestockRollsBackWhenAuditWriteFails(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	b := f.batch("MILK", 50, inDays(5))
	boom := errors.New("disk full")
	f.store.FailNext("AppendTransactions", boom)

	_, err := f.physical.Restock(context.Background(), "MILK", b.ID, 10)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 50, f.store.BatchRemaining(b.ID))
	assert.Zero(t, f.store.RecordQuantity(channelstock.Physical, "MILK", b.ID))
}

func TestRestockAutoDrainsEarliestExpiryFirst(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	late := f.batch("MILK", 20, inDays(30))
	undated := f.batch("MILK", 50, nil)
	early := f.batch("MILK", 10, inDays(3))
	ctx := context.Background()

	res, err := f.physical.RestockAuto(ctx, "MILK", 25)
	require.NoError(t, err)
	assert.Equal(t, channelstock.RestockSuccess, res.Status)
	assert.Equal(t, []channelstock.BatchMove{{BatchID: early.ID, Quantity: 10}, {BatchID: late.ID, Quantity: 15}}, res.Moves)
	assert.Equal(t, 50, f.store.BatchRemaining(undated.ID))

	res, err = f.physical.RestockAuto(ctx, "MILK", 60)
	require.NoError(t, err)
	assert.Equal(t, channelstock.RestockPartial, res.Status)
	assert.Equal(t, 55, res.Moved)
	assert.NotEmpty(t, res.Message)

	res, err = f.physical.RestockAuto(ctx, "MILK", 1)
	require.NoError(t, err)
	assert.Equal(t, channelstock.RestockFailed, res.Status)
	assert.Zero(t, res.Moved)

	available, err := f.physical.Available(ctx, "MILK")
	require.NoError(t, err)
	assert.Equal(t, 80, available)
}

func TestCheckReportsShortfall(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	b := f.batch("MILK", 10, nil)
	f.store.SetRecord(channelstock.Online, b.ID, 4)

	a, err := f.online.Check(context.Background(), "milk", 6)
	require.NoError(t, err)
	assert.False(t, a.Sufficient())
	assert.Equal(t, 2, a.Shortfall)
	assert.ErrorIs(t, a.Err(), shared.ErrInsufficientStock)

	a, err = f.online.Check(context.Background(), "MILK", 4)
	require.NoError(t, err)
	assert.True(t, a.Sufficient())
	assert.NoError(t, a.Err())
}

func TestReserveAndDeductSplitsAcrossBatches(t *testing.T) {
	f := newFixture(t, channelstock.Config{})
	late := f.batch("MILK", 10, inDays(30))
	early := f.batch("MILK", 10, inDays(3))
	f.store.SetRecord(channelstock.Physical, late.ID, 10)
	f.store.SetRecord(channelstock.Physical, early.ID, 4)

	allocations, err := f.physical.ReserveAndDeduct(context.Background(), "MILK", 6)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	assert.Equal(t, early.ID, allocations[0].BatchID)
	assert.Equal(t, 4, allocations[0].Quantity)
	assert.Equal(t, late.ID, allocations[1].BatchID)
	assert.Equal(t, 2, allocations[1].Quantity)

	_, err = f.physical.ReserveAndDeduct(context.Background(), "MILK", 9)
	assert.ErrorIs(t, err, shared.ErrInsufficientStock)
	assert.Equal(t, 8, f.store.RecordQuantity(channelstock.Physical, "MILK", late.ID))
}

func TestLowStockAndSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, channelstock.Config{Cache: cache.NewJSONCache(client, time.Minute)})
	milk := f.batch("MILK", 100, nil)
	bread := f.batch("BREAD", 100, nil)
	ctx := context.Background()

	_, err := f.physical.Restock(ctx, "MILK", milk.ID, 3)
	require.NoError(t, err)
	_, err = f.physical.Restock(ctx, "BREAD", bread.ID, 40)
	require.NoError(t, err)

	low, err := f.physical.LowStock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "MILK", low[0].ProductCode)

	_, err = f.physical.LowStock(ctx, 0)
	assert.ErrorIs(t, err, shared.ErrValidation)

	summary, err := f.physical.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.True(t, mr.Exists(shared.StockSummaryKey("PHYSICAL")))

	_, err = f.physical.Restock(ctx, "MILK", milk.ID, 7)
	require.NoError(t, err)
	assert.False(t, mr.Exists(shared.StockSummaryKey("PHYSICAL")), "restock must drop the cached summary")

	summary, err = f.physical.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, summary[1].Quantity)
}

func TestParseChannel(t *testing.T) {
	for raw, want := range map[string]channelstock.Channel{
		"physical": channelstock.Physical,
		"POS":      channelstock.Physical,
		" online ": channelstock.Online,
		"onl":      channelstock.Online,
	} {
		got, err := channelstock.ParseChannel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := channelstock.ParseChannel("warehouse")
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, "POS", channelstock.Physical.Prefix())
	assert.Equal(t, "ONL", channelstock.Online.Prefix())
}
