package channelstock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type fakeRecords struct {
	records []Record
	// stolen makes DeductRecord lose the race for this batch, leaving it with left.
	stolen int64
	left   int
	// keepStealing loses every deduction on the stolen batch, not just the first.
	keepStealing bool
	deducts      int
}

func (f *fakeRecords) AvailableRecords(context.Context, Channel, string) ([]Record, error) {
	return append([]Record(nil), f.records...), nil
}

func (f *fakeRecords) DeductRecord(_ context.Context, _ Channel, _ string, batchID int64, qty int) (bool, error) {
	if batchID == f.stolen {
		for i := range f.records {
			if f.records[i].BatchID == batchID {
				f.records[i].Quantity = f.left
			}
		}
		if !f.keepStealing {
			f.stolen = 0
		}
		return false, nil
	}
	for i := range f.records {
		if f.records[i].BatchID == batchID && f.records[i].Quantity >= qty {
			f.records[i].Quantity -= qty
			f.deducts++
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecords) CreditRecord(_ context.Context, _ Channel, _ string, batchID int64, qty int) (bool, error) {
	for i := range f.records {
		if f.records[i].BatchID == batchID {
			f.records[i].Quantity += qty
			return true, nil
		}
	}
	return false, nil
}

func fifoRecords() []Record {
	soon := time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)
	return []Record{
		{Channel: Physical, ProductCode: "MILK", BatchID: 2, Quantity: 5, ExpiryDate: &soon},
		{Channel: Physical, ProductCode: "MILK", BatchID: 1, Quantity: 20, ExpiryDate: &later},
	}
}

func TestAllocateTakesRecordsInOrder(t *testing.T) {
	store := &fakeRecords{records: fifoRecords()}

	got, err := Allocate(context.Background(), store, Physical, "MILK", 8)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Allocation{BatchID: 2, ProductCode: "MILK", Quantity: 5, ExpiryDate: got[0].ExpiryDate}, got[0])
	assert.Equal(t, int64(1), got[1].BatchID)
	assert.Equal(t, 3, got[1].Quantity)
	assert.Equal(t, 17, store.records[1].Quantity)
}

func TestAllocateShortfallDeductsNothing(t *testing.T) {
	store := &fakeRecords{records: fifoRecords()}

	_, err := Allocate(context.Background(), store, Physical, "MILK", 26)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 25, stockErr.Available)
	assert.Equal(t, 1, stockErr.Shortfall())
	assert.Zero(t, store.deducts)
}

func TestAllocateReportsLostRace(t *testing.T) {
	store := &fakeRecords{records: fifoRecords(), stolen: 1, left: 2}

	_, err := Allocate(context.Background(), store, Physical, "MILK", 10)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.BatchID)
	assert.Equal(t, 7, stockErr.Available, "batch 2 drawn in this attempt plus what batch 1 still holds")
	assert.Equal(t, 3, stockErr.Shortfall())
	assert.Equal(t, 1, store.deducts, "earlier deductions are left for the transaction rollback")
}

func TestAllocateRereadsAfterLostRace(t *testing.T) {
	store := &fakeRecords{records: fifoRecords(), stolen: 2, left: 3}

	got, err := Allocate(context.Background(), store, Physical, "MILK", 4)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].BatchID)
	assert.Equal(t, 3, got[0].Quantity)
	assert.Equal(t, int64(1), got[1].BatchID)
	assert.Equal(t, 1, got[1].Quantity)
	assert.Equal(t, 0, store.records[0].Quantity)
	assert.Equal(t, 19, store.records[1].Quantity)
}

func TestAllocateGivesUpUnderContention(t *testing.T) {
	store := &fakeRecords{records: fifoRecords(), stolen: 2, left: 5, keepStealing: true}

	_, err := Allocate(context.Background(), store, Physical, "MILK", 4)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.BatchID)
	assert.Equal(t, 25, stockErr.Available)
	assert.Zero(t, stockErr.Shortfall(), "the channel still covers the request; only the updates kept losing")
	assert.Zero(t, store.deducts)
}

func TestAllocateRejectsNonPositive(t *testing.T) {
	_, err := Allocate(context.Background(), &fakeRecords{}, Physical, "MILK", 0)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreditRestoresRecords(t *testing.T) {
	store := &fakeRecords{records: fifoRecords()}
	ctx := context.Background()

	got, err := Allocate(ctx, store, Physical, "MILK", 8)
	require.NoError(t, err)
	require.NoError(t, Credit(ctx, store, Physical, got))
	assert.Equal(t, 5, store.records[0].Quantity)
	assert.Equal(t, 20, store.records[1].Quantity)

	err = Credit(ctx, store, Physical, []Allocation{{BatchID: 42, ProductCode: "MILK", Quantity: 1}})
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = Credit(ctx, store, Physical, []Allocation{{BatchID: 1, ProductCode: "MILK", Quantity: 0}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestRestockResultStatus(t *testing.T) {
	cases := []struct {
		moves []BatchMove
		want  RestockStatus
	}{
		{nil, RestockFailed},
		{[]BatchMove{{BatchID: 1, Quantity: 4}}, RestockPartial},
		{[]BatchMove{{BatchID: 1, Quantity: 4}, {BatchID: 2, Quantity: 6}}, RestockSuccess},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			res := resultFor(Online, "MILK", 10, tc.moves)
			assert.Equal(t, tc.want, res.Status)
		})
	}
}
