package channelstock

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// maxAllocateAttempts bounds how often Allocate re-reads the records after
// losing a conditional update to a concurrent sale.
const maxAllocateAttempts = 3

// Allocate draws qty of product from the channel, earliest-expiring batch first.
// When the channel holds less than qty in total nothing is deducted. Each
// deduction is a conditional update; a record lost to a concurrent sale is
// re-read and allocation continues from the fresh quantities. When the channel
// no longer covers the rest, Allocate returns *shared.InsufficientStockError with
// what the channel held for this request, and the caller must roll back its
// transaction to undo earlier deductions.
func Allocate(ctx context.Context, store AllocationStore, ch Channel, product string, qty int) ([]Allocation, error) {
	if qty <= 0 {
		return nil, shared.Validation("quantity must be positive")
	}
	var allocations []Allocation
	needed := qty
	var lost int64
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		records, err := store.AvailableRecords(ctx, ch, product)
		if err != nil {
			return nil, err
		}
		total := sumRecords(records)
		if total < needed {
			return nil, &shared.InsufficientStockError{
				Product:   product,
				Channel:   string(ch),
				BatchID:   lost,
				Requested: qty,
				Available: total + qty - needed,
			}
		}
		lost = 0
		for _, r := range records {
			if needed == 0 {
				break
			}
			if r.Quantity <= 0 {
				continue
			}
			take := min(r.Quantity, needed)
			ok, err := store.DeductRecord(ctx, ch, product, r.BatchID, take)
			if err != nil {
				return nil, err
			}
			if !ok {
				lost = r.BatchID
				break
			}
			allocations = addAllocation(allocations, Allocation{
				BatchID:     r.BatchID,
				ProductCode: product,
				Quantity:    take,
				ExpiryDate:  r.ExpiryDate,
			})
			needed -= take
		}
		if needed == 0 {
			return allocations, nil
		}
	}
	records, err := store.AvailableRecords(ctx, ch, product)
	if err != nil {
		return nil, err
	}
	return nil, &shared.InsufficientStockError{
		Product:   product,
		Channel:   string(ch),
		BatchID:   lost,
		Requested: qty,
		Available: sumRecords(records) + qty - needed,
	}
}

func sumRecords(records []Record) int {
	total := 0
	for _, r := range records {
		total += r.Quantity
	}
	return total
}

// addAllocation merges a draw into an earlier one from the same batch.
func addAllocation(allocations []Allocation, a Allocation) []Allocation {
	for i := range allocations {
		if allocations[i].BatchID == a.BatchID {
			allocations[i].Quantity += a.Quantity
			return allocations
		}
	}
	return append(allocations, a)
}

// Credit puts allocations back into the channel records they came from.
func Credit(ctx context.Context, store AllocationStore, ch Channel, allocations []Allocation) error {
	for _, a := range allocations {
		if a.Quantity <= 0 {
			return shared.Validation("credit quantity must be positive")
		}
		ok, err := store.CreditRecord(ctx, ch, a.ProductCode, a.BatchID, a.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("channelstock: credit %s batch %d: %w", a.ProductCode, a.BatchID,
				shared.NotFound("channel stock record", fmt.Sprintf("%s/%s/%d", ch, a.ProductCode, a.BatchID)))
		}
	}
	return nil
}
