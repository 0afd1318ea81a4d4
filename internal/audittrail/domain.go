// Package audittrail is the append-only history of every stock quantity change.
package audittrail

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a quantity change.
type Kind string

const (
	// KindRestock is a warehouse receipt into the batch ledger.
	KindRestock Kind = "RESTOCK"
	// KindRestockPhysical moves ledger stock onto the physical shelf.
	KindRestockPhysical Kind = "RESTOCK_PHYSICAL"
	// KindRestockOnline moves ledger stock into the online storefront.
	KindRestockOnline Kind = "RESTOCK_ONLINE"
	// KindSale draws channel stock down for a bill.
	KindSale Kind = "SALE"
	// KindReversal re-credits channel stock when a finalized bill is reversed.
	KindReversal Kind = "REVERSAL"
	// KindAdjustment is a manual ledger correction.
	KindAdjustment Kind = "ADJUSTMENT"
	// KindReturn is goods coming back from a customer.
	KindReturn Kind = "RETURN"
	// KindExpired writes off expired stock.
	KindExpired Kind = "EXPIRED"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindRestock, KindRestockPhysical, KindRestockOnline, KindSale, KindReversal,
		KindAdjustment, KindReturn, KindExpired:
		return true
	}
	return false
}

// IsTransfer reports whether k only moves stock from the ledger into a channel.
func (k Kind) IsTransfer() bool {
	return k == KindRestockPhysical || k == KindRestockOnline
}

// TransferKinds lists the kinds that move stock without changing how much exists.
func TransferKinds() []string {
	return []string{string(KindRestockPhysical), string(KindRestockOnline)}
}

// Entry is one immutable row of the inventory transaction log.
type Entry struct {
	ID            int64     `json:"id"`
	ProductCode   string    `json:"product_code"`
	BatchID       int64     `json:"batch_id"`
	Channel       string    `json:"channel,omitempty"`
	Kind          Kind      `json:"kind"`
	QuantityDelta int       `json:"quantity_delta"`
	BillID        *int64    `json:"bill_id,omitempty"`
	Remarks       string    `json:"remarks,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

var (
	// ErrZeroDelta is returned for entries that change nothing.
	ErrZeroDelta = errors.New("audittrail: quantity delta must be non zero")
	// ErrUnknownKind is returned for an unrecognised kind.
	ErrUnknownKind = errors.New("audittrail: unknown transaction kind")
	// ErrDeltaSign is returned when the delta sign contradicts the kind.
	ErrDeltaSign = errors.New("audittrail: delta sign does not match kind")
)

// Validate checks the entry before it is appended.
func (e Entry) Validate() error {
	if !e.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.QuantityDelta == 0 {
		return ErrZeroDelta
	}
	if e.ProductCode == "" || e.BatchID == 0 {
		return errors.New("audittrail: product and batch required")
	}
	switch e.Kind {
	case KindSale, KindExpired:
		if e.QuantityDelta > 0 {
			return fmt.Errorf("%w: %s must be negative", ErrDeltaSign, e.Kind)
		}
	case KindRestock, KindRestockPhysical, KindRestockOnline, KindReversal, KindReturn:
		if e.QuantityDelta < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrDeltaSign, e.Kind)
		}
	}
	return nil
}

// Filter narrows a history listing.
type Filter struct {
	ProductCode string
	BatchID     int64
	BillID      int64
	Kind        Kind
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}
