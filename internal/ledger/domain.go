package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Batch is a warehouse lot of one product. RemainingQuantity stays within [0, QuantityReceived].
type Batch struct {
	ID                int64           `json:"id"`
	ProductCode       string          `json:"product_code"`
	QuantityReceived  int             `json:"quantity_received"`
	RemainingQuantity int             `json:"remaining_quantity"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	PurchaseDate      time.Time       `json:"purchase_date"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	Supplier          string          `json:"supplier,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ExpiresBefore reports whether the batch has an expiry date strictly before day.
func (b Batch) ExpiresBefore(day time.Time) bool {
	return b.ExpiryDate != nil && b.ExpiryDate.Before(day)
}

// ReceiveInput describes a warehouse receipt.
type ReceiveInput struct {
	ProductCode   string          `json:"product_code" validate:"required"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  time.Time       `json:"purchase_date"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Supplier      string          `json:"supplier"`
}

// ProductSummary aggregates the batches of one product.
type ProductSummary struct {
	ProductCode    string     `json:"product_code"`
	TotalRemaining int        `json:"total_remaining"`
	BatchCount     int        `json:"batch_count"`
	EarliestExpiry *time.Time `json:"earliest_expiry,omitempty"`
}

var (
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: ledger: quantity must be positive", shared.ErrValidation)
	// ErrInvalidPrice indicates a negative purchase price.
	ErrInvalidPrice = fmt.Errorf("%w: ledger: purchase price must be >= 0", shared.ErrValidation)
	// ErrExpiryBeforePurchase rejects a batch that expired before it was bought.
	ErrExpiryBeforePurchase = fmt.Errorf("%w: ledger: expiry date cannot be before purchase date", shared.ErrValidation)
	// ErrExceedsReceived rejects an increase that would push remaining above received.
	ErrExceedsReceived = fmt.Errorf("%w: ledger: remaining quantity cannot exceed quantity received", shared.ErrValidation)
)

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortFIFO orders batches by expiry ascending with undated batches last,
// then by purchase date, then by id.
func SortFIFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return LessFIFO(batches[i], batches[j])
	})
}

// LessFIFO is the allocation ordering shared by the ledger and channel stock.
func LessFIFO(a, b Batch) bool {
	switch {
	case a.ExpiryDate != nil && b.ExpiryDate == nil:
		return true
	case a.ExpiryDate == nil && b.ExpiryDate != nil:
		return false
	case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
		return a.ExpiryDate.Before(*b.ExpiryDate)
	}
	if !a.PurchaseDate.Equal(b.PurchaseDate) {
		return a.PurchaseDate.Before(b.PurchaseDate)
	}
	return a.ID < b.ID
}

// PickBatch applies the selection policy to FIFO-ordered batches: the first batch
// that covers required on its own, else the first with any stock.
func PickBatch(ordered []Batch, required int) (Batch, bool) {
	var fallback *Batch
	for i := range ordered {
		b := ordered[i]
		if b.RemainingQuantity <= 0 {
			continue
		}
		if b.RemainingQuantity >= required {
			return b, true
		}
		if fallback == nil {
			fallback = &ordered[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Batch{}, false
}
