// Package checkout turns a cart into a finalized bill in one transaction:
// availability check, pricing, payment check, channel allocation, bill and
// audit rows.
package checkout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PaymentKind is how a bill is settled.
type PaymentKind string

const (
	PaymentCash   PaymentKind = "CASH"
	PaymentCredit PaymentKind = "CREDIT"
)

// BillStatus is the lifecycle of a persisted bill.
type BillStatus string

const (
	BillFinalized BillStatus = "FINALIZED"
	BillReversed  BillStatus = "REVERSED"
)

var (
	// ErrEmptyCart rejects a checkout without lines.
	ErrEmptyCart = fmt.Errorf("%w: checkout: at least one line required", shared.ErrValidation)
	// ErrChannelPayment rejects a payment kind the channel does not accept.
	ErrChannelPayment = fmt.Errorf("%w: checkout: payment kind not accepted on channel", shared.ErrValidation)
	// ErrCustomerRequired rejects an online sale without a customer.
	ErrCustomerRequired = fmt.Errorf("%w: checkout: online sales require a customer", shared.ErrValidation)
)

// Line is one requested product and quantity.
type Line struct {
	ProductCode string `json:"product_code" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
}

// Request is a complete checkout.
type Request struct {
	Channel        channelstock.Channel `json:"channel"`
	PaymentKind    PaymentKind          `json:"payment_kind"`
	CustomerID     *int64               `json:"customer_id,omitempty"`
	Cashier        string               `json:"cashier"`
	Lines          []Line               `json:"lines"`
	Discount       decimal.Decimal      `json:"discount"`
	Tax            *decimal.Decimal     `json:"tax,omitempty"`
	Tendered       decimal.Decimal      `json:"tendered"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// LineItem is one persisted bill row. A product drawn from two batches yields two rows.
type LineItem struct {
	ID          int64           `json:"id"`
	BillID      int64           `json:"bill_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	BatchID     int64           `json:"batch_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Bill is a finalized sale.
type Bill struct {
	ID             int64                `json:"id"`
	SerialNumber   string               `json:"serial_number"`
	Channel        channelstock.Channel `json:"channel"`
	PaymentKind    PaymentKind          `json:"payment_kind"`
	CustomerID     *int64               `json:"customer_id,omitempty"`
	Cashier        string               `json:"cashier"`
	Subtotal       decimal.Decimal      `json:"subtotal"`
	Discount       decimal.Decimal      `json:"discount"`
	Tax            decimal.Decimal      `json:"tax"`
	Total          decimal.Decimal      `json:"total"`
	Tendered       decimal.Decimal      `json:"tendered"`
	Change         decimal.Decimal      `json:"change"`
	Status         BillStatus           `json:"status"`
	ReversalReason string               `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	ReversedAt     *time.Time           `json:"reversed_at,omitempty"`
	Items          []LineItem           `json:"items"`
}

// Result carries either the bill or every validation-class error found.
type Result struct {
	Bill   *Bill   `json:"bill,omitempty"`
	Errors []error `json:"-"`
}

// OK reports whether the checkout produced a bill.
func (r Result) OK() bool { return r.Bill != nil && len(r.Errors) == 0 }

// Totals are the money fields of a bill.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
	Tendered decimal.Decimal `json:"tendered"`
	Change   decimal.Decimal `json:"change"`
}

// PricingInput feeds ComputeTotals.
type PricingInput struct {
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Tax         *decimal.Decimal
	TaxRate     decimal.Decimal
	PaymentKind PaymentKind
	Tendered    decimal.Decimal
}

// ComputeTotals prices a sale: total = subtotal − discount + tax, and for cash
// change = tendered − total. Every violation is returned.
func ComputeTotals(in PricingInput) (Totals, []error) {
	var errs []error
	t := Totals{Subtotal: money.Round(in.Subtotal), Discount: money.Round(in.Discount)}
	switch {
	case t.Discount.IsNegative():
		errs = append(errs, &shared.InvalidDiscountError{Discount: t.Discount, Subtotal: t.Subtotal})
		t.Discount = decimal.Zero
	case t.Discount.GreaterThan(t.Subtotal):
		errs = append(errs, &shared.InvalidDiscountError{Discount: t.Discount, Subtotal: t.Subtotal})
		t.Discount = t.Subtotal
	}
	if in.Tax != nil {
		t.Tax = money.Round(*in.Tax)
		if t.Tax.IsNegative() {
			errs = append(errs, shared.Validation("tax cannot be negative"))
			t.Tax = decimal.Zero
		}
	} else {
		t.Tax = money.Round(t.Subtotal.Sub(t.Discount).Mul(in.TaxRate))
	}
	t.Total = t.Subtotal.Sub(t.Discount).Add(t.Tax)

	switch in.PaymentKind {
	case PaymentCash:
		t.Tendered = money.Round(in.Tendered)
		if t.Tendered.LessThan(t.Total) {
			errs = append(errs, &shared.InvalidPaymentError{Tendered: t.Tendered, Total: t.Total})
		} else {
			t.Change = t.Tendered.Sub(t.Total)
		}
	case PaymentCredit:
		t.Tendered = t.Total
		t.Change = decimal.Zero
	default:
		errs = append(errs, shared.Validation("unknown payment kind %q", in.PaymentKind))
	}
	return t, errs
}

// FormatSerial renders a bill serial such as POS-20240115-0007.
func FormatSerial(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format("20060102"), seq)
}

// SerialPrefix is the part of a serial shared by every bill of a channel on day.
func SerialPrefix(prefix string, day time.Time) string {
	return prefix + "-" + day.Format("20060102") + "-"
}

// SerialSequence extracts the trailing sequence number of a serial.
func SerialSequence(serial string) (int, error) {
	idx := strings.LastIndex(serial, "-")
	if idx < 0 || idx == len(serial)-1 {
		return 0, errors.New("checkout: malformed bill serial " + serial)
	}
	return strconv.Atoi(serial[idx+1:])
}

// SerialAfter reports whether serial a carries a higher sequence than b. Sequences
// past 9999 are wider, so length is compared before the text.
func SerialAfter(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

// NextSerial returns the serial after last, or the first of the day when last is empty.
func NextSerial(prefix string, day time.Time, last string) (string, error) {
	if last == "" {
		return FormatSerial(prefix, day, 1), nil
	}
	seq, err := SerialSequence(last)
	if err != nil {
		return "", err
	}
	return FormatSerial(prefix, day, seq+1), nil
}
