package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// DraftStatus is the lifecycle of an in-progress bill.
type DraftStatus string

const (
	DraftOpen      DraftStatus = "OPEN"
	DraftFinalized DraftStatus = "FINALIZED"
	DraftCancelled DraftStatus = "CANCELLED"
)

// ErrDraftClosed rejects edits to a finalized or cancelled draft.
var ErrDraftClosed = fmt.Errorf("%w: checkout: draft is closed", shared.ErrValidation)

// DraftItem is one product on a draft. Stock is checked when the item is added
// but nothing is reserved until the draft is finalized.
type DraftItem struct {
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

// LineTotal is unit price × quantity.
func (i DraftItem) LineTotal() decimal.Decimal {
	return money.LineTotal(i.UnitPrice, i.Quantity)
}

// Draft is a bill being built one step at a time, e.g. by a cashier scanning items.
type Draft struct {
	ID          string               `json:"id"`
	Channel     channelstock.Channel `json:"channel"`
	Cashier     string               `json:"cashier"`
	CustomerID  *int64               `json:"customer_id,omitempty"`
	Items       []DraftItem          `json:"items"`
	Discount    decimal.Decimal      `json:"discount"`
	TaxRate     decimal.Decimal      `json:"tax_rate"`
	PaymentKind PaymentKind          `json:"payment_kind,omitempty"`
	Tendered    decimal.Decimal      `json:"tendered"`
	Status      DraftStatus          `json:"status"`
	BillID      int64                `json:"bill_id,omitempty"`
	BillSerial  string               `json:"bill_serial,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// NewDraft opens an empty draft on channel.
func (e *Engine) NewDraft(ch channelstock.Channel, cashier string, customerID *int64) (*Draft, error) {
	if _, ok := e.stocks[ch]; !ok {
		return nil, shared.Validation("unknown channel %q", ch)
	}
	now := e.clock().UTC()
	return &Draft{
		ID:         uuid.NewString(),
		Channel:    ch,
		Cashier:    cashier,
		CustomerID: customerID,
		TaxRate:    e.taxRate,
		Status:     DraftOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (d *Draft) open() error {
	if d.Status != DraftOpen {
		return fmt.Errorf("%w (%s)", ErrDraftClosed, d.Status)
	}
	return nil
}

func (d *Draft) find(code string) int {
	for i, it := range d.Items {
		if it.ProductCode == code {
			return i
		}
	}
	return -1
}

// Subtotal sums the item line totals.
func (d *Draft) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Totals prices the draft with its current discount and payment. Errors are ignored here;
// Validate reports them.
func (d *Draft) Totals() Totals {
	kind := d.PaymentKind
	if kind == "" {
		kind = PaymentCredit
	}
	t, _ := ComputeTotals(PricingInput{
		Subtotal:    d.Subtotal(),
		Discount:    d.Discount,
		TaxRate:     d.TaxRate,
		PaymentKind: kind,
		Tendered:    d.Tendered,
	})
	if d.PaymentKind == "" {
		t.Tendered, t.Change = decimal.Zero, decimal.Zero
	}
	return t
}

// AddItem adds qty of product, merging with an existing line. The catalog price
// and channel stock are checked for the merged quantity.
func (e *Engine) AddItem(ctx context.Context, d *Draft, product string, qty int) error {
	if err := d.open(); err != nil {
		return err
	}
	if qty <= 0 {
		return shared.Validation("quantity must be positive")
	}
	code := catalog.NormalizeCode(product)
	p, err := e.products.Product(ctx, code)
	if err != nil {
		return err
	}
	if !p.Active {
		return shared.Validation("product %s is not for sale", code)
	}
	total := qty
	idx := d.find(code)
	if idx >= 0 {
		total += d.Items[idx].Quantity
	}
	if err := e.ensureStock(ctx, d.Channel, code, total); err != nil {
		return err
	}
	if idx >= 0 {
		d.Items[idx].Quantity = total
		d.Items[idx].UnitPrice = p.UnitPrice
	} else {
		d.Items = append(d.Items, DraftItem{ProductCode: code, ProductName: p.Name, UnitPrice: p.UnitPrice, Quantity: qty})
	}
	d.touch(e.clock())
	return nil
}

// UpdateQuantity sets the quantity of an item; zero removes it.
func (e *Engine) UpdateQuantity(ctx context.Context, d *Draft, product string, qty int) error {
	if err := d.open(); err != nil {
		return err
	}
	code := catalog.NormalizeCode(product)
	idx := d.find(code)
	if idx < 0 {
		return shared.NotFound("draft item", code)
	}
	if qty < 0 {
		return shared.Validation("quantity cannot be negative")
	}
	if qty == 0 {
		return d.RemoveItem(code, e.clock())
	}
	if err := e.ensureStock(ctx, d.Channel, code, qty); err != nil {
		return err
	}
	d.Items[idx].Quantity = qty
	d.touch(e.clock())
	return nil
}

func (e *Engine) ensureStock(ctx context.Context, ch channelstock.Channel, code string, qty int) error {
	a, err := e.CheckStock(ctx, ch, code, qty)
	if err != nil {
		return err
	}
	return a.Err()
}

// RemoveItem drops a product from the draft.
func (d *Draft) RemoveItem(product string, now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	code := catalog.NormalizeCode(product)
	idx := d.find(code)
	if idx < 0 {
		return shared.NotFound("draft item", code)
	}
	d.Items = append(d.Items[:idx], d.Items[idx+1:]...)
	d.touch(now)
	return nil
}

// ClearItems empties the draft and resets discount and payment.
func (d *Draft) ClearItems(now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	d.Items = nil
	d.Discount = decimal.Zero
	d.PaymentKind = ""
	d.Tendered = decimal.Zero
	d.touch(now)
	return nil
}

// ApplyDiscount sets the discount; it cannot be negative or exceed the subtotal.
func (d *Draft) ApplyDiscount(amount decimal.Decimal, now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	subtotal := d.Subtotal()
	if amount.IsNegative() || amount.GreaterThan(subtotal) {
		return &shared.InvalidDiscountError{Discount: amount, Subtotal: subtotal}
	}
	d.Discount = money.Round(amount)
	d.touch(now)
	return nil
}

// ProcessCashPayment records cash tendered. Only the physical channel takes cash.
func (d *Draft) ProcessCashPayment(tendered decimal.Decimal, now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	if d.Channel != channelstock.Physical {
		return fmt.Errorf("%w: %s does not accept cash", ErrChannelPayment, d.Channel)
	}
	if !tendered.IsPositive() {
		return &shared.InvalidPaymentError{Reason: "tendered amount must be positive", Tendered: tendered}
	}
	d.PaymentKind = PaymentCash
	d.Tendered = money.Round(tendered)
	if total := d.Totals().Total; d.Tendered.LessThan(total) {
		d.PaymentKind, d.Tendered = "", decimal.Zero
		return &shared.InvalidPaymentError{Tendered: money.Round(tendered), Total: total}
	}
	d.touch(now)
	return nil
}

// ProcessCreditPayment settles the draft on account.
func (d *Draft) ProcessCreditPayment(now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	if d.Channel == channelstock.Online && d.CustomerID == nil {
		return ErrCustomerRequired
	}
	d.PaymentKind = PaymentCredit
	d.Tendered = decimal.Zero
	d.touch(now)
	return nil
}

// Cancel discards an open draft. Nothing was reserved, so stock is untouched.
func (d *Draft) Cancel(now time.Time) error {
	if err := d.open(); err != nil {
		return err
	}
	d.Status = DraftCancelled
	d.touch(now)
	return nil
}

func (d *Draft) touch(now time.Time) {
	d.UpdatedAt = now.UTC()
}

// Request converts the draft into a checkout request. Tax is fixed at the
// draft's own rate so the bill matches the totals shown while it was built.
func (d *Draft) Request() Request {
	lines := make([]Line, 0, len(d.Items))
	for _, it := range d.Items {
		lines = append(lines, Line{ProductCode: it.ProductCode, Quantity: it.Quantity})
	}
	tax := d.Totals().Tax
	return Request{
		Channel:        d.Channel,
		PaymentKind:    d.PaymentKind,
		CustomerID:     d.CustomerID,
		Cashier:        d.Cashier,
		Lines:          lines,
		Discount:       d.Discount,
		Tax:            &tax,
		Tendered:       d.Tendered,
		IdempotencyKey: "draft:" + d.ID,
	}
}

// Validate re-runs every check finalize would make and returns all problems.
func (e *Engine) Validate(ctx context.Context, d *Draft) ([]error, error) {
	var errs []error
	if err := d.open(); err != nil {
		return []error{err}, nil
	}
	if d.PaymentKind == "" {
		errs = append(errs, &shared.InvalidPaymentError{Reason: "no payment recorded"})
	}
	_, prepErrs, err := e.Prepare(ctx, d.Request())
	if err != nil {
		return nil, err
	}
	return append(errs, prepErrs...), nil
}

// Finalize commits the draft as a bill. On failure the draft is left open and unchanged.
func (e *Engine) Finalize(ctx context.Context, d *Draft) (Result, error) {
	if err := d.open(); err != nil {
		return Result{Errors: []error{err}}, nil
	}
	if d.PaymentKind == "" {
		return Result{Errors: []error{&shared.InvalidPaymentError{Reason: "no payment recorded"}}}, nil
	}
	res, err := e.Checkout(ctx, d.Request())
	if err != nil || !res.OK() {
		return res, err
	}
	d.Status = DraftFinalized
	d.BillID = res.Bill.ID
	d.BillSerial = res.Bill.SerialNumber
	d.touch(e.clock())
	return res, nil
}
