// Package orders tracks fulfilment of online sales. Stock is committed by the
// checkout engine when an order is placed; status changes never move stock.
package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// ErrShippingLocked rejects shipping edits once an order is being processed.
var ErrShippingLocked = fmt.Errorf("%w: shipping details can only change while pending or confirmed", shared.ErrInvalidStateTransition)

// stamp applies the side effect of entering a status.
type stamp func(o *Order, at time.Time)

func stampConfirmed(o *Order, at time.Time) { o.ConfirmedAt = &at }
func stampShipped(o *Order, at time.Time)   { o.ShippedAt = &at }
func stampDelivered(o *Order, at time.Time) { o.DeliveredAt = &at }
func stampCancelled(o *Order, at time.Time) { o.CancelledAt = &at }
func stampNothing(*Order, time.Time)        {}

// transitions lists, for each status, the statuses it may move to and the
// timestamp each move sets. Statuses missing from the table are terminal.
var transitions = map[Status]map[Status]stamp{
	StatusPending: {
		StatusConfirmed: stampConfirmed,
		StatusCancelled: stampCancelled,
		StatusRefunded:  stampCancelled,
	},
	StatusConfirmed: {
		StatusProcessing: stampNothing,
		StatusCancelled:  stampCancelled,
		StatusRefunded:   stampCancelled,
	},
	StatusProcessing: {
		StatusShipped:   stampShipped,
		StatusCancelled: stampCancelled,
		StatusRefunded:  stampCancelled,
	},
	StatusShipped: {
		StatusDelivered: stampDelivered,
	},
}

var happyPath = map[Status]Status{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// ParseStatus reads a status name in any case.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return s, nil
	}
	return "", shared.Validation("unknown order status %q", raw)
}

// CanTransition reports whether the table allows from → to.
func (s Status) CanTransition(to Status) bool {
	_, ok := transitions[s][to]
	return ok
}

// CanCancel reports whether the order may still be cancelled or refunded.
func (s Status) CanCancel() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusProcessing
}

// IsTerminal reports whether no further transition exists.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Next is the happy-path successor, if any.
func (s Status) Next() (Status, bool) {
	n, ok := happyPath[s]
	return n, ok
}

// Item is one product on an order.
type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// Order wraps an online bill with shipping data and a fulfilment status.
type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      int64           `json:"customer_id"`
	BillID          int64           `json:"bill_id"`
	Status          Status          `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	ShippingPhone   string          `json:"shipping_phone,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	Discount        decimal.Decimal `json:"discount"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	OrderedAt       time.Time       `json:"ordered_at"`
	ConfirmedAt     *time.Time      `json:"confirmed_at,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	Items           []Item          `json:"items"`
}

// Transition moves the order to status to, applying the table's side effect.
// An illegal move returns *shared.InvalidStateTransitionError and leaves o unchanged.
func (o *Order) Transition(to Status, at time.Time) error {
	apply, ok := transitions[o.Status][to]
	if !ok {
		return &shared.InvalidStateTransitionError{Entity: "order " + o.OrderNumber, From: string(o.Status), To: string(to)}
	}
	apply(o, at)
	o.Status = to
	return nil
}

// AppendNote adds a line to the order notes.
func (o *Order) AppendNote(note string) {
	if note == "" {
		return
	}
	if o.Notes != "" {
		o.Notes += "\n"
	}
	o.Notes += note
}

// FormatOrderNumber renders an order number such as ORD-000042.
func FormatOrderNumber(seq int64) string {
	return fmt.Sprintf("ORD-%06d", seq)
}

// Filter narrows order listings.
type Filter struct {
	CustomerID int64
	Status     Status
	ActiveOnly bool
	Limit      int
	Offset     int
}

// CustomerStats counts a customer's orders by outcome.
type CustomerStats struct {
	CustomerID int64 `json:"customer_id"`
	Total      int   `json:"total"`
	Pending    int   `json:"pending"`
	Completed  int   `json:"completed"`
	Cancelled  int   `json:"cancelled"`
}

// Add counts one order with status s.
func (c *CustomerStats) Add(s Status) {
	c.Total++
	switch s {
	case StatusPending, StatusConfirmed:
		c.Pending++
	case StatusDelivered:
		c.Completed++
	case StatusCancelled, StatusRefunded:
		c.Cancelled++
	}
}
