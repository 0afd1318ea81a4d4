package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock matches every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidDiscount matches every *InvalidDiscountError.
	ErrInvalidDiscount = errors.New("invalid discount")
	// ErrInvalidPayment matches every *InvalidPaymentError.
	ErrInvalidPayment = errors.New("invalid payment")
	// ErrInvalidStateTransition matches every *InvalidStateTransitionError.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrValidation marks malformed input that never reached business rules.
	ErrValidation = errors.New("validation failed")
)

// InsufficientStockError reports a shortfall for one product.
type InsufficientStockError struct {
	Product   string
	Channel   string
	BatchID   int64
	Requested int
	Available int
}

// Shortfall is the quantity missing to satisfy the request.
func (e *InsufficientStockError) Shortfall() int {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "insufficient stock for %s", e.Product)
	if e.Channel != "" {
		fmt.Fprintf(&b, " in %s", e.Channel)
	}
	if e.BatchID != 0 {
		fmt.Fprintf(&b, " (batch %d)", e.BatchID)
	}
	fmt.Fprintf(&b, ": requested %d, available %d, shortfall %d", e.Requested, e.Available, e.Shortfall())
	return b.String()
}

// Is lets errors.Is match the sentinel.
func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// InvalidDiscountError is returned when a discount exceeds the subtotal or is negative.
type InvalidDiscountError struct {
	Discount decimal.Decimal
	Subtotal decimal.Decimal
}

func (e *InvalidDiscountError) Error() string {
	if e.Discount.IsNegative() {
		return fmt.Sprintf("invalid discount %s: must not be negative", e.Discount.StringFixed(2))
	}
	return fmt.Sprintf("invalid discount %s: exceeds subtotal %s", e.Discount.StringFixed(2), e.Subtotal.StringFixed(2))
}

// Is lets errors.Is match the sentinel.
func (e *InvalidDiscountError) Is(target error) bool { return target == ErrInvalidDiscount }

// InvalidPaymentError is returned when the payment cannot settle the bill.
type InvalidPaymentError struct {
	Reason   string
	Tendered decimal.Decimal
	Total    decimal.Decimal
}

func (e *InvalidPaymentError) Error() string {
	if e.Reason != "" {
		return "invalid payment: " + e.Reason
	}
	return fmt.Sprintf("invalid payment: tendered %s is below total %s", e.Tendered.StringFixed(2), e.Total.StringFixed(2))
}

// Is lets errors.Is match the sentinel.
func (e *InvalidPaymentError) Is(target error) bool { return target == ErrInvalidPayment }

// InvalidStateTransitionError is returned for an illegal status change.
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.To)
}

// Is lets errors.Is match the sentinel.
func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is lets errors.Is match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError from any printable id.
func NotFound(entity string, id any) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// PersistenceError wraps a storage failure with the operation and identifiers involved.
type PersistenceError struct {
	Op     string
	Entity string
	IDs    []string
	Err    error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Entity)
	if len(e.IDs) > 0 {
		msg += " [" + strings.Join(e.IDs, ",") + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Persistence wraps err unless it is nil or already carries business meaning.
func Persistence(op, entity string, err error, ids ...any) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || IsBusinessError(err) {
		return err
	}
	strIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		strIDs = append(strIDs, fmt.Sprint(id))
	}
	return &PersistenceError{Op: op, Entity: entity, IDs: strIDs, Err: err}
}

// IsBusinessError reports whether err belongs to the validation class that callers
// present to users rather than treat as a failure of the system.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidDiscount) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation)
}

// Validation wraps a message as a validation failure.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
