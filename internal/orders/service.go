package orders

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const idempotencyModule = "orders"

// Checkout is the part of the checkout engine an order placement drives.
type Checkout interface {
	Prepare(ctx context.Context, req checkout.Request) (checkout.Plan, []error, error)
	Commit(ctx context.Context, tx checkout.TxRepository, plan checkout.Plan) (checkout.Bill, error)
	AfterCommit(ctx context.Context, bill checkout.Bill)
}

// Metrics records order status changes.
type Metrics interface {
	ObserveOrderTransition(status string)
}

// Config groups optional settings.
type Config struct {
	Logger      *slog.Logger
	Clock       func() time.Time
	ShippingFee decimal.Decimal
	Metrics     Metrics
}

// Service places online orders and drives their fulfilment status.
type Service struct {
	repo        RepositoryPort
	checkout    Checkout
	shippingFee decimal.Decimal
	metrics     Metrics
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService wires the order service.
func NewService(repo RepositoryPort, engine Checkout, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        repo,
		checkout:    engine,
		shippingFee: money.Round(cfg.ShippingFee),
		metrics:     cfg.Metrics,
		logger:      logger.With(slog.String("module", "orders")),
		clock:       clock,
	}
}

// PlaceInput describes a new online order.
type PlaceInput struct {
	CustomerID      int64
	ShippingAddress string
	ShippingPhone   string
	Notes           string
	Lines           []checkout.Line
	Discount        decimal.Decimal
	IdempotencyKey  string
}

// Place commits the online sale and the order in one transaction. Validation
// failures come back in the slice with nothing written.
func (s *Service) Place(ctx context.Context, in PlaceInput) (Order, []error, error) {
	var errs []error
	if in.CustomerID <= 0 {
		errs = append(errs, checkout.ErrCustomerRequired)
	}
	in.ShippingAddress = strings.TrimSpace(in.ShippingAddress)
	if in.ShippingAddress == "" {
		errs = append(errs, shared.Validation("shipping address required"))
	}
	customer := in.CustomerID
	plan, planErrs, err := s.checkout.Prepare(ctx, checkout.Request{
		Channel:     channelstock.Online,
		PaymentKind: checkout.PaymentCredit,
		CustomerID:  &customer,
		Cashier:     shared.ActorFromContext(ctx),
		Lines:       in.Lines,
		Discount:    in.Discount,
	})
	if err != nil {
		return Order{}, nil, err
	}
	errs = append(errs, planErrs...)
	if len(errs) > 0 {
		return Order{}, errs, nil
	}

	var (
		order Order
		bill  checkout.Bill
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.IdempotencyKey != "" {
			if err := tx.Claim(ctx, idempotencyModule, in.IdempotencyKey); err != nil {
				return err
			}
		}
		var err error
		bill, err = s.checkout.Commit(ctx, tx, plan)
		if err != nil {
			return err
		}
		number, err := tx.NextOrderNumber(ctx)
		if err != nil {
			return err
		}
		order = newOrder(number, in, bill, plan, s.shippingFee)
		order, err = tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		return tx.Record(ctx, shared.AuditLog{
			Action:   "order.placed",
			Entity:   "order",
			EntityID: order.OrderNumber,
			Meta:     map[string]any{"bill": bill.SerialNumber, "total": money.Format(order.Total)},
			At:       order.OrderedAt,
		})
	})
	if err != nil {
		if shared.IsBusinessError(err) {
			return Order{}, []error{err}, nil
		}
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			s.logger.Error("order placement failed", slog.Int64("customer_id", in.CustomerID), slog.Any("error", err))
		}
		return Order{}, nil, err
	}
	s.checkout.AfterCommit(ctx, bill)
	s.observe(order.Status)
	s.logger.Info("order placed",
		slog.String("order_number", order.OrderNumber),
		slog.String("bill", bill.SerialNumber),
		slog.String("total", money.Format(order.Total)),
	)
	return order, nil, nil
}

func newOrder(number string, in PlaceInput, bill checkout.Bill, plan checkout.Plan, shippingFee decimal.Decimal) Order {
	o := Order{
		OrderNumber:     number,
		CustomerID:      in.CustomerID,
		BillID:          bill.ID,
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		ShippingPhone:   strings.TrimSpace(in.ShippingPhone),
		Notes:           strings.TrimSpace(in.Notes),
		Subtotal:        bill.Subtotal,
		ShippingFee:     shippingFee,
		Discount:        bill.Discount,
		Tax:             bill.Tax,
		Total:           money.Sum(bill.Subtotal, shippingFee, bill.Tax, bill.Discount.Neg()),
		OrderedAt:       bill.CreatedAt,
	}
	for _, l := range plan.Lines {
		o.Items = append(o.Items, Item{
			ProductCode: l.Product.Code,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.Product.UnitPrice,
			LineTotal:   money.LineTotal(l.Product.UnitPrice, l.Quantity),
		})
	}
	return o
}

// Confirm moves a pending order to confirmed.
func (s *Service) Confirm(ctx context.Context, id int64) (Order, error) {
	return s.transition(ctx, id, StatusConfirmed, "")
}

// StartProcessing moves a confirmed order to processing.
func (s *Service) StartProcessing(ctx context.Context, id int64) (Order, error) {
	return s.transition(ctx, id, StatusProcessing, "")
}

// Ship marks a processing order as shipped.
func (s *Service) Ship(ctx context.Context, id int64) (Order, error) {
	return s.transition(ctx, id, StatusShipped, "")
}

// Deliver marks a shipped order as delivered.
func (s *Service) Deliver(ctx context.Context, id int64) (Order, error) {
	return s.transition(ctx, id, StatusDelivered, "")
}

// Cancel cancels an order that has not shipped, recording reason in the notes.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (Order, error) {
	return s.transition(ctx, id, StatusCancelled, reason)
}

// Refund marks an unshipped order as refunded.
func (s *Service) Refund(ctx context.Context, id int64, reason string) (Order, error) {
	return s.transition(ctx, id, StatusRefunded, reason)
}

// Advance moves the order one step along the happy path.
func (s *Service) Advance(ctx context.Context, id int64) (Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	next, ok := o.Status.Next()
	if !ok {
		return Order{}, &shared.InvalidStateTransitionError{Entity: "order " + o.OrderNumber, From: string(o.Status), To: "next"}
	}
	return s.transition(ctx, id, next, "")
}

func (s *Service) transition(ctx context.Context, id int64, to Status, reason string) (Order, error) {
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := order.Status
		now := s.clock().UTC()
		if err := order.Transition(to, now); err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		switch {
		case reason == "":
		case to == StatusCancelled:
			order.AppendNote("Cancellation reason: " + reason)
		case to == StatusRefunded:
			order.AppendNote("Refund reason: " + reason)
		}
		if err := tx.SaveOrderState(ctx, order, from); err != nil {
			return err
		}
		meta := map[string]any{"from": string(from), "to": string(to)}
		if reason != "" {
			meta["reason"] = reason
		}
		return tx.Record(ctx, shared.AuditLog{
			Action:   "order." + strings.ToLower(string(to)),
			Entity:   "order",
			EntityID: order.OrderNumber,
			Meta:     meta,
			At:       now,
		})
	})
	if err != nil {
		if !shared.IsBusinessError(err) {
			s.logger.Error("order transition failed", slog.Int64("order_id", id), slog.String("to", string(to)), slog.Any("error", err))
		}
		return Order{}, err
	}
	s.observe(to)
	s.logger.Info("order status changed", slog.String("order_number", order.OrderNumber), slog.String("status", string(to)))
	return order, nil
}

// UpdateShipping changes the shipping details of a pending or confirmed order.
func (s *Service) UpdateShipping(ctx context.Context, id int64, address, phone string) (Order, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Order{}, shared.Validation("shipping address required")
	}
	phone = strings.TrimSpace(phone)
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != StatusPending && order.Status != StatusConfirmed {
			return ErrShippingLocked
		}
		if err := tx.UpdateShipping(ctx, id, address, phone); err != nil {
			return err
		}
		order.ShippingAddress = address
		order.ShippingPhone = phone
		return tx.Record(ctx, shared.AuditLog{
			Action:   "order.shipping_updated",
			Entity:   "order",
			EntityID: order.OrderNumber,
			At:       s.clock().UTC(),
		})
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

// Get returns an order by numeric id or order number.
func (s *Service) Get(ctx context.Context, ref string) (Order, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.repo.GetOrder(ctx, id)
	}
	return s.repo.GetOrderByNumber(ctx, strings.ToUpper(strings.TrimSpace(ref)))
}

// List returns order headers matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]Order, error) {
	return s.repo.ListOrders(ctx, f)
}

// CustomerStats counts a customer's orders by outcome.
func (s *Service) CustomerStats(ctx context.Context, customerID int64) (CustomerStats, error) {
	if customerID <= 0 {
		return CustomerStats{}, shared.Validation("customer id required")
	}
	statuses, err := s.repo.CustomerStatuses(ctx, customerID)
	if err != nil {
		return CustomerStats{}, err
	}
	stats := CustomerStats{CustomerID: customerID}
	for _, st := range statuses {
		stats.Add(st)
	}
	return stats, nil
}

func (s *Service) observe(st Status) {
	if s.metrics != nil {
		s.metrics.ObserveOrderTransition(string(st))
	}
}
