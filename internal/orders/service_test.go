package orders_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/testing/memstore"
)

var now = time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)

type recordingMetrics struct {
	statuses []string
}

func (m *recordingMetrics) ObserveOrderTransition(status string) {
	m.statuses = append(m.statuses, status)
}

// OrdersTestSuite drives orders through placement and fulfilment.
type OrdersTestSuite struct {
	suite.Suite
	store   *memstore.Store
	service *orders.Service
	metrics *recordingMetrics
	milk    ledger.Batch
	ctx     context.Context
}

func TestOrdersTestSuite(t *testing.T) {
	suite.Run(t, new(OrdersTestSuite))
}

func (s *OrdersTestSuite) SetupTest() {
	clock := func() time.Time { return now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = memstore.New(clock)
	s.store.AddProduct(catalog.Product{Code: "MILK", Name: "Milk 1L", UnitPrice: money.MustParse("1.20"), Active: true})
	s.store.AddProduct(catalog.Product{Code: "TEA", Name: "Green Tea", UnitPrice: money.MustParse("3.75"), Active: true})
	s.milk = s.store.AddBatch(ledger.Batch{ProductCode: "MILK", QuantityReceived: 20, PurchaseDate: ledger.Day(now)})
	s.store.SetRecord(channelstock.Online, s.milk.ID, 10)
	tea := s.store.AddBatch(ledger.Batch{ProductCode: "TEA", QuantityReceived: 5, PurchaseDate: ledger.Day(now)})
	s.store.SetRecord(channelstock.Online, tea.ID, 5)

	online := channelstock.New(channelstock.Online, s.store.Channels(), channelstock.Config{Clock: clock, Logger: logger})
	engine := checkout.NewEngine(s.store.Checkout(), s.store, checkout.Config{Clock: clock, Logger: logger}, online)
	s.metrics = &recordingMetrics{}
	s.service = orders.NewService(s.store.OrdersRepo(), engine, orders.Config{
		Clock:       clock,
		Logger:      logger,
		ShippingFee: money.MustParse("4.99"),
		Metrics:     s.metrics,
	})
	s.ctx = shared.ContextWithActor(context.Background(), "web-shop")
}

func (s *OrdersTestSuite) place(customer int64, lines ...checkout.Line) orders.Order {
	order, errs, err := s.service.Place(s.ctx, orders.PlaceInput{
		CustomerID:      customer,
		ShippingAddress: "12 Harbour Road",
		ShippingPhone:   "+62 811 000",
		Lines:           lines,
	})
	s.Require().NoError(err)
	s.Require().Empty(errs)
	return order
}

func (s *OrdersTestSuite) TestPlaceCommitsBillAndOrderTogether() {
	order := s.place(42, checkout.Line{ProductCode: "milk", Quantity: 2}, checkout.Line{ProductCode: "TEA", Quantity: 1})

	s.Equal("ORD-000001", order.OrderNumber)
	s.Equal(orders.StatusPending, order.Status)
	s.Equal("6.15", money.Format(order.Subtotal))
	s.Equal("4.99", money.Format(order.ShippingFee))
	s.Equal("11.14", money.Format(order.Total))
	s.Len(order.Items, 2)

	bills := s.store.Bills()
	s.Require().Len(bills, 1)
	s.Equal(order.BillID, bills[0].ID)
	s.Equal(checkout.PaymentCredit, bills[0].PaymentKind)
	s.Equal("ONL-20240115-0001", bills[0].SerialNumber)
	s.Equal(8, s.store.RecordQuantity(channelstock.Online, "MILK", s.milk.ID))

	logs := s.store.AuditLogs()
	s.Require().Len(logs, 1)
	s.Equal("order.placed", logs[0].Action)
	s.Equal("web-shop", logs[0].Actor)
	s.Equal([]string{"PENDING"}, s.metrics.statuses)
}

func (s *OrdersTestSuite) TestPlaceRejectsInvalidInput() {
	_, errs, err := s.service.Place(s.ctx, orders.PlaceInput{
		Lines: []checkout.Line{{ProductCode: "MILK", Quantity: 11}},
	})
	s.Require().NoError(err)
	s.Len(errs, 3)
	s.ErrorIs(errs[0], checkout.ErrCustomerRequired)
	s.ErrorIs(errs[1], shared.ErrValidation)
	s.ErrorIs(errs[2], shared.ErrInsufficientStock)
	s.Empty(s.store.Bills())
	s.Empty(s.store.Orders())
}

func (s *OrdersTestSuite) TestPlaceRollsBackSaleWhenOrderInsertFails() {
	boom := errors.New("orders table locked")
	s.store.FailNext("InsertOrder", boom)

	_, _, err := s.service.Place(s.ctx, orders.PlaceInput{
		CustomerID:      1,
		ShippingAddress: "1 Main St",
		Lines:           []checkout.Line{{ProductCode: "MILK", Quantity: 3}},
		IdempotencyKey:  "cart-1",
	})
	s.Require().ErrorIs(err, boom)
	s.Empty(s.store.Bills())
	s.Empty(s.store.Entries())
	s.Equal(10, s.store.RecordQuantity(channelstock.Online, "MILK", s.milk.ID))

	order, errs, err := s.service.Place(s.ctx, orders.PlaceInput{
		CustomerID:      1,
		ShippingAddress: "1 Main St",
		Lines:           []checkout.Line{{ProductCode: "MILK", Quantity: 3}},
		IdempotencyKey:  "cart-1",
	})
	s.Require().NoError(err)
	s.Require().Empty(errs)
	s.Equal("ORD-000002", order.OrderNumber, "sequence values are not reused after a rollback")

	_, _, err = s.service.Place(s.ctx, orders.PlaceInput{
		CustomerID:      1,
		ShippingAddress: "1 Main St",
		Lines:           []checkout.Line{{ProductCode: "MILK", Quantity: 3}},
		IdempotencyKey:  "cart-1",
	})
	s.ErrorIs(err, shared.ErrIdempotencyConflict)
}

func (s *OrdersTestSuite) TestFulfilmentHappyPath() {
	order := s.place(7, checkout.Line{ProductCode: "TEA", Quantity: 2})

	steps := []struct {
		run  func(context.Context, int64) (orders.Order, error)
		want orders.Status
	}{
		{s.service.Confirm, orders.StatusConfirmed},
		{s.service.StartProcessing, orders.StatusProcessing},
		{s.service.Ship, orders.StatusShipped},
		{s.service.Deliver, orders.StatusDelivered},
	}
	for _, step := range steps {
		got, err := step.run(s.ctx, order.ID)
		s.Require().NoError(err)
		s.Equal(step.want, got.Status)
	}

	stored, err := s.service.Get(s.ctx, order.OrderNumber)
	s.Require().NoError(err)
	s.Equal(orders.StatusDelivered, stored.Status)
	s.NotNil(stored.ConfirmedAt)
	s.NotNil(stored.ShippedAt)
	s.NotNil(stored.DeliveredAt)
	s.Nil(stored.CancelledAt)

	_, err = s.service.Deliver(s.ctx, order.ID)
	s.ErrorIs(err, shared.ErrInvalidStateTransition)
	_, err = s.service.Cancel(s.ctx, order.ID, "too late")
	s.ErrorIs(err, shared.ErrInvalidStateTransition)

	s.Equal([]string{"PENDING", "CONFIRMED", "PROCESSING", "SHIPPED", "DELIVERED"}, s.metrics.statuses)
}

func (s *OrdersTestSuite) TestIllegalJumpsAreRejected() {
	order := s.place(7, checkout.Line{ProductCode: "TEA", Quantity: 1})

	_, err := s.service.Ship(s.ctx, order.ID)
	s.ErrorIs(err, shared.ErrInvalidStateTransition)
	_, err = s.service.Deliver(s.ctx, order.ID)
	s.ErrorIs(err, shared.ErrInvalidStateTransition)

	got, err := s.service.Advance(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(orders.StatusConfirmed, got.Status)

	_, err = s.service.Confirm(s.ctx, 404)
	s.ErrorIs(err, shared.ErrNotFound)
}

func (s *OrdersTestSuite) TestCancelRecordsReasonWithoutMovingStock() {
	order := s.place(3, checkout.Line{ProductCode: "MILK", Quantity: 4})
	_, err := s.service.Confirm(s.ctx, order.ID)
	s.Require().NoError(err)

	cancelled, err := s.service.Cancel(s.ctx, order.ID, "customer changed mind")
	s.Require().NoError(err)
	s.Equal(orders.StatusCancelled, cancelled.Status)
	s.NotNil(cancelled.CancelledAt)
	s.Contains(cancelled.Notes, "Cancellation reason: customer changed mind")
	s.Equal(6, s.store.RecordQuantity(channelstock.Online, "MILK", s.milk.ID))

	logs := s.store.AuditLogs()
	last := logs[len(logs)-1]
	s.Equal("order.cancelled", last.Action)
	s.Equal("customer changed mind", last.Meta["reason"])

	_, err = s.service.Refund(s.ctx, order.ID, "")
	s.ErrorIs(err, shared.ErrInvalidStateTransition)
}

func (s *OrdersTestSuite) TestRefundFromProcessing() {
	order := s.place(3, checkout.Line{ProductCode: "MILK", Quantity: 1})
	for _, step := range []func(context.Context, int64) (orders.Order, error){s.service.Confirm, s.service.StartProcessing} {
		_, err := step(s.ctx, order.ID)
		s.Require().NoError(err)
	}
	refunded, err := s.service.Refund(s.ctx, order.ID, "damaged in warehouse")
	s.Require().NoError(err)
	s.Equal(orders.StatusRefunded, refunded.Status)
	s.Contains(refunded.Notes, "Refund reason: damaged in warehouse")
}

func (s *OrdersTestSuite) TestUpdateShippingOnlyBeforeProcessing() {
	order := s.place(5, checkout.Line{ProductCode: "MILK", Quantity: 1})

	updated, err := s.service.UpdateShipping(s.ctx, order.ID, " 99 New Street ", "")
	s.Require().NoError(err)
	s.Equal("99 New Street", updated.ShippingAddress)

	_, err = s.service.UpdateShipping(s.ctx, order.ID, "   ", "")
	s.ErrorIs(err, shared.ErrValidation)

	_, err = s.service.Confirm(s.ctx, order.ID)
	s.Require().NoError(err)
	_, err = s.service.StartProcessing(s.ctx, order.ID)
	s.Require().NoError(err)

	_, err = s.service.UpdateShipping(s.ctx, order.ID, "1 Other Road", "")
	s.ErrorIs(err, orders.ErrShippingLocked)
	s.ErrorIs(err, shared.ErrInvalidStateTransition)

	stored, err := s.service.Get(s.ctx, "1")
	s.Require().NoError(err)
	s.Equal("99 New Street", stored.ShippingAddress)
}

func (s *OrdersTestSuite) TestListingAndCustomerStats() {
	a := s.place(11, checkout.Line{ProductCode: "MILK", Quantity: 1})
	b := s.place(11, checkout.Line{ProductCode: "MILK", Quantity: 1})
	c := s.place(11, checkout.Line{ProductCode: "TEA", Quantity: 1})
	s.place(12, checkout.Line{ProductCode: "TEA", Quantity: 1})

	_, err := s.service.Cancel(s.ctx, a.ID, "")
	s.Require().NoError(err)
	for _, step := range []func(context.Context, int64) (orders.Order, error){
		s.service.Confirm, s.service.StartProcessing, s.service.Ship, s.service.Deliver,
	} {
		_, err := step(s.ctx, b.ID)
		s.Require().NoError(err)
	}
	_, err = s.service.Confirm(s.ctx, c.ID)
	s.Require().NoError(err)

	stats, err := s.service.CustomerStats(s.ctx, 11)
	s.Require().NoError(err)
	s.Equal(orders.CustomerStats{CustomerID: 11, Total: 3, Pending: 1, Completed: 1, Cancelled: 1}, stats)

	_, err = s.service.CustomerStats(s.ctx, 0)
	s.ErrorIs(err, shared.ErrValidation)

	list, err := s.service.List(s.ctx, orders.Filter{CustomerID: 11})
	s.Require().NoError(err)
	s.Len(list, 3)
	s.Equal(c.ID, list[0].ID, "newest first")

	active, err := s.service.List(s.ctx, orders.Filter{ActiveOnly: true})
	s.Require().NoError(err)
	s.Len(active, 2)

	delivered, err := s.service.List(s.ctx, orders.Filter{Status: orders.StatusDelivered})
	s.Require().NoError(err)
	s.Require().Len(delivered, 1)
	s.Equal(b.OrderNumber, delivered[0].OrderNumber)
}
