package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

const idempotencyModule = "checkout"

// StockChecker answers availability for one channel.
type StockChecker interface {
	Channel() channelstock.Channel
	Check(ctx context.Context, product string, qty int) (channelstock.Availability, error)
}

// SummaryInvalidator drops cached channel summaries after a sale.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Metrics records checkout outcomes.
type Metrics interface {
	ObserveCheckout(channel, outcome string)
	ObserveAllocation(channel string, batches int)
}

// Config groups optional settings.
type Config struct {
	Logger  *slog.Logger
	Clock   func() time.Time
	TaxRate decimal.Decimal
	Cache   SummaryInvalidator
	Metrics Metrics
}

// Engine runs checkouts and reversals.
type Engine struct {
	repo     RepositoryPort
	products catalog.Lookup
	stocks   map[channelstock.Channel]StockChecker
	taxRate  decimal.Decimal
	cache    SummaryInvalidator
	metrics  Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// NewEngine wires the engine with its collaborators.
func NewEngine(repo RepositoryPort, products catalog.Lookup, cfg Config, stocks ...StockChecker) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	byChannel := make(map[channelstock.Channel]StockChecker, len(stocks))
	for _, s := range stocks {
		byChannel[s.Channel()] = s
	}
	return &Engine{
		repo:     repo,
		products: products,
		stocks:   byChannel,
		taxRate:  cfg.TaxRate,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   logger.With(slog.String("module", "checkout")),
		clock:    clock,
	}
}

// TaxRate is the rate applied when a request carries no explicit tax.
func (e *Engine) TaxRate() decimal.Decimal { return e.taxRate }

// PricedLine is a merged request line with its catalog entry.
type PricedLine struct {
	Product  catalog.Product
	Quantity int
}

// Plan is a validated, priced checkout ready to commit.
type Plan struct {
	Request Request
	Lines   []PricedLine
	Totals  Totals
}

// CheckStock reports availability of qty units of product in channel.
func (e *Engine) CheckStock(ctx context.Context, ch channelstock.Channel, product string, qty int) (channelstock.Availability, error) {
	stock, ok := e.stocks[ch]
	if !ok {
		return channelstock.Availability{}, shared.Validation("unknown channel %q", ch)
	}
	if qty <= 0 {
		return channelstock.Availability{}, shared.Validation("quantity must be positive")
	}
	return stock.Check(ctx, product, qty)
}

// Prepare validates, checks availability and prices req. Validation-class
// problems are all returned in the slice; the error is reserved for storage failures.
func (e *Engine) Prepare(ctx context.Context, req Request) (Plan, []error, error) {
	var errs []error
	stock, ok := e.stocks[req.Channel]
	if !ok {
		errs = append(errs, shared.Validation("unknown channel %q", req.Channel))
	}
	if req.Channel == channelstock.Online && req.PaymentKind != PaymentCredit {
		errs = append(errs, fmt.Errorf("%w: %s requires %s", ErrChannelPayment, req.Channel, PaymentCredit))
	}
	if req.Channel == channelstock.Online && req.CustomerID == nil {
		errs = append(errs, ErrCustomerRequired)
	}

	lines, lineErrs := mergeLines(req.Lines)
	errs = append(errs, lineErrs...)
	if len(lines) == 0 {
		if len(lineErrs) == 0 {
			errs = append(errs, ErrEmptyCart)
		}
		return Plan{}, errs, nil
	}

	codes := make([]string, 0, len(lines))
	for _, l := range lines {
		codes = append(codes, l.ProductCode)
	}
	products, err := e.products.Products(ctx, codes)
	if err != nil {
		return Plan{}, nil, err
	}
	priced := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		p, found := products[l.ProductCode]
		switch {
		case !found:
			errs = append(errs, shared.NotFound("product", l.ProductCode))
		case !p.Active:
			errs = append(errs, shared.Validation("product %s is not for sale", l.ProductCode))
		default:
			priced = append(priced, PricedLine{Product: p, Quantity: l.Quantity})
		}
	}

	if stock != nil {
		shortfalls, err := e.checkAvailability(ctx, stock, priced)
		if err != nil {
			return Plan{}, nil, err
		}
		errs = append(errs, shortfalls...)
	}

	subtotal := decimal.Zero
	for _, l := range priced {
		subtotal = subtotal.Add(money.LineTotal(l.Product.UnitPrice, l.Quantity))
	}
	totals, priceErrs := ComputeTotals(PricingInput{
		Subtotal:    subtotal,
		Discount:    req.Discount,
		Tax:         req.Tax,
		TaxRate:     e.taxRate,
		PaymentKind: req.PaymentKind,
		Tendered:    req.Tendered,
	})
	errs = append(errs, priceErrs...)
	if len(errs) > 0 {
		return Plan{}, errs, nil
	}
	req.Lines = lines
	return Plan{Request: req, Lines: priced, Totals: totals}, nil, nil
}

// checkAvailability queries every line concurrently and returns each shortfall in line order.
func (e *Engine) checkAvailability(ctx context.Context, stock StockChecker, lines []PricedLine) ([]error, error) {
	results := make([]error, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, l := range lines {
		g.Go(func() error {
			a, err := stock.Check(gctx, l.Product.Code, l.Quantity)
			if err != nil {
				return err
			}
			results[i] = a.Err()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []error
	for _, err := range results {
		if err != nil {
			out = append(out, err)
		}
	}
	return out, nil
}

// Commit allocates channel stock, writes the bill and its SALE entries inside tx.
// Any error must abort tx; nothing Commit wrote survives a rollback.
func (e *Engine) Commit(ctx context.Context, tx TxRepository, plan Plan) (Bill, error) {
	req := plan.Request
	bill := Bill{
		Channel:     req.Channel,
		PaymentKind: req.PaymentKind,
		CustomerID:  req.CustomerID,
		Cashier:     req.Cashier,
		Subtotal:    plan.Totals.Subtotal,
		Discount:    plan.Totals.Discount,
		Tax:         plan.Totals.Tax,
		Total:       plan.Totals.Total,
		Tendered:    plan.Totals.Tendered,
		Change:      plan.Totals.Change,
		Status:      BillFinalized,
		CreatedAt:   e.clock().UTC(),
	}
	var entries []audittrail.Entry
	for _, l := range plan.Lines {
		allocations, err := channelstock.Allocate(ctx, tx, req.Channel, l.Product.Code, l.Quantity)
		if err != nil {
			return Bill{}, err
		}
		if e.metrics != nil {
			e.metrics.ObserveAllocation(string(req.Channel), len(allocations))
		}
		for _, a := range allocations {
			bill.Items = append(bill.Items, LineItem{
				ProductCode: l.Product.Code,
				ProductName: l.Product.Name,
				BatchID:     a.BatchID,
				Quantity:    a.Quantity,
				UnitPrice:   l.Product.UnitPrice,
				LineTotal:   money.LineTotal(l.Product.UnitPrice, a.Quantity),
			})
			entries = append(entries, audittrail.Entry{
				ProductCode:   l.Product.Code,
				BatchID:       a.BatchID,
				Channel:       string(req.Channel),
				Kind:          audittrail.KindSale,
				QuantityDelta: -a.Quantity,
			})
		}
	}
	serial, err := tx.NextBillSerial(ctx, req.Channel.Prefix(), bill.CreatedAt)
	if err != nil {
		return Bill{}, err
	}
	bill.SerialNumber = serial
	bill, err = tx.InsertBill(ctx, bill)
	if err != nil {
		return Bill{}, err
	}
	for i := range entries {
		entries[i].BillID = &bill.ID
		entries[i].Remarks = "sale " + bill.SerialNumber
	}
	if _, err := tx.AppendTransactions(ctx, entries...); err != nil {
		return Bill{}, err
	}
	return bill, nil
}

// Checkout runs a complete sale. Validation-class failures, including a stock
// race lost during allocation, come back in Result.Errors with nothing written.
func (e *Engine) Checkout(ctx context.Context, req Request) (Result, error) {
	plan, errs, err := e.Prepare(ctx, req)
	if err != nil {
		e.observe(req.Channel, "failed")
		return Result{}, err
	}
	if len(errs) > 0 {
		e.observe(req.Channel, "rejected")
		e.logger.Warn("checkout rejected", slog.String("channel", string(req.Channel)), slog.Int("errors", len(errs)))
		return Result{Errors: errs}, nil
	}

	var bill Bill
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if req.IdempotencyKey != "" {
			if err := tx.Claim(ctx, idempotencyModule, req.IdempotencyKey); err != nil {
				return err
			}
		}
		var err error
		bill, err = e.Commit(ctx, tx, plan)
		return err
	})
	if err != nil {
		if shared.IsBusinessError(err) {
			e.observe(req.Channel, "rejected")
			e.logger.Warn("checkout lost allocation race", slog.String("channel", string(req.Channel)), slog.Any("error", err))
			return Result{Errors: []error{err}}, nil
		}
		e.observe(req.Channel, "failed")
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			e.logger.Error("checkout failed", slog.String("channel", string(req.Channel)), slog.Any("error", err))
		}
		return Result{}, err
	}
	e.afterSale(ctx, bill.Channel)
	e.observe(req.Channel, "committed")
	e.logger.Info("checkout committed",
		slog.String("serial", bill.SerialNumber),
		slog.Int64("bill_id", bill.ID),
		slog.String("total", money.Format(bill.Total)),
		slog.Int("items", len(bill.Items)),
	)
	return Result{Bill: &bill}, nil
}

// AfterCommit runs post-commit housekeeping for a bill committed by another module.
func (e *Engine) AfterCommit(ctx context.Context, bill Bill) {
	e.afterSale(ctx, bill.Channel)
	e.observe(bill.Channel, "committed")
}

// Reverse re-credits every line of a finalized bill to the channel batch it came
// from, logs REVERSAL entries and marks the bill reversed.
func (e *Engine) Reverse(ctx context.Context, billID int64, reason string) (Bill, error) {
	var bill Bill
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bill, err = tx.GetBillForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Status != BillFinalized {
			return &shared.InvalidStateTransitionError{Entity: "bill", From: string(bill.Status), To: string(BillReversed)}
		}
		allocations := make([]channelstock.Allocation, 0, len(bill.Items))
		entries := make([]audittrail.Entry, 0, len(bill.Items))
		for _, it := range bill.Items {
			allocations = append(allocations, channelstock.Allocation{BatchID: it.BatchID, ProductCode: it.ProductCode, Quantity: it.Quantity})
			entries = append(entries, audittrail.Entry{
				ProductCode:   it.ProductCode,
				BatchID:       it.BatchID,
				Channel:       string(bill.Channel),
				Kind:          audittrail.KindReversal,
				QuantityDelta: it.Quantity,
				BillID:        &bill.ID,
				Remarks:       "reversal " + bill.SerialNumber,
			})
		}
		if err := channelstock.Credit(ctx, tx, bill.Channel, allocations); err != nil {
			return err
		}
		if _, err := tx.AppendTransactions(ctx, entries...); err != nil {
			return err
		}
		now := e.clock().UTC()
		if err := tx.MarkBillReversed(ctx, bill.ID, reason, now); err != nil {
			return err
		}
		bill.Status = BillReversed
		bill.ReversalReason = reason
		bill.ReversedAt = &now
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	e.afterSale(ctx, bill.Channel)
	e.logger.Info("bill reversed", slog.String("serial", bill.SerialNumber), slog.Int64("bill_id", bill.ID))
	return bill, nil
}

// Bill returns a bill by id.
func (e *Engine) Bill(ctx context.Context, id int64) (Bill, error) {
	return e.repo.GetBill(ctx, id)
}

// BillBySerial returns a bill by serial number.
func (e *Engine) BillBySerial(ctx context.Context, serial string) (Bill, error) {
	return e.repo.GetBillBySerial(ctx, serial)
}

func (e *Engine) afterSale(ctx context.Context, ch channelstock.Channel) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, shared.StockSummaryKey(string(ch))); err != nil {
		e.logger.Warn("stock summary cache invalidation failed", slog.Any("error", err))
	}
}

func (e *Engine) observe(ch channelstock.Channel, outcome string) {
	if e.metrics != nil {
		e.metrics.ObserveCheckout(string(ch), outcome)
	}
}

// mergeLines normalises codes and folds duplicate products into the first occurrence.
func mergeLines(lines []Line) ([]Line, []error) {
	var errs []error
	index := make(map[string]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, l := range lines {
		code := catalog.NormalizeCode(l.ProductCode)
		if code == "" {
			errs = append(errs, shared.Validation("product code required"))
			continue
		}
		if l.Quantity <= 0 {
			errs = append(errs, shared.Validation("quantity for %s must be positive", code))
			continue
		}
		if i, ok := index[code]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[code] = len(merged)
		merged = append(merged, Line{ProductCode: code, Quantity: l.Quantity})
	}
	return merged, errs
}
