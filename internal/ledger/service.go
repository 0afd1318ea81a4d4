package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/money"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Catalog confirms a product exists before stock is received for it.
type Catalog interface {
	Product(ctx context.Context, code string) (catalog.Product, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	Logger *slog.Logger
	Clock  func() time.Time
}

// Service owns the warehouse batches.
type Service struct {
	repo    RepositoryPort
	catalog Catalog
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService builds Service. catalog may be nil when product existence is enforced elsewhere.
func NewService(repo RepositoryPort, catalog Catalog, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, catalog: catalog, logger: logger.With(slog.String("module", "ledger")), clock: clock}
}

// Receive records a warehouse receipt as a new batch plus its RESTOCK audit entry.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (Batch, error) {
	code := catalog.NormalizeCode(input.ProductCode)
	if code == "" {
		return Batch{}, shared.Validation("product code required")
	}
	if input.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if input.PurchasePrice.IsNegative() {
		return Batch{}, ErrInvalidPrice
	}
	purchaseDate := Day(input.PurchaseDate)
	if input.PurchaseDate.IsZero() {
		purchaseDate = Day(s.clock())
	}
	var expiry *time.Time
	if input.ExpiryDate != nil {
		d := Day(*input.ExpiryDate)
		if d.Before(purchaseDate) {
			return Batch{}, ErrExpiryBeforePurchase
		}
		expiry = &d
	}
	if s.catalog != nil {
		if _, err := s.catalog.Product(ctx, code); err != nil {
			return Batch{}, err
		}
	}

	batch := Batch{
		ProductCode:       code,
		QuantityReceived:  input.Quantity,
		RemainingQuantity: input.Quantity,
		PurchasePrice:     money.Round(input.PurchasePrice),
		PurchaseDate:      purchaseDate,
		ExpiryDate:        expiry,
		Supplier:          input.Supplier,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		saved, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch = saved
		_, err = tx.AppendTransactions(ctx, audittrail.Entry{
			ProductCode:   batch.ProductCode,
			BatchID:       batch.ID,
			Kind:          audittrail.KindRestock,
			QuantityDelta: batch.QuantityReceived,
			Remarks:       receiptRemarks(batch),
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.logger.Info("batch received",
		slog.String("product", batch.ProductCode),
		slog.Int64("batch_id", batch.ID),
		slog.Int("quantity", batch.QuantityReceived),
	)
	return batch, nil
}

// SelectBatchFor returns the batch that should serve required units of product.
// When no single batch covers the request, the earliest batch with any stock is returned.
func (s *Service) SelectBatchFor(ctx context.Context, product string, required int) (Batch, error) {
	if required <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	code := catalog.NormalizeCode(product)
	batches, err := s.repo.ListAvailableBatches(ctx, code)
	if err != nil {
		return Batch{}, err
	}
	SortFIFO(batches)
	b, ok := PickBatch(batches, required)
	if !ok {
		return Batch{}, shared.NotFound("available batch for product", code)
	}
	return b, nil
}

// Reduce removes amount from a batch as a manual adjustment.
func (s *Service) Reduce(ctx context.Context, batchID int64, amount int) (Batch, error) {
	return s.adjust(ctx, batchID, -amount, amount)
}

// Increase adds amount back to a batch as a manual adjustment.
func (s *Service) Increase(ctx context.Context, batchID int64, amount int) (Batch, error) {
	return s.adjust(ctx, batchID, amount, amount)
}

func (s *Service) adjust(ctx context.Context, batchID int64, delta, amount int) (Batch, error) {
	if amount <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if delta < 0 {
			batch, err = ReduceWithin(ctx, tx, batchID, amount)
		} else {
			batch, err = IncreaseWithin(ctx, tx, batchID, amount)
		}
		if err != nil {
			return err
		}
		_, err = tx.AppendTransactions(ctx, audittrail.Entry{
			ProductCode:   batch.ProductCode,
			BatchID:       batch.ID,
			Kind:          audittrail.KindAdjustment,
			QuantityDelta: delta,
			Remarks:       "manual ledger adjustment",
		})
		return err
	})
	if err != nil {
		s.logger.Warn("batch adjustment rejected", slog.Int64("batch_id", batchID), slog.Int("delta", delta), slog.Any("error", err))
		return Batch{}, err
	}
	s.logger.Info("batch adjusted", slog.Int64("batch_id", batchID), slog.Int("delta", delta))
	return batch, nil
}

// ReduceWithin applies the conditional decrement inside an open transaction and
// reports a shortfall as *shared.InsufficientStockError. It returns the batch after the change.
func ReduceWithin(ctx context.Context, w BatchWriter, batchID int64, amount int) (Batch, error) {
	if amount <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	ok, err := w.ReduceBatch(ctx, batchID, amount)
	if err != nil {
		return Batch{}, err
	}
	b, err := w.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if !ok {
		return Batch{}, &shared.InsufficientStockError{
			Product:   b.ProductCode,
			BatchID:   b.ID,
			Requested: amount,
			Available: b.RemainingQuantity,
		}
	}
	return b, nil
}

// IncreaseWithin applies the conditional increment inside an open transaction.
func IncreaseWithin(ctx context.Context, w BatchWriter, batchID int64, amount int) (Batch, error) {
	if amount <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	ok, err := w.IncreaseBatch(ctx, batchID, amount)
	if err != nil {
		return Batch{}, err
	}
	b, err := w.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if !ok {
		return Batch{}, fmt.Errorf("%w: batch %d has %d of %d", ErrExceedsReceived, b.ID, b.RemainingQuantity, b.QuantityReceived)
	}
	return b, nil
}

// Get returns a batch by id.
func (s *Service) Get(ctx context.Context, batchID int64) (Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ListByProduct returns every batch of product in FIFO order.
func (s *Service) ListByProduct(ctx context.Context, product string) ([]Batch, error) {
	batches, err := s.repo.ListBatches(ctx, catalog.NormalizeCode(product))
	if err != nil {
		return nil, err
	}
	SortFIFO(batches)
	return batches, nil
}

// AvailableBatches returns batches with stock left in FIFO order.
func (s *Service) AvailableBatches(ctx context.Context, product string) ([]Batch, error) {
	batches, err := s.repo.ListAvailableBatches(ctx, catalog.NormalizeCode(product))
	if err != nil {
		return nil, err
	}
	SortFIFO(batches)
	return batches, nil
}

// ExpiringWithin lists stocked batches expiring between today and today+days inclusive.
func (s *Service) ExpiringWithin(ctx context.Context, days int) ([]Batch, error) {
	if days < 0 {
		return nil, shared.Validation("days must be non-negative")
	}
	today := Day(s.clock())
	return s.repo.BatchesExpiringBetween(ctx, today, today.AddDate(0, 0, days))
}

// Expired lists stocked batches whose expiry date has passed.
func (s *Service) Expired(ctx context.Context) ([]Batch, error) {
	return s.repo.BatchesExpiredBefore(ctx, Day(s.clock()))
}

// TotalRemaining sums remaining warehouse stock for product.
func (s *Service) TotalRemaining(ctx context.Context, product string) (int, error) {
	return s.repo.TotalRemaining(ctx, catalog.NormalizeCode(product))
}

// HasAvailable reports whether the warehouse holds at least required units of product.
func (s *Service) HasAvailable(ctx context.Context, product string, required int) (bool, error) {
	total, err := s.TotalRemaining(ctx, product)
	if err != nil {
		return false, err
	}
	return total >= required, nil
}

// Summary aggregates batches per product.
func (s *Service) Summary(ctx context.Context) ([]ProductSummary, error) {
	return s.repo.BatchSummary(ctx)
}

func receiptRemarks(b Batch) string {
	remarks := "warehouse receipt @ " + money.Format(b.PurchasePrice)
	if b.Supplier != "" {
		remarks += " from " + b.Supplier
	}
	return remarks
}
