package channelstock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Catalog confirms a product exists before it is restocked.
type Catalog interface {
	Product(ctx context.Context, code string) (catalog.Product, error)
}

// SummaryCache caches channel summaries.
type SummaryCache interface {
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Metrics records restock outcomes.
type Metrics interface {
	ObserveRestock(channel, status string, units int)
}

// Config groups optional collaborators.
type Config struct {
	Logger  *slog.Logger
	Clock   func() time.Time
	Catalog Catalog
	Cache   SummaryCache
	Metrics Metrics
}

// Stock manages one channel.
type Stock struct {
	channel Channel
	repo    RepositoryPort
	catalog Catalog
	cache   SummaryCache
	metrics Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// New builds the Stock for channel.
func New(channel Channel, repo RepositoryPort, cfg Config) *Stock {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Stock{
		channel: channel,
		repo:    repo,
		catalog: cfg.Catalog,
		cache:   cfg.Cache,
		metrics: cfg.Metrics,
		logger:  logger.With(slog.String("module", "channelstock"), slog.String("channel", string(channel))),
		clock:   clock,
	}
}

// Channel returns the channel served by s.
func (s *Stock) Channel() Channel { return s.channel }

// Restock moves qty units of batchID from the warehouse ledger into the channel.
// A failed ledger reduction aborts the restock and leaves the channel untouched.
func (s *Stock) Restock(ctx context.Context, product string, batchID int64, qty int) (RestockResult, error) {
	code, err := s.prepareRestock(ctx, product, qty)
	if err != nil {
		return RestockResult{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if batch.ProductCode != code {
			return shared.Validation("batch %d holds %s, not %s", batchID, batch.ProductCode, code)
		}
		return s.moveFromBatch(ctx, tx, batch, qty)
	})
	if err != nil {
		s.observe(RestockFailed, 0)
		if shared.IsBusinessError(err) {
			s.logger.Warn("restock rejected", slog.String("product", code), slog.Int64("batch_id", batchID), slog.Any("error", err))
		}
		return RestockResult{}, err
	}
	res := resultFor(s.channel, code, qty, []BatchMove{{BatchID: batchID, Quantity: qty}})
	s.afterRestock(ctx, res)
	return res, nil
}

// RestockAuto fills the channel from the ledger FIFO-by-expiry, taking what each
// batch can give. A shortfall is reported through the result status, not as an error.
func (s *Stock) RestockAuto(ctx context.Context, product string, qty int) (RestockResult, error) {
	code, err := s.prepareRestock(ctx, product, qty)
	if err != nil {
		return RestockResult{}, err
	}
	var moves []BatchMove
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		moves = nil
		batches, err := tx.ListAvailableBatches(ctx, code)
		if err != nil {
			return err
		}
		ledger.SortFIFO(batches)
		needed := qty
		for _, b := range batches {
			if needed == 0 {
				break
			}
			take := min(b.RemainingQuantity, needed)
			if take <= 0 {
				continue
			}
			err := s.moveFromBatch(ctx, tx, b, take)
			var stockErr *shared.InsufficientStockError
			if errors.As(err, &stockErr) {
				// lost a race for this batch; try the next one
				continue
			}
			if err != nil {
				return err
			}
			moves = append(moves, BatchMove{BatchID: b.ID, Quantity: take})
			needed -= take
		}
		return nil
	})
	if err != nil {
		s.observe(RestockFailed, 0)
		return RestockResult{}, err
	}
	res := resultFor(s.channel, code, qty, moves)
	if res.Status == RestockPartial {
		s.logger.Warn("partial restock", slog.String("product", code), slog.Int("requested", qty), slog.Int("moved", res.Moved))
	}
	s.afterRestock(ctx, res)
	return res, nil
}

func (s *Stock) prepareRestock(ctx context.Context, product string, qty int) (string, error) {
	code := catalog.NormalizeCode(product)
	if code == "" {
		return "", shared.Validation("product code required")
	}
	if qty <= 0 {
		return "", shared.Validation("quantity must be positive")
	}
	if s.catalog != nil {
		if _, err := s.catalog.Product(ctx, code); err != nil {
			return "", err
		}
	}
	return code, nil
}

// moveFromBatch must run inside an open transaction. A conditional ledger reduction
// that fails still returns the shortfall, and the caller decides whether to abort.
func (s *Stock) moveFromBatch(ctx context.Context, tx TxRepository, batch ledger.Batch, qty int) error {
	if _, err := ledger.ReduceWithin(ctx, tx, batch.ID, qty); err != nil {
		var stockErr *shared.InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.Channel = string(s.channel)
		}
		return err
	}
	if err := tx.AddToRecord(ctx, s.channel, batch.ProductCode, batch.ID, qty, s.clock().UTC()); err != nil {
		return err
	}
	_, err := tx.AppendTransactions(ctx, audittrail.Entry{
		ProductCode:   batch.ProductCode,
		BatchID:       batch.ID,
		Channel:       string(s.channel),
		Kind:          s.channel.RestockKind(),
		QuantityDelta: qty,
		Remarks:       fmt.Sprintf("restocked %s from batch %d", s.channel, batch.ID),
	})
	return err
}

func (s *Stock) afterRestock(ctx context.Context, res RestockResult) {
	s.observe(res.Status, res.Moved)
	if res.Moved > 0 {
		if err := s.invalidate(ctx); err != nil {
			s.logger.Warn("stock summary cache invalidation failed", slog.Any("error", err))
		}
		s.logger.Info("channel restocked",
			slog.String("product", res.ProductCode),
			slog.Int("quantity", res.Moved),
			slog.Int("batches", len(res.Moves)),
		)
	}
}

func (s *Stock) observe(status RestockStatus, units int) {
	if s.metrics != nil {
		s.metrics.ObserveRestock(string(s.channel), string(status), units)
	}
}

func (s *Stock) invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, shared.StockSummaryKey(string(s.channel)))
}

// Available is the channel total for product across all batches.
func (s *Stock) Available(ctx context.Context, product string) (int, error) {
	return s.repo.ChannelQuantity(ctx, s.channel, catalog.NormalizeCode(product))
}

// Check compares the channel total for product against qty.
func (s *Stock) Check(ctx context.Context, product string, qty int) (Availability, error) {
	code := catalog.NormalizeCode(product)
	available, err := s.repo.ChannelQuantity(ctx, s.channel, code)
	if err != nil {
		return Availability{}, err
	}
	return availability(s.channel, code, qty, available), nil
}

func availability(ch Channel, product string, requested, available int) Availability {
	a := Availability{Channel: ch, ProductCode: product, Requested: requested, Available: available}
	if available < requested {
		a.Shortfall = requested - available
	}
	return a
}

// ReserveAndDeduct allocates qty units in its own transaction and returns the
// per-batch breakdown. On a shortfall nothing is deducted.
func (s *Stock) ReserveAndDeduct(ctx context.Context, product string, qty int) ([]Allocation, error) {
	code := catalog.NormalizeCode(product)
	var allocations []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		allocations, err = Allocate(ctx, tx, s.channel, code, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx); err != nil {
		s.logger.Warn("stock summary cache invalidation failed", slog.Any("error", err))
	}
	return allocations, nil
}

// Records lists every record for product, FIFO-by-expiry.
func (s *Stock) Records(ctx context.Context, product string) ([]Record, error) {
	return s.repo.ChannelRecords(ctx, s.channel, catalog.NormalizeCode(product))
}

// LowStock lists products whose channel total is below threshold.
func (s *Stock) LowStock(ctx context.Context, threshold int) ([]ProductLevel, error) {
	if threshold <= 0 {
		return nil, shared.Validation("threshold must be positive")
	}
	return s.repo.LowStockLevels(ctx, s.channel, threshold)
}

// Summary aggregates the channel per product, served through the cache when configured.
func (s *Stock) Summary(ctx context.Context) ([]ProductLevel, error) {
	if s.cache == nil {
		return s.repo.StockLevels(ctx, s.channel)
	}
	var levels []ProductLevel
	err := s.cache.FetchJSON(ctx, shared.StockSummaryKey(string(s.channel)), &levels, func(ctx context.Context) (any, error) {
		return s.repo.StockLevels(ctx, s.channel)
	})
	return levels, err
}
