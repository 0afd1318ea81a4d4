package channelstock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// AllocationStore is the record access needed to draw a sale from a channel
// or put it back. Checkout transactions satisfy it too.
type AllocationStore interface {
	AvailableRecords(ctx context.Context, ch Channel, product string) ([]Record, error)
	DeductRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int) (bool, error)
	CreditRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int) (bool, error)
}

// TxRepository exposes transactional operations used by Stock.
type TxRepository interface {
	AllocationStore
	ledger.BatchWriter
	AddToRecord(ctx context.Context, ch Channel, product string, batchID int64, qty int, at time.Time) error
	AppendTransactions(ctx context.Context, entries ...audittrail.Entry) ([]audittrail.Entry, error)
}

// RepositoryPort abstracts repository usage for Stock.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	AvailableRecords(ctx context.Context, ch Channel, product string) ([]Record, error)
	ChannelRecords(ctx context.Context, ch Channel, product string) ([]Record, error)
	ChannelQuantity(ctx context.Context, ch Channel, product string) (int, error)
	StockLevels(ctx context.Context, ch Channel) ([]ProductLevel, error)
	LowStockLevels(ctx context.Context, ch Channel, threshold int) ([]ProductLevel, error)
}

// Repository persists channel stock in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*RecordStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, RecordStore: NewRecordStore(pool)}
}

type txRepository struct {
	*RecordStore
	*ledger.BatchStore
	*audittrail.Store
}

// NewTxRepository binds every store a restock or sale touches to one transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return txRepository{
		RecordStore: NewRecordStore(tx),
		BatchStore:  ledger.NewBatchStore(tx),
		Store:       audittrail.NewStore(tx),
	}
}

// WithTx runs fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}
