package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// BatchWriter is the transactional batch access shared with channel restocks.
type BatchWriter interface {
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ReduceBatch(ctx context.Context, id int64, amount int) (bool, error)
	IncreaseBatch(ctx context.Context, id int64, amount int) (bool, error)
	ListAvailableBatches(ctx context.Context, product string) ([]Batch, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	BatchWriter
	InsertBatch(ctx context.Context, b Batch) (Batch, error)
	AppendTransactions(ctx context.Context, entries ...audittrail.Entry) ([]audittrail.Entry, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, id int64) (Batch, error)
	ListAvailableBatches(ctx context.Context, product string) ([]Batch, error)
	ListBatches(ctx context.Context, product string) ([]Batch, error)
	BatchesExpiringBetween(ctx context.Context, from, to time.Time) ([]Batch, error)
	BatchesExpiredBefore(ctx context.Context, day time.Time) ([]Batch, error)
	TotalRemaining(ctx context.Context, product string) (int, error)
	BatchSummary(ctx context.Context) ([]ProductSummary, error)
}

// Repository persists the batch ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*BatchStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, BatchStore: NewBatchStore(pool)}
}

type txRepository struct {
	*BatchStore
	*audittrail.Store
}

// WithTx runs fn inside a read-committed transaction; ledger decrements rely on
// conditional updates rather than snapshot isolation.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, txRepository{BatchStore: NewBatchStore(tx), Store: audittrail.NewStore(tx)})
	})
}
