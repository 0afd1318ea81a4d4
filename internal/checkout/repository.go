package checkout

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// TxRepository is everything a sale or reversal writes inside its transaction.
type TxRepository interface {
	channelstock.AllocationStore
	NextBillSerial(ctx context.Context, prefix string, day time.Time) (string, error)
	InsertBill(ctx context.Context, b Bill) (Bill, error)
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	MarkBillReversed(ctx context.Context, id int64, reason string, at time.Time) error
	AppendTransactions(ctx context.Context, entries ...audittrail.Entry) ([]audittrail.Entry, error)
	Claim(ctx context.Context, module, key string) error
}

// RepositoryPort abstracts repository usage for Engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (Bill, error)
	GetBillBySerial(ctx context.Context, serial string) (Bill, error)
}

// Repository persists bills in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*BillStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, BillStore: NewBillStore(pool)}
}

type txRepository struct {
	*BillStore
	*channelstock.RecordStore
	*audittrail.Store
	*shared.IdempotencyStore
}

// NewTxRepository binds every store a sale touches to one transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return txRepository{
		BillStore:        NewBillStore(tx),
		RecordStore:      channelstock.NewRecordStore(tx),
		Store:            audittrail.NewStore(tx),
		IdempotencyStore: shared.NewIdempotencyStore(tx),
	}
}

// WithTx runs fn inside a read-committed transaction. Channel deductions are
// conditional updates, so stronger isolation is not needed.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}
