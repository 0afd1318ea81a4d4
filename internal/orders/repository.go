package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/checkout"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// TxRepository covers a sale plus the order written alongside it.
type TxRepository interface {
	checkout.TxRepository
	NextOrderNumber(ctx context.Context) (string, error)
	InsertOrder(ctx context.Context, o Order) (Order, error)
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	SaveOrderState(ctx context.Context, o Order, from Status) error
	UpdateShipping(ctx context.Context, id int64, address, phone string) error
	Record(ctx context.Context, log shared.AuditLog) error
}

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	GetOrderByNumber(ctx context.Context, number string) (Order, error)
	ListOrders(ctx context.Context, f Filter) ([]Order, error)
	CustomerStatuses(ctx context.Context, customerID int64) ([]Status, error)
}

// Repository persists orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	*OrderStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, OrderStore: NewOrderStore(pool)}
}

type txRepository struct {
	checkout.TxRepository
	*OrderStore
	*shared.AuditLogger
}

// WithTx runs fn with the checkout stores and the order store bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, txRepository{
			TxRepository: checkout.NewTxRepository(tx),
			OrderStore:   NewOrderStore(tx),
			AuditLogger:  shared.NewAuditLogger(tx),
		})
	})
}
