package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository reads products from PostgreSQL.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs Repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Product loads a single product.
func (r *Repository) Product(ctx context.Context, code string) (Product, error) {
	code = NormalizeCode(code)
	var p Product
	err := r.db.QueryRow(ctx, `SELECT code, name, unit_price, active FROM products WHERE code = $1`, code).
		Scan(&p.Code, &p.Name, &p.UnitPrice, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.NotFound("product", code)
		}
		return Product{}, shared.Persistence("get", "product", err, code)
	}
	return p, nil
}

// Products loads every known product among codes; unknown codes are simply absent from the map.
func (r *Repository) Products(ctx context.Context, codes []string) (map[string]Product, error) {
	normalized := make([]string, 0, len(codes))
	for _, c := range codes {
		normalized = append(normalized, NormalizeCode(c))
	}
	rows, err := r.db.Query(ctx, `SELECT code, name, unit_price, active FROM products WHERE code = ANY($1)`, normalized)
	if err != nil {
		return nil, shared.Persistence("list", "product", err)
	}
	defer rows.Close()

	out := make(map[string]Product, len(normalized))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Code, &p.Name, &p.UnitPrice, &p.Active); err != nil {
			return nil, shared.Persistence("scan", "product", err)
		}
		out[p.Code] = p
	}
	if err := rows.Err(); err != nil {
		return nil, shared.Persistence("list", "product", err)
	}
	return out, nil
}
