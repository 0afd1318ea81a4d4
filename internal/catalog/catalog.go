// Package catalog exposes the read-only product data the engine needs to price a sale.
// Catalog maintenance lives outside this module.
package catalog

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Product is the sellable view of a catalog entry.
type Product struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Active    bool            `json:"active"`
}

// Lookup resolves products by code.
type Lookup interface {
	Product(ctx context.Context, code string) (Product, error)
	Products(ctx context.Context, codes []string) (map[string]Product, error)
}

// NormalizeCode trims and upper-cases a product code so "milk-1l " and "MILK-1L" match.
func NormalizeCode(code string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}
