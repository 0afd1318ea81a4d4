package audittrail

import (
	"context"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Reader is the read side of the transaction log.
type Reader interface {
	ListTransactions(ctx context.Context, filter Filter) ([]Entry, int, error)
	NetChange(ctx context.Context, product string) (int, error)
}

// Service answers history queries.
type Service struct {
	reader Reader
}

// NewService builds Service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// Page is one page of history.
type Page struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

// List returns one page of entries matching filter.
func (s *Service) List(ctx context.Context, filter Filter, page shared.Pagination) (Page, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return Page{}, shared.Validation("end date cannot be before start date")
	}
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return Page{}, shared.Validation("unknown transaction kind %q", filter.Kind)
	}
	filter.Limit = page.Limit()
	filter.Offset = page.Offset()
	entries, total, err := s.reader.ListTransactions(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Pagination: shared.NewPagination(page.Page, page.PerPage, total)}, nil
}

// ForBill returns every entry tagged with billID, oldest first.
func (s *Service) ForBill(ctx context.Context, billID int64) ([]Entry, error) {
	if billID <= 0 {
		return nil, shared.Validation("bill id required")
	}
	entries, _, err := s.reader.ListTransactions(ctx, Filter{BillID: billID, Limit: 1000})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// NetChange is the stock a product holds according to its history: receipts,
// sales, reversals and adjustments, with channel transfers left out.
func (s *Service) NetChange(ctx context.Context, product string) (int, error) {
	if product == "" {
		return 0, shared.Validation("product required")
	}
	return s.reader.NetChange(ctx, product)
}
