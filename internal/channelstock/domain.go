// Package channelstock tracks per-batch stock moved from the warehouse ledger
// into a sales channel. One Stock instance serves each channel.
package channelstock

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/audittrail"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Channel tags a sales surface.
type Channel string

const (
	// Physical is the store shelf served by the point of sale.
	Physical Channel = "PHYSICAL"
	// Online is the web storefront.
	Online Channel = "ONLINE"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{Physical, Online}

// ParseChannel accepts a channel name in any case, plus the POS/ONL prefixes.
func ParseChannel(raw string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PHYSICAL", "POS":
		return Physical, nil
	case "ONLINE", "ONL":
		return Online, nil
	}
	return "", shared.Validation("unknown channel %q", raw)
}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == Physical || c == Online
}

// Prefix is the bill serial prefix for the channel.
func (c Channel) Prefix() string {
	if c == Online {
		return "ONL"
	}
	return "POS"
}

// RestockKind is the audit kind recorded when stock enters the channel.
func (c Channel) RestockKind() audittrail.Kind {
	if c == Online {
		return audittrail.KindRestockOnline
	}
	return audittrail.KindRestockPhysical
}

func (c Channel) String() string { return string(c) }

// Record is the quantity of one batch held by a channel. Batch dates are
// joined in so records can be ordered FIFO-by-expiry.
type Record struct {
	Channel      Channel    `json:"channel"`
	ProductCode  string     `json:"product_code"`
	BatchID      int64      `json:"batch_id"`
	Quantity     int        `json:"quantity"`
	RestockedAt  time.Time  `json:"restocked_at"`
	PurchaseDate time.Time  `json:"purchase_date"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
}

// Allocation is the quantity taken from one batch to serve a sale.
type Allocation struct {
	BatchID     int64      `json:"batch_id"`
	ProductCode string     `json:"product_code"`
	Quantity    int        `json:"quantity"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// Availability answers a stock check.
type Availability struct {
	Channel     Channel `json:"channel"`
	ProductCode string  `json:"product_code"`
	Requested   int     `json:"requested"`
	Available   int     `json:"available"`
	Shortfall   int     `json:"shortfall"`
}

// Sufficient reports whether the channel covers the request.
func (a Availability) Sufficient() bool { return a.Shortfall == 0 }

// Err returns the shortfall as an error, or nil.
func (a Availability) Err() error {
	if a.Sufficient() {
		return nil
	}
	return &shared.InsufficientStockError{
		Product:   a.ProductCode,
		Channel:   string(a.Channel),
		Requested: a.Requested,
		Available: a.Available,
	}
}

// RestockStatus reports how much of a restock request was met.
type RestockStatus string

const (
	RestockSuccess RestockStatus = "SUCCESS"
	RestockPartial RestockStatus = "PARTIAL"
	RestockFailed  RestockStatus = "FAILED"
)

// BatchMove is the quantity moved from one ledger batch into the channel.
type BatchMove struct {
	BatchID  int64 `json:"batch_id"`
	Quantity int   `json:"quantity"`
}

// RestockResult describes a restock outcome.
type RestockResult struct {
	Status      RestockStatus `json:"status"`
	Channel     Channel       `json:"channel"`
	ProductCode string        `json:"product_code"`
	Requested   int           `json:"requested"`
	Moved       int           `json:"moved"`
	Moves       []BatchMove   `json:"moves,omitempty"`
	Message     string        `json:"message,omitempty"`
}

// ProductLevel is the channel quantity of one product.
type ProductLevel struct {
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
	BatchCount  int    `json:"batch_count"`
}

func resultFor(ch Channel, product string, requested int, moves []BatchMove) RestockResult {
	res := RestockResult{Channel: ch, ProductCode: product, Requested: requested, Moves: moves}
	for _, m := range moves {
		res.Moved += m.Quantity
	}
	switch {
	case res.Moved == 0:
		res.Status = RestockFailed
		res.Message = "no warehouse stock available"
	case res.Moved < requested:
		res.Status = RestockPartial
		res.Message = fmt.Sprintf("only %d of %d units available", res.Moved, requested)
	default:
		res.Status = RestockSuccess
	}
	return res
}
