package shared

import (
	"fmt"
	"time"
)

// DraftKey builds the redis key holding an in-progress bill.
func DraftKey(id string) string {
	return fmt.Sprintf("retail:draft:%s", id)
}

// StockSummaryKey builds the redis key caching a channel stock summary.
func StockSummaryKey(channel string) string {
	return fmt.Sprintf("retail:stock:%s:summary", channel)
}

// LowStockAlertKey builds the per-day de-duplication key for a low stock alert.
func LowStockAlertKey(channel, product string, day time.Time) string {
	return fmt.Sprintf("retail:alert:low:%s:%s:%s", channel, product, day.Format("20060102"))
}

// ExpiryAlertKey builds the per-day de-duplication key for an expiry alert.
func ExpiryAlertKey(batchID int64, day time.Time) string {
	return fmt.Sprintf("retail:alert:expiry:%d:%s", batchID, day.Format("20060102"))
}
