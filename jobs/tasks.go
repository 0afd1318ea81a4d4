package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan flags low channel stock and batches close to expiry.
	TaskLowStockScan = "stock:low_scan"
	// TaskExpiryScan lists expired batches that still hold stock.
	TaskExpiryScan = "stock:expiry_scan"
	// TaskSummaryScan logs warehouse stock counts per state.
	TaskSummaryScan = "stock:summary_scan"
	// TaskIdempotencyPurge drops processed request keys past retention.
	TaskIdempotencyPurge = "idempotency:purge"
)

// ScanPayload tunes a stock scan. Zero values fall back to the job defaults.
type ScanPayload struct {
	Threshold    int `json:"threshold,omitempty"`
	ExpiringDays int `json:"expiring_days,omitempty"`
}

// NewScanTask constructs one of the stock scan tasks.
func NewScanTask(taskType string, payload ScanPayload) (*asynq.Task, error) {
	switch taskType {
	case TaskLowStockScan, TaskExpiryScan, TaskSummaryScan:
	default:
		return nil, fmt.Errorf("jobs: unknown scan task %q", taskType)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodeScanPayload(t *asynq.Task) (ScanPayload, error) {
	var payload ScanPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return payload, nil
}
