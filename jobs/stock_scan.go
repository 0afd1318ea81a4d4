package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/channelstock"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
	"github.com/odyssey-erp/odyssey-retail/internal/ledger"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BatchSource is the part of the batch ledger the scans read.
type BatchSource interface {
	ExpiringWithin(ctx context.Context, days int) ([]ledger.Batch, error)
	Expired(ctx context.Context) ([]ledger.Batch, error)
	Summary(ctx context.Context) ([]ledger.ProductSummary, error)
}

// ChannelSource is one sales channel's stock view.
type ChannelSource interface {
	Channel() channelstock.Channel
	LowStock(ctx context.Context, threshold int) ([]channelstock.ProductLevel, error)
}

// AlertGate suppresses repeated alerts for the same key.
type AlertGate interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// StockScanConfig groups the scan dependencies.
type StockScanConfig struct {
	Batches      BatchSource
	Channels     []ChannelSource
	Gate         AlertGate
	Threshold    int
	ExpiringDays int
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	Clock        func() time.Time
}

// StockScanJob runs the periodic stock health scans.
type StockScanJob struct {
	batches      BatchSource
	channels     []ChannelSource
	gate         AlertGate
	threshold    int
	expiringDays int
	log          *slog.Logger
	metricsSink  *jobmetrics.Metrics
	clock        func() time.Time
}

// LowStockReport summarises one low-stock scan.
type LowStockReport struct {
	Low        map[channelstock.Channel][]channelstock.ProductLevel
	Expiring   []ledger.Batch
	Alerted    int
	Suppressed int
}

// SummaryReport counts warehouse products by stock state.
type SummaryReport struct {
	Products   int
	InStock    int
	LowStock   int
	OutOfStock int
	Units      int
}

// NewStockScanJob initialises the scan handlers.
func NewStockScanJob(cfg StockScanConfig) *StockScanJob {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 10
	}
	if cfg.ExpiringDays <= 0 {
		cfg.ExpiringDays = 7
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &StockScanJob{
		batches:      cfg.Batches,
		channels:     cfg.Channels,
		gate:         cfg.Gate,
		threshold:    cfg.Threshold,
		expiringDays: cfg.ExpiringDays,
		log:          cfg.Logger,
		metricsSink:  cfg.Metrics,
		clock:        cfg.Clock,
	}
}

// Handlers lists the asynq registrations for the worker.
func (j *StockScanJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLowStockScan, Handler: j.HandleLowStock},
		{Type: TaskExpiryScan, Handler: j.HandleExpiry},
		{Type: TaskSummaryScan, Handler: j.HandleSummary},
	}
}

// HandleLowStock executes TaskLowStockScan.
func (j *StockScanJob) HandleLowStock(ctx context.Context, t *asynq.Task) (err error) {
	payload, err := decodeScanPayload(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskLowStockScan)
	defer func() { err = tracker.End(err) }()
	_, err = j.ScanLowStock(ctx, payload)
	return err
}

// ScanLowStock checks every channel against the threshold and the ledger for
// batches expiring soon. Each alert fires at most once per day and key.
func (j *StockScanJob) ScanLowStock(ctx context.Context, payload ScanPayload) (LowStockReport, error) {
	if j == nil || j.batches == nil {
		return LowStockReport{}, errors.New("low stock scan: not configured")
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.threshold
	}
	days := payload.ExpiringDays
	if days <= 0 {
		days = j.expiringDays
	}
	logger := j.logger(TaskLowStockScan).With(slog.Int("threshold", threshold), slog.Int("expiring_days", days))
	start := j.clock()
	day := ledger.Day(start)
	report := LowStockReport{Low: make(map[channelstock.Channel][]channelstock.ProductLevel)}

	for _, ch := range j.channels {
		levels, err := ch.LowStock(ctx, threshold)
		if err != nil {
			return report, fmt.Errorf("low stock %s: %w", ch.Channel(), err)
		}
		report.Low[ch.Channel()] = levels
		alerted := 0
		for _, l := range levels {
			ok, err := j.allow(ctx, shared.LowStockAlertKey(string(ch.Channel()), l.ProductCode, day))
			if err != nil {
				return report, err
			}
			if !ok {
				report.Suppressed++
				continue
			}
			alerted++
			logger.Warn("low stock",
				slog.String("channel", string(ch.Channel())),
				slog.String("product", l.ProductCode),
				slog.Int("quantity", l.Quantity),
			)
		}
		report.Alerted += alerted
		j.metrics().AddAlerts("low_stock", string(ch.Channel()), alerted)
	}

	expiring, err := j.batches.ExpiringWithin(ctx, days)
	if err != nil {
		return report, fmt.Errorf("expiring batches: %w", err)
	}
	report.Expiring = expiring
	alerted := 0
	for _, b := range expiring {
		ok, err := j.allow(ctx, shared.ExpiryAlertKey(b.ID, day))
		if err != nil {
			return report, err
		}
		if !ok {
			report.Suppressed++
			continue
		}
		alerted++
		logger.Warn("batch expiring soon",
			slog.Int64("batch_id", b.ID),
			slog.String("product", b.ProductCode),
			slog.Int("remaining", b.RemainingQuantity),
			slog.Time("expiry_date", *b.ExpiryDate),
		)
	}
	report.Alerted += alerted
	j.metrics().AddAlerts("expiring", "", alerted)

	logger.Info("completed low stock scan",
		slog.Int("alerted", report.Alerted),
		slog.Int("suppressed", report.Suppressed),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return report, nil
}

// HandleExpiry executes TaskExpiryScan.
func (j *StockScanJob) HandleExpiry(ctx context.Context, t *asynq.Task) (err error) {
	if _, err = decodeScanPayload(t); err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskExpiryScan)
	defer func() { err = tracker.End(err) }()
	_, err = j.ScanExpired(ctx)
	return err
}

// ScanExpired reports expired batches that still hold stock. Stock is left untouched.
func (j *StockScanJob) ScanExpired(ctx context.Context) ([]ledger.Batch, error) {
	if j == nil || j.batches == nil {
		return nil, errors.New("expiry scan: not configured")
	}
	logger := j.logger(TaskExpiryScan)
	expired, err := j.batches.Expired(ctx)
	if err != nil {
		return nil, fmt.Errorf("expired batches: %w", err)
	}
	units := 0
	for _, b := range expired {
		units += b.RemainingQuantity
		logger.Warn("expired batch holds stock",
			slog.Int64("batch_id", b.ID),
			slog.String("product", b.ProductCode),
			slog.Int("remaining", b.RemainingQuantity),
			slog.Time("expiry_date", *b.ExpiryDate),
		)
	}
	j.metrics().AddAlerts("expired", "", len(expired))
	logger.Info("completed expiry scan", slog.Int("batches", len(expired)), slog.Int("units", units))
	return expired, nil
}

// HandleSummary executes TaskSummaryScan.
func (j *StockScanJob) HandleSummary(ctx context.Context, t *asynq.Task) (err error) {
	payload, err := decodeScanPayload(t)
	if err != nil {
		return err
	}
	tracker := j.metrics().Track(TaskSummaryScan)
	defer func() { err = tracker.End(err) }()
	_, err = j.Summarize(ctx, payload)
	return err
}

// Summarize counts warehouse products as in stock, low or out of stock.
func (j *StockScanJob) Summarize(ctx context.Context, payload ScanPayload) (SummaryReport, error) {
	if j == nil || j.batches == nil {
		return SummaryReport{}, errors.New("summary scan: not configured")
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.threshold
	}
	summary, err := j.batches.Summary(ctx)
	if err != nil {
		return SummaryReport{}, fmt.Errorf("batch summary: %w", err)
	}
	var report SummaryReport
	for _, p := range summary {
		report.Products++
		report.Units += p.TotalRemaining
		switch {
		case p.TotalRemaining == 0:
			report.OutOfStock++
		case p.TotalRemaining < threshold:
			report.LowStock++
		default:
			report.InStock++
		}
	}
	j.logger(TaskSummaryScan).Info("inventory summary",
		slog.Int("products", report.Products),
		slog.Int("in_stock", report.InStock),
		slog.Int("low_stock", report.LowStock),
		slog.Int("out_of_stock", report.OutOfStock),
		slog.Int("units", report.Units),
	)
	return report, nil
}

func (j *StockScanJob) allow(ctx context.Context, key string) (bool, error) {
	if j.gate == nil {
		return true, nil
	}
	ok, err := j.gate.Allow(ctx, key)
	if err != nil {
		return false, fmt.Errorf("alert gate: %w", err)
	}
	return ok, nil
}

func (j *StockScanJob) logger(task string) *slog.Logger {
	if j.log != nil {
		return j.log.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}

func (j *StockScanJob) metrics() *jobmetrics.Metrics {
	if j.metricsSink != nil {
		return j.metricsSink
	}
	return defaultJobMetrics
}
