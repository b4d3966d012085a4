package syncengine

import (
	"context"
	"os"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/ledger"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/utils"
	"github.com/shopspring/decimal"
)

const defaultMetricWindowMonths = 6

// MetricsWorker recomputes the trailing window of monthly collection-health
// metrics from the receivable ledger. It rebuilds the ledger first so the
// metrics always reflect the latest snapshots, even when the invoices job
// has not run since the last upstream change landed.
type MetricsWorker struct {
	WindowMonths int
	Rates        ledger.MetricRates

	Now         func() time.Time
	Rebuild     func(ctx context.Context, businessId string) error
	LoadEntries func(ctx context.Context, businessId string) ([]models.ReceivableEntry, error)
	GetMetric   func(ctx context.Context, businessId string, month string) (*models.MonthlyMetric, error)
	Upsert      func(ctx context.Context, metric *models.MonthlyMetric) error
}

func NewMetricsWorker() *MetricsWorker {
	return &MetricsWorker{
		WindowMonths: utils.IntFromEnv("METRIC_WINDOW_MONTHS", defaultMetricWindowMonths),
		Rates:        metricRatesFromEnv(),
		Now:          time.Now,
		Rebuild:      ledger.RebuildReceivables,
		LoadEntries:  models.GetReceivableEntries,
		GetMetric:    models.GetMonthlyMetric,
		Upsert:       models.UpsertMonthlyMetric,
	}
}

func metricRatesFromEnv() ledger.MetricRates {
	rates := ledger.DefaultMetricRates()
	if v := os.Getenv("METRIC_INFLATION_RATE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			rates.Inflation = d
		}
	}
	if v := os.Getenv("METRIC_BORROWING_RATE"); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			rates.Borrowing = d
		}
	}
	return rates
}

func (w *MetricsWorker) Run(ctx context.Context, job models.SyncJob) error {
	ctx = utils.SetBusinessIdInContext(ctx, job.BusinessId)

	if err := w.Rebuild(ctx, job.BusinessId); err != nil {
		return err
	}
	entries, err := w.LoadEntries(ctx, job.BusinessId)
	if err != nil {
		return err
	}

	now := w.Now().UTC()
	// Oldest month first so each month's trend can compare against the one
	// just computed. The month before the window is read from storage.
	windowStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).
		AddDate(0, -(w.WindowMonths - 1), 0)

	var previousDSO *decimal.Decimal
	if prev, err := w.GetMetric(ctx, job.BusinessId, windowStart.AddDate(0, -1, 0).Format("2006-01")); err == nil {
		previousDSO = &prev.DSO
	}

	for i := 0; i < w.WindowMonths; i++ {
		monthStart := windowStart.AddDate(0, i, 0)
		metric := ledger.ComputeMonthMetric(entries, monthStart.Year(), monthStart.Month(), w.Rates)
		metric.BusinessId = job.BusinessId
		metric.Trend = ledger.TrendOf(metric.DSO, previousDSO)
		if err := w.Upsert(ctx, &metric); err != nil {
			return err
		}
		dso := metric.DSO
		previousDSO = &dso
	}
	return nil
}
