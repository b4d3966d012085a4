package ledger

import (
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/shopspring/decimal"
)

// MetricRates carries the assumed annual rates applied to the at-risk bucket.
type MetricRates struct {
	Inflation decimal.Decimal
	Borrowing decimal.Decimal
}

func DefaultMetricRates() MetricRates {
	return MetricRates{
		Inflation: decimal.NewFromFloat(0.06),
		Borrowing: decimal.NewFromFloat(0.12),
	}
}

var daysPerYear = decimal.NewFromInt(365)

// ComputeMonthMetric derives the monthly collection-health metric for one
// calendar month from the rebuilt receivable ledger.
//
// DSO = endingBalance / creditSales * daysInMonth, zero when the month had no
// credit sales. Aging is bucketed by days past due as of month end; the two
// cost estimates apply the assumed rates to the 61+ day (at-risk) portion.
func ComputeMonthMetric(entries []models.ReceivableEntry, year int, month time.Month, rates MetricRates) models.MonthlyMetric {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0).Add(-time.Second)
	daysInMonth := decimal.NewFromInt(int64(monthEnd.Day()))

	metric := models.MonthlyMetric{
		Month:           monthStart.Format("2006-01"),
		EndingBalance:   decimal.Zero,
		CreditSales:     decimal.Zero,
		DSO:             decimal.Zero,
		BucketCurrent:   decimal.Zero,
		Bucket31to60:    decimal.Zero,
		Bucket61to90:    decimal.Zero,
		BucketOver90:    decimal.Zero,
		AtRiskAmount:    decimal.Zero,
		OpportunityCost: decimal.Zero,
		FinancingCost:   decimal.Zero,
	}

	for _, e := range entries {
		if e.Deleted {
			continue
		}
		if e.IssueDate != nil && e.IssueDate.Year() == year && e.IssueDate.Month() == month {
			metric.CreditSales = metric.CreditSales.Add(e.OriginalAmount)
		}
		if e.IssueDate != nil && e.IssueDate.After(monthEnd) {
			continue
		}
		if e.CurrentBalance.LessThanOrEqual(decimal.Zero) {
			continue
		}
		metric.EndingBalance = metric.EndingBalance.Add(e.CurrentBalance)

		days := 0
		if e.DueDate != nil && monthEnd.After(*e.DueDate) {
			days = int(monthEnd.Sub(*e.DueDate).Hours() / 24)
		}
		switch {
		case days <= 30:
			metric.BucketCurrent = metric.BucketCurrent.Add(e.CurrentBalance)
		case days <= 60:
			metric.Bucket31to60 = metric.Bucket31to60.Add(e.CurrentBalance)
		case days <= 90:
			metric.Bucket61to90 = metric.Bucket61to90.Add(e.CurrentBalance)
		default:
			metric.BucketOver90 = metric.BucketOver90.Add(e.CurrentBalance)
		}
	}

	if metric.CreditSales.GreaterThan(decimal.Zero) {
		metric.DSO = metric.EndingBalance.Div(metric.CreditSales).Mul(daysInMonth).Round(2)
	}

	metric.AtRiskAmount = metric.Bucket61to90.Add(metric.BucketOver90)
	periodFraction := daysInMonth.Div(daysPerYear)
	metric.OpportunityCost = metric.AtRiskAmount.Mul(rates.Inflation).Mul(periodFraction).Round(2)
	metric.FinancingCost = metric.AtRiskAmount.Mul(rates.Borrowing).Mul(periodFraction).Round(2)

	return metric
}

// TrendOf compares a month's DSO against the previous stored value.
func TrendOf(current decimal.Decimal, previous *decimal.Decimal) string {
	if previous == nil {
		return models.MetricTrendFlat
	}
	switch current.Cmp(*previous) {
	case 1:
		return models.MetricTrendUp
	case -1:
		return models.MetricTrendDown
	default:
		return models.MetricTrendFlat
	}
}
