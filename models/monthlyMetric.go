package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// MonthlyMetric is one row per (business, calendar month), derived from the
// receivable ledger. Months inside the trailing window are recomputed on each
// aggregator run; older months are left as stored.
type MonthlyMetric struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_monthly_metric,priority:1;not null" json:"business_id"`
	Month      string `gorm:"uniqueIndex:idx_monthly_metric,priority:2;size:7;not null" json:"month"`

	EndingBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"ending_balance"`
	CreditSales   decimal.Decimal `gorm:"type:decimal(20,6)" json:"credit_sales"`
	DSO           decimal.Decimal `gorm:"type:decimal(20,6)" json:"dso"`

	BucketCurrent decimal.Decimal `gorm:"type:decimal(20,6)" json:"bucket_current"`
	Bucket31to60  decimal.Decimal `gorm:"type:decimal(20,6)" json:"bucket_31_60"`
	Bucket61to90  decimal.Decimal `gorm:"type:decimal(20,6)" json:"bucket_61_90"`
	BucketOver90  decimal.Decimal `gorm:"type:decimal(20,6)" json:"bucket_over_90"`

	AtRiskAmount    decimal.Decimal `gorm:"type:decimal(20,6)" json:"at_risk_amount"`
	OpportunityCost decimal.Decimal `gorm:"type:decimal(20,6)" json:"opportunity_cost"`
	FinancingCost   decimal.Decimal `gorm:"type:decimal(20,6)" json:"financing_cost"`

	Trend string `gorm:"size:10" json:"trend"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func UpsertMonthlyMetric(ctx context.Context, metric *MonthlyMetric) error {
	return config.GetDB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "business_id"}, {Name: "month"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"ending_balance", "credit_sales", "dso",
				"bucket_current", "bucket_31_60", "bucket_61_90", "bucket_over_90",
				"at_risk_amount", "opportunity_cost", "financing_cost", "trend",
			}),
		}).
		Create(metric).Error
}

func GetMonthlyMetric(ctx context.Context, businessId string, month string) (*MonthlyMetric, error) {
	var metric MonthlyMetric
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND month = ?", businessId, month).
		Take(&metric).Error
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

func ListMonthlyMetrics(ctx context.Context, businessId string, limit int) ([]MonthlyMetric, error) {
	if limit <= 0 {
		limit = 12
	}
	var metrics []MonthlyMetric
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("month DESC").
		Limit(limit).
		Find(&metrics).Error
	return metrics, err
}
