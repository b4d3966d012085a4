package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerFilter narrows the read-only ledger queries exposed to the
// surrounding application.
type LedgerFilter struct {
	Status   string
	FromDate *time.Time
	ToDate   *time.Time
	Search   string
	Page     int
	Limit    int
}

func (f LedgerFilter) normalize() LedgerFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return f
}

// LedgerSummary carries the aggregate line shown next to a ledger listing.
type LedgerSummary struct {
	TotalCount   int64           `json:"total_count"`
	TotalBalance decimal.Decimal `json:"total_balance"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

func receivableSummaryCacheKey(businessId string) string {
	return fmt.Sprintf("ledger:receivable:summary:%s", businessId)
}

// InvalidateReceivableSummaryCache is called after every receivable rebuild.
func InvalidateReceivableSummaryCache(businessId string) {
	_ = config.RemoveRedisKey(receivableSummaryCacheKey(businessId))
}

func ListReceivables(ctx context.Context, businessId string, filter LedgerFilter) ([]ReceivableEntry, int64, error) {
	filter = filter.normalize()
	q := config.GetDB().WithContext(ctx).
		Model(&ReceivableEntry{}).
		Where("business_id = ?", businessId)
	q = applyReceivableFilter(q, filter, "due_date")

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []ReceivableEntry
	err := q.Order("due_date IS NULL, due_date, external_id").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&entries).Error
	return entries, total, err
}

func applyReceivableFilter(q *gorm.DB, filter LedgerFilter, dateColumn string) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.FromDate != nil {
		q = q.Where(dateColumn+" >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where(dateColumn+" <= ?", *filter.ToDate)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("document_number LIKE ? OR external_id LIKE ?", like, like)
	}
	return q
}

// GetReceivableSummary returns the aggregate over non-deleted receivables,
// served from redis when the cache is warm.
func GetReceivableSummary(ctx context.Context, businessId string) (LedgerSummary, error) {
	var summary LedgerSummary
	if ok, err := config.GetRedisObject(receivableSummaryCacheKey(businessId), &summary); err == nil && ok {
		return summary, nil
	}

	row := struct {
		TotalCount   int64
		TotalBalance decimal.Decimal
		TotalAmount  decimal.Decimal
	}{}
	err := config.GetDB().WithContext(ctx).
		Model(&ReceivableEntry{}).
		Select("COUNT(*) AS total_count, COALESCE(SUM(current_balance),0) AS total_balance, COALESCE(SUM(original_amount),0) AS total_amount").
		Where("business_id = ? AND deleted = ?", businessId, false).
		Scan(&row).Error
	if err != nil {
		return LedgerSummary{}, err
	}
	summary = LedgerSummary{TotalCount: row.TotalCount, TotalBalance: row.TotalBalance, TotalAmount: row.TotalAmount}

	_ = config.SetRedisObject(receivableSummaryCacheKey(businessId), summary, 10*time.Minute)
	return summary, nil
}

func ListPayables(ctx context.Context, businessId string, filter LedgerFilter) ([]PayableEntry, int64, error) {
	filter = filter.normalize()
	q := config.GetDB().WithContext(ctx).
		Model(&PayableEntry{}).
		Where("business_id = ?", businessId)
	q = applyReceivableFilter(q, filter, "due_date")

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []PayableEntry
	err := q.Order("due_date IS NULL, due_date, external_id").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&entries).Error
	return entries, total, err
}

func ListBankFeed(ctx context.Context, businessId string, filter LedgerFilter) ([]BankFeedEntry, int64, error) {
	filter = filter.normalize()
	q := config.GetDB().WithContext(ctx).
		Model(&BankFeedEntry{}).
		Where("business_id = ?", businessId)
	if filter.Status != "" {
		// Bank feed filters on direction rather than document status.
		q = q.Where("direction = ?", filter.Status)
	}
	if filter.FromDate != nil {
		q = q.Where("transaction_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("transaction_date <= ?", *filter.ToDate)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("account_name LIKE ? OR external_id LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []BankFeedEntry
	err := q.Order("transaction_date DESC, external_id").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&entries).Error
	return entries, total, err
}

func ListVendorPayments(ctx context.Context, businessId string, filter LedgerFilter) ([]VendorPaymentEntry, int64, error) {
	filter = filter.normalize()
	q := config.GetDB().WithContext(ctx).
		Model(&VendorPaymentEntry{}).
		Where("business_id = ?", businessId)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.FromDate != nil {
		q = q.Where("payment_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("payment_date <= ?", *filter.ToDate)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		q = q.Where("document_number LIKE ? OR external_id LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []VendorPaymentEntry
	err := q.Order("payment_date DESC, external_id").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&entries).Error
	return entries, total, err
}
