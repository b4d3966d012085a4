package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayableEntry mirrors ReceivableEntry for the purchase side: one row per
// (business, bill external id), applied amounts coming from vendor payments.
type PayableEntry struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_payable,priority:1;not null" json:"business_id"`
	ExternalId string `gorm:"uniqueIndex:idx_payable,priority:2;size:128;not null" json:"external_id"`

	DocumentNumber string          `gorm:"size:100" json:"document_number"`
	SupplierId     string          `gorm:"index;size:128" json:"supplier_id"`
	IssueDate      *time.Time      `json:"issue_date"`
	DueDate        *time.Time      `json:"due_date"`
	OriginalAmount decimal.Decimal `gorm:"type:decimal(20,6)" json:"original_amount"`
	AppliedAmount  decimal.Decimal `gorm:"type:decimal(20,6)" json:"applied_amount"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"current_balance"`
	Status         string          `gorm:"size:20;index" json:"status"`
	AgingDays      int             `json:"aging_days"`
	Deleted        bool            `gorm:"default:false" json:"deleted"`

	ReconciliationStatus string `gorm:"size:30" json:"reconciliation_status"`
	Category             string `gorm:"size:100" json:"category"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ReplacePayableLedger(ctx context.Context, businessId string, entries []PayableEntry) error {
	db := config.GetDB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		var existing []PayableEntry
		if err := tx.
			Select("external_id", "reconciliation_status", "category").
			Where("business_id = ?", businessId).
			Find(&existing).Error; err != nil {
			return err
		}
		local := make(map[string]PayableEntry, len(existing))
		for _, e := range existing {
			local[e.ExternalId] = e
		}

		keep := make([]string, 0, len(entries))
		for i := range entries {
			entries[i].BusinessId = businessId
			if prev, ok := local[entries[i].ExternalId]; ok {
				entries[i].ReconciliationStatus = prev.ReconciliationStatus
				entries[i].Category = prev.Category
			}
			keep = append(keep, entries[i].ExternalId)
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "business_id"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"document_number", "supplier_id", "issue_date", "due_date",
					"original_amount", "applied_amount", "current_balance",
					"status", "aging_days", "deleted",
				}),
			}).Create(&entries[i]).Error; err != nil {
				return err
			}
		}

		q := tx.Where("business_id = ?", businessId)
		if len(keep) > 0 {
			q = q.Where("external_id NOT IN ?", keep)
		}
		return q.Delete(&PayableEntry{}).Error
	})
}
