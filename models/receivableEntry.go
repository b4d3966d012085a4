package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/mmdatafocus/ledgersync_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceivableEntry is a derived read model, one row per (business, invoice
// external id). It is fully recomputed on every rebuild pass; only the
// locally-owned fields (ReconciliationStatus, Category) survive rebuilds.
type ReceivableEntry struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_receivable,priority:1;not null" json:"business_id"`
	ExternalId string `gorm:"uniqueIndex:idx_receivable,priority:2;size:128;not null" json:"external_id"`

	DocumentNumber string          `gorm:"size:100" json:"document_number"`
	CustomerId     string          `gorm:"index;size:128" json:"customer_id"`
	IssueDate      *time.Time      `json:"issue_date"`
	DueDate        *time.Time      `json:"due_date"`
	OriginalAmount decimal.Decimal `gorm:"type:decimal(20,6)" json:"original_amount"`
	AppliedAmount  decimal.Decimal `gorm:"type:decimal(20,6)" json:"applied_amount"`
	CurrentBalance decimal.Decimal `gorm:"type:decimal(20,6)" json:"current_balance"`
	Status         string          `gorm:"size:20;index" json:"status"`
	AgingDays      int             `json:"aging_days"`
	Deleted        bool            `gorm:"default:false" json:"deleted"`

	// Locally owned, preserved across rebuilds.
	ReconciliationStatus string `gorm:"size:30" json:"reconciliation_status"`
	Category             string `gorm:"size:100" json:"category"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// carryLocalFields copies the locally-owned fields (ReconciliationStatus,
// Category) from the previous rows onto the rebuilt entries, matched on
// external id. The rebuilt columns are left alone. Returns the external ids
// the rebuild still knows about; anything else gets deleted.
func carryLocalFields(entries []ReceivableEntry, existing []ReceivableEntry) []string {
	local := make(map[string]ReceivableEntry, len(existing))
	for _, e := range existing {
		local[e.ExternalId] = e
	}
	keep := make([]string, 0, len(entries))
	for i := range entries {
		if prev, ok := local[entries[i].ExternalId]; ok {
			entries[i].ReconciliationStatus = prev.ReconciliationStatus
			entries[i].Category = prev.Category
		}
		keep = append(keep, entries[i].ExternalId)
	}
	return keep
}

// ReplaceReceivableLedger swaps the tenant's receivable ledger for the freshly
// rebuilt one. Locally-owned fields are read-preserved from the existing rows;
// rows whose invoice snapshot no longer exists at all are removed.
func ReplaceReceivableLedger(ctx context.Context, businessId string, entries []ReceivableEntry) error {
	db := config.GetDB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		var existing []ReceivableEntry
		if err := tx.
			Select("external_id", "reconciliation_status", "category").
			Where("business_id = ?", businessId).
			Find(&existing).Error; err != nil {
			return err
		}

		keep := carryLocalFields(entries, existing)
		for i := range entries {
			entries[i].BusinessId = businessId
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "business_id"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"document_number", "customer_id", "issue_date", "due_date",
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
		if err := q.Delete(&ReceivableEntry{}).Error; err != nil {
			return err
		}
		return nil
	})
}

// GetReceivableEntries loads the full receivable ledger for one tenant,
// ordered for deterministic metric folds.
func GetReceivableEntries(ctx context.Context, businessId string) ([]ReceivableEntry, error) {
	var entries []ReceivableEntry
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("external_id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SetReceivableLocalFields updates the user-owned fields on one entry.
// Returns utils.ErrorRecordNotFound when the entry does not exist.
func SetReceivableLocalFields(ctx context.Context, businessId string, externalId string, reconciliationStatus string, category string) error {
	db := config.GetDB().WithContext(ctx)

	var entry ReceivableEntry
	err := db.Select("id").
		Where("business_id = ? AND external_id = ?", businessId, externalId).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	if err != nil {
		return err
	}

	return db.Model(&ReceivableEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]interface{}{
			"reconciliation_status": reconciliationStatus,
			"category":              category,
		}).Error
}
