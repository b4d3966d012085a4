package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VendorPaymentEntry is one derived row per upstream vendor payment.
type VendorPaymentEntry struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_vendor_payment,priority:1;not null" json:"business_id"`
	ExternalId string `gorm:"uniqueIndex:idx_vendor_payment,priority:2;size:128;not null" json:"external_id"`

	DocumentNumber string          `gorm:"size:100" json:"document_number"`
	SupplierId     string          `gorm:"index;size:128" json:"supplier_id"`
	BillExternalId string          `gorm:"index;size:128" json:"bill_external_id"`
	PaymentDate    *time.Time      `json:"payment_date"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount"`
	Status         string          `gorm:"size:20;index" json:"status"`
	Deleted        bool            `gorm:"default:false" json:"deleted"`

	ReconciliationStatus string `gorm:"size:30" json:"reconciliation_status"`
	Category             string `gorm:"size:100" json:"category"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ReplaceVendorPaymentLedger(ctx context.Context, businessId string, entries []VendorPaymentEntry) error {
	db := config.GetDB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		var existing []VendorPaymentEntry
		if err := tx.
			Select("external_id", "reconciliation_status", "category").
			Where("business_id = ?", businessId).
			Find(&existing).Error; err != nil {
			return err
		}
		local := make(map[string]VendorPaymentEntry, len(existing))
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
					"document_number", "supplier_id", "bill_external_id",
					"payment_date", "amount", "status", "deleted",
				}),
			}).Create(&entries[i]).Error; err != nil {
				return err
			}
		}

		q := tx.Where("business_id = ?", businessId)
		if len(keep) > 0 {
			q = q.Where("external_id NOT IN ?", keep)
		}
		return q.Delete(&VendorPaymentEntry{}).Error
	})
}
