package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BankFeedEntry is one derived row per upstream bank transaction, with the
// direction classified from the upstream transaction-type vocabulary.
type BankFeedEntry struct {
	ID         uint   `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"uniqueIndex:idx_bank_feed,priority:1;not null" json:"business_id"`
	ExternalId string `gorm:"uniqueIndex:idx_bank_feed,priority:2;size:128;not null" json:"external_id"`

	AccountExternalId string          `gorm:"index;size:128" json:"account_external_id"`
	AccountName       string          `gorm:"size:255" json:"account_name"`
	TransactionDate   *time.Time      `json:"transaction_date"`
	TransactionType   string          `gorm:"size:50" json:"transaction_type"`
	Direction         string          `gorm:"size:10" json:"direction"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount"`
	Deleted           bool            `gorm:"default:false" json:"deleted"`

	// Locally owned, preserved across rebuilds.
	ReconciliationStatus string `gorm:"size:30" json:"reconciliation_status"`
	Category             string `gorm:"size:100" json:"category"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ReplaceBankFeedLedger(ctx context.Context, businessId string, entries []BankFeedEntry) error {
	db := config.GetDB().WithContext(ctx)

	return db.Transaction(func(tx *gorm.DB) error {
		var existing []BankFeedEntry
		if err := tx.
			Select("external_id", "reconciliation_status", "category").
			Where("business_id = ?", businessId).
			Find(&existing).Error; err != nil {
			return err
		}
		local := make(map[string]BankFeedEntry, len(existing))
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
					"account_external_id", "account_name", "transaction_date",
					"transaction_type", "direction", "amount", "deleted",
				}),
			}).Create(&entries[i]).Error; err != nil {
				return err
			}
		}

		q := tx.Where("business_id = ?", businessId)
		if len(keep) > 0 {
			q = q.Where("external_id NOT IN ?", keep)
		}
		return q.Delete(&BankFeedEntry{}).Error
	})
}
