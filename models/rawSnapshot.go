package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"
)

// RawSnapshot is the verbatim, immutable copy of one upstream record, keyed
// by (business, entity type, external id). A later snapshot with the same key
// supersedes the earlier one wholesale; the payload is never patched in place.
//
// A small set of columns is promoted out of the payload for query efficiency;
// they are validated at ingestion time so malformed upstream data fails the
// sync instead of leaking zeros into the ledgers.
type RawSnapshot struct {
	ID           uint       `gorm:"primary_key" json:"id"`
	BusinessId   string     `gorm:"uniqueIndex:idx_raw_snapshot,priority:1;not null" json:"business_id"`
	ConnectionId uint       `gorm:"index;not null" json:"connection_id"`
	EntityType   EntityType `gorm:"uniqueIndex:idx_raw_snapshot,priority:2;size:30;not null" json:"entity_type"`
	ExternalId   string     `gorm:"uniqueIndex:idx_raw_snapshot,priority:3;size:128;not null" json:"external_id"`

	// Promoted fields.
	DocumentNumber    string          `gorm:"size:100" json:"document_number"`
	CounterpartId     string          `gorm:"index;size:128" json:"counterpart_id"`
	RelatedExternalId string          `gorm:"index;size:128" json:"related_external_id"`
	IssueDate         *time.Time      `json:"issue_date"`
	DueDate           *time.Time      `json:"due_date"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,6)" json:"amount"`
	TransactionType   string          `gorm:"size:50" json:"transaction_type"`

	Payload      []byte    `gorm:"type:json" json:"payload"`
	LastModified string    `gorm:"size:64;not null" json:"last_modified"`
	Deleted      bool      `gorm:"default:false" json:"deleted"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertRawSnapshot replaces the snapshot for (business, entity, external id)
// wholesale. Syncs of the same entity are never concurrent for one tenant, so
// last-write-wins by watermark holds without extra guards.
func UpsertRawSnapshot(ctx context.Context, snap *RawSnapshot) error {
	return config.GetDB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "business_id"}, {Name: "entity_type"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"connection_id",
				"document_number",
				"counterpart_id",
				"related_external_id",
				"issue_date",
				"due_date",
				"amount",
				"transaction_type",
				"payload",
				"last_modified",
				"deleted",
				"last_synced_at",
			}),
		}).
		Create(snap).Error
}

func GetRawSnapshots(ctx context.Context, businessId string, entityType EntityType) ([]RawSnapshot, error) {
	var snaps []RawSnapshot
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND entity_type = ?", businessId, entityType).
		Order("external_id").
		Find(&snaps).Error
	return snaps, err
}
