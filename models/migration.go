package models

import "github.com/mmdatafocus/ledgersync_backend/config"

func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Connection{},
		&SyncJob{},
		&RawSnapshot{},
		&ReceivableEntry{},
		&PayableEntry{},
		&BankFeedEntry{},
		&VendorPaymentEntry{},
		&MonthlyMetric{},
	)
	if err != nil {
		panic(err)
	}
}
