package models

const (
	ProviderNimbus = "nimbus"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

// Job types, one sync job per (business, type).
type SyncJobType string

const (
	JobTypeInvoices       SyncJobType = "invoices"
	JobTypePayments       SyncJobType = "payments"
	JobTypeCredits        SyncJobType = "credits"
	JobTypeBills          SyncJobType = "bills"
	JobTypeBankFeed       SyncJobType = "bank_feed"
	JobTypeVendorPayments SyncJobType = "vendor_payments"
	JobTypeMetrics        SyncJobType = "metrics"
)

// AllJobTypes is the default set enqueued for a new connection.
var AllJobTypes = []SyncJobType{
	JobTypeInvoices,
	JobTypePayments,
	JobTypeCredits,
	JobTypeBills,
	JobTypeBankFeed,
	JobTypeVendorPayments,
	JobTypeMetrics,
}

const (
	JobStatusIdle    = "idle"
	JobStatusRunning = "running"
	JobStatusFailed  = "failed"
)

// EpochCursor is the sentinel meaning "no incremental watermark yet":
// a job carrying it performs a full historical fetch.
const EpochCursor = "1970-01-01T00:00:00Z"

// Raw snapshot entity types. Bank accounts and bank transactions are distinct
// entity types pulled by the same bank_feed job.
type EntityType string

const (
	EntityInvoice         EntityType = "invoice"
	EntityCustomerPayment EntityType = "customer_payment"
	EntityCreditNote      EntityType = "credit_note"
	EntityBill            EntityType = "bill"
	EntityBankAccount     EntityType = "bank_account"
	EntityBankTransaction EntityType = "bank_transaction"
	EntityVendorPayment   EntityType = "vendor_payment"
)

// Derived ledger statuses. Priority on rebuild: deleted > paid > overdue > partial > open.
const (
	LedgerStatusOpen    = "open"
	LedgerStatusPartial = "partial"
	LedgerStatusOverdue = "overdue"
	LedgerStatusPaid    = "paid"
	LedgerStatusDeleted = "deleted"
)

const (
	BankDirectionCredit = "credit"
	BankDirectionDebit  = "debit"
)

const (
	VendorPaymentStatusCleared = "cleared"
	VendorPaymentStatusVoid    = "void"
)

const (
	MetricTrendUp   = "up"
	MetricTrendDown = "down"
	MetricTrendFlat = "flat"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
)
