package syncengine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
)

func TestPromoteInvoice_MapsPromotedColumns(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "inv-9",
		"invoice_number": "INV-2026-009",
		"customer_id": "cust-3",
		"issue_date": "2026-03-01",
		"due_date": "2026-04-01",
		"total_amount": 2500.75,
		"deleted": false,
		"last_modified": "2026-03-05T10:00:00Z"
	}`)
	syncedAt := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	snap, err := promoteInvoice("biz-1", 7, raw, syncedAt)
	if err != nil {
		t.Fatalf("promoteInvoice error: %v", err)
	}
	if snap.EntityType != models.EntityInvoice || snap.ExternalId != "inv-9" {
		t.Fatalf("unexpected identity %s/%s", snap.EntityType, snap.ExternalId)
	}
	if snap.DocumentNumber != "INV-2026-009" || snap.CounterpartId != "cust-3" {
		t.Fatalf("unexpected promoted fields %q %q", snap.DocumentNumber, snap.CounterpartId)
	}
	if snap.Amount.String() != "2500.75" {
		t.Fatalf("unexpected amount %s", snap.Amount)
	}
	if snap.IssueDate == nil || snap.DueDate == nil {
		t.Fatal("expected issue and due dates parsed")
	}
	if snap.LastModified != "2026-03-05T10:00:00Z" {
		t.Fatalf("watermark must be kept verbatim, got %q", snap.LastModified)
	}
	if string(snap.Payload) != string(raw) {
		t.Fatal("payload must be the verbatim upstream record")
	}
	if !snap.LastSyncedAt.Equal(syncedAt) {
		t.Fatalf("unexpected synced-at %s", snap.LastSyncedAt)
	}
}

func TestPromoteInvoice_RejectsMissingIdentity(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing id", `{"total_amount":100,"last_modified":"2026-03-05T10:00:00Z"}`},
		{"missing last_modified", `{"id":"inv-1","total_amount":100}`},
		{"negative total", `{"id":"inv-1","total_amount":-5,"last_modified":"2026-03-05T10:00:00Z"}`},
		{"bad timestamp", `{"id":"inv-1","total_amount":100,"last_modified":"yesterday"}`},
	}
	for _, tc := range cases {
		if _, err := promoteInvoice("biz-1", 7, json.RawMessage(tc.raw), time.Now()); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestPromotePayment_LinksInvoice(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "pay-1",
		"payment_number": "PAY-001",
		"customer_id": "cust-3",
		"invoice_id": "inv-9",
		"payment_date": "2026-03-10",
		"amount": 1000,
		"last_modified": "2026-03-10T09:00:00Z"
	}`)

	snap, err := promotePayment("biz-1", 7, raw, time.Now())
	if err != nil {
		t.Fatalf("promotePayment error: %v", err)
	}
	if snap.EntityType != models.EntityCustomerPayment {
		t.Fatalf("unexpected entity type %s", snap.EntityType)
	}
	if snap.RelatedExternalId != "inv-9" {
		t.Fatalf("expected invoice link, got %q", snap.RelatedExternalId)
	}
}

func TestPromoteBankTransaction_KeepsTypeForClassification(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "tx-1",
		"account_id": "acc-1",
		"transaction_date": "2026-03-10",
		"transaction_type": "Transfer-In",
		"amount": 50,
		"last_modified": "2026-03-10T09:00:00Z"
	}`)

	snap, err := promoteBankTransaction("biz-1", 7, raw, time.Now())
	if err != nil {
		t.Fatalf("promoteBankTransaction error: %v", err)
	}
	if snap.TransactionType != "Transfer-In" {
		t.Fatalf("raw type must be preserved for the direction fold, got %q", snap.TransactionType)
	}
	if snap.RelatedExternalId != "acc-1" {
		t.Fatalf("expected account link, got %q", snap.RelatedExternalId)
	}
}

func TestPromoteBankTransaction_MissingAmountIsZero(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "tx-2",
		"account_id": "acc-1",
		"transaction_date": "2026-03-11",
		"transaction_type": "deposit",
		"last_modified": "2026-03-11T09:00:00Z"
	}`)

	snap, err := promoteBankTransaction("biz-1", 7, raw, time.Now())
	if err != nil {
		t.Fatalf("promoteBankTransaction error: %v", err)
	}
	if !snap.Amount.IsZero() {
		t.Fatalf("a pending transaction without an amount folds as zero, got %s", snap.Amount)
	}
}

func TestPromoteVendorPayment_CarriesStatus(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "vp-1",
		"supplier_id": "sup-1",
		"bill_id": "bill-9",
		"amount": 300,
		"status": "voided",
		"last_modified": "2026-03-10T09:00:00Z"
	}`)

	snap, err := promoteVendorPayment("biz-1", 7, raw, time.Now())
	if err != nil {
		t.Fatalf("promoteVendorPayment error: %v", err)
	}
	if snap.TransactionType != "voided" {
		t.Fatalf("status must ride the transaction type column, got %q", snap.TransactionType)
	}
	if snap.RelatedExternalId != "bill-9" {
		t.Fatalf("expected bill link, got %q", snap.RelatedExternalId)
	}
}

func TestPromoteBankAccount_NameInDocumentNumber(t *testing.T) {
	raw := json.RawMessage(`{"id":"acc-1","name":"Operating MMK","last_modified":"2026-03-10T09:00:00Z"}`)

	snap, err := promoteBankAccount("biz-1", 7, raw, time.Now())
	if err != nil {
		t.Fatalf("promoteBankAccount error: %v", err)
	}
	if snap.DocumentNumber != "Operating MMK" {
		t.Fatalf("expected account name promoted, got %q", snap.DocumentNumber)
	}
}
