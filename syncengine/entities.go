package syncengine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/nimbus"
	"github.com/mmdatafocus/ledgersync_backend/utils"
)

// validate rejects upstream records missing their id or watermark before they
// can reach the snapshot store.
var validate = validator.New()

func promoteInvoice(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var inv nimbus.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	if err := validate.Struct(inv); err != nil {
		return nil, fmt.Errorf("invoice record invalid: %w", err)
	}

	amount, err := utils.StrictDecimal(inv.TotalAmount, "invoice.total_amount")
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("invoice %s: negative total %s", inv.ID, amount)
	}
	if _, err := utils.ParseUpstreamTime(inv.LastModified); err != nil {
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:     businessId,
		ConnectionId:   connectionID,
		EntityType:     models.EntityInvoice,
		ExternalId:     inv.ID,
		DocumentNumber: inv.InvoiceNumber,
		CounterpartId:  inv.CustomerId,
		IssueDate:      optionalDate(inv.IssueDate),
		DueDate:        optionalDate(inv.DueDate),
		Amount:         amount,
		Payload:        raw,
		LastModified:   inv.LastModified,
		Deleted:        inv.Deleted,
		LastSyncedAt:   syncedAt,
	}, nil
}

func promotePayment(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var p nimbus.Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("payment record invalid: %w", err)
	}

	amount, err := utils.StrictDecimal(p.Amount, "payment.amount")
	if err != nil {
		return nil, err
	}
	if _, err := utils.ParseUpstreamTime(p.LastModified); err != nil {
		return nil, fmt.Errorf("payment %s: %w", p.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:        businessId,
		ConnectionId:      connectionID,
		EntityType:        models.EntityCustomerPayment,
		ExternalId:        p.ID,
		DocumentNumber:    p.PaymentNumber,
		CounterpartId:     p.CustomerId,
		RelatedExternalId: p.InvoiceId,
		IssueDate:         optionalDate(p.PaymentDate),
		Amount:            amount,
		Payload:           raw,
		LastModified:      p.LastModified,
		Deleted:           p.Deleted,
		LastSyncedAt:      syncedAt,
	}, nil
}

func promoteCreditNote(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var c nimbus.CreditNote
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("credit note record invalid: %w", err)
	}

	amount, err := utils.StrictDecimal(c.Amount, "credit_note.amount")
	if err != nil {
		return nil, err
	}
	if _, err := utils.ParseUpstreamTime(c.LastModified); err != nil {
		return nil, fmt.Errorf("credit note %s: %w", c.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:        businessId,
		ConnectionId:      connectionID,
		EntityType:        models.EntityCreditNote,
		ExternalId:        c.ID,
		DocumentNumber:    c.CreditNumber,
		CounterpartId:     c.CustomerId,
		RelatedExternalId: c.InvoiceId,
		IssueDate:         optionalDate(c.IssueDate),
		Amount:            amount,
		Payload:           raw,
		LastModified:      c.LastModified,
		Deleted:           c.Deleted,
		LastSyncedAt:      syncedAt,
	}, nil
}

func promoteBill(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var b nimbus.Bill
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	if err := validate.Struct(b); err != nil {
		return nil, fmt.Errorf("bill record invalid: %w", err)
	}

	amount, err := utils.StrictDecimal(b.TotalAmount, "bill.total_amount")
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("bill %s: negative total %s", b.ID, amount)
	}
	if _, err := utils.ParseUpstreamTime(b.LastModified); err != nil {
		return nil, fmt.Errorf("bill %s: %w", b.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:     businessId,
		ConnectionId:   connectionID,
		EntityType:     models.EntityBill,
		ExternalId:     b.ID,
		DocumentNumber: b.BillNumber,
		CounterpartId:  b.SupplierId,
		IssueDate:      optionalDate(b.IssueDate),
		DueDate:        optionalDate(b.DueDate),
		Amount:         amount,
		Payload:        raw,
		LastModified:   b.LastModified,
		Deleted:        b.Deleted,
		LastSyncedAt:   syncedAt,
	}, nil
}

func promoteBankAccount(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var a nimbus.BankAccount
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	if err := validate.Struct(a); err != nil {
		return nil, fmt.Errorf("bank account record invalid: %w", err)
	}
	if _, err := utils.ParseUpstreamTime(a.LastModified); err != nil {
		return nil, fmt.Errorf("bank account %s: %w", a.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:   businessId,
		ConnectionId: connectionID,
		EntityType:   models.EntityBankAccount,
		ExternalId:   a.ID,
		// The account name rides in the document number column; bank accounts
		// have no document numbering of their own.
		DocumentNumber: a.Name,
		Payload:        raw,
		LastModified:   a.LastModified,
		Deleted:        a.Deleted,
		LastSyncedAt:   syncedAt,
	}, nil
}

func promoteBankTransaction(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var tx nimbus.BankTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	if err := validate.Struct(tx); err != nil {
		return nil, fmt.Errorf("bank transaction record invalid: %w", err)
	}

	// Pending feed transactions can arrive without an amount; the feed is
	// informational, so absent means zero while garbage still aborts.
	amount, err := utils.OptionalDecimal(tx.Amount, "bank_transaction.amount")
	if err != nil {
		return nil, err
	}
	if _, err := utils.ParseUpstreamTime(tx.LastModified); err != nil {
		return nil, fmt.Errorf("bank transaction %s: %w", tx.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:        businessId,
		ConnectionId:      connectionID,
		EntityType:        models.EntityBankTransaction,
		ExternalId:        tx.ID,
		RelatedExternalId: tx.AccountId,
		IssueDate:         optionalDate(tx.TransactionDate),
		Amount:            amount,
		TransactionType:   tx.TransactionType,
		Payload:           raw,
		LastModified:      tx.LastModified,
		Deleted:           tx.Deleted,
		LastSyncedAt:      syncedAt,
	}, nil
}

func promoteVendorPayment(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error) {
	var p nimbus.VendorPayment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("vendor payment record invalid: %w", err)
	}

	amount, err := utils.StrictDecimal(p.Amount, "vendor_payment.amount")
	if err != nil {
		return nil, err
	}
	if _, err := utils.ParseUpstreamTime(p.LastModified); err != nil {
		return nil, fmt.Errorf("vendor payment %s: %w", p.ID, err)
	}

	return &models.RawSnapshot{
		BusinessId:        businessId,
		ConnectionId:      connectionID,
		EntityType:        models.EntityVendorPayment,
		ExternalId:        p.ID,
		DocumentNumber:    p.PaymentNumber,
		CounterpartId:     p.SupplierId,
		RelatedExternalId: p.BillId,
		IssueDate:         optionalDate(p.PaymentDate),
		Amount:            amount,
		TransactionType:   p.Status,
		Payload:           raw,
		LastModified:      p.LastModified,
		Deleted:           p.Deleted,
		LastSyncedAt:      syncedAt,
	}, nil
}

func optionalDate(value string) *time.Time {
	t, err := utils.ParseUpstreamTime(value)
	if err != nil {
		return nil
	}
	return &t
}
