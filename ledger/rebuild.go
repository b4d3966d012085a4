// Package ledger turns raw upstream snapshots into the derived read models.
// Every rebuild is a full recomputation for one tenant; the fold functions are
// pure so a rebuild can be re-run after any failure without drift.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/shopspring/decimal"
)

// BuildReceivables folds invoices plus the payments/credits referencing them
// into receivable entries.
//
// For every invoice: totalApplied is the sum of non-deleted payments and
// credits whose related id matches the invoice external id, currentBalance is
// max(0, original - applied) and the status follows the fixed priority
// paid > overdue > partial > open. Soft-deleted invoices stay in the ledger
// with a zeroed balance so historical queries remain consistent.
func BuildReceivables(now time.Time, invoices, payments, credits []models.RawSnapshot) []models.ReceivableEntry {
	applied := make(map[string]decimal.Decimal)
	for _, p := range payments {
		if p.Deleted || p.RelatedExternalId == "" {
			continue
		}
		applied[p.RelatedExternalId] = applied[p.RelatedExternalId].Add(p.Amount)
	}
	for _, c := range credits {
		if c.Deleted || c.RelatedExternalId == "" {
			continue
		}
		applied[c.RelatedExternalId] = applied[c.RelatedExternalId].Add(c.Amount)
	}

	entries := make([]models.ReceivableEntry, 0, len(invoices))
	for _, inv := range invoices {
		totalApplied := applied[inv.ExternalId]
		entry := models.ReceivableEntry{
			BusinessId:     inv.BusinessId,
			ExternalId:     inv.ExternalId,
			DocumentNumber: inv.DocumentNumber,
			CustomerId:     inv.CounterpartId,
			IssueDate:      inv.IssueDate,
			DueDate:        inv.DueDate,
			OriginalAmount: inv.Amount,
			AppliedAmount:  totalApplied,
		}
		fillBalanceStatus(&entry, inv.Deleted, now)
		entries = append(entries, entry)
	}
	sortByExternalId(entries, func(e models.ReceivableEntry) string { return e.ExternalId })
	return entries
}

// BuildPayables is the purchase-side fold: bills with vendor payments applied.
// Voided vendor payments do not reduce the bill balance.
func BuildPayables(now time.Time, bills, vendorPayments []models.RawSnapshot) []models.PayableEntry {
	applied := make(map[string]decimal.Decimal)
	for _, p := range vendorPayments {
		if p.Deleted || p.RelatedExternalId == "" || isVoidType(p.TransactionType) {
			continue
		}
		applied[p.RelatedExternalId] = applied[p.RelatedExternalId].Add(p.Amount)
	}

	entries := make([]models.PayableEntry, 0, len(bills))
	for _, bill := range bills {
		totalApplied := applied[bill.ExternalId]
		entry := models.PayableEntry{
			BusinessId:     bill.BusinessId,
			ExternalId:     bill.ExternalId,
			DocumentNumber: bill.DocumentNumber,
			SupplierId:     bill.CounterpartId,
			IssueDate:      bill.IssueDate,
			DueDate:        bill.DueDate,
			OriginalAmount: bill.Amount,
			AppliedAmount:  totalApplied,
		}
		entry.CurrentBalance = balanceOf(entry.OriginalAmount, entry.AppliedAmount)
		entry.Status = deriveStatus(entry.CurrentBalance, entry.AppliedAmount, entry.DueDate, bill.Deleted, now)
		entry.AgingDays = agingDays(entry.CurrentBalance, entry.DueDate, now)
		entry.Deleted = bill.Deleted
		if bill.Deleted {
			entry.CurrentBalance = decimal.Zero
		}
		entries = append(entries, entry)
	}
	sortByExternalId(entries, func(e models.PayableEntry) string { return e.ExternalId })
	return entries
}

// BuildVendorPayments derives one entry per vendor payment snapshot.
func BuildVendorPayments(vendorPayments []models.RawSnapshot) []models.VendorPaymentEntry {
	entries := make([]models.VendorPaymentEntry, 0, len(vendorPayments))
	for _, p := range vendorPayments {
		status := models.VendorPaymentStatusCleared
		if isVoidType(p.TransactionType) {
			status = models.VendorPaymentStatusVoid
		}
		entries = append(entries, models.VendorPaymentEntry{
			BusinessId:     p.BusinessId,
			ExternalId:     p.ExternalId,
			DocumentNumber: p.DocumentNumber,
			SupplierId:     p.CounterpartId,
			BillExternalId: p.RelatedExternalId,
			PaymentDate:    p.IssueDate,
			Amount:         p.Amount,
			Status:         status,
			Deleted:        p.Deleted,
		})
	}
	sortByExternalId(entries, func(e models.VendorPaymentEntry) string { return e.ExternalId })
	return entries
}

func fillBalanceStatus(entry *models.ReceivableEntry, deleted bool, now time.Time) {
	entry.CurrentBalance = balanceOf(entry.OriginalAmount, entry.AppliedAmount)
	entry.Status = deriveStatus(entry.CurrentBalance, entry.AppliedAmount, entry.DueDate, deleted, now)
	entry.AgingDays = agingDays(entry.CurrentBalance, entry.DueDate, now)
	entry.Deleted = deleted
	if deleted {
		entry.CurrentBalance = decimal.Zero
	}
}

// balanceOf never returns a negative balance, even under overpayment.
func balanceOf(original, applied decimal.Decimal) decimal.Decimal {
	balance := original.Sub(applied)
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}

func deriveStatus(balance, applied decimal.Decimal, dueDate *time.Time, deleted bool, now time.Time) string {
	if deleted {
		return models.LedgerStatusDeleted
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		return models.LedgerStatusPaid
	}
	if dueDate != nil && now.After(*dueDate) {
		return models.LedgerStatusOverdue
	}
	if applied.GreaterThan(decimal.Zero) {
		return models.LedgerStatusPartial
	}
	return models.LedgerStatusOpen
}

func agingDays(balance decimal.Decimal, dueDate *time.Time, now time.Time) int {
	if dueDate == nil || balance.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	days := int(now.Sub(*dueDate).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func isVoidType(txType string) bool {
	switch normalizeType(txType) {
	case "void", "voided":
		return true
	default:
		return false
	}
}

func sortByExternalId[T any](entries []T, key func(T) string) {
	sort.Slice(entries, func(i, j int) bool { return key(entries[i]) < key(entries[j]) })
}

// RebuildReceivables runs the full receivable recompute for one tenant and
// swaps the stored ledger.
func RebuildReceivables(ctx context.Context, businessId string) error {
	invoices, err := models.GetRawSnapshots(ctx, businessId, models.EntityInvoice)
	if err != nil {
		return err
	}
	payments, err := models.GetRawSnapshots(ctx, businessId, models.EntityCustomerPayment)
	if err != nil {
		return err
	}
	credits, err := models.GetRawSnapshots(ctx, businessId, models.EntityCreditNote)
	if err != nil {
		return err
	}

	entries := BuildReceivables(time.Now().UTC(), invoices, payments, credits)
	if err := models.ReplaceReceivableLedger(ctx, businessId, entries); err != nil {
		return err
	}
	models.InvalidateReceivableSummaryCache(businessId)
	return nil
}

// RebuildPayables recomputes the payable and vendor-payment ledgers together;
// both fold over the same vendor payment snapshots.
func RebuildPayables(ctx context.Context, businessId string) error {
	bills, err := models.GetRawSnapshots(ctx, businessId, models.EntityBill)
	if err != nil {
		return err
	}
	vendorPayments, err := models.GetRawSnapshots(ctx, businessId, models.EntityVendorPayment)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := models.ReplacePayableLedger(ctx, businessId, BuildPayables(now, bills, vendorPayments)); err != nil {
		return err
	}
	return models.ReplaceVendorPaymentLedger(ctx, businessId, BuildVendorPayments(vendorPayments))
}
