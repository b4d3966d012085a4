package ledger

import (
	"context"
	"strings"

	"github.com/mmdatafocus/ledgersync_backend/models"
)

// Controlled vocabulary of upstream bank transaction types that move money
// into the account. Anything not listed is treated as a debit.
var creditTransactionTypes = map[string]bool{
	"deposit":         true,
	"credit":          true,
	"interest":        true,
	"receive":         true,
	"receive_payment": true,
	"refund_receipt":  true,
	"transfer_in":     true,
}

func ClassifyDirection(txType string) string {
	if creditTransactionTypes[normalizeType(txType)] {
		return models.BankDirectionCredit
	}
	return models.BankDirectionDebit
}

func normalizeType(txType string) string {
	t := strings.ToLower(strings.TrimSpace(txType))
	t = strings.ReplaceAll(t, "-", "_")
	t = strings.ReplaceAll(t, " ", "_")
	return t
}

// BuildBankFeed folds bank transactions into feed entries, resolving account
// names from the account snapshots.
func BuildBankFeed(accounts, transactions []models.RawSnapshot) []models.BankFeedEntry {
	accountNames := make(map[string]string, len(accounts))
	for _, a := range accounts {
		accountNames[a.ExternalId] = a.DocumentNumber
	}

	entries := make([]models.BankFeedEntry, 0, len(transactions))
	for _, tx := range transactions {
		entries = append(entries, models.BankFeedEntry{
			BusinessId:        tx.BusinessId,
			ExternalId:        tx.ExternalId,
			AccountExternalId: tx.RelatedExternalId,
			AccountName:       accountNames[tx.RelatedExternalId],
			TransactionDate:   tx.IssueDate,
			TransactionType:   tx.TransactionType,
			Direction:         ClassifyDirection(tx.TransactionType),
			Amount:            tx.Amount,
			Deleted:           tx.Deleted,
		})
	}
	sortByExternalId(entries, func(e models.BankFeedEntry) string { return e.ExternalId })
	return entries
}

func RebuildBankFeed(ctx context.Context, businessId string) error {
	accounts, err := models.GetRawSnapshots(ctx, businessId, models.EntityBankAccount)
	if err != nil {
		return err
	}
	transactions, err := models.GetRawSnapshots(ctx, businessId, models.EntityBankTransaction)
	if err != nil {
		return err
	}
	return models.ReplaceBankFeedLedger(ctx, businessId, BuildBankFeed(accounts, transactions))
}
