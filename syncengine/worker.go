package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/mmdatafocus/ledgersync_backend/ledger"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/nimbus"
	"github.com/mmdatafocus/ledgersync_backend/utils"
	"github.com/sirupsen/logrus"
)

// ErrConnectionUnavailable marks permanent connection problems. The scheduler
// parks the job instead of burning retries; nothing can succeed until the
// tenant reconnects.
var ErrConnectionUnavailable = errors.New("connection is not available for syncing")

// Fetcher is the slice of the upstream client a pull worker needs.
type Fetcher interface {
	FetchAll(ctx context.Context, path string, collectionKey string, since string) (nimbus.ListResult, error)
}

// entityDescriptor binds one upstream list endpoint to its snapshot
// promotion. A job may pull several entity types (the bank feed pulls
// accounts and transactions).
type entityDescriptor struct {
	entityType    models.EntityType
	path          string
	collectionKey string
	promote       promoteFunc
}

type promoteFunc func(businessId string, connectionID uint, raw json.RawMessage, syncedAt time.Time) (*models.RawSnapshot, error)

// PullWorker is the generic incremental sync worker. One instance per job
// type, differing only in descriptors and which ledger rebuild it triggers.
//
// The ordering contract: the cursor is advanced only after every upsert for
// the whole fetch window has succeeded. A crash in between re-fetches the
// same window next run; upserts are idempotent so the replay is harmless.
type PullWorker struct {
	Store       JobStore
	descriptors []entityDescriptor
	rebuild     func(ctx context.Context, businessId string) error

	// Injectable for tests; default to the gorm-backed implementations.
	ResolveConnection func(ctx context.Context, businessId string, connectionID uint) (*models.Connection, error)
	Upsert            func(ctx context.Context, snap *models.RawSnapshot) error
	ClientFor         func(conn *models.Connection) Fetcher
	TouchSync         func(ctx context.Context, connID uint, at time.Time, success bool) error
	AfterRun          func(ctx context.Context, job models.SyncJob, recordCount int)
}

func newPullWorker(store JobStore, rebuild func(context.Context, string) error, descriptors ...entityDescriptor) *PullWorker {
	return &PullWorker{
		Store:             store,
		descriptors:       descriptors,
		rebuild:           rebuild,
		ResolveConnection: defaultResolveConnection,
		Upsert:            models.UpsertRawSnapshot,
		ClientFor:         func(conn *models.Connection) Fetcher { return nimbus.ForConnection(conn) },
		TouchSync:         models.TouchConnectionSync,
	}
}

func defaultResolveConnection(ctx context.Context, businessId string, connectionID uint) (*models.Connection, error) {
	conn, err := models.GetConnectionByID(ctx, businessId, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}
	return conn, nil
}

func (w *PullWorker) Run(ctx context.Context, job models.SyncJob) error {
	ctx = utils.SetBusinessIdInContext(ctx, job.BusinessId)

	conn, err := w.ResolveConnection(ctx, job.BusinessId, job.ConnectionId)
	if err != nil {
		return err
	}
	if conn == nil || conn.Status != models.ConnectionStatusConnected {
		return ErrConnectionUnavailable
	}

	client := w.ClientFor(conn)

	// The epoch sentinel means no incremental watermark yet: fetch the full
	// history by omitting modified_since.
	since := job.Cursor
	if since == models.EpochCursor {
		since = ""
	}

	syncedAt := time.Now().UTC()
	maxWatermark := job.Cursor
	recordCount := 0

	for _, d := range w.descriptors {
		result, err := client.FetchAll(ctx, d.path, d.collectionKey, since)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", d.entityType, err)
		}

		for _, raw := range result.Records {
			snap, err := d.promote(job.BusinessId, job.ConnectionId, raw, syncedAt)
			if err != nil {
				// A malformed record aborts the run before the cursor moves;
				// the next run re-fetches the same window.
				return fmt.Errorf("promote %s: %w", d.entityType, err)
			}
			if err := w.Upsert(ctx, snap); err != nil {
				return fmt.Errorf("upsert %s %s: %w", d.entityType, snap.ExternalId, err)
			}
			recordCount++
		}

		maxWatermark = utils.MaxWatermark(maxWatermark, result.MaxWatermark)
	}

	// Every upsert for the window succeeded; only now may the cursor move.
	if maxWatermark != job.Cursor {
		ok, err := w.Store.UpdateCursor(ctx, job.ID, job.LeaseOwner, maxWatermark)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("lease no longer held; cursor not advanced")
		}
	}

	if err := w.rebuild(ctx, job.BusinessId); err != nil {
		return fmt.Errorf("rebuild ledger: %w", err)
	}

	_ = w.TouchSync(ctx, conn.ID, syncedAt, true)

	config.GetLogger().WithFields(logrus.Fields{
		"module":     "syncengine",
		"businessId": job.BusinessId,
		"jobType":    string(job.JobType),
		"records":    recordCount,
		"cursor":     maxWatermark,
	}).Info("pull completed")

	if w.AfterRun != nil {
		// Consumers must see the cursor the run advanced to, not the
		// pre-run snapshot.
		job.Cursor = maxWatermark
		w.AfterRun(ctx, job, recordCount)
	}
	return nil
}

// DefaultHandlers builds the job-type dispatch table. Adding an entity type
// means registering a descriptor here, not growing a switch somewhere.
func DefaultHandlers(store JobStore) map[models.SyncJobType]Worker {
	afterRun := publishSyncCompleted

	withEvents := func(w *PullWorker) *PullWorker {
		w.AfterRun = afterRun
		return w
	}

	return map[models.SyncJobType]Worker{
		models.JobTypeInvoices: withEvents(newPullWorker(store, ledger.RebuildReceivables,
			entityDescriptor{models.EntityInvoice, "/v1/invoices", "invoices", promoteInvoice})),

		models.JobTypePayments: withEvents(newPullWorker(store, ledger.RebuildReceivables,
			entityDescriptor{models.EntityCustomerPayment, "/v1/customer_payments", "payments", promotePayment})),

		models.JobTypeCredits: withEvents(newPullWorker(store, ledger.RebuildReceivables,
			entityDescriptor{models.EntityCreditNote, "/v1/credit_notes", "credit_notes", promoteCreditNote})),

		models.JobTypeBills: withEvents(newPullWorker(store, ledger.RebuildPayables,
			entityDescriptor{models.EntityBill, "/v1/bills", "bills", promoteBill})),

		models.JobTypeBankFeed: withEvents(newPullWorker(store, ledger.RebuildBankFeed,
			entityDescriptor{models.EntityBankAccount, "/v1/bank_accounts", "bank_accounts", promoteBankAccount},
			entityDescriptor{models.EntityBankTransaction, "/v1/bank_transactions", "bank_transactions", promoteBankTransaction})),

		models.JobTypeVendorPayments: withEvents(newPullWorker(store, ledger.RebuildPayables,
			entityDescriptor{models.EntityVendorPayment, "/v1/vendor_payments", "vendor_payments", promoteVendorPayment})),

		models.JobTypeMetrics: NewMetricsWorker(),
	}
}
