package syncengine

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLeaseTimeout is how long a running job may hold its lease before it
// is treated as abandoned and becomes acquirable by another instance.
const DefaultLeaseTimeout = 10 * time.Minute

// DefaultSyncInterval is the reschedule delay after a successful run.
const DefaultSyncInterval = 15 * time.Minute

// DisconnectedRecheck is how far out a job is parked when its tenant is
// disconnected. Reconnecting makes the jobs due again immediately.
const DisconnectedRecheck = 1 * time.Hour

// backoffSchedule is the capped failure backoff: 1m, 5m, 15m, then 60m.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

const backoffCap = 60 * time.Minute

// Backoff returns the delay before the next attempt given how many failures
// the job has already accumulated (0 = first failure).
func Backoff(priorFailures int) time.Duration {
	if priorFailures < 0 {
		priorFailures = 0
	}
	if priorFailures < len(backoffSchedule) {
		return backoffSchedule[priorFailures]
	}
	return backoffCap
}

// JobStore is the persisted job registry plus the lease lock primitives over
// it. Every mutation is a single atomic conditional update; the booleans
// report whether the caller's condition still held. The scheduler is written
// against this interface so it can be driven by an in-memory store in tests.
type JobStore interface {
	EnqueueDefaultJobs(ctx context.Context, businessId string, connectionID uint, now time.Time) error
	PollDueJobs(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error)

	// AcquireLease succeeds only if the job is not running, or is running
	// with an expired lease. No blocking: a false return means skip.
	AcquireLease(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error)

	// UpdateCursor advances the cursor mid-run. Guarded by lease ownership so
	// a stolen lease cannot be clobbered by the original, now-late owner.
	UpdateCursor(ctx context.Context, jobID uint, ownerID string, cursor string) (bool, error)

	CompleteJob(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error)
	FailJob(ctx context.Context, jobID uint, ownerID string, jobErr error, now time.Time) (bool, error)

	// ParkJob settles a run that cannot succeed until the tenant acts:
	// the job goes back to idle at a far-out next_run_at, retry_count
	// untouched. Guarded by lease ownership like every other settle.
	ParkJob(ctx context.Context, jobID uint, ownerID string, until time.Time) (bool, error)

	// ForceRun makes the tenant's jobs due immediately (optionally resetting
	// cursors to the epoch sentinel for a full resync). The jobs still run
	// through the normal lease path.
	ForceRun(ctx context.Context, businessId string, resetCursor bool, now time.Time) error

	ListJobs(ctx context.Context, businessId string) ([]models.SyncJob, error)
}

// GormJobStore is the MySQL-backed registry.
type GormJobStore struct {
	LeaseTimeout time.Duration
	SyncInterval time.Duration
}

func NewGormJobStore() *GormJobStore {
	return &GormJobStore{
		LeaseTimeout: utils.DurationFromEnvSeconds("SYNC_LEASE_TIMEOUT_SECONDS", DefaultLeaseTimeout),
		SyncInterval: utils.DurationFromEnvSeconds("SYNC_JOB_INTERVAL_SECONDS", DefaultSyncInterval),
	}
}

// db returns a handle with tenant scoping disabled: the registry is polled
// across all tenants.
func (s *GormJobStore) db(ctx context.Context) *gorm.DB {
	return config.GetDB().WithContext(utils.SetSkipTenantScopeInContext(ctx))
}

// EnqueueDefaultJobs idempotently creates one job per job type for a new
// connection. next_run_at sits a few seconds in the future so the enclosing
// transaction commits before the scheduler can pick the jobs up.
func (s *GormJobStore) EnqueueDefaultJobs(ctx context.Context, businessId string, connectionID uint, now time.Time) error {
	for _, jobType := range models.AllJobTypes {
		job := models.SyncJob{
			BusinessId:   businessId,
			JobType:      jobType,
			ConnectionId: connectionID,
			Cursor:       models.EpochCursor,
			Status:       models.JobStatusIdle,
			TriggeredBy:  models.SyncTriggeredSchedule,
			NextRunAt:    now.Add(5 * time.Second),
		}
		err := s.db(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "business_id"}, {Name: "job_type"}},
				DoNothing: true,
			}).
			Create(&job).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *GormJobStore) PollDueJobs(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		limit = 20
	}
	staleBefore := now.Add(-s.LeaseTimeout)

	var jobs []models.SyncJob
	err := s.db(ctx).
		Where("next_run_at <= ? OR (status = ? AND lease_acquired_at < ?)",
			now, models.JobStatusRunning, staleBefore).
		Order("next_run_at").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (s *GormJobStore) AcquireLease(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error) {
	// The due check guards against a racing instance acquiring from a stale
	// poll snapshot right after another instance completed the job. A running
	// job's next_run_at is never bumped mid-run, so expired-lease reclaim
	// still passes it.
	staleBefore := now.Add(-s.LeaseTimeout)
	res := s.db(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND next_run_at <= ? AND (status <> ? OR lease_acquired_at IS NULL OR lease_acquired_at < ?)",
			jobID, now, models.JobStatusRunning, staleBefore).
		Updates(map[string]interface{}{
			"status":            models.JobStatusRunning,
			"lease_owner":       ownerID,
			"lease_acquired_at": now,
			"last_run_at":       now,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *GormJobStore) UpdateCursor(ctx context.Context, jobID uint, ownerID string, cursor string) (bool, error) {
	res := s.db(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusRunning, ownerID).
		Update("cursor", cursor)
	return res.RowsAffected == 1, res.Error
}

func (s *GormJobStore) CompleteJob(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error) {
	res := s.db(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusRunning, ownerID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusIdle,
			"next_run_at":  now.Add(s.SyncInterval),
			"retry_count":  0,
			"last_error":   "",
			"lease_owner":  "",
			"triggered_by": models.SyncTriggeredSchedule,
		})
	return res.RowsAffected == 1, res.Error
}

// ParkJob releases the lease without recording a failure. Used when a run
// cannot succeed until the tenant acts (the connection was disconnected), so
// retry backoff would only pile up red job rows.
func (s *GormJobStore) ParkJob(ctx context.Context, jobID uint, ownerID string, until time.Time) (bool, error) {
	res := s.db(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusRunning, ownerID).
		Updates(map[string]interface{}{
			"status":      models.JobStatusIdle,
			"next_run_at": until,
			"last_error":  "",
			"lease_owner": "",
		})
	return res.RowsAffected == 1, res.Error
}

func (s *GormJobStore) FailJob(ctx context.Context, jobID uint, ownerID string, jobErr error, now time.Time) (bool, error) {
	// Reading retry_count first is safe: only the lease owner mutates it, and
	// the write below is still guarded by ownership.
	var job models.SyncJob
	if err := s.db(ctx).Select("id", "retry_count").Where("id = ?", jobID).Take(&job).Error; err != nil {
		return false, err
	}

	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	res := s.db(ctx).
		Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND lease_owner = ?", jobID, models.JobStatusRunning, ownerID).
		Updates(map[string]interface{}{
			"status":      models.JobStatusFailed,
			"next_run_at": now.Add(Backoff(job.RetryCount)),
			"retry_count": job.RetryCount + 1,
			"last_error":  msg,
			"lease_owner": "",
		})
	return res.RowsAffected == 1, res.Error
}

func (s *GormJobStore) ForceRun(ctx context.Context, businessId string, resetCursor bool, now time.Time) error {
	updates := map[string]interface{}{
		"next_run_at":  now,
		"retry_count":  0,
		"triggered_by": models.SyncTriggeredManual,
	}
	if resetCursor {
		updates["cursor"] = models.EpochCursor
	}
	return s.db(ctx).
		Model(&models.SyncJob{}).
		Where("business_id = ? AND status <> ?", businessId, models.JobStatusRunning).
		Updates(updates).Error
}

func (s *GormJobStore) ListJobs(ctx context.Context, businessId string) ([]models.SyncJob, error) {
	var jobs []models.SyncJob
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ?", businessId).
		Order("job_type").
		Find(&jobs).Error
	return jobs, err
}
