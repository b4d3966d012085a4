package syncengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testScheduler(store JobStore, handlers map[models.SyncJobType]Worker, owner string) *Scheduler {
	return &Scheduler{
		Store:    store,
		Handlers: handlers,
		OwnerID:  owner,
		Tick:     time.Minute,
		Limit:    20,
		Logger:   quietLogger(),
	}
}

func TestRunOnce_CompletesDueJob(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	var ranJob models.SyncJob
	handlers := map[models.SyncJobType]Worker{
		models.JobTypeInvoices: WorkerFunc(func(ctx context.Context, job models.SyncJob) error {
			ranJob = job
			return nil
		}),
	}
	s := testScheduler(store, handlers, "owner-a")
	s.Now = func() time.Time { return now }

	s.RunOnce(context.Background(), now)

	if ranJob.ID != jobID {
		t.Fatalf("expected handler to run job %d, ran %d", jobID, ranJob.ID)
	}
	if ranJob.LeaseOwner != "owner-a" {
		t.Fatalf("handler must see the lease owner, got %q", ranJob.LeaseOwner)
	}

	job := store.get(jobID)
	if job.Status != models.JobStatusIdle {
		t.Fatalf("expected idle after completion, got %s", job.Status)
	}
	if !job.NextRunAt.Equal(now.Add(DefaultSyncInterval)) {
		t.Fatalf("expected reschedule at +%s, got %s", DefaultSyncInterval, job.NextRunAt)
	}
	if job.RetryCount != 0 || job.LastError != "" {
		t.Fatalf("expected clean job state, got retries=%d err=%q", job.RetryCount, job.LastError)
	}
	if job.TriggeredBy != models.SyncTriggeredSchedule {
		t.Fatalf("completion resets the trigger to schedule, got %q", job.TriggeredBy)
	}
}

func TestRunOnce_SkipsJobsNotDue(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now.Add(time.Hour),
	})

	ran := false
	handlers := map[models.SyncJobType]Worker{
		models.JobTypeInvoices: WorkerFunc(func(ctx context.Context, job models.SyncJob) error {
			ran = true
			return nil
		}),
	}
	testScheduler(store, handlers, "owner-a").RunOnce(context.Background(), now)
	if ran {
		t.Fatal("job not yet due must not run")
	}
}

func TestRunOnce_FailureSchedulesBackoff(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	handlers := map[models.SyncJobType]Worker{
		models.JobTypeInvoices: WorkerFunc(func(ctx context.Context, job models.SyncJob) error {
			return errors.New("upstream exploded")
		}),
	}
	s := testScheduler(store, handlers, "owner-a")
	s.Now = func() time.Time { return now }

	s.RunOnce(context.Background(), now)

	job := store.get(jobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", job.RetryCount)
	}
	if job.LastError != "upstream exploded" {
		t.Fatalf("expected error recorded, got %q", job.LastError)
	}
	if !job.NextRunAt.Equal(now.Add(1 * time.Minute)) {
		t.Fatalf("first failure reschedules at +1m, got %s", job.NextRunAt)
	}

	// Second failure backs off further.
	later := now.Add(2 * time.Minute)
	s.Now = func() time.Time { return later }
	s.RunOnce(context.Background(), later)

	job = store.get(jobID)
	if job.RetryCount != 2 {
		t.Fatalf("expected retry count 2, got %d", job.RetryCount)
	}
	if !job.NextRunAt.Equal(later.Add(5 * time.Minute)) {
		t.Fatalf("second failure reschedules at +5m, got %s", job.NextRunAt)
	}
}

func TestRunOnce_UnknownJobTypeFailsJob(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.SyncJobType("antique_module"),
		NextRunAt:  now,
	})

	s := testScheduler(store, map[models.SyncJobType]Worker{}, "owner-a")
	s.Now = func() time.Time { return now }
	s.RunOnce(context.Background(), now)

	job := store.get(jobID)
	if job.Status != models.JobStatusFailed {
		t.Fatalf("expected failed for unknown job type, got %s", job.Status)
	}
	if job.LastError == "" {
		t.Fatal("expected error message for operator visibility")
	}
}

func TestAcquireLease_IsExclusive(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	ok, err := store.AcquireLease(context.Background(), jobID, "owner-a", now)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = store.AcquireLease(context.Background(), jobID, "owner-b", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("acquire error: %v", err)
	}
	if ok {
		t.Fatal("second acquire must fail while the lease is live")
	}
}

func TestAcquireLease_ReclaimsExpiredLease(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	if ok, _ := store.AcquireLease(context.Background(), jobID, "owner-a", now); !ok {
		t.Fatal("initial acquire failed")
	}

	// Past the lease timeout the job counts as abandoned.
	afterTimeout := now.Add(DefaultLeaseTimeout + time.Minute)
	ok, err := store.AcquireLease(context.Background(), jobID, "owner-b", afterTimeout)
	if err != nil || !ok {
		t.Fatalf("expected reclaim after lease timeout: ok=%v err=%v", ok, err)
	}

	// The original owner lost the lease; none of its settle writes may land.
	if ok, _ := store.CompleteJob(context.Background(), jobID, "owner-a", afterTimeout); ok {
		t.Fatal("stale owner must not complete the job")
	}
	if ok, _ := store.UpdateCursor(context.Background(), jobID, "owner-a", "2026-03-15T00:00:00Z"); ok {
		t.Fatal("stale owner must not advance the cursor")
	}
	if ok, _ := store.CompleteJob(context.Background(), jobID, "owner-b", afterTimeout); !ok {
		t.Fatal("current owner should complete")
	}
}

func TestForceRun_MakesJobsDueButSkipsRunning(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	idleID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		Cursor:     "2026-03-01T00:00:00Z",
		NextRunAt:  now.Add(time.Hour),
		RetryCount: 3,
	})
	runningID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeBills,
		Cursor:     "2026-03-01T00:00:00Z",
		NextRunAt:  now,
	})
	if ok, _ := store.AcquireLease(context.Background(), runningID, "owner-a", now); !ok {
		t.Fatal("acquire failed")
	}

	if err := store.ForceRun(context.Background(), "biz-1", true, now); err != nil {
		t.Fatalf("ForceRun error: %v", err)
	}

	idle := store.get(idleID)
	if !idle.NextRunAt.Equal(now) {
		t.Fatalf("idle job should be due now, got %s", idle.NextRunAt)
	}
	if idle.Cursor != models.EpochCursor {
		t.Fatalf("expected cursor reset to epoch, got %q", idle.Cursor)
	}
	if idle.RetryCount != 0 {
		t.Fatalf("expected retry count reset, got %d", idle.RetryCount)
	}
	if idle.TriggeredBy != models.SyncTriggeredManual {
		t.Fatalf("forced job should record the manual trigger, got %q", idle.TriggeredBy)
	}

	running := store.get(runningID)
	if running.Cursor == models.EpochCursor {
		t.Fatal("running job must not be touched by force run")
	}
}

func TestAcquireLease_RejectsJobNotYetDue(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	// owner-b polled before owner-a ran the job; its snapshot still says due.
	if ok, _ := store.AcquireLease(context.Background(), jobID, "owner-a", now); !ok {
		t.Fatal("acquire failed")
	}
	if ok, _ := store.CompleteJob(context.Background(), jobID, "owner-a", now); !ok {
		t.Fatal("complete failed")
	}

	ok, err := store.AcquireLease(context.Background(), jobID, "owner-b", now.Add(time.Second))
	if err != nil {
		t.Fatalf("AcquireLease error: %v", err)
	}
	if ok {
		t.Fatal("a freshly completed job must not be re-acquired from a stale poll snapshot")
	}

	job := store.get(jobID)
	if job.Status != models.JobStatusIdle || job.LeaseOwner != "" {
		t.Fatalf("job state clobbered: status=%s owner=%q", job.Status, job.LeaseOwner)
	}
}

func TestRunOnce_DisconnectedJobIsParked(t *testing.T) {
	store := newMemJobStore()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	jobID := store.addJob(models.SyncJob{
		BusinessId: "biz-1",
		JobType:    models.JobTypeInvoices,
		NextRunAt:  now,
	})

	handlers := map[models.SyncJobType]Worker{
		models.JobTypeInvoices: WorkerFunc(func(ctx context.Context, job models.SyncJob) error {
			return fmt.Errorf("resolve connection: %w", ErrConnectionUnavailable)
		}),
	}
	s := testScheduler(store, handlers, "owner-a")
	s.Now = func() time.Time { return now }

	s.RunOnce(context.Background(), now)

	job := store.get(jobID)
	if job.Status != models.JobStatusIdle {
		t.Fatalf("a disconnected tenant's job parks as idle, got %s", job.Status)
	}
	if job.RetryCount != 0 {
		t.Fatalf("parking must not count as a failure, got retries=%d", job.RetryCount)
	}
	if job.LastError != "" {
		t.Fatalf("parking must not record an error, got %q", job.LastError)
	}
	if !job.NextRunAt.Equal(now.Add(DisconnectedRecheck)) {
		t.Fatalf("expected recheck at +%s, got %s", DisconnectedRecheck, job.NextRunAt)
	}
	if job.LeaseOwner != "" {
		t.Fatalf("lease must be released, got %q", job.LeaseOwner)
	}
}
