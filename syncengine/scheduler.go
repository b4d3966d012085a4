package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/utils"
	"github.com/sirupsen/logrus"
)

// Worker executes one sync job while its caller holds the lease.
type Worker interface {
	Run(ctx context.Context, job models.SyncJob) error
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, job models.SyncJob) error

func (f WorkerFunc) Run(ctx context.Context, job models.SyncJob) error { return f(ctx, job) }

// Scheduler is the fixed-interval polling loop. Any number of instances may
// run concurrently; exclusivity per job comes solely from the registry's
// lease CAS, never from coordination between instances.
type Scheduler struct {
	Store    JobStore
	Handlers map[models.SyncJobType]Worker
	OwnerID  string
	Tick     time.Duration
	Limit    int
	Logger   *logrus.Logger

	// Now and Sleep are injectable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)

	// TickDedupe, when true, takes a short advisory redis lock per tick so
	// scaled-out instances don't all poll at once. Losing the lock only skips
	// the tick; job safety never depends on it.
	TickDedupe bool
}

func NewScheduler(store JobStore, handlers map[models.SyncJobType]Worker, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		Store:      store,
		Handlers:   handlers,
		OwnerID:    uuid.NewString(),
		Tick:       utils.DurationFromEnvSeconds("SYNC_TICK_SECONDS", 60*time.Second),
		Limit:      utils.IntFromEnv("SYNC_POLL_LIMIT", 20),
		Logger:     logger,
		TickDedupe: utils.EnvBoolDefault("SYNC_TICK_DEDUPE", false),
	}
}

// Run polls until the context is cancelled. Restartable: all scheduling state
// lives in the registry.
func (s *Scheduler) Run(ctx context.Context) {
	now := s.now
	sleep := s.sleep

	s.Logger.WithFields(logrus.Fields{
		"module":  "syncengine",
		"ownerId": s.OwnerID,
		"tick":    s.Tick.String(),
	}).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.Logger.WithField("ownerId", s.OwnerID).Info("scheduler stopped")
			return
		default:
		}

		if s.tickAllowed(ctx) {
			s.RunOnce(ctx, now())
		}

		sleep(ctx, s.Tick)
	}
}

// RunOnce processes one tick: poll due jobs, then acquire/run/settle each one
// sequentially. Jobs another instance locks first are simply skipped.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) {
	jobs, err := s.Store.PollDueJobs(ctx, now, s.Limit)
	if err != nil {
		config.LogError(s.Logger, "syncengine", "RunOnce", "poll due jobs", nil, err)
		return
	}

	for _, job := range jobs {
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job models.SyncJob) {
	now := s.now

	acquired, err := s.Store.AcquireLease(ctx, job.ID, s.OwnerID, now())
	if err != nil {
		config.LogError(s.Logger, "syncengine", "runJob", "acquire lease", job.ID, err)
		return
	}
	if !acquired {
		// Another instance got there first, or the job finished meanwhile.
		return
	}
	job.Status = models.JobStatusRunning
	job.LeaseOwner = s.OwnerID

	log := s.Logger.WithFields(logrus.Fields{
		"module":     "syncengine",
		"ownerId":    s.OwnerID,
		"businessId": job.BusinessId,
		"jobType":    string(job.JobType),
		"jobId":      job.ID,
	})

	handler, ok := s.Handlers[job.JobType]
	if !ok {
		// No retry benefit for an unknown job type; fail it for operator
		// visibility and let backoff keep it quiet.
		_, _ = s.Store.FailJob(ctx, job.ID, s.OwnerID, errUnknownJobType(job.JobType), now())
		log.Error("no handler registered for job type")
		return
	}

	start := now()
	runErr := handler.Run(ctx, job)
	elapsed := now().Sub(start)

	if runErr != nil {
		if errors.Is(runErr, ErrConnectionUnavailable) {
			// An intentional disconnect is not a failure; park the job so
			// the registry doesn't fill up with retrying red rows.
			if _, err := s.Store.ParkJob(ctx, job.ID, s.OwnerID, now().Add(DisconnectedRecheck)); err != nil {
				config.LogError(s.Logger, "syncengine", "runJob", "park job", job.ID, err)
			}
			log.Info("connection unavailable; job parked until reconnect")
			return
		}
		if _, err := s.Store.FailJob(ctx, job.ID, s.OwnerID, runErr, now()); err != nil {
			config.LogError(s.Logger, "syncengine", "runJob", "fail job", job.ID, err)
		}
		log.WithField("durationMs", elapsed.Milliseconds()).WithError(runErr).Error("sync job failed")
		return
	}

	settled, err := s.Store.CompleteJob(ctx, job.ID, s.OwnerID, now())
	if err != nil {
		config.LogError(s.Logger, "syncengine", "runJob", "complete job", job.ID, err)
		return
	}
	if !settled {
		// Lease expired mid-run and was reclaimed; the other owner's run is
		// authoritative now.
		log.Warn("lease lost before completion")
		return
	}
	log.WithField("durationMs", elapsed.Milliseconds()).Info("sync job completed")
}

func (s *Scheduler) tickAllowed(ctx context.Context) bool {
	if !s.TickDedupe {
		return true
	}
	locker := config.GetRedisLock()
	if locker == nil {
		return true
	}
	lock, err := locker.Obtain(ctx, "ledgersync:scheduler:tick", s.Tick/2, nil)
	if err != nil {
		if err == redislock.ErrNotObtained {
			return false
		}
		// Redis trouble must not stall syncing.
		return true
	}
	// Held until TTL; releasing early would let the next instance double-poll
	// within the same tick window.
	_ = lock
	return true
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if s.Sleep != nil {
		s.Sleep(ctx, d)
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

type errUnknownJobType models.SyncJobType

func (e errUnknownJobType) Error() string {
	return "no handler registered for job type " + string(e)
}
