package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
)

// memJobStore mirrors the registry semantics in memory so the scheduler and
// workers can be exercised without MySQL. The lease rules are the same:
// acquire succeeds only when the job is not running or its lease is stale,
// and every settle/cursor write is guarded by lease ownership.
type memJobStore struct {
	mu           sync.Mutex
	leaseTimeout time.Duration
	syncInterval time.Duration
	seq          uint
	jobs         map[uint]*models.SyncJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{
		leaseTimeout: DefaultLeaseTimeout,
		syncInterval: DefaultSyncInterval,
		jobs:         map[uint]*models.SyncJob{},
	}
}

func (s *memJobStore) addJob(job models.SyncJob) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = s.seq
	if job.Status == "" {
		job.Status = models.JobStatusIdle
	}
	if job.Cursor == "" {
		job.Cursor = models.EpochCursor
	}
	s.jobs[job.ID] = &job
	return job.ID
}

func (s *memJobStore) get(id uint) models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memJobStore) EnqueueDefaultJobs(ctx context.Context, businessId string, connectionID uint, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, jobType := range models.AllJobTypes {
		exists := false
		for _, j := range s.jobs {
			if j.BusinessId == businessId && j.JobType == jobType {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.seq++
		s.jobs[s.seq] = &models.SyncJob{
			ID:           s.seq,
			BusinessId:   businessId,
			JobType:      jobType,
			ConnectionId: connectionID,
			Cursor:       models.EpochCursor,
			Status:       models.JobStatusIdle,
			TriggeredBy:  models.SyncTriggeredSchedule,
			NextRunAt:    now,
		}
	}
	return nil
}

func (s *memJobStore) PollDueJobs(ctx context.Context, now time.Time, limit int) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staleBefore := now.Add(-s.leaseTimeout)
	var due []models.SyncJob
	for _, j := range s.jobs {
		stale := j.Status == models.JobStatusRunning &&
			j.LeaseAcquiredAt != nil && j.LeaseAcquiredAt.Before(staleBefore)
		if !j.NextRunAt.After(now) || stale {
			due = append(due, *j)
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *memJobStore) AcquireLease(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.NextRunAt.After(now) {
		return false, nil
	}
	staleBefore := now.Add(-s.leaseTimeout)
	if j.Status == models.JobStatusRunning &&
		j.LeaseAcquiredAt != nil && !j.LeaseAcquiredAt.Before(staleBefore) {
		return false, nil
	}
	acquiredAt := now
	j.Status = models.JobStatusRunning
	j.LeaseOwner = ownerID
	j.LeaseAcquiredAt = &acquiredAt
	j.LastRunAt = &acquiredAt
	return true, nil
}

func (s *memJobStore) UpdateCursor(ctx context.Context, jobID uint, ownerID string, cursor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusRunning || j.LeaseOwner != ownerID {
		return false, nil
	}
	j.Cursor = cursor
	return true, nil
}

func (s *memJobStore) CompleteJob(ctx context.Context, jobID uint, ownerID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusRunning || j.LeaseOwner != ownerID {
		return false, nil
	}
	j.Status = models.JobStatusIdle
	j.NextRunAt = now.Add(s.syncInterval)
	j.RetryCount = 0
	j.LastError = ""
	j.LeaseOwner = ""
	j.TriggeredBy = models.SyncTriggeredSchedule
	return true, nil
}

func (s *memJobStore) ParkJob(ctx context.Context, jobID uint, ownerID string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusRunning || j.LeaseOwner != ownerID {
		return false, nil
	}
	j.Status = models.JobStatusIdle
	j.NextRunAt = until
	j.LastError = ""
	j.LeaseOwner = ""
	return true, nil
}

func (s *memJobStore) FailJob(ctx context.Context, jobID uint, ownerID string, jobErr error, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != models.JobStatusRunning || j.LeaseOwner != ownerID {
		return false, nil
	}
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	j.Status = models.JobStatusFailed
	j.NextRunAt = now.Add(Backoff(j.RetryCount))
	j.RetryCount++
	j.LastError = msg
	j.LeaseOwner = ""
	return true, nil
}

func (s *memJobStore) ForceRun(ctx context.Context, businessId string, resetCursor bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.BusinessId != businessId || j.Status == models.JobStatusRunning {
			continue
		}
		j.NextRunAt = now
		j.RetryCount = 0
		j.TriggeredBy = models.SyncTriggeredManual
		if resetCursor {
			j.Cursor = models.EpochCursor
		}
	}
	return nil
}

func (s *memJobStore) ListJobs(ctx context.Context, businessId string) ([]models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []models.SyncJob
	for _, j := range s.jobs {
		if j.BusinessId == businessId {
			jobs = append(jobs, *j)
		}
	}
	return jobs, nil
}
