package syncengine

import (
	"context"
	"os"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/config"
	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/sirupsen/logrus"
)

// syncCompletedEvent is published after each successful pull run so downstream
// consumers (notifications, analytics) can react without polling the ledger.
type syncCompletedEvent struct {
	BusinessId  string             `json:"business_id"`
	JobType     models.SyncJobType `json:"job_type"`
	RecordCount int                `json:"record_count"`
	Cursor      string             `json:"cursor"`
	CompletedAt time.Time          `json:"completed_at"`
}

// publishSyncCompleted emits the sync.completed event when SYNC_EVENTS_TOPIC
// is configured. Publishing is best effort; a failed publish is logged and
// never fails the job.
func publishSyncCompleted(ctx context.Context, job models.SyncJob, recordCount int) {
	topic := os.Getenv("SYNC_EVENTS_TOPIC")
	if topic == "" {
		return
	}

	event := syncCompletedEvent{
		BusinessId:  job.BusinessId,
		JobType:     job.JobType,
		RecordCount: recordCount,
		Cursor:      job.Cursor,
		CompletedAt: time.Now().UTC(),
	}
	if _, err := config.PublishJSON(ctx, topic, event); err != nil {
		config.LogError(logrus.StandardLogger(), "syncengine", "publishSyncCompleted",
			"failed to publish sync completed event", event, err)
	}
}
