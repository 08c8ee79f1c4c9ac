package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// PurgeStore deletes terminal events past retention.
type PurgeStore interface {
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeStatus resets long-settled subject projections.
type PurgeStatus interface {
	ResetAllSynced(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeJob runs the retention sweep. It only ever touches terminal events and
// settled projections; the hot path is unaffected.
type PurgeJob struct {
	store  PurgeStore
	status PurgeStatus
	logger *slog.Logger
}

// NewPurgeJob constructs the job.
func NewPurgeJob(store PurgeStore, status PurgeStatus, logger *slog.Logger) *PurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeJob{store: store, status: status, logger: logger}
}

// Handle processes one purge task.
func (j *PurgeJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SyncPurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 24 * 30
	}
	cutoff := time.Now().UTC().Add(-time.Duration(payload.RetentionHours) * time.Hour)

	purged, err := j.store.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return err
	}
	reset, err := j.status.ResetAllSynced(ctx, cutoff)
	if err != nil {
		return err
	}
	j.logger.Info("retention sweep finished",
		slog.Int64("events_purged", purged),
		slog.Int64("subjects_reset", reset),
		slog.Time("cutoff", cutoff))
	return nil
}
