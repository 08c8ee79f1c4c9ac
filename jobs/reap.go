package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ReapStore recovers abandoned processing claims.
type ReapStore interface {
	ReapStale(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// ReapJob resets processing events whose claim outlived the stale threshold,
// so a crashed worker's events become claimable again.
type ReapJob struct {
	store  ReapStore
	logger *slog.Logger
}

// NewReapJob constructs the job.
func NewReapJob(store ReapStore, logger *slog.Logger) *ReapJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReapJob{store: store, logger: logger}
}

// Handle processes one reap task.
func (j *ReapJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SyncReapPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.StaleMinutes <= 0 {
		payload.StaleMinutes = 15
	}
	cutoff := time.Now().UTC().Add(-time.Duration(payload.StaleMinutes) * time.Minute)

	reaped, err := j.store.ReapStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if reaped > 0 {
		j.logger.Warn("recovered stale claims", slog.Int64("events", reaped), slog.Time("cutoff", cutoff))
	}
	return nil
}
