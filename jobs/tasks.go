package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncPurge deletes terminal events past retention and resets
	// long-settled subject projections.
	TaskSyncPurge = "sync:purge"
	// TaskSyncReap recovers processing claims abandoned by crashed workers.
	TaskSyncReap = "sync:reap"
)

// SyncPurgePayload configures a retention sweep.
type SyncPurgePayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewSyncPurgeTask constructs an Asynq purge task.
func NewSyncPurgeTask(retentionHours int) (*asynq.Task, error) {
	if retentionHours <= 0 {
		return nil, fmt.Errorf("jobs: retention hours must be positive, got %d", retentionHours)
	}
	data, err := json.Marshal(SyncPurgePayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncPurge, data), nil
}

// SyncReapPayload configures a stale-claim sweep.
type SyncReapPayload struct {
	StaleMinutes int `json:"stale_minutes"`
}

// NewSyncReapTask constructs an Asynq reaper task.
func NewSyncReapTask(staleMinutes int) (*asynq.Task, error) {
	if staleMinutes <= 0 {
		return nil, fmt.Errorf("jobs: stale minutes must be positive, got %d", staleMinutes)
	}
	data, err := json.Marshal(SyncReapPayload{StaleMinutes: staleMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncReap, data), nil
}
