package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type memoryPurgeStore struct {
	cutoff time.Time
	purged int64
	err    error
}

func (m *memoryPurgeStore) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	m.cutoff = olderThan
	return m.purged, m.err
}

type memoryPurgeStatus struct {
	cutoff time.Time
	reset  int64
	err    error
}

func (m *memoryPurgeStatus) ResetAllSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	m.cutoff = olderThan
	return m.reset, m.err
}

type memoryReapStore struct {
	cutoff time.Time
	reaped int64
	err    error
}

func (m *memoryReapStore) ReapStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	m.cutoff = claimedBefore
	return m.reaped, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSyncPurgeTaskValidatesRetention(t *testing.T) {
	_, err := NewSyncPurgeTask(0)
	require.Error(t, err)
	_, err = NewSyncPurgeTask(-5)
	require.Error(t, err)

	task, err := NewSyncPurgeTask(720)
	require.NoError(t, err)
	require.Equal(t, TaskSyncPurge, task.Type())

	var payload SyncPurgePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 720, payload.RetentionHours)
}

func TestNewSyncReapTaskValidatesThreshold(t *testing.T) {
	_, err := NewSyncReapTask(0)
	require.Error(t, err)

	task, err := NewSyncReapTask(15)
	require.NoError(t, err)
	require.Equal(t, TaskSyncReap, task.Type())
}

func TestPurgeJobSweepsWithCutoff(t *testing.T) {
	store := &memoryPurgeStore{purged: 12}
	status := &memoryPurgeStatus{reset: 3}
	job := NewPurgeJob(store, status, testLogger())

	task, err := NewSyncPurgeTask(720)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	wantCutoff := time.Now().UTC().Add(-720 * time.Hour)
	require.WithinDuration(t, wantCutoff, store.cutoff, time.Minute)
	require.Equal(t, store.cutoff, status.cutoff)
}

func TestPurgeJobDefaultsRetention(t *testing.T) {
	store := &memoryPurgeStore{}
	status := &memoryPurgeStatus{}
	job := NewPurgeJob(store, status, testLogger())

	task := asynq.NewTask(TaskSyncPurge, []byte(`{}`))
	require.NoError(t, job.Handle(context.Background(), task))

	wantCutoff := time.Now().UTC().Add(-720 * time.Hour)
	require.WithinDuration(t, wantCutoff, store.cutoff, time.Minute)
}

func TestPurgeJobPropagatesStoreError(t *testing.T) {
	store := &memoryPurgeStore{err: errors.New("deadlock detected")}
	job := NewPurgeJob(store, &memoryPurgeStatus{}, testLogger())

	task, err := NewSyncPurgeTask(720)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestPurgeJobRejectsMalformedPayload(t *testing.T) {
	job := NewPurgeJob(&memoryPurgeStore{}, &memoryPurgeStatus{}, testLogger())
	task := asynq.NewTask(TaskSyncPurge, []byte(`{broken`))
	require.Error(t, job.Handle(context.Background(), task))
}

func TestReapJobSweepsWithCutoff(t *testing.T) {
	store := &memoryReapStore{reaped: 2}
	job := NewReapJob(store, testLogger())

	task, err := NewSyncReapTask(15)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	wantCutoff := time.Now().UTC().Add(-15 * time.Minute)
	require.WithinDuration(t, wantCutoff, store.cutoff, time.Minute)
}

func TestReapJobDefaultsThreshold(t *testing.T) {
	store := &memoryReapStore{}
	job := NewReapJob(store, testLogger())

	task := asynq.NewTask(TaskSyncReap, []byte(`{}`))
	require.NoError(t, job.Handle(context.Background(), task))

	wantCutoff := time.Now().UTC().Add(-15 * time.Minute)
	require.WithinDuration(t, wantCutoff, store.cutoff, time.Minute)
}

func TestReapJobPropagatesStoreError(t *testing.T) {
	store := &memoryReapStore{err: errors.New("connection refused")}
	job := NewReapJob(store, testLogger())

	task, err := NewSyncReapTask(15)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}
