// Package queuetest provides an in-memory sync event store with the same
// transition semantics as the PostgreSQL repository, for use in tests.
package queuetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
)

// Store is a mutex-guarded map store. The claim operation holds the lock for
// the whole select-and-transition step, matching the atomicity of the SQL
// conditional update.
type Store struct {
	mu     sync.Mutex
	events map[uuid.UUID]*syncqueue.Event
	now    func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		events: make(map[uuid.UUID]*syncqueue.Event),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store clock.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Enqueue inserts a new pending event.
func (s *Store) Enqueue(ctx context.Context, ev syncqueue.Event) (syncqueue.Event, error) {
	if ev.CompanyID == 0 || ev.SubjectID == 0 || ev.EventType == "" {
		return syncqueue.Event{}, syncqueue.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Priority == 0 {
		ev.Priority = syncqueue.DefaultPriority
	}
	if ev.MaxRetries <= 0 {
		ev.MaxRetries = syncqueue.DefaultMaxRetries
	}
	ev.Status = syncqueue.StatusPending
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	if ev.ScheduledAt.IsZero() {
		ev.ScheduledAt = ev.CreatedAt
	}
	stored := ev
	s.events[ev.ID] = &stored
	return ev, nil
}

// ClaimBatch claims up to limit due pending events ordered by (priority,
// created_at).
func (s *Store) ClaimBatch(ctx context.Context, limit int, companyID *int64) ([]syncqueue.Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var due []*syncqueue.Event
	for _, ev := range s.events {
		if ev.Status != syncqueue.StatusPending || ev.ScheduledAt.After(now) {
			continue
		}
		if companyID != nil && ev.CompanyID != *companyID {
			continue
		}
		due = append(due, ev)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]syncqueue.Event, 0, len(due))
	for _, ev := range due {
		ev.Status = syncqueue.StatusProcessing
		claimedAt := now
		ev.ClaimedAt = &claimedAt
		claimed = append(claimed, *ev)
	}
	return claimed, nil
}

// Complete transitions processing to completed.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status != syncqueue.StatusProcessing {
		return syncqueue.ErrInvalidState
	}
	now := s.now()
	ev.Status = syncqueue.StatusCompleted
	ev.ProcessedAt = &now
	ev.ClaimedAt = nil
	ev.LastError = ""
	return nil
}

// FailAndReschedule counts a failed attempt, rescheduling or terminally
// failing depending on the retry budget.
func (s *Store) FailAndReschedule(ctx context.Context, id uuid.UUID, lastError string, nextAttempt time.Time) (syncqueue.Status, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status != syncqueue.StatusProcessing {
		return "", 0, syncqueue.ErrInvalidState
	}
	ev.RetryCount++
	ev.LastError = lastError
	ev.ClaimedAt = nil
	if ev.RetryCount >= ev.MaxRetries {
		now := s.now()
		ev.Status = syncqueue.StatusFailed
		ev.ProcessedAt = &now
	} else {
		ev.Status = syncqueue.StatusPending
		ev.ScheduledAt = nextAttempt
		ev.ProcessedAt = nil
	}
	return ev.Status, ev.RetryCount, nil
}

// FailTerminal marks a processing event failed without counting an attempt.
func (s *Store) FailTerminal(ctx context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status != syncqueue.StatusProcessing {
		return syncqueue.ErrInvalidState
	}
	now := s.now()
	ev.Status = syncqueue.StatusFailed
	ev.ProcessedAt = &now
	ev.ClaimedAt = nil
	ev.LastError = lastError
	return nil
}

// Release returns a processing event to pending without counting an attempt.
func (s *Store) Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok || ev.Status != syncqueue.StatusProcessing {
		return syncqueue.ErrInvalidState
	}
	ev.Status = syncqueue.StatusPending
	ev.ClaimedAt = nil
	ev.ScheduledAt = scheduledAt
	return nil
}

// ListDue returns pending events for the company ordered oldest first.
func (s *Store) ListDue(ctx context.Context, companyID int64, since *time.Time, limit int) ([]syncqueue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []syncqueue.Event
	for _, ev := range s.events {
		if ev.CompanyID != companyID || ev.Status != syncqueue.StatusPending {
			continue
		}
		if since != nil && !ev.CreatedAt.After(*since) {
			continue
		}
		due = append(due, *ev)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AcknowledgeSubjects completes unresolved events for the given subjects and
// returns the distinct subjects that transitioned.
func (s *Store) AcknowledgeSubjects(ctx context.Context, companyID int64, subjectIDs []int64, ackAt time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		wanted[id] = struct{}{}
	}
	seen := make(map[int64]struct{})
	var acked []int64
	for _, ev := range s.events {
		if ev.CompanyID != companyID {
			continue
		}
		if _, ok := wanted[ev.SubjectID]; !ok {
			continue
		}
		if ev.Status != syncqueue.StatusPending && ev.Status != syncqueue.StatusProcessing {
			continue
		}
		at := ackAt
		ev.Status = syncqueue.StatusCompleted
		ev.ProcessedAt = &at
		ev.ClaimedAt = nil
		ev.LastError = ""
		if _, ok := seen[ev.SubjectID]; !ok {
			seen[ev.SubjectID] = struct{}{}
			acked = append(acked, ev.SubjectID)
		}
	}
	return acked, nil
}

// Stats aggregates counts by status.
func (s *Store) Stats(ctx context.Context, companyID *int64) (syncqueue.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats syncqueue.Stats
	for _, ev := range s.events {
		if companyID != nil && ev.CompanyID != *companyID {
			continue
		}
		stats.Total++
		switch ev.Status {
		case syncqueue.StatusPending:
			stats.Pending++
		case syncqueue.StatusProcessing:
			stats.Processing++
		case syncqueue.StatusCompleted:
			stats.Completed++
		case syncqueue.StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// PurgeTerminal deletes terminal events resolved before the cutoff.
func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for id, ev := range s.events {
		if !ev.Terminal() || ev.ProcessedAt == nil || !ev.ProcessedAt.Before(olderThan) {
			continue
		}
		delete(s.events, id)
		purged++
	}
	return purged, nil
}

// ReapStale resets stale processing claims back to pending.
func (s *Store) ReapStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped int64
	for _, ev := range s.events {
		if ev.Status != syncqueue.StatusProcessing || ev.ClaimedAt == nil || !ev.ClaimedAt.Before(claimedBefore) {
			continue
		}
		ev.Status = syncqueue.StatusPending
		ev.ClaimedAt = nil
		ev.ScheduledAt = s.now()
		reaped++
	}
	return reaped, nil
}

// Get fetches a single event.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (syncqueue.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return syncqueue.Event{}, syncqueue.ErrNotFound
	}
	return *ev, nil
}
