package syncqueue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for sync events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, company_id, subject_id, event_type, payload, status, priority,
retry_count, max_retries, COALESCE(last_error,''), created_at, scheduled_at, claimed_at, processed_at`

func scanEvent(row pgx.Row) (Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.CompanyID, &ev.SubjectID, &ev.EventType, &ev.Payload,
		&ev.Status, &ev.Priority, &ev.RetryCount, &ev.MaxRetries, &ev.LastError,
		&ev.CreatedAt, &ev.ScheduledAt, &ev.ClaimedAt, &ev.ProcessedAt)
	return ev, err
}

// Enqueue persists a new pending event, filling defaults for priority and
// retry bounds. The payload is stored as-is.
func (r *Repository) Enqueue(ctx context.Context, ev Event) (Event, error) {
	if ev.CompanyID == 0 || ev.SubjectID == 0 || ev.EventType == "" {
		return Event{}, ErrValidation
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Priority == 0 {
		ev.Priority = DefaultPriority
	}
	if ev.MaxRetries <= 0 {
		ev.MaxRetries = DefaultMaxRetries
	}
	ev.Status = StatusPending
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	if ev.ScheduledAt.IsZero() {
		ev.ScheduledAt = ev.CreatedAt
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO sync_events
(id, company_id, subject_id, event_type, payload, status, priority, retry_count, max_retries, created_at, scheduled_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,$8,$9,$10)`,
		ev.ID, ev.CompanyID, ev.SubjectID, ev.EventType, ev.Payload, ev.Status,
		ev.Priority, ev.MaxRetries, ev.CreatedAt, ev.ScheduledAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ClaimBatch atomically moves up to limit due pending events to processing and
// returns them. Two concurrent callers can never claim the same event: the
// candidate rows are locked with FOR UPDATE SKIP LOCKED and the status guard
// rejects rows another worker already transitioned.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, companyID *int64) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `UPDATE sync_events SET status='processing', claimed_at=now()
WHERE id IN (
	SELECT id FROM sync_events
	WHERE status='pending' AND scheduled_at <= now()
	  AND ($2::bigint IS NULL OR company_id = $2)
	ORDER BY priority, created_at
	FOR UPDATE SKIP LOCKED
	LIMIT $1
) AND status='pending'
RETURNING `+eventColumns, limit, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING emits rows in update order, not the subquery's order, so the
	// batch is re-sorted before workers see it.
	orderForDispatch(events)
	return events, nil
}

// orderForDispatch restores the dequeue order the claim subquery selected by:
// priority ascending, then oldest first.
func orderForDispatch(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Priority != events[j].Priority {
			return events[i].Priority < events[j].Priority
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
}

// Complete transitions a processing event to completed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sync_events
SET status='completed', processed_at=now(), claimed_at=NULL, last_error=NULL
WHERE id=$1 AND status='processing'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// FailAndReschedule records a failed attempt on a processing event. When the
// retry budget still has room the event returns to pending at nextAttempt;
// otherwise it becomes terminally failed. The resulting status and retry count
// are returned so callers can reconcile the subject projection.
func (r *Repository) FailAndReschedule(ctx context.Context, id uuid.UUID, lastError string, nextAttempt time.Time) (Status, int, error) {
	var status Status
	var retryCount int
	err := r.pool.QueryRow(ctx, `UPDATE sync_events SET
	retry_count = retry_count + 1,
	last_error = $2,
	claimed_at = NULL,
	status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
	scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at ELSE $3 END,
	processed_at = CASE WHEN retry_count + 1 >= max_retries THEN now() ELSE NULL END
WHERE id=$1 AND status='processing'
RETURNING status, retry_count`, id, lastError, nextAttempt).Scan(&status, &retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, ErrInvalidState
	}
	if err != nil {
		return "", 0, err
	}
	return status, retryCount, nil
}

// FailTerminal marks a processing event as failed without touching the retry
// count. Used for fatal classifications where rescheduling is pointless.
func (r *Repository) FailTerminal(ctx context.Context, id uuid.UUID, lastError string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sync_events
SET status='failed', processed_at=now(), claimed_at=NULL, last_error=$2
WHERE id=$1 AND status='processing'`, id, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Release returns a processing event to pending without counting an attempt.
// The event becomes claimable again at scheduledAt.
func (r *Repository) Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sync_events
SET status='pending', claimed_at=NULL, scheduled_at=$2
WHERE id=$1 AND status='processing'`, id, scheduledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ListDue returns pending events for a company ordered oldest first, optionally
// restricted to events created after since.
func (r *Repository) ListDue(ctx context.Context, companyID int64, since *time.Time, limit int) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM sync_events
WHERE company_id=$1 AND status='pending'
  AND ($2::timestamptz IS NULL OR created_at > $2)
ORDER BY created_at
LIMIT $3`, companyID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AcknowledgeSubjects completes all unresolved events for the given subjects
// and returns the distinct subjects that actually transitioned. Acknowledging
// a subject with no unresolved events is a no-op, which makes repeated acks
// idempotent.
func (r *Repository) AcknowledgeSubjects(ctx context.Context, companyID int64, subjectIDs []int64, ackAt time.Time) ([]int64, error) {
	if len(subjectIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `UPDATE sync_events
SET status='completed', processed_at=$3, claimed_at=NULL, last_error=NULL
WHERE company_id=$1 AND subject_id = ANY($2) AND status IN ('pending','processing')
RETURNING subject_id`, companyID, subjectIDs, ackAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[int64]struct{})
	var acked []int64
	for rows.Next() {
		var subjectID int64
		if err := rows.Scan(&subjectID); err != nil {
			return nil, err
		}
		if _, ok := seen[subjectID]; ok {
			continue
		}
		seen[subjectID] = struct{}{}
		acked = append(acked, subjectID)
	}
	return acked, rows.Err()
}

// Stats returns queue counts, optionally scoped to one company.
func (r *Repository) Stats(ctx context.Context, companyID *int64) (Stats, error) {
	var s Stats
	err := r.pool.QueryRow(ctx, `SELECT
	COUNT(*) FILTER (WHERE status='pending'),
	COUNT(*) FILTER (WHERE status='processing'),
	COUNT(*) FILTER (WHERE status='completed'),
	COUNT(*) FILTER (WHERE status='failed'),
	COUNT(*)
FROM sync_events
WHERE ($1::bigint IS NULL OR company_id = $1)`, companyID).
		Scan(&s.Pending, &s.Processing, &s.Completed, &s.Failed, &s.Total)
	return s, err
}

// PurgeTerminal deletes completed and failed events resolved before the cutoff.
// Pending and processing rows are never touched.
func (r *Repository) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_events
WHERE status IN ('completed','failed') AND processed_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReapStale returns processing events whose claim is older than the threshold
// back to pending so a crashed worker's claims are recovered.
func (r *Repository) ReapStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sync_events
SET status='pending', claimed_at=NULL, scheduled_at=now()
WHERE status='processing' AND claimed_at < $1`, claimedBefore)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Get fetches a single event.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Event, error) {
	ev, err := scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM sync_events WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}
