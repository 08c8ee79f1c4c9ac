package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusRepository persists the per-subject sync projection.
type StatusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository constructs a repository.
func NewStatusRepository(pool *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{pool: pool}
}

// Upsert writes the projection with last-write-wins ordering on resolved_at:
// a reconcile racing an older event's resolution never clobbers a newer one.
func (r *StatusRepository) Upsert(ctx context.Context, st SubjectSyncStatus) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO po_sync_status
(subject_id, company_id, sync_status, sync_attempts, last_sync_at, sync_error, resolved_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7)
ON CONFLICT (subject_id) DO UPDATE SET
	company_id = EXCLUDED.company_id,
	sync_status = EXCLUDED.sync_status,
	sync_attempts = EXCLUDED.sync_attempts,
	last_sync_at = COALESCE(EXCLUDED.last_sync_at, po_sync_status.last_sync_at),
	sync_error = EXCLUDED.sync_error,
	resolved_at = EXCLUDED.resolved_at
WHERE po_sync_status.resolved_at <= EXCLUDED.resolved_at`,
		st.SubjectID, st.CompanyID, st.Status, st.Attempts, st.LastSyncAt, st.Error, st.ResolvedAt)
	return err
}

// ResetAllSynced is the cross-company variant used by the retention job.
func (r *StatusRepository) ResetAllSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE po_sync_status
SET sync_status='not_required', sync_error=NULL
WHERE sync_status='synced' AND last_sync_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Get fetches the projection for one subject.
func (r *StatusRepository) Get(ctx context.Context, subjectID int64) (SubjectSyncStatus, error) {
	var st SubjectSyncStatus
	err := r.pool.QueryRow(ctx, `SELECT subject_id, company_id, sync_status, sync_attempts, last_sync_at, COALESCE(sync_error,''), resolved_at
FROM po_sync_status WHERE subject_id=$1`, subjectID).
		Scan(&st.SubjectID, &st.CompanyID, &st.Status, &st.Attempts, &st.LastSyncAt, &st.Error, &st.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SubjectSyncStatus{}, ErrNotFound
	}
	if err != nil {
		return SubjectSyncStatus{}, err
	}
	return st, nil
}

// Summary aggregates the projection for one company.
func (r *StatusRepository) Summary(ctx context.Context, companyID int64) (StatusSummary, error) {
	var s StatusSummary
	err := r.pool.QueryRow(ctx, `SELECT
	COUNT(*) FILTER (WHERE sync_status='pending'),
	COUNT(*) FILTER (WHERE sync_status='synced'),
	COUNT(*) FILTER (WHERE sync_status='failed'),
	COUNT(*),
	MAX(last_sync_at)
FROM po_sync_status WHERE company_id=$1`, companyID).
		Scan(&s.Pending, &s.Synced, &s.Failed, &s.Total, &s.LastSyncAt)
	return s, err
}

// ResetSynced flips fully settled subjects back to not_required past the
// retention cutoff, keeping history without deleting rows.
func (r *StatusRepository) ResetSynced(ctx context.Context, companyID int64, olderThan time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE po_sync_status
SET sync_status='not_required', sync_error=NULL
WHERE company_id=$1 AND sync_status='synced' AND last_sync_at < $2`, companyID, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
