package syncer

import (
	"errors"
	"time"
)

// SubjectStatus is the sync state mirrored onto the purchase order record.
type SubjectStatus string

const (
	SubjectNotRequired SubjectStatus = "not_required"
	SubjectPending     SubjectStatus = "pending"
	SubjectSynced      SubjectStatus = "synced"
	SubjectFailed      SubjectStatus = "failed"
)

// SubjectSyncStatus is the per-subject projection read by ERP clients.
// Exactly one row exists per subject; ResolvedAt orders concurrent updates
// so the projection always reflects the most recently resolved event.
type SubjectSyncStatus struct {
	SubjectID  int64
	CompanyID  int64
	Status     SubjectStatus
	Attempts   int
	LastSyncAt *time.Time
	Error      string
	ResolvedAt time.Time
}

// StatusSummary aggregates the projection for one company.
type StatusSummary struct {
	Pending    int64      `json:"pending"`
	Synced     int64      `json:"synced"`
	Failed     int64      `json:"failed"`
	Total      int64      `json:"total"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

var (
	// ErrNotFound indicates no sync status exists for the subject.
	ErrNotFound = errors.New("syncer: subject sync status not found")
	// ErrEnqueue indicates the durable queue rejected the event. The caller's
	// business transaction must not be rolled back because of it; retrying the
	// submit is safe.
	ErrEnqueue = errors.New("syncer: enqueue failed")
)
