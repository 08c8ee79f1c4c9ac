package polling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/syncer"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
)

// Limits for the updates listing.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// StorePort is the queue surface the gateway reads and acknowledges against.
type StorePort interface {
	ListDue(ctx context.Context, companyID int64, since *time.Time, limit int) ([]syncqueue.Event, error)
	AcknowledgeSubjects(ctx context.Context, companyID int64, subjectIDs []int64, ackAt time.Time) ([]int64, error)
	Stats(ctx context.Context, companyID *int64) (syncqueue.Stats, error)
}

// StatusPort reads and maintains the subject projection.
type StatusPort interface {
	Upsert(ctx context.Context, st syncer.SubjectSyncStatus) error
	Get(ctx context.Context, subjectID int64) (syncer.SubjectSyncStatus, error)
	Summary(ctx context.Context, companyID int64) (syncer.StatusSummary, error)
	ResetSynced(ctx context.Context, companyID int64, olderThan time.Time) (int64, error)
}

// ConfigPort resolves company configuration for connection tests.
type ConfigPort interface {
	Get(ctx context.Context, companyID int64) (company.SyncConfig, error)
}

// TesterPort validates a webhook endpoint.
type TesterPort interface {
	TestConnection(ctx context.Context, cfg company.SyncConfig) error
}

// Update is the projection of a pending event returned to polling clients.
// UpdateID is the event's UUID, stable across repeated polls.
type Update struct {
	UpdateID  uuid.UUID       `json:"update_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Subject   json.RawMessage `json:"subject"`
	Metadata  UpdateMetadata  `json:"sync_metadata"`
}

// UpdateMetadata carries delivery bookkeeping for the client.
type UpdateMetadata struct {
	SubjectID  int64     `json:"subject_id"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	DueAt      time.Time `json:"due_at"`
}

// Service is the pull-based gateway for ERP clients.
type Service struct {
	store   StorePort
	status  StatusPort
	configs ConfigPort
	tester  TesterPort
	now     func() time.Time
}

// NewService constructs the gateway.
func NewService(store StorePort, status StatusPort, configs ConfigPort, tester TesterPort) *Service {
	return &Service{
		store:   store,
		status:  status,
		configs: configs,
		tester:  tester,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ListDue returns pending updates for the company, oldest first. limit is
// clamped to [1, MaxLimit]; zero selects the default.
func (s *Service) ListDue(ctx context.Context, companyID int64, since *time.Time, limit int) ([]Update, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	events, err := s.store.ListDue(ctx, companyID, since, limit)
	if err != nil {
		return nil, err
	}
	updates := make([]Update, 0, len(events))
	for _, ev := range events {
		updates = append(updates, Update{
			UpdateID:  ev.ID,
			EventType: ev.EventType,
			Timestamp: ev.CreatedAt,
			Subject:   ev.Payload,
			Metadata: UpdateMetadata{
				SubjectID:  ev.SubjectID,
				Priority:   ev.Priority,
				RetryCount: ev.RetryCount,
				DueAt:      ev.ScheduledAt,
			},
		})
	}
	return updates, nil
}

// Acknowledge marks the subjects as synced. Re-acknowledging an already
// settled subject is a no-op, so the returned count only reflects subjects
// that actually transitioned. Projection writes are best-effort; a projection
// hiccup never fails the ack.
func (s *Service) Acknowledge(ctx context.Context, companyID int64, subjectIDs []int64, ackAt *time.Time) (int64, error) {
	at := s.now()
	if ackAt != nil {
		at = ackAt.UTC()
	}
	acked, err := s.store.AcknowledgeSubjects(ctx, companyID, subjectIDs, at)
	if err != nil {
		return 0, err
	}
	for _, subjectID := range acked {
		_ = s.status.Upsert(ctx, syncer.SubjectSyncStatus{
			SubjectID:  subjectID,
			CompanyID:  companyID,
			Status:     syncer.SubjectSynced,
			LastSyncAt: &at,
			ResolvedAt: at,
		})
	}
	return int64(len(acked)), nil
}

// StatusSummary aggregates the subject projection for one company.
func (s *Service) StatusSummary(ctx context.Context, companyID int64) (syncer.StatusSummary, error) {
	return s.status.Summary(ctx, companyID)
}

// SubjectStatus returns the projection for a single subject.
func (s *Service) SubjectStatus(ctx context.Context, subjectID int64) (syncer.SubjectSyncStatus, error) {
	return s.status.Get(ctx, subjectID)
}

// QueueStats returns queue counts, optionally scoped to one company.
func (s *Service) QueueStats(ctx context.Context, companyID *int64) (syncqueue.Stats, error) {
	return s.store.Stats(ctx, companyID)
}

// PurgeSynced resets fully settled subjects older than the cutoff back to
// not_required.
func (s *Service) PurgeSynced(ctx context.Context, companyID int64, olderThan time.Time) (int64, error) {
	return s.status.ResetSynced(ctx, companyID, olderThan)
}

// TestWebhook pings the company's configured endpoint.
func (s *Service) TestWebhook(ctx context.Context, companyID int64) error {
	cfg, err := s.configs.Get(ctx, companyID)
	if err != nil {
		return err
	}
	return s.tester.TestConnection(ctx, cfg)
}
