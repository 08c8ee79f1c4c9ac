package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
)

// ConfigPort looks up company sync configuration.
type ConfigPort interface {
	Get(ctx context.Context, companyID int64) (company.SyncConfig, error)
}

// QueuePort enqueues durable sync events.
type QueuePort interface {
	Enqueue(ctx context.Context, ev syncqueue.Event) (syncqueue.Event, error)
}

// DispatcherPort pushes events to webhook endpoints.
type DispatcherPort interface {
	Deliver(ctx context.Context, cfg company.SyncConfig, env webhook.Envelope) error
}

// StatusPort writes the subject projection.
type StatusPort interface {
	Upsert(ctx context.Context, st SubjectSyncStatus) error
}

// PayloadBuilder produces the outbound message body. It is invoked once per
// submit; the result is stored verbatim on the event.
type PayloadBuilder func(ctx context.Context) (json.RawMessage, error)

// Service routes approved amendments to push or pull delivery and keeps the
// subject projection current.
type Service struct {
	configs    ConfigPort
	queue      QueuePort
	dispatcher DispatcherPort
	status     StatusPort
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs the orchestrator.
func NewService(configs ConfigPort, queue QueuePort, dispatcher DispatcherPort, status StatusPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		configs:    configs,
		queue:      queue,
		dispatcher: dispatcher,
		status:     status,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitInput describes one sync-worthy domain event.
type SubmitInput struct {
	SubjectID    int64
	CompanyID    int64
	EventType    string
	BuildPayload PayloadBuilder
}

// Outcome reports how a submit was handled.
type Outcome struct {
	Delivered bool
	EventID   uuid.UUID
}

// Submit looks up the company configuration and either delivers synchronously
// (realtime mode) or enqueues for the worker pool. Any realtime failure falls
// back to the durable queue: delivery durability wins over latency. Only an
// enqueue failure is surfaced to the caller, as a retryable ErrEnqueue.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Outcome, error) {
	if in.SubjectID == 0 || in.CompanyID == 0 || in.EventType == "" || in.BuildPayload == nil {
		return Outcome{}, syncqueue.ErrValidation
	}
	payload, err := in.BuildPayload(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("syncer: build payload: %w", err)
	}

	cfg, err := s.configs.Get(ctx, in.CompanyID)
	if err != nil {
		// Missing or unreadable config is not a reason to drop the event.
		s.logger.Warn("sync config lookup failed, queueing event",
			slog.Int64("company_id", in.CompanyID),
			slog.Any("error", err))
		return s.enqueue(ctx, in, payload)
	}
	if !cfg.Enabled {
		s.writeStatus(ctx, SubjectSyncStatus{
			SubjectID:  in.SubjectID,
			CompanyID:  in.CompanyID,
			Status:     SubjectNotRequired,
			ResolvedAt: s.now(),
		})
		return Outcome{}, nil
	}

	if cfg.Mode == company.ModeRealtime && cfg.PushConfigured() {
		env := webhook.NewEnvelope(in.CompanyID, in.EventType, payload)
		deliverErr := s.dispatcher.Deliver(ctx, cfg, env)
		if deliverErr == nil {
			now := s.now()
			s.writeStatus(ctx, SubjectSyncStatus{
				SubjectID:  in.SubjectID,
				CompanyID:  in.CompanyID,
				Status:     SubjectSynced,
				Attempts:   1,
				LastSyncAt: &now,
				ResolvedAt: now,
			})
			return Outcome{Delivered: true}, nil
		}
		s.logger.Warn("realtime delivery failed, queueing event",
			slog.Int64("company_id", in.CompanyID),
			slog.Int64("subject_id", in.SubjectID),
			slog.Any("error", deliverErr))
	}

	return s.enqueue(ctx, in, payload)
}

func (s *Service) enqueue(ctx context.Context, in SubmitInput, payload json.RawMessage) (Outcome, error) {
	ev, err := s.queue.Enqueue(ctx, syncqueue.Event{
		CompanyID: in.CompanyID,
		SubjectID: in.SubjectID,
		EventType: in.EventType,
		Payload:   payload,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	s.writeStatus(ctx, SubjectSyncStatus{
		SubjectID:  in.SubjectID,
		CompanyID:  in.CompanyID,
		Status:     SubjectPending,
		ResolvedAt: s.now(),
	})
	return Outcome{EventID: ev.ID}, nil
}

// ReconcileInput reports the outcome of an event resolution attempt.
type ReconcileInput struct {
	SubjectID  int64
	CompanyID  int64
	Success    bool
	Terminal   bool
	Attempts   int
	Error      string
	ResolvedAt time.Time
}

// Reconcile updates the subject projection after a queue attempt. Concurrent
// reconciles for different events of the same subject are ordered by
// ResolvedAt in the repository, not by call order.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) error {
	st := SubjectSyncStatus{
		SubjectID:  in.SubjectID,
		CompanyID:  in.CompanyID,
		Attempts:   in.Attempts,
		Error:      in.Error,
		ResolvedAt: in.ResolvedAt,
	}
	switch {
	case in.Success:
		st.Status = SubjectSynced
		at := in.ResolvedAt
		st.LastSyncAt = &at
		st.Error = ""
	case in.Terminal:
		st.Status = SubjectFailed
	default:
		st.Status = SubjectPending
	}
	return s.status.Upsert(ctx, st)
}

// writeStatus records the projection; failures are logged, never propagated,
// so a projection hiccup cannot fail the originating business transaction.
func (s *Service) writeStatus(ctx context.Context, st SubjectSyncStatus) {
	if err := s.status.Upsert(ctx, st); err != nil {
		s.logger.Error("write subject sync status",
			slog.Int64("subject_id", st.SubjectID),
			slog.Any("error", err))
	}
}
