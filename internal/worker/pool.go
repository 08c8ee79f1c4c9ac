package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/observability"
	"github.com/odyssey-erp/odyssey-sync/internal/syncer"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
)

// StorePort is the slice of the sync event store the pool drives.
type StorePort interface {
	ClaimBatch(ctx context.Context, limit int, companyID *int64) ([]syncqueue.Event, error)
	Complete(ctx context.Context, id uuid.UUID) error
	FailAndReschedule(ctx context.Context, id uuid.UUID, lastError string, nextAttempt time.Time) (syncqueue.Status, int, error)
	FailTerminal(ctx context.Context, id uuid.UUID, lastError string) error
	Release(ctx context.Context, id uuid.UUID, scheduledAt time.Time) error
}

// ConfigPort looks up company configuration fresh at dispatch time.
type ConfigPort interface {
	Get(ctx context.Context, companyID int64) (company.SyncConfig, error)
}

// DispatcherPort delivers one envelope.
type DispatcherPort interface {
	Deliver(ctx context.Context, cfg company.SyncConfig, env webhook.Envelope) error
}

// ReconcilePort mirrors attempt outcomes onto the subject projection.
type ReconcilePort interface {
	Reconcile(ctx context.Context, in syncer.ReconcileInput) error
}

// Config tunes the pool.
type Config struct {
	Workers   int
	BatchSize int
	IdleSleep time.Duration
	Backoff   syncqueue.Backoff
}

// Pool drains the sync event store with a fixed number of workers. All
// coordination happens through the store's conditional claim; the workers
// share no mutable state.
type Pool struct {
	store      StorePort
	configs    ConfigPort
	dispatcher DispatcherPort
	reconciler ReconcilePort
	logger     *slog.Logger
	metrics    *observability.Metrics
	cfg        Config
	now        func() time.Time
}

// NewPool constructs a worker pool.
func NewPool(store StorePort, configs ConfigPort, dispatcher DispatcherPort, reconciler ReconcilePort, logger *slog.Logger, metrics *observability.Metrics, cfg Config) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 2 * time.Second
	}
	if cfg.Backoff.Step <= 0 {
		cfg.Backoff = syncqueue.DefaultBackoff()
	}
	return &Pool{
		store:      store,
		configs:    configs,
		dispatcher: dispatcher,
		reconciler: reconciler,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the workers and blocks until context cancellation.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	logger := p.logger.With(slog.Int("worker", id))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := p.DrainOnce(ctx)
		if err != nil {
			logger.Error("claim batch", slog.Any("error", err))
		}
		if processed == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.IdleSleep):
			}
		}
	}
}

// DrainOnce claims one batch and processes it, returning the number of events
// handled. Exposed so tests and one-shot invocations can drive the pool
// without the polling loop.
func (p *Pool) DrainOnce(ctx context.Context) (int, error) {
	batch, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize, nil)
	if err != nil {
		return 0, err
	}
	for _, ev := range batch {
		p.process(ctx, ev)
	}
	return len(batch), nil
}

// process resolves one claimed event. Store errors here are logged and left
// for the stale-claim reaper; they never stop the worker.
func (p *Pool) process(ctx context.Context, ev syncqueue.Event) {
	logger := p.logger.With(
		slog.String("event_id", ev.ID.String()),
		slog.Int64("company_id", ev.CompanyID),
		slog.Int64("subject_id", ev.SubjectID))

	// Config is read fresh at dispatch time, so credential fixes and mode
	// switches apply to events enqueued before the change.
	cfg, err := p.configs.Get(ctx, ev.CompanyID)
	if err != nil {
		p.failAttempt(ctx, ev, "company sync config unavailable: "+err.Error(), logger)
		return
	}

	if !cfg.PushConfigured() {
		if cfg.PollingEnabled {
			// Pull-served company: leave the event for the polling gateway,
			// deferred so the pool does not reclaim it immediately.
			if err := p.store.Release(ctx, ev.ID, p.now().Add(p.cfg.Backoff.Step)); err != nil {
				logger.Error("release pull-mode event", slog.Any("error", err))
			}
			return
		}
		p.failAttempt(ctx, ev, "no webhook url configured", logger)
		return
	}

	start := p.now()
	env := webhook.Envelope{
		WebhookID:      ev.ID,
		CompanyID:      ev.CompanyID,
		EventType:      ev.EventType,
		SentAt:         start,
		WebhookVersion: webhook.Version,
		Data:           ev.Payload,
	}
	deliverErr := p.dispatcher.Deliver(ctx, cfg, env)
	elapsed := time.Since(start)

	switch {
	case deliverErr == nil:
		p.metrics.ObserveDelivery("success", elapsed)
		if err := p.store.Complete(ctx, ev.ID); err != nil {
			logger.Error("complete event", slog.Any("error", err))
			return
		}
		p.reconcile(ctx, ev, syncer.ReconcileInput{
			Success:  true,
			Attempts: ev.RetryCount + 1,
		}, logger)

	case !webhook.IsRetryable(deliverErr):
		p.metrics.ObserveDelivery("fatal", elapsed)
		logger.Warn("delivery failed fatally", slog.Any("error", deliverErr))
		if err := p.store.FailTerminal(ctx, ev.ID, deliverErr.Error()); err != nil {
			logger.Error("fail event", slog.Any("error", err))
			return
		}
		p.reconcile(ctx, ev, syncer.ReconcileInput{
			Terminal: true,
			Attempts: ev.RetryCount + 1,
			Error:    deliverErr.Error(),
		}, logger)

	default:
		p.metrics.ObserveDelivery("retryable", elapsed)
		p.failAttempt(ctx, ev, deliverErr.Error(), logger)
	}
}

// failAttempt counts a retryable failure, rescheduling with backoff or going
// terminal when the retry budget is exhausted.
func (p *Pool) failAttempt(ctx context.Context, ev syncqueue.Event, msg string, logger *slog.Logger) {
	next := p.cfg.Backoff.NextAttempt(p.now(), ev.RetryCount+1)
	status, retries, err := p.store.FailAndReschedule(ctx, ev.ID, msg, next)
	if err != nil {
		logger.Error("reschedule event", slog.Any("error", err))
		return
	}
	p.reconcile(ctx, ev, syncer.ReconcileInput{
		Terminal: status == syncqueue.StatusFailed,
		Attempts: retries,
		Error:    msg,
	}, logger)
}

func (p *Pool) reconcile(ctx context.Context, ev syncqueue.Event, in syncer.ReconcileInput, logger *slog.Logger) {
	in.SubjectID = ev.SubjectID
	in.CompanyID = ev.CompanyID
	in.ResolvedAt = p.now()
	if err := p.reconciler.Reconcile(ctx, in); err != nil {
		logger.Error("reconcile subject status", slog.Any("error", err))
	}
}
