package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
)

// QueueStats reads aggregate queue counts.
type QueueStats interface {
	Stats(ctx context.Context, companyID *int64) (syncqueue.Stats, error)
}

// DepthPublisher periodically publishes queue depth gauges.
type DepthPublisher struct {
	store    QueueStats
	metrics  *Metrics
	logger   *slog.Logger
	interval time.Duration
}

// NewDepthPublisher constructs a publisher.
func NewDepthPublisher(store QueueStats, metrics *Metrics, logger *slog.Logger, interval time.Duration) *DepthPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &DepthPublisher{store: store, metrics: metrics, logger: logger, interval: interval}
}

// Run publishes until context cancellation.
func (p *DepthPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.publish(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *DepthPublisher) publish(ctx context.Context) {
	stats, err := p.store.Stats(ctx, nil)
	if err != nil {
		p.logger.Warn("read queue stats", slog.Any("error", err))
		return
	}
	p.metrics.SetQueueDepth(string(syncqueue.StatusPending), stats.Pending)
	p.metrics.SetQueueDepth(string(syncqueue.StatusProcessing), stats.Processing)
	p.metrics.SetQueueDepth(string(syncqueue.StatusCompleted), stats.Completed)
	p.metrics.SetQueueDepth(string(syncqueue.StatusFailed), stats.Failed)
}
