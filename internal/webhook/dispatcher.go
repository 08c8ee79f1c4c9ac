package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
)

// Version identifies the envelope schema sent to endpoints. Every producer of
// an Envelope must stamp it with this value.
const Version = "1.0"

const (
	defaultAttempts       = 3
	defaultAttemptTimeout = 30 * time.Second
	defaultRetryDelay     = 2 * time.Second
	pingTimeout           = 10 * time.Second
	userAgent             = "odyssey-sync/" + Version
)

// Envelope wraps the outbound payload with delivery metadata.
type Envelope struct {
	WebhookID      uuid.UUID       `json:"webhook_id"`
	CompanyID      int64           `json:"company_id"`
	EventType      string          `json:"event_type"`
	SentAt         time.Time       `json:"sent_at"`
	WebhookVersion string          `json:"webhook_version"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope builds a delivery envelope around an immutable payload.
func NewEnvelope(companyID int64, eventType string, payload json.RawMessage) Envelope {
	return Envelope{
		WebhookID:      uuid.New(),
		CompanyID:      companyID,
		EventType:      eventType,
		SentAt:         time.Now().UTC(),
		WebhookVersion: Version,
		Data:           payload,
	}
}

// Config tunes the dispatcher's attempt budget.
type Config struct {
	Attempts       int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

// Dispatcher pushes events to company webhook endpoints. Each Deliver call has
// its own bounded attempt budget; rescheduling across calls is the queue's job.
type Dispatcher struct {
	client *http.Client
	logger *slog.Logger
	cfg    Config
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(logger *slog.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Dispatcher{
		client: &http.Client{},
		logger: logger,
		cfg:    cfg,
	}
}

// Deliver posts the envelope to the company endpoint. Transient failures are
// retried within the attempt budget; a fatal classification stops immediately.
// When the budget is exhausted the last retryable error is returned so the
// queue can reschedule.
func (d *Dispatcher) Deliver(ctx context.Context, cfg company.SyncConfig, env Envelope) error {
	if !cfg.PushConfigured() {
		return &DeliveryError{Retryable: false, Err: ErrNoEndpoint}
	}
	if _, err := url.ParseRequestURI(cfg.WebhookURL); err != nil {
		return &DeliveryError{Retryable: false, Err: fmt.Errorf("webhook: invalid endpoint %q: %w", cfg.WebhookURL, err)}
	}
	body, err := json.Marshal(env)
	if err != nil {
		return &DeliveryError{Retryable: false, Err: fmt.Errorf("webhook: encode envelope: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return &DeliveryError{Retryable: true, Err: ctx.Err()}
			case <-time.After(d.cfg.RetryDelay):
			}
		}
		err := d.post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			d.logger.Warn("webhook delivery rejected",
				slog.Int64("company_id", cfg.CompanyID),
				slog.String("webhook_id", env.WebhookID.String()),
				slog.Any("error", err))
			return err
		}
		d.logger.Warn("webhook delivery attempt failed",
			slog.Int64("company_id", cfg.CompanyID),
			slog.String("webhook_id", env.WebhookID.String()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}
	return lastErr
}

func (d *Dispatcher) post(ctx context.Context, cfg company.SyncConfig, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	applyAuth(req, cfg.Auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	return classify(resp.StatusCode)
}

// classify maps the response status to a delivery outcome: 2xx success,
// 401 fatal auth rejection, other 4xx fatal, everything else retryable.
func classify(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &DeliveryError{StatusCode: status, Retryable: false, Err: ErrAuthRejected}
	case status >= 400 && status < 500:
		return &DeliveryError{StatusCode: status, Retryable: false, Err: fmt.Errorf("webhook: endpoint rejected payload")}
	default:
		return &DeliveryError{StatusCode: status, Retryable: true, Err: fmt.Errorf("webhook: endpoint unavailable")}
	}
}

// TestConnection sends a synthetic ping to validate the endpoint and
// credentials. It never touches the event queue.
func (d *Dispatcher) TestConnection(ctx context.Context, cfg company.SyncConfig) error {
	if !cfg.PushConfigured() {
		return &DeliveryError{Retryable: false, Err: ErrNoEndpoint}
	}
	ping := Envelope{
		WebhookID:      uuid.New(),
		CompanyID:      cfg.CompanyID,
		EventType:      "ping",
		SentAt:         time.Now().UTC(),
		WebhookVersion: Version,
	}
	body, err := json.Marshal(ping)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Retryable: false, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	applyAuth(req, cfg.Auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Retryable: true, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()
	return classify(resp.StatusCode)
}
