package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
)

func testDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Attempts:       3,
		AttemptTimeout: 2 * time.Second,
		RetryDelay:     time.Millisecond,
	})
}

func pushConfig(url string) company.SyncConfig {
	return company.SyncConfig{
		CompanyID:  1,
		Enabled:    true,
		Mode:       company.ModeRealtime,
		WebhookURL: url,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var received Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := NewEnvelope(1, "purchase_order.created", json.RawMessage(`{"po_number":"PO-1"}`))
	err := testDispatcher(t).Deliver(context.Background(), pushConfig(srv.URL), env)
	require.NoError(t, err)
	require.Equal(t, env.WebhookID, received.WebhookID)
	require.Equal(t, "purchase_order.created", received.EventType)
	require.Equal(t, "1.0", received.WebhookVersion)
	require.JSONEq(t, `{"po_number":"PO-1"}`, string(received.Data))
}

func TestDeliverRetriesServerErrorsToBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(context.Background(), pushConfig(srv.URL), env)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
	require.Equal(t, int64(3), calls.Load())
}

func TestDeliverRecoversWithinBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(context.Background(), pushConfig(srv.URL), env)
	require.NoError(t, err)
	require.Equal(t, int64(3), calls.Load())
}

func TestDeliverStopsOnAuthRejection(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(context.Background(), pushConfig(srv.URL), env)
	require.ErrorIs(t, err, ErrAuthRejected)
	require.False(t, IsRetryable(err))
	require.Equal(t, int64(1), calls.Load(), "fatal rejection must not be retried")
}

func TestDeliverStopsOnClientError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(context.Background(), pushConfig(srv.URL), env)
	require.Error(t, err)
	require.False(t, IsRetryable(err))
	require.Equal(t, int64(1), calls.Load())

	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	require.Equal(t, http.StatusUnprocessableEntity, de.StatusCode)
}

func TestDeliverWithoutEndpointIsFatal(t *testing.T) {
	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(context.Background(), company.SyncConfig{CompanyID: 1, Enabled: true}, env)
	require.ErrorIs(t, err, ErrNoEndpoint)
	require.False(t, IsRetryable(err))
}

func TestDeliverAppliesBearerAndCustomHeaders(t *testing.T) {
	var authz, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		custom = r.Header.Get("X-Api-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := pushConfig(srv.URL)
	cfg.Auth = company.AuthConfig{
		Type:  company.AuthBearer,
		Token: "sekrit",
		// The typed scheme wins the Authorization header over custom headers.
		Headers: map[string]string{"X-Api-Key": "abc123", "Authorization": "overridden"},
	}

	env := NewEnvelope(1, "purchase_order.created", nil)
	require.NoError(t, testDispatcher(t).Deliver(context.Background(), cfg, env))
	require.Equal(t, "Bearer sekrit", authz)
	require.Equal(t, "abc123", custom)
}

func TestDeliverAppliesBasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := pushConfig(srv.URL)
	cfg.Auth = company.AuthConfig{Type: company.AuthBasic, Username: "svc", Password: "pw"}

	env := NewEnvelope(1, "purchase_order.created", nil)
	require.NoError(t, testDispatcher(t).Deliver(context.Background(), cfg, env))
	require.True(t, ok)
	require.Equal(t, "svc", user)
	require.Equal(t, "pw", pass)
}

func TestDeliverCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := NewEnvelope(1, "purchase_order.created", nil)
	err := testDispatcher(t).Deliver(ctx, pushConfig(srv.URL), env)
	require.Error(t, err)
	require.True(t, IsRetryable(err))
}

func TestTestConnectionSendsPing(t *testing.T) {
	var received Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testDispatcher(t).TestConnection(context.Background(), pushConfig(srv.URL))
	require.NoError(t, err)
	require.Equal(t, "ping", received.EventType)
	require.Empty(t, received.Data)
}

func TestTestConnectionReportsAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := testDispatcher(t).TestConnection(context.Background(), pushConfig(srv.URL))
	require.ErrorIs(t, err, ErrAuthRejected)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(200))
	require.NoError(t, classify(204))
	require.False(t, IsRetryable(classify(401)))
	require.False(t, IsRetryable(classify(404)))
	require.False(t, IsRetryable(classify(422)))
	require.True(t, IsRetryable(classify(500)))
	require.True(t, IsRetryable(classify(503)))
	require.True(t, IsRetryable(classify(302)))
}
