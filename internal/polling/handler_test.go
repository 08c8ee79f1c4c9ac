package polling

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue"
	"github.com/odyssey-erp/odyssey-sync/internal/syncqueue/queuetest"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
)

func newTestHandler(t *testing.T, store *queuetest.Store, status *memoryStatus, configs *memoryConfigs, tester *fakeTester) http.Handler {
	t.Helper()
	if status == nil {
		status = &memoryStatus{}
	}
	if configs == nil {
		configs = &memoryConfigs{}
	}
	if tester == nil {
		tester = &fakeTester{}
	}
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(store, status, configs, tester))
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return r
}

func TestHandleListUpdates(t *testing.T) {
	store := queuetest.NewStore()
	ctx := context.Background()
	_, err := store.Enqueue(ctx, syncqueue.Event{
		CompanyID: 1, SubjectID: 42, EventType: "purchase_order.created",
		Payload: json.RawMessage(`{"po_number":"PO-1"}`),
	})
	require.NoError(t, err)

	router := newTestHandler(t, store, nil, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/updates?company_id=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		CompanyID int64    `json:"company_id"`
		Updates   []Update `json:"updates"`
		Count     int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(1), body.CompanyID)
	require.Equal(t, 1, body.Count)
	require.Equal(t, int64(42), body.Updates[0].Metadata.SubjectID)
}

func TestHandleListUpdatesValidation(t *testing.T) {
	router := newTestHandler(t, queuetest.NewStore(), nil, nil, nil)

	cases := []struct {
		name   string
		target string
	}{
		{"missing company", "/updates"},
		{"bad company", "/updates?company_id=abc"},
		{"negative company", "/updates?company_id=-1"},
		{"bad since", "/updates?company_id=1&since=yesterday"},
		{"zero limit", "/updates?company_id=1&limit=0"},
		{"oversized limit", "/updates?company_id=1&limit=5000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleAcknowledge(t *testing.T) {
	store := queuetest.NewStore()
	ctx := context.Background()
	for _, subjectID := range []int64{42, 43} {
		_, err := store.Enqueue(ctx, syncqueue.Event{
			CompanyID: 1, SubjectID: subjectID, EventType: "purchase_order.created",
		})
		require.NoError(t, err)
	}

	router := newTestHandler(t, store, nil, nil, nil)
	body := `{"company_id":1,"subject_ids":[42,43,99],"sync_timestamp":"2026-03-01T10:30:00Z"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/acknowledge", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		AcknowledgedCount int64 `json:"acknowledged_count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(2), resp.AcknowledgedCount)

	// Replay acks nothing further.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/acknowledge", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Zero(t, resp.AcknowledgedCount)
}

func TestHandleAcknowledgeValidation(t *testing.T) {
	router := newTestHandler(t, queuetest.NewStore(), nil, nil, nil)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"company_id":`},
		{"missing company", `{"subject_ids":[1]}`},
		{"empty subjects", `{"company_id":1,"subject_ids":[]}`},
		{"negative subject", `{"company_id":1,"subject_ids":[-5]}`},
		{"bad timestamp", `{"company_id":1,"subject_ids":[1],"sync_timestamp":"noon"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/acknowledge", strings.NewReader(tc.body)))
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	router := newTestHandler(t, queuetest.NewStore(), &memoryStatus{}, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status?company_id=1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["company_id"])
	require.Contains(t, body, "pending")
	require.Contains(t, body, "synced")
	require.Contains(t, body, "failed")
}

func TestHandleSubjectStatus(t *testing.T) {
	store := queuetest.NewStore()
	status := &memoryStatus{}
	ctx := context.Background()
	_, err := store.Enqueue(ctx, syncqueue.Event{
		CompanyID: 1, SubjectID: 42, EventType: "purchase_order.created",
	})
	require.NoError(t, err)

	router := newTestHandler(t, store, status, nil, nil)

	// Unknown subject before any resolution.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Acknowledging writes the projection the lookup then serves.
	ackBody := `{"company_id":1,"subject_ids":[42]}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/acknowledge", strings.NewReader(ackBody)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(42), body["subject_id"])
	require.Equal(t, "synced", body["status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/zero", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueueStats(t *testing.T) {
	store := queuetest.NewStore()
	ctx := context.Background()
	_, err := store.Enqueue(ctx, syncqueue.Event{CompanyID: 1, SubjectID: 1, EventType: "x"})
	require.NoError(t, err)

	router := newTestHandler(t, store, nil, nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats syncqueue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.Pending)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/queue/stats?company_id=0", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestWebhook(t *testing.T) {
	configs := &memoryConfigs{configs: map[int64]company.SyncConfig{
		1: {CompanyID: 1, Enabled: true, WebhookURL: "https://erp.example.com/hooks"},
		2: {CompanyID: 2, Enabled: true},
	}}

	t.Run("success", func(t *testing.T) {
		router := newTestHandler(t, queuetest.NewStore(), nil, configs, &fakeTester{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/test", strings.NewReader(`{"company_id":1}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"success":true`)
	})

	t.Run("unknown company", func(t *testing.T) {
		router := newTestHandler(t, queuetest.NewStore(), nil, configs, &fakeTester{})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/test", strings.NewReader(`{"company_id":9}`)))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("no endpoint", func(t *testing.T) {
		tester := &fakeTester{err: &webhook.DeliveryError{Retryable: false, Err: webhook.ErrNoEndpoint}}
		router := newTestHandler(t, queuetest.NewStore(), nil, configs, tester)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/test", strings.NewReader(`{"company_id":2}`)))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("endpoint unreachable", func(t *testing.T) {
		tester := &fakeTester{err: &webhook.DeliveryError{StatusCode: 503, Retryable: true, Err: http.ErrHandlerTimeout}}
		router := newTestHandler(t, queuetest.NewStore(), nil, configs, tester)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/test", strings.NewReader(`{"company_id":1}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), `"success":false`)
	})
}
