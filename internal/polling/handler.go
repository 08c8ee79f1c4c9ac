package polling

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-sync/internal/company"
	"github.com/odyssey-erp/odyssey-sync/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sync/internal/syncer"
	"github.com/odyssey-erp/odyssey-sync/internal/webhook"
)

// Handler exposes the pull-mode sync API to ERP clients.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers the sync API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/updates", h.handleListUpdates)
	r.Post("/acknowledge", h.handleAcknowledge)
	r.Get("/status", h.handleStatus)
	r.Get("/status/{subjectID}", h.handleSubjectStatus)
	r.Get("/queue/stats", h.handleQueueStats)
	r.Post("/webhook/test", h.handleTestWebhook)
}

func (h *Handler) handleListUpdates(w http.ResponseWriter, r *http.Request) {
	companyID, err := requiredCompanyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "since must be an ISO-8601 timestamp")
			return
		}
		since = &parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if raw := r.URL.Query().Get("limit"); raw != "" && (limit < 1 || limit > MaxLimit) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be between 1 and 1000")
		return
	}

	updates, err := h.service.ListDue(r.Context(), companyID, since, limit)
	if err != nil {
		h.logger.Error("list updates", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"company_id": companyID,
		"updates":    updates,
		"count":      len(updates),
	})
}

type acknowledgeRequest struct {
	CompanyID     int64   `json:"company_id" validate:"required,gt=0"`
	SubjectIDs    []int64 `json:"subject_ids" validate:"required,min=1,max=1000,dive,gt=0"`
	SyncTimestamp *string `json:"sync_timestamp,omitempty"`
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var ackAt *time.Time
	if req.SyncTimestamp != nil {
		parsed, err := time.Parse(time.RFC3339, *req.SyncTimestamp)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sync_timestamp must be an ISO-8601 timestamp")
			return
		}
		ackAt = &parsed
	}

	count, err := h.service.Acknowledge(r.Context(), req.CompanyID, req.SubjectIDs, ackAt)
	if err != nil {
		h.logger.Error("acknowledge", slog.Int64("company_id", req.CompanyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"acknowledged_count": count})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	companyID, err := requiredCompanyID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	summary, err := h.service.StatusSummary(r.Context(), companyID)
	if err != nil {
		h.logger.Error("status summary", slog.Int64("company_id", companyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"company_id":   companyID,
		"pending":      summary.Pending,
		"synced":       summary.Synced,
		"failed":       summary.Failed,
		"total":        summary.Total,
		"last_sync_at": summary.LastSyncAt,
	})
}

func (h *Handler) handleSubjectStatus(w http.ResponseWriter, r *http.Request) {
	subjectID, err := strconv.ParseInt(chi.URLParam(r, "subjectID"), 10, 64)
	if err != nil || subjectID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "subject id must be a positive integer")
		return
	}
	st, err := h.service.SubjectStatus(r.Context(), subjectID)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]any{
			"subject_id":   st.SubjectID,
			"company_id":   st.CompanyID,
			"status":       st.Status,
			"attempts":     st.Attempts,
			"last_sync_at": st.LastSyncAt,
			"error":        st.Error,
		})
	case errors.Is(err, syncer.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("subject status", slog.Int64("subject_id", subjectID), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (h *Handler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	var companyID *int64
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id must be a positive integer")
			return
		}
		companyID = &parsed
	}
	stats, err := h.service.QueueStats(r.Context(), companyID)
	if err != nil {
		h.logger.Error("queue stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

type testWebhookRequest struct {
	CompanyID int64 `json:"company_id" validate:"required,gt=0"`
}

func (h *Handler) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var req testWebhookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	err := h.service.TestWebhook(r.Context(), req.CompanyID)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, company.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, webhook.ErrNoEndpoint):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "no webhook url configured")
	default:
		h.logger.Warn("webhook test failed", slog.Int64("company_id", req.CompanyID), slog.Any("error", err))
		httpx.JSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
	}
}

func requiredCompanyID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("company_id")
	if raw == "" {
		return 0, errors.New("company_id is required")
	}
	companyID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || companyID <= 0 {
		return 0, errors.New("company_id must be a positive integer")
	}
	return companyID, nil
}
