package compliancehandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mall/internal/domain/audit"
	"mall/internal/domain/lifecycle"
	"mall/internal/domain/policy"
	"mall/internal/platform/metrics"
	"mall/internal/transport/http/api"
	"mall/internal/transport/http/middleware"
)

type Handler struct {
	Policy  *policy.Service
	Metrics *metrics.Collector
}

func NewHandler(policySvc *policy.Service, collector *metrics.Collector) *Handler {
	return &Handler{Policy: policySvc, Metrics: collector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/compliance", func(r chi.Router) {
		r.With(middleware.RequireAuth).Post("/track/requests", h.handleTrackRequest)
		r.With(middleware.RequireAuth).Post("/track/cache", h.handleTrackCache)

		r.Post("/consents", h.handleRecordConsent)
		r.Post("/unsubscribe", h.handleUnsubscribe)
		r.Get("/optin", h.handleVerifyOptIn)
		r.Post("/content/validate", h.handleValidateContent)

		r.With(middleware.RequireAuth).Post("/exports", h.handleRequestExport)
		r.With(middleware.RequireAuth).Get("/exports/{id}", h.handleGetExport)

		r.With(middleware.RequireAuth).Post("/deletions", h.handleRequestDeletion)
		r.Post("/deletions/{id}/confirm", h.handleConfirmDeletion)
		r.Get("/deletions/{id}", h.handleDeletionStatus)

		r.With(middleware.RequireAdmin).Post("/cleanup", h.handleResidualCleanup)
		r.With(middleware.RequireAdmin).Post("/breaches", h.handleReportBreach)
		r.With(middleware.RequireAdmin).Post("/breaches/{id}/notify", h.handleNotifyBreach)
		r.With(middleware.RequireAdmin).Get("/report", h.handleComplianceReport)
	})
}

func (h *Handler) handleTrackRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "invalid request body", middleware.GetRequestID(r.Context()))
		return
	}
	user, _ := middleware.GetUser(r.Context())

	decision := h.Policy.TrackAPIRequest(r.Context(), req.Provider, req.Endpoint, user.UserID)
	if !decision.Allowed {
		if h.Metrics != nil {
			h.Metrics.RecordDenial()
		}
		api.WriteJSON(w, http.StatusTooManyRequests, api.Envelope{
			Success:   false,
			Data:      decision,
			Error:     &api.Error{Code: "request_denied", Message: decision.Reason},
			RequestID: middleware.GetRequestID(r.Context()),
		})
		return
	}
	api.Success(w, decision, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleTrackCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider  string `json:"provider"`
		DataID    string `json:"dataId"`
		SizeBytes int64  `json:"sizeBytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.DataID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "provider and dataId are required", middleware.GetRequestID(r.Context()))
		return
	}
	user, _ := middleware.GetUser(r.Context())

	record := h.Policy.TrackCachedData(req.Provider, req.DataID, req.SizeBytes, user.UserID)
	api.Created(w, record, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string   `json:"email"`
		Categories []string `json:"categories"`
		Method     string   `json:"method"`
		Source     string   `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "email is required", middleware.GetRequestID(r.Context()))
		return
	}
	userID := ""
	if user, ok := middleware.GetUser(r.Context()); ok {
		userID = user.UserID
	}

	record, err := h.Policy.RecordConsent(r.Context(), req.Email, userID, req.Categories, req.Method, req.Source)
	if err != nil {
		api.Fail(w, http.StatusServiceUnavailable, "consent_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, record, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string   `json:"email"`
		Categories []string `json:"categories"`
		Reason     string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "email is required", middleware.GetRequestID(r.Context()))
		return
	}

	if err := h.Policy.ProcessUnsubscribe(r.Context(), req.Email, req.Categories, req.Reason); err != nil {
		api.Fail(w, http.StatusServiceUnavailable, "unsubscribe_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{"unsubscribed": true}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleVerifyOptIn(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	category := r.URL.Query().Get("category")
	if email == "" || category == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_query", "email and category are required", middleware.GetRequestID(r.Context()))
		return
	}

	verification := h.Policy.VerifyEmailOptIn(r.Context(), email, category)
	api.Success(w, verification, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleValidateContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body     string `json:"body"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "body is required", middleware.GetRequestID(r.Context()))
		return
	}

	issues := h.Policy.ValidateEmailContent(req.Body, req.Category)
	api.Success(w, map[string]any{
		"compliant": len(issues) == 0,
		"issues":    issues,
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	export, err := h.Policy.RequestDataExport(r.Context(), user.UserID)
	if err != nil {
		api.Fail(w, http.StatusServiceUnavailable, "export_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, export, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleGetExport(w http.ResponseWriter, r *http.Request) {
	export, err := h.Policy.GetExport(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, lifecycle.ErrExportNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "export not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "export_lookup_failed", "failed to load export", middleware.GetRequestID(r.Context()))
		return
	}

	user, _ := middleware.GetUser(r.Context())
	if export.UserID != user.UserID && user.Role != "admin" {
		api.Fail(w, http.StatusForbidden, "forbidden", "export belongs to another user", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, export, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleRequestDeletion(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())

	// The reason body is optional; requests with no body are fine.
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	request, err := h.Policy.RequestAccountDeletion(r.Context(), user.UserID, user.Email, req.Reason)
	if err != nil {
		api.Fail(w, http.StatusServiceUnavailable, "deletion_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Created(w, map[string]any{
		"request":    request,
		"confirmUrl": "/api/v1/compliance/deletions/" + request.ID + "/confirm",
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	request, err := h.Policy.ConfirmAccountDeletion(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, lifecycle.ErrDeletionNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", "deletion request not found", middleware.GetRequestID(r.Context()))
		return
	case errors.Is(err, lifecycle.ErrDeletionBadState):
		api.Fail(w, http.StatusConflict, "bad_state", "deletion request is not awaiting verification", middleware.GetRequestID(r.Context()))
		return
	case err != nil:
		api.Fail(w, http.StatusInternalServerError, "deletion_failed", "failed to complete deletion", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, request, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleDeletionStatus(w http.ResponseWriter, r *http.Request) {
	request, err := h.Policy.GetDeletionStatus(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, lifecycle.ErrDeletionNotFound) {
		api.Fail(w, http.StatusNotFound, "not_found", "deletion request not found", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "status_failed", "failed to load deletion request", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, request, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleResidualCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Days   int    `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "userId is required", middleware.GetRequestID(r.Context()))
		return
	}

	removed, err := h.Policy.CleanupResidualData(r.Context(), req.UserID, req.Days)
	if err != nil {
		api.Fail(w, http.StatusServiceUnavailable, "cleanup_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{"rowsRemoved": removed}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleReportBreach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IncidentType  string   `json:"incidentType"`
		Description   string   `json:"description"`
		AffectedUsers []string `json:"affectedUsers"`
		Severity      string   `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IncidentType == "" {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "incidentType is required", middleware.GetRequestID(r.Context()))
		return
	}
	if req.Severity == "" {
		req.Severity = audit.SeverityMedium
	}

	breach := h.Policy.ReportSecurityBreach(req.IncidentType, req.Description, req.AffectedUsers, req.Severity)
	api.Created(w, breach, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleNotifyBreach(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addresses   []string `json:"addresses"`
		Description string   `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Addresses) == 0 {
		api.Fail(w, http.StatusBadRequest, "invalid_body", "addresses are required", middleware.GetRequestID(r.Context()))
		return
	}

	h.Policy.NotifyBreachedUsers(r.Context(), chi.URLParam(r, "id"), req.Addresses, req.Description)
	api.Success(w, map[string]any{"notified": true}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	start := parseTimeParam(r, "start")
	end := parseTimeParam(r, "end")

	report, err := h.Policy.GetComplianceReport(r.Context(), start, end)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to build report", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, report, middleware.GetRequestID(r.Context()))
}

func parseTimeParam(r *http.Request, name string) time.Time {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
