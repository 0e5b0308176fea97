package compliancehandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"mall/internal/domain/audit"
	"mall/internal/domain/consent"
	"mall/internal/domain/lifecycle"
	"mall/internal/domain/policy"
	"mall/internal/domain/ratelimit"
	"mall/internal/platform/config"
	"mall/internal/platform/crypto"
	"mall/internal/platform/email"
	"mall/internal/platform/metrics"
	"mall/internal/transport/http/api"
	"mall/internal/transport/http/middleware"
)

type stubConsentStore struct {
	records    map[string]consent.Record
	suppressed map[string]bool
}

func (s *stubConsentStore) Get(ctx context.Context, e string) (consent.Record, error) {
	r, ok := s.records[e]
	if !ok {
		return consent.Record{}, consent.ErrRecordNotFound
	}
	return r, nil
}

func (s *stubConsentStore) Upsert(ctx context.Context, r consent.Record) error {
	s.records[r.Email] = r
	return nil
}

func (s *stubConsentStore) IsSuppressed(ctx context.Context, e string) (bool, error) {
	return s.suppressed[e], nil
}

func (s *stubConsentStore) Suppress(ctx context.Context, e, reason string) error {
	s.suppressed[e] = true
	return nil
}

type stubLifecycleStore struct {
	deletions map[string]lifecycle.DeletionRequest
	exports   map[string]lifecycle.ExportRequest
}

func (s *stubLifecycleStore) CollectDomain(ctx context.Context, userID, domain string) ([]map[string]any, error) {
	return nil, nil
}

func (s *stubLifecycleStore) DeleteDomain(ctx context.Context, userID, domain string) (int64, error) {
	return 0, nil
}

func (s *stubLifecycleStore) DeleteUserProfile(ctx context.Context, userID string) error {
	return nil
}

func (s *stubLifecycleStore) DeleteCachedPartnerData(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (s *stubLifecycleStore) DeleteCachedPartnerDataOlderThan(ctx context.Context, userID string, days int) (int64, error) {
	return 0, nil
}

func (s *stubLifecycleStore) CreateDeletion(ctx context.Context, r lifecycle.DeletionRequest) error {
	s.deletions[r.ID] = r
	return nil
}

func (s *stubLifecycleStore) UpdateDeletion(ctx context.Context, r lifecycle.DeletionRequest) error {
	s.deletions[r.ID] = r
	return nil
}

func (s *stubLifecycleStore) GetDeletion(ctx context.Context, id string) (lifecycle.DeletionRequest, error) {
	r, ok := s.deletions[id]
	if !ok {
		return lifecycle.DeletionRequest{}, lifecycle.ErrDeletionNotFound
	}
	return r, nil
}

func (s *stubLifecycleStore) CreateExport(ctx context.Context, r lifecycle.ExportRequest) error {
	s.exports[r.ID] = r
	return nil
}

func (s *stubLifecycleStore) UpdateExport(ctx context.Context, r lifecycle.ExportRequest) error {
	s.exports[r.ID] = r
	return nil
}

func (s *stubLifecycleStore) GetExport(ctx context.Context, id string) (lifecycle.ExportRequest, error) {
	r, ok := s.exports[id]
	if !ok {
		return lifecycle.ExportRequest{}, lifecycle.ErrExportNotFound
	}
	return r, nil
}

type dropMailer struct{}

func (dropMailer) Send(ctx context.Context, msg email.Message) error { return nil }

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	cfg := config.Config{
		BrandName:       "3C Mall",
		PostalAddress:   "100 Market St, Springfield",
		UnsubscribeURL:  "https://3cmall.example.com/unsubscribe",
		UnsubscribeAddr: "unsubscribe@3cmall.example.com",
		ExportDir:       t.TempDir(),
		ExportExpiry:    7 * 24 * time.Hour,
		PIIRetention:    30 * 24 * time.Hour,
		CleanupDays:     30,
		Providers: map[string]config.ProviderLimits{
			"KROGER": {RequestsPerMinute: 2, DailyLimit: 1000, Retention: 24 * time.Hour},
		},
	}

	auditLog := audit.New(nil)
	rates := ratelimit.NewService(cfg, ratelimit.NewMemoryCounters(), auditLog)
	consents := consent.NewService(&stubConsentStore{
		records:    make(map[string]consent.Record),
		suppressed: make(map[string]bool),
	}, auditLog)
	encryptor, _ := crypto.New("")
	lifecycleSvc := lifecycle.NewService(cfg, &stubLifecycleStore{
		deletions: make(map[string]lifecycle.DeletionRequest),
		exports:   make(map[string]lifecycle.ExportRequest),
	}, auditLog, encryptor)
	policySvc := policy.New(rates, consents, lifecycleSvc, auditLog, consent.NewValidator(cfg), dropMailer{})

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		NewHandler(policySvc, metrics.New()).RegisterRoutes(r)
	})
	return router
}

func asUser(r *http.Request, userID, role string) *http.Request {
	ctx := middleware.WithUser(r.Context(), middleware.UserContext{
		UserID: userID,
		Email:  userID + "@example.com",
		Role:   role,
	})
	return r.WithContext(ctx)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) api.Envelope {
	t.Helper()
	var envelope api.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope
}

func TestTrackRequestRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/track/requests",
		strings.NewReader(`{"provider":"KROGER","endpoint":"/v1/products"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTrackRequestDeniedWhenOverLimit(t *testing.T) {
	router := newTestRouter(t)

	// Hourly ceiling is 2/min * 60 = 120; the daily limit is higher so the
	// hourly reason is expected first.
	var rec *httptest.ResponseRecorder
	for i := 0; i < 121; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/track/requests",
			strings.NewReader(`{"provider":"KROGER","endpoint":"/v1/products"}`))
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, asUser(req, "u1", "user"))
	}

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on request over ceiling, got %d", rec.Code)
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Success {
		t.Fatal("denied request must not be marked successful")
	}
	if envelope.Error == nil || envelope.Error.Code != "request_denied" {
		t.Fatalf("unexpected error payload %+v", envelope.Error)
	}
}

func TestUnsubscribeEndpointIsPublic(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/unsubscribe",
		strings.NewReader(`{"email":"shopper@example.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	verify := httptest.NewRequest(http.MethodGet,
		"/api/v1/compliance/optin?email=shopper@example.com&category=marketing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, verify)

	envelope := decodeEnvelope(t, rec)
	data := envelope.Data.(map[string]any)
	if data["allowed"] != false {
		t.Fatalf("expected opt-in denied after unsubscribe, got %v", data)
	}
}

func TestConfirmDeletionUnknownIDReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/deletions/missing/confirm", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeletionLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/deletions",
		strings.NewReader(`{"reason":"too many emails"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "u1", "user"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	created := envelope.Data.(map[string]any)["request"].(map[string]any)
	id := created["id"].(string)
	if created["reason"] != "too many emails" {
		t.Fatalf("expected reason echoed back, got %v", created["reason"])
	}

	confirm := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/deletions/"+id+"/confirm", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, confirm)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on confirm, got %d: %s", rec.Code, rec.Body.String())
	}

	again := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/deletions/"+id+"/confirm", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, again)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double confirm, got %d", rec.Code)
	}
}

func TestDeletionRequestAcceptsEmptyBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/deletions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "u1", "user"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 without a body, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResidualCleanupRequiresAdmin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/cleanup",
		strings.NewReader(`{"userId":"u1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "u1", "user"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/compliance/cleanup",
		strings.NewReader(`{"userId":"u1"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "admin1", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rec.Code, rec.Body.String())
	}

	envelope := decodeEnvelope(t, rec)
	data := envelope.Data.(map[string]any)
	if _, ok := data["rowsRemoved"]; !ok {
		t.Fatalf("expected rowsRemoved in response, got %v", data)
	}
}

func TestComplianceReportRequiresAdmin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/compliance/report", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "u1", "user"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/compliance/report", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(req, "admin1", "admin"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}

func TestValidateContentEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/compliance/content/validate",
		strings.NewReader(`{"body":"Buy milk now!","category":"marketing"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	envelope := decodeEnvelope(t, rec)
	data := envelope.Data.(map[string]any)
	if data["compliant"] != false {
		t.Fatalf("expected non-compliant body flagged, got %v", data)
	}
}
