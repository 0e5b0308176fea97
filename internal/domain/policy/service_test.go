package policy

import (
	"context"
	"strings"
	"testing"
	"time"

	"mall/internal/domain/audit"
	"mall/internal/domain/consent"
	"mall/internal/domain/lifecycle"
	"mall/internal/domain/ratelimit"
	"mall/internal/platform/config"
	"mall/internal/platform/crypto"
	"mall/internal/platform/email"
)

type captureMailer struct {
	sent []email.Message
}

func (m *captureMailer) Send(ctx context.Context, msg email.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type memConsentStore struct {
	records    map[string]consent.Record
	suppressed map[string]bool
}

func (m *memConsentStore) Get(ctx context.Context, e string) (consent.Record, error) {
	r, ok := m.records[e]
	if !ok {
		return consent.Record{}, consent.ErrRecordNotFound
	}
	return r, nil
}

func (m *memConsentStore) Upsert(ctx context.Context, r consent.Record) error {
	m.records[r.Email] = r
	return nil
}

func (m *memConsentStore) IsSuppressed(ctx context.Context, e string) (bool, error) {
	return m.suppressed[e], nil
}

func (m *memConsentStore) Suppress(ctx context.Context, e, reason string) error {
	m.suppressed[e] = true
	return nil
}

type memLifecycleStore struct {
	deletions map[string]lifecycle.DeletionRequest
	exports   map[string]lifecycle.ExportRequest
}

func (m *memLifecycleStore) CollectDomain(ctx context.Context, userID, domain string) ([]map[string]any, error) {
	return []map[string]any{{"userId": userID, "domain": domain}}, nil
}

func (m *memLifecycleStore) DeleteDomain(ctx context.Context, userID, domain string) (int64, error) {
	return 1, nil
}

func (m *memLifecycleStore) DeleteUserProfile(ctx context.Context, userID string) error {
	return nil
}

func (m *memLifecycleStore) DeleteCachedPartnerData(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}

func (m *memLifecycleStore) DeleteCachedPartnerDataOlderThan(ctx context.Context, userID string, days int) (int64, error) {
	return 0, nil
}

func (m *memLifecycleStore) CreateDeletion(ctx context.Context, r lifecycle.DeletionRequest) error {
	m.deletions[r.ID] = r
	return nil
}

func (m *memLifecycleStore) UpdateDeletion(ctx context.Context, r lifecycle.DeletionRequest) error {
	m.deletions[r.ID] = r
	return nil
}

func (m *memLifecycleStore) GetDeletion(ctx context.Context, id string) (lifecycle.DeletionRequest, error) {
	r, ok := m.deletions[id]
	if !ok {
		return lifecycle.DeletionRequest{}, lifecycle.ErrDeletionNotFound
	}
	return r, nil
}

func (m *memLifecycleStore) CreateExport(ctx context.Context, r lifecycle.ExportRequest) error {
	m.exports[r.ID] = r
	return nil
}

func (m *memLifecycleStore) UpdateExport(ctx context.Context, r lifecycle.ExportRequest) error {
	m.exports[r.ID] = r
	return nil
}

func (m *memLifecycleStore) GetExport(ctx context.Context, id string) (lifecycle.ExportRequest, error) {
	r, ok := m.exports[id]
	if !ok {
		return lifecycle.ExportRequest{}, lifecycle.ErrExportNotFound
	}
	return r, nil
}

func newTestPolicy(t *testing.T) (*Service, *captureMailer, *audit.Log) {
	t.Helper()
	cfg := config.Config{
		BrandName:       "3C Mall",
		PostalAddress:   "100 Market St, Springfield",
		UnsubscribeURL:  "https://3cmall.example.com/unsubscribe",
		UnsubscribeAddr: "unsubscribe@3cmall.example.com",
		ExportDir:       t.TempDir(),
		ExportExpiry:    7 * 24 * time.Hour,
		PIIRetention:    30 * 24 * time.Hour,
		Providers: map[string]config.ProviderLimits{
			"KROGER": {RequestsPerMinute: 300, DailyLimit: 100000, Retention: 24 * time.Hour},
		},
	}

	auditLog := audit.New(nil)
	rates := ratelimit.NewService(cfg, ratelimit.NewMemoryCounters(), auditLog)
	consents := consent.NewService(&memConsentStore{
		records:    make(map[string]consent.Record),
		suppressed: make(map[string]bool),
	}, auditLog)
	encryptor, _ := crypto.New("")
	lifecycleSvc := lifecycle.NewService(cfg, &memLifecycleStore{
		deletions: make(map[string]lifecycle.DeletionRequest),
		exports:   make(map[string]lifecycle.ExportRequest),
	}, auditLog, encryptor)
	mailer := &captureMailer{}

	return New(rates, consents, lifecycleSvc, auditLog, consent.NewValidator(cfg), mailer), mailer, auditLog
}

func TestHourlyCeilingAcrossProductSync(t *testing.T) {
	svc, _, auditLog := newTestPolicy(t)
	ctx := context.Background()

	// 300 requests per minute sustained for an hour is 18,000 calls.
	for i := 0; i < 18000; i++ {
		d := svc.TrackAPIRequest(ctx, "KROGER", "/v1/products", "sync")
		if !d.Allowed {
			t.Fatalf("request %d unexpectedly denied: %s", i+1, d.Reason)
		}
	}

	d := svc.TrackAPIRequest(ctx, "KROGER", "/v1/products", "sync")
	if d.Allowed {
		t.Fatal("18,001st call within the hour must be denied")
	}
	if d.Reason != ratelimit.ReasonHourlyExceeded {
		t.Fatalf("expected hourly denial, got %q", d.Reason)
	}

	violations := auditLog.RecentViolations(1)
	if len(violations) != 1 || violations[0].Type != audit.ViolationRateLimitHourly {
		t.Fatalf("expected hourly violation recorded, got %+v", violations)
	}
}

func TestBreachNotificationFlow(t *testing.T) {
	svc, mailer, auditLog := newTestPolicy(t)
	ctx := context.Background()

	breach := svc.ReportSecurityBreach("unauthorized_access", "session tokens exposed",
		[]string{"u1", "u2"}, audit.SeverityHigh)

	want := breach.DiscoveredAt.Add(48 * time.Hour)
	if !breach.NotificationDeadline.Equal(want) {
		t.Fatalf("expected 48h deadline, got %v", breach.NotificationDeadline)
	}

	svc.NotifyBreachedUsers(ctx, breach.ID, []string{"a@example.com", "b@example.com"}, "session tokens exposed")
	if len(mailer.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(mailer.sent))
	}

	updated, ok := auditLog.Breach(breach.ID)
	if !ok || updated.Status != audit.BreachNotified {
		t.Fatalf("expected breach marked notified, got %+v", updated)
	}
}

func TestScopedUnsubscribeKeepsOrderConfirmations(t *testing.T) {
	svc, mailer, _ := newTestPolicy(t)
	ctx := context.Background()

	svc.RecordConsent(ctx, "shopper@example.com", "u1",
		[]string{consent.CategoryMarketing}, consent.MethodExplicit, "signup_form")
	if err := svc.ProcessUnsubscribe(ctx, "shopper@example.com", []string{consent.CategoryMarketing}, "footer_link"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	err := svc.SendEmail(ctx, "shopper@example.com", "Weekly deals", "deals body", consent.CategoryMarketing)
	if err == nil {
		t.Fatal("marketing send must be blocked after unsubscribe")
	}

	err = svc.SendEmail(ctx, "shopper@example.com", "Your order shipped", "order details", consent.CategoryTransactional)
	if err != nil {
		t.Fatalf("transactional send must survive a marketing unsubscribe: %v", err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected exactly the transactional message sent, got %d", len(mailer.sent))
	}
}

func TestSendEmailAttachesComplianceFooterAndHeaders(t *testing.T) {
	svc, mailer, _ := newTestPolicy(t)

	err := svc.SendEmail(context.Background(), "shopper@example.com", "Your order shipped", "order details", consent.CategoryTransactional)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	msg := mailer.sent[0]
	if !strings.Contains(msg.Body, "100 Market St, Springfield") {
		t.Fatal("body must carry the postal address footer")
	}
	if !strings.Contains(msg.Headers["List-Unsubscribe"], "mailto:unsubscribe@3cmall.example.com") {
		t.Fatalf("missing unsubscribe header, got %+v", msg.Headers)
	}
}

func TestSendEmailBlocksCredentialLeak(t *testing.T) {
	svc, mailer, _ := newTestPolicy(t)

	err := svc.SendEmail(context.Background(), "shopper@example.com", "Debug info",
		"here is the api_key=sk_live_123", consent.CategoryTransactional)
	if err == nil {
		t.Fatal("credential-bearing body must be blocked")
	}
	if len(mailer.sent) != 0 {
		t.Fatal("blocked message must not reach the mailer")
	}
}

func TestAccountDeletionEndToEnd(t *testing.T) {
	svc, mailer, _ := newTestPolicy(t)
	ctx := context.Background()

	request, err := svc.RequestAccountDeletion(ctx, "u1", "shopper@example.com", "no longer shopping here")
	if err != nil {
		t.Fatalf("request deletion: %v", err)
	}
	if request.Status != lifecycle.DeletionPendingVerification {
		t.Fatalf("expected pending verification, got %q", request.Status)
	}
	if request.Reason != "no longer shopping here" {
		t.Fatalf("expected reason carried through, got %q", request.Reason)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected verification email, got %d messages", len(mailer.sent))
	}

	done, err := svc.ConfirmAccountDeletion(ctx, request.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.Status != lifecycle.DeletionCompleted {
		t.Fatalf("expected completed, got %q", done.Status)
	}
	if done.ExportID == "" {
		t.Fatal("deletion must capture a pre-deletion export")
	}
}

func TestComplianceReportMergesSources(t *testing.T) {
	svc, _, _ := newTestPolicy(t)
	ctx := context.Background()

	svc.TrackAPIRequest(ctx, "KROGER", "/v1/products", "u1")
	svc.TrackCachedData("KROGER", "product_prices", 4096, "u1")

	report, err := svc.GetComplianceReport(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report["cachedRecords"] != 1 {
		t.Fatalf("expected 1 cached record, got %v", report["cachedRecords"])
	}
	usage := report["providerUsage"].(map[string]any)
	if usage["KROGER"].(ratelimit.Usage).Hourly != 1 {
		t.Fatalf("expected usage reflected in report, got %+v", usage)
	}
}
