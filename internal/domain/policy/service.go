package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mall/internal/domain/audit"
	"mall/internal/domain/consent"
	"mall/internal/domain/lifecycle"
	"mall/internal/domain/ratelimit"
	"mall/internal/platform/email"
)

const retryLaterMessage = "the request could not be completed, please retry later"

// Service is the single entry point the rest of the application calls for
// compliance decisions. It composes the rate ledger, consent ledger, data
// lifecycle manager and audit log; callers never reach those directly.
type Service struct {
	rates     *ratelimit.Service
	consents  *consent.Service
	lifecycle *lifecycle.Service
	audit     *audit.Log
	validator *consent.Validator
	mailer    email.Mailer
}

func New(
	rates *ratelimit.Service,
	consents *consent.Service,
	lifecycleSvc *lifecycle.Service,
	auditLog *audit.Log,
	validator *consent.Validator,
	mailer email.Mailer,
) *Service {
	return &Service{
		rates:     rates,
		consents:  consents,
		lifecycle: lifecycleSvc,
		audit:     auditLog,
		validator: validator,
		mailer:    mailer,
	}
}

// TrackAPIRequest gates one outbound partner API call.
func (s *Service) TrackAPIRequest(ctx context.Context, provider, endpoint, userID string) ratelimit.Decision {
	return s.rates.TrackRequest(ctx, provider, endpoint, userID)
}

// TrackCachedData registers partner data entering the cache so the
// retention sweep can purge it on schedule.
func (s *Service) TrackCachedData(provider, dataID string, sizeBytes int64, userID string) ratelimit.CacheRecord {
	return s.rates.TrackCachedData(provider, dataID, sizeBytes, userID)
}

// EnforceRetention purges cached partner data past its retention window.
func (s *Service) EnforceRetention(ctx context.Context) int {
	return s.rates.EnforceRetention(ctx)
}

// VerifyEmailOptIn reports whether a message in the category may be sent.
func (s *Service) VerifyEmailOptIn(ctx context.Context, emailAddr, category string) consent.Verification {
	return s.consents.VerifyOptIn(ctx, emailAddr, category)
}

// RecordConsent stores a recipient's opt-in for the listed categories.
func (s *Service) RecordConsent(ctx context.Context, emailAddr, userID string, categories []string, method, source string) (consent.Record, error) {
	record, err := s.consents.RecordConsent(ctx, emailAddr, userID, categories, method, source)
	if err != nil {
		slog.Error("record consent failed", "error", err)
		return consent.Record{}, fmt.Errorf("%s", retryLaterMessage)
	}
	return record, nil
}

// ProcessUnsubscribe honours an opt-out request.
func (s *Service) ProcessUnsubscribe(ctx context.Context, emailAddr string, categories []string, reason string) error {
	if err := s.consents.ProcessUnsubscribe(ctx, emailAddr, categories, reason); err != nil {
		slog.Error("unsubscribe failed", "error", err)
		return fmt.Errorf("%s", retryLaterMessage)
	}
	return nil
}

// ValidateEmailContent checks an outbound body against the identification
// and opt-out requirements.
func (s *Service) ValidateEmailContent(body, category string) []consent.ContentIssue {
	return s.validator.ValidateContent(body, category)
}

// SendEmail is the only path for outbound mail. It verifies consent, scans
// the body for credential leakage, appends the identification footer and
// attaches the unsubscribe headers before handing off to the mailer.
func (s *Service) SendEmail(ctx context.Context, to, subject, body, category string) error {
	verification := s.consents.VerifyOptIn(ctx, to, category)
	if !verification.Allowed {
		s.audit.Record("email_blocked", "", map[string]any{
			"category": category,
			"reason":   verification.Reason,
		})
		return fmt.Errorf("email blocked: %s", verification.Reason)
	}

	if result := s.audit.ScanForCredentialExposure(body, ""); result.Exposed {
		return fmt.Errorf("email blocked: body contains credential material")
	}

	msg := email.Message{
		To:      to,
		Subject: subject,
		Body:    body + s.validator.Footer(),
		Headers: s.validator.ComplianceHeaders(to),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("email send failed", "category", category, "error", err)
		return fmt.Errorf("%s", retryLaterMessage)
	}

	s.audit.Record("email_sent", "", map[string]any{
		"category": category,
		"subject":  subject,
	})
	return nil
}

// RequestDataExport assembles a portability bundle for the user.
func (s *Service) RequestDataExport(ctx context.Context, userID string) (lifecycle.ExportRequest, error) {
	export, err := s.lifecycle.RequestExport(ctx, userID)
	if err != nil {
		slog.Error("data export failed", "userId", userID, "error", err)
		return lifecycle.ExportRequest{}, fmt.Errorf("%s", retryLaterMessage)
	}
	return export, nil
}

// GetExport returns export status without exposing expired download links.
func (s *Service) GetExport(ctx context.Context, exportID string) (lifecycle.ExportRequest, error) {
	return s.lifecycle.GetExport(ctx, exportID)
}

// RequestAccountDeletion opens a deletion request and emails the user a
// verification link. A failed verification email does not cancel the
// request; the user can ask again and the pending request is reused by id.
func (s *Service) RequestAccountDeletion(ctx context.Context, userID, emailAddr, reason string) (lifecycle.DeletionRequest, error) {
	request, err := s.lifecycle.RequestDeletion(ctx, userID, emailAddr, reason)
	if err != nil {
		slog.Error("deletion request failed", "userId", userID, "error", err)
		return lifecycle.DeletionRequest{}, fmt.Errorf("%s", retryLaterMessage)
	}

	body := fmt.Sprintf(
		"We received a request to delete your account.\n\nConfirm within 24 hours using request id %s.\nIf this was not you, ignore this message and your account stays untouched.",
		request.ID,
	)
	if err := s.SendEmail(ctx, emailAddr, "Confirm your account deletion", body, consent.CategoryAccount); err != nil {
		slog.Warn("deletion verification email failed", "requestId", request.ID, "error", err)
	}
	return request, nil
}

// CleanupResidualData sweeps stale cached partner rows and leftover export
// artifacts for one user. Days below one fall back to the configured default.
func (s *Service) CleanupResidualData(ctx context.Context, userID string, days int) (int64, error) {
	removed, err := s.lifecycle.CleanupResidualData(ctx, userID, days)
	if err != nil {
		slog.Error("residual cleanup failed", "userId", userID, "error", err)
		return 0, fmt.Errorf("%s", retryLaterMessage)
	}
	return removed, nil
}

// ConfirmAccountDeletion executes a verified deletion request.
func (s *Service) ConfirmAccountDeletion(ctx context.Context, requestID string) (lifecycle.DeletionRequest, error) {
	return s.lifecycle.ConfirmDeletion(ctx, requestID)
}

// GetDeletionStatus reports where a deletion request stands.
func (s *Service) GetDeletionStatus(ctx context.Context, requestID string) (lifecycle.DeletionRequest, error) {
	return s.lifecycle.GetDeletionStatus(ctx, requestID)
}

// ReportSecurityBreach registers an incident and starts the notification
// clock.
func (s *Service) ReportSecurityBreach(incidentType, description string, affectedUsers []string, severity string) audit.Breach {
	return s.audit.ReportSecurityBreach(incidentType, description, affectedUsers, severity)
}

// NotifyBreachedUsers emails every affected user about an incident and marks
// the breach notified. Individual send failures are logged and skipped so
// one bad address does not stall the rest.
func (s *Service) NotifyBreachedUsers(ctx context.Context, breachID string, addresses []string, description string) {
	sent := 0
	for _, addr := range addresses {
		body := fmt.Sprintf(
			"We are writing to inform you of a security incident affecting your account.\n\n%s\n\nWe recommend reviewing your account activity.",
			description,
		)
		if err := s.SendEmail(ctx, addr, "Important security notice", body, consent.CategorySecurity); err != nil {
			slog.Warn("breach notification failed", "breachId", breachID, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		s.audit.MarkBreachNotified(breachID, "email")
	}
}

// GetComplianceReport merges current usage, cache holdings and the audit
// summary into one report.
func (s *Service) GetComplianceReport(ctx context.Context, start, end time.Time) (map[string]any, error) {
	report := s.audit.GenerateReport(start, end)

	usage := make(map[string]any)
	for name := range s.rates.Providers() {
		u, err := s.rates.Usage(ctx, name)
		if err != nil {
			slog.Warn("usage lookup failed", "provider", name, "error", err)
			continue
		}
		usage[name] = u
	}

	return map[string]any{
		"audit":         report,
		"providerUsage": usage,
		"cachedRecords": len(s.rates.CachedRecords()),
	}, nil
}
