package consent

import (
	"context"
	"errors"
	"sync"
	"time"

	"mall/internal/domain/audit"
)

const (
	ReasonUnsubscribed      = "recipient unsubscribed"
	ReasonOptedOut          = "recipient opted out of this category"
	ReasonNoExplicitConsent = "no explicit consent"
	ReasonVerificationError = "verification error"
)

// Service is the consent ledger. Verification fails closed: when the record
// cannot be read the send is denied, never allowed.
type Service struct {
	store Store
	audit *audit.Log

	// doNotEmail mirrors global unsubscribes for lock-free-ish fast checks;
	// the suppression table is the durable copy.
	mu         sync.Mutex
	doNotEmail map[string]bool

	now func() time.Time
}

func NewService(store Store, auditLog *audit.Log) *Service {
	return &Service{
		store:      store,
		audit:      auditLog,
		doNotEmail: make(map[string]bool),
		now:        time.Now,
	}
}

// VerifyOptIn decides whether a message in the given category may be sent to
// the recipient. Commercial categories require a recorded opt-in; service
// categories are allowed unless the recipient opted out or unsubscribed.
func (s *Service) VerifyOptIn(ctx context.Context, email, category string) Verification {
	email = normalize(email)

	s.mu.Lock()
	suppressed := s.doNotEmail[email]
	s.mu.Unlock()
	if !suppressed {
		var err error
		suppressed, err = s.store.IsSuppressed(ctx, email)
		if err != nil {
			s.audit.Record("consent_check_error", "", map[string]any{
				"email": email, "error": err.Error(),
			})
			return Verification{Allowed: false, Reason: ReasonVerificationError}
		}
	}
	if suppressed {
		return Verification{Allowed: false, Reason: ReasonUnsubscribed}
	}

	record, err := s.store.Get(ctx, email)
	if errors.Is(err, ErrRecordNotFound) {
		if explicitConsentCategories[category] {
			return Verification{Allowed: false, Reason: ReasonNoExplicitConsent}
		}
		return Verification{Allowed: true}
	}
	if err != nil {
		s.audit.Record("consent_check_error", "", map[string]any{
			"email": email, "error": err.Error(),
		})
		return Verification{Allowed: false, Reason: ReasonVerificationError}
	}

	optedIn, present := record.Categories[category]
	switch {
	case present && optedIn:
		return Verification{Allowed: true}
	case present:
		return Verification{Allowed: false, Reason: ReasonOptedOut}
	case explicitConsentCategories[category]:
		return Verification{Allowed: false, Reason: ReasonNoExplicitConsent}
	default:
		return Verification{Allowed: true}
	}
}

// RecordConsent registers or updates a recipient's opt-in for the listed
// categories. It does not clear a prior global unsubscribe; re-subscribing
// is a separate, deliberate act.
func (s *Service) RecordConsent(ctx context.Context, email, userID string, categories []string, method, source string) (Record, error) {
	email = normalize(email)
	now := s.now()

	record, err := s.store.Get(ctx, email)
	if errors.Is(err, ErrRecordNotFound) {
		record = Record{
			Email:      email,
			Categories: make(map[string]bool),
			RecordedAt: now,
		}
	} else if err != nil {
		return Record{}, err
	}

	record.UserID = userID
	record.Status = StatusOptedIn
	record.Method = method
	record.Source = source
	record.UpdatedAt = now
	if record.Categories == nil {
		record.Categories = make(map[string]bool)
	}
	for _, category := range categories {
		record.Categories[category] = true
	}

	if err := s.store.Upsert(ctx, record); err != nil {
		return Record{}, err
	}

	s.audit.Record("consent_recorded", "", map[string]any{
		"email":      email,
		"categories": categories,
		"method":     method,
	})
	return record, nil
}

// ProcessUnsubscribe honours an opt-out request. An empty category list is a
// global unsubscribe: the recipient joins the do-not-email set and every
// recorded flag is cleared. A scoped request only flips the named flags, so
// transactional and account mail keep flowing.
func (s *Service) ProcessUnsubscribe(ctx context.Context, email string, categories []string, reason string) error {
	email = normalize(email)
	now := s.now()

	record, err := s.store.Get(ctx, email)
	if errors.Is(err, ErrRecordNotFound) {
		record = Record{
			Email:      email,
			Categories: make(map[string]bool),
			RecordedAt: now,
		}
	} else if err != nil {
		return err
	}
	if record.Categories == nil {
		record.Categories = make(map[string]bool)
	}

	global := len(categories) == 0
	if global {
		for category := range record.Categories {
			record.Categories[category] = false
		}
		record.Status = StatusOptedOut

		s.mu.Lock()
		s.doNotEmail[email] = true
		s.mu.Unlock()

		if err := s.store.Suppress(ctx, email, reason); err != nil {
			return err
		}
	} else {
		for _, category := range categories {
			record.Categories[category] = false
		}
	}
	record.UnsubscribedAt = &now
	record.UnsubscribeReason = reason
	record.UpdatedAt = now

	if err := s.store.Upsert(ctx, record); err != nil {
		return err
	}

	s.audit.Record("unsubscribe_processed", "", map[string]any{
		"email":      email,
		"global":     global,
		"categories": categories,
		"reason":     reason,
	})
	return nil
}

func (s *Service) GetRecord(ctx context.Context, email string) (Record, error) {
	return s.store.Get(ctx, normalize(email))
}
