package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mall/internal/domain/audit"
	"mall/internal/platform/config"
)

const (
	ReasonUnknownProvider = "unknown provider"
	ReasonHourlyExceeded  = "hourly rate limit exceeded"
	ReasonDailyExceeded   = "daily rate limit exceeded"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Usage   Usage  `json:"usage"`
}

// CacheRecord tracks one piece of partner data held in cache so the
// retention sweep knows when it must be purged.
type CacheRecord struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider"`
	DataID    string        `json:"dataId"`
	SizeBytes int64         `json:"sizeBytes,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	CachedAt  time.Time     `json:"cachedAt"`
	TTL       time.Duration `json:"ttl"`
}

// Service enforces partner API agreements: per-provider hourly and daily
// call ceilings, and retention windows on cached partner data.
type Service struct {
	providers map[string]config.ProviderLimits
	counters  CounterStore
	audit     *audit.Log
	pii       time.Duration

	mu     sync.Mutex
	cached []CacheRecord

	now func() time.Time
}

func NewService(cfg config.Config, counters CounterStore, auditLog *audit.Log) *Service {
	return &Service{
		providers: cfg.Providers,
		counters:  counters,
		audit:     auditLog,
		pii:       cfg.PIIRetention,
		now:       time.Now,
	}
}

// TrackRequest checks both ceilings before consuming quota. The hourly
// ceiling is the per-minute agreement rate sustained for a full hour; the
// hourly check runs first when both are exceeded. A denied request does not
// advance either counter.
func (s *Service) TrackRequest(ctx context.Context, provider, endpoint, userID string) Decision {
	limits, ok := s.providers[provider]
	if !ok {
		s.audit.ReportViolation(audit.ViolationUnknownProvider, provider, endpoint, userID, nil)
		return Decision{Allowed: false, Reason: ReasonUnknownProvider}
	}

	hourlyLimit := limits.RequestsPerMinute * 60
	now := s.now().UTC()
	hourKey := "h:" + provider + ":" + now.Format("2006-01-02T15")
	dayKey := "d:" + provider + ":" + now.Format("2006-01-02")

	usage, reason, err := s.counters.IncrementIfAllowed(ctx, hourKey, dayKey, hourlyLimit, limits.DailyLimit)
	if err != nil {
		slog.Warn("counter store unavailable, allowing request",
			"provider", provider, "error", err)
		s.audit.Record("counter_store_error", provider, map[string]any{"error": err.Error()})
		return Decision{Allowed: true, Usage: usage}
	}

	switch reason {
	case ReasonHourlyExceeded:
		s.audit.ReportViolation(audit.ViolationRateLimitHourly, provider, endpoint, userID, map[string]any{
			"hourlyUsage": usage.Hourly,
			"hourlyLimit": hourlyLimit,
		})
		return Decision{Allowed: false, Reason: reason, Usage: usage}
	case ReasonDailyExceeded:
		s.audit.ReportViolation(audit.ViolationRateLimitDaily, provider, endpoint, userID, map[string]any{
			"dailyUsage": usage.Daily,
			"dailyLimit": limits.DailyLimit,
		})
		return Decision{Allowed: false, Reason: reason, Usage: usage}
	}

	s.audit.Record("api_request", provider, map[string]any{
		"endpoint": endpoint,
		"userId":   userID,
	})
	return Decision{Allowed: true, Usage: usage}
}

// TrackCachedData registers partner data entering the cache. Unknown
// providers fall back to the personal-data retention window rather than
// being rejected, since the data is already held and must still be purged.
func (s *Service) TrackCachedData(provider, dataID string, sizeBytes int64, userID string) CacheRecord {
	ttl := s.pii
	if limits, ok := s.providers[provider]; ok {
		ttl = limits.Retention
	}

	record := CacheRecord{
		ID:        uuid.NewString(),
		Provider:  provider,
		DataID:    dataID,
		SizeBytes: sizeBytes,
		UserID:    userID,
		CachedAt:  s.now(),
		TTL:       ttl,
	}

	s.mu.Lock()
	s.cached = append(s.cached, record)
	s.mu.Unlock()

	s.audit.Record("data_cached", provider, map[string]any{
		"recordId":  record.ID,
		"dataId":    dataID,
		"sizeBytes": sizeBytes,
		"userId":    userID,
		"ttl":       ttl.String(),
	})
	return record
}

// EnforceRetention purges cache records whose retention window has elapsed
// and returns how many were removed. Each purge is individually audited with
// the duration the data was held.
func (s *Service) EnforceRetention(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	kept := s.cached[:0]
	var purged []CacheRecord
	for _, record := range s.cached {
		if now.Sub(record.CachedAt) > record.TTL {
			purged = append(purged, record)
			continue
		}
		kept = append(kept, record)
	}
	s.cached = kept
	s.mu.Unlock()

	for _, record := range purged {
		s.audit.Record("data_purged", record.Provider, map[string]any{
			"recordId": record.ID,
			"dataId":   record.DataID,
			"heldFor":  now.Sub(record.CachedAt).String(),
		})
	}
	return len(purged)
}

func (s *Service) CachedRecords() []CacheRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CacheRecord, len(s.cached))
	copy(out, s.cached)
	return out
}

// Usage reports current bucket consumption for a provider without
// consuming quota.
func (s *Service) Usage(ctx context.Context, provider string) (Usage, error) {
	now := s.now().UTC()
	hourKey := "h:" + provider + ":" + now.Format("2006-01-02T15")
	dayKey := "d:" + provider + ":" + now.Format("2006-01-02")
	return s.counters.Usage(ctx, hourKey, dayKey)
}

func (s *Service) ResetHourly(ctx context.Context) error {
	if err := s.counters.ResetHourly(ctx); err != nil {
		return err
	}
	s.audit.Record("hourly_counters_reset", "", nil)
	return nil
}

func (s *Service) ResetDaily(ctx context.Context) error {
	if err := s.counters.ResetDaily(ctx); err != nil {
		return err
	}
	s.audit.Record("daily_counters_reset", "", nil)
	return nil
}

func (s *Service) Providers() map[string]config.ProviderLimits {
	out := make(map[string]config.ProviderLimits, len(s.providers))
	for name, limits := range s.providers {
		out[name] = limits
	}
	return out
}
