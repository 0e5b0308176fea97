package audit

import (
	"sync"
	"time"

	"mall/internal/platform/logsink"
)

const (
	// The in-memory mirror holds at most memoryCap entries. When the cap is
	// exceeded the oldest half is discarded in one batch rather than evicting
	// continuously, so the window oscillates between memoryKeep and memoryCap.
	memoryCap  = 10000
	memoryKeep = 5000
)

const (
	ViolationUnknownProvider     = "unknown_provider"
	ViolationRateLimitHourly     = "rate_limit_hourly"
	ViolationRateLimitDaily      = "rate_limit_daily"
	ViolationCompetitiveAnalysis = "suspected_competitive_analysis"
	ViolationCredentialExposure  = "credential_exposure"
)

type Entry struct {
	EventType string         `json:"eventType"`
	Provider  string         `json:"provider,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

type Violation struct {
	Type      string         `json:"type"`
	Provider  string         `json:"provider,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log is the append-only record of every governed action. Entries are
// mirrored in memory for recent-activity queries and written through to the
// durable sink partitioned by category.
type Log struct {
	mu         sync.Mutex
	entries    []Entry
	violations []Violation
	breaches   []*Breach
	sink       *logsink.Sink
	now        func() time.Time
}

func New(sink *logsink.Sink) *Log {
	return &Log{sink: sink, now: time.Now}
}

func (l *Log) Record(eventType, provider string, details map[string]any) {
	entry := Entry{
		EventType: eventType,
		Provider:  provider,
		Timestamp: l.now(),
		Details:   details,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > memoryCap {
		trimmed := make([]Entry, memoryKeep)
		copy(trimmed, l.entries[len(l.entries)-memoryKeep:])
		l.entries = trimmed
	}
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Append(logsink.CategoryAudit, entry)
	}
}

func (l *Log) ReportViolation(violationType, provider, endpoint, userID string, details map[string]any) {
	violation := Violation{
		Type:      violationType,
		Provider:  provider,
		Endpoint:  endpoint,
		UserID:    userID,
		Timestamp: l.now(),
		Details:   details,
	}

	l.mu.Lock()
	l.violations = append(l.violations, violation)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Append(logsink.CategoryViolations, violation)
	}

	l.Record("violation", provider, map[string]any{
		"type":     violationType,
		"endpoint": endpoint,
		"userId":   userID,
	})
}

func (l *Log) RecentEntries(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

func (l *Log) RecentViolations(n int) []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.violations) {
		n = len(l.violations)
	}
	out := make([]Violation, n)
	copy(out, l.violations[len(l.violations)-n:])
	return out
}

func (l *Log) counts() (entries, violations, breaches, unresolved int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.breaches {
		if !b.Resolved {
			unresolved++
		}
	}
	return len(l.entries), len(l.violations), len(l.breaches), unresolved
}
