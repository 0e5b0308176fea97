package audit

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mall/internal/platform/logsink"
)

// NotificationWindow is the regulatory deadline for informing affected users
// of a security incident, measured from discovery.
const NotificationWindow = 48 * time.Hour

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"

	BreachPendingNotification = "pending_notification"
	BreachNotified            = "notified"
)

type Breach struct {
	ID                   string     `json:"id"`
	IncidentType         string     `json:"incidentType"`
	Description          string     `json:"description"`
	AffectedUsers        []string   `json:"affectedUsers"`
	Severity             string     `json:"severity"`
	DiscoveredAt         time.Time  `json:"discoveredAt"`
	NotificationDeadline time.Time  `json:"notificationDeadline"`
	Status               string     `json:"status"`
	NotifiedAt           *time.Time `json:"notifiedAt,omitempty"`
	NotificationMethod   string     `json:"notificationMethod,omitempty"`
	Resolved             bool       `json:"resolved"`
}

func (l *Log) ReportSecurityBreach(incidentType, description string, affectedUsers []string, severity string) Breach {
	discovered := l.now()
	breach := &Breach{
		ID:                   uuid.NewString(),
		IncidentType:         incidentType,
		Description:          description,
		AffectedUsers:        affectedUsers,
		Severity:             severity,
		DiscoveredAt:         discovered,
		NotificationDeadline: discovered.Add(NotificationWindow),
		Status:               BreachPendingNotification,
	}

	l.mu.Lock()
	l.breaches = append(l.breaches, breach)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Append(logsink.CategorySecurity, breach)
	}
	l.Record("security_breach", "", map[string]any{
		"breachId": breach.ID,
		"severity": severity,
		"affected": len(affectedUsers),
	})
	return *breach
}

// MarkBreachNotified transitions a breach to notified. An unknown id is
// logged rather than treated as an error so callers need not pre-check.
func (l *Log) MarkBreachNotified(breachID, method string) {
	l.mu.Lock()
	var found *Breach
	for _, b := range l.breaches {
		if b.ID == breachID {
			found = b
			break
		}
	}
	if found != nil {
		notified := l.now()
		found.Status = BreachNotified
		found.NotifiedAt = &notified
		found.NotificationMethod = method
	}
	l.mu.Unlock()

	if found == nil {
		slog.Warn("breach notification for unknown incident", "breachId", breachID)
		return
	}
	l.Record("breach_notified", "", map[string]any{
		"breachId": breachID,
		"method":   method,
	})
}

func (l *Log) Breach(breachID string) (Breach, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.breaches {
		if b.ID == breachID {
			return *b, true
		}
	}
	return Breach{}, false
}
