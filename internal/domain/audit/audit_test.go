package audit

import (
	"testing"
	"time"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l := New(nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	return l
}

func TestRecordTrimsInBatches(t *testing.T) {
	l := newTestLog(t)

	for i := 0; i < memoryCap; i++ {
		l.Record("api_request", "KROGER", nil)
	}
	if got := len(l.entries); got != memoryCap {
		t.Fatalf("expected %d entries before overflow, got %d", memoryCap, got)
	}

	l.Record("api_request", "KROGER", nil)
	if got := len(l.entries); got != memoryKeep {
		t.Fatalf("expected batch trim to %d entries, got %d", memoryKeep, got)
	}
}

func TestRecentEntriesReturnsNewest(t *testing.T) {
	l := newTestLog(t)
	l.Record("first", "", nil)
	l.Record("second", "", nil)
	l.Record("third", "", nil)

	recent := l.RecentEntries(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].EventType != "second" || recent[1].EventType != "third" {
		t.Fatalf("expected newest entries in order, got %q %q", recent[0].EventType, recent[1].EventType)
	}
}

func TestReportViolationAlsoRecordsEntry(t *testing.T) {
	l := newTestLog(t)
	l.ReportViolation(ViolationRateLimitHourly, "KROGER", "/products", "u1", nil)

	if len(l.violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(l.violations))
	}
	if len(l.entries) != 1 {
		t.Fatalf("expected violation mirrored as audit entry, got %d entries", len(l.entries))
	}
	if l.entries[0].EventType != "violation" {
		t.Fatalf("expected violation entry type, got %q", l.entries[0].EventType)
	}
}

func TestBreachDeadlineIs48Hours(t *testing.T) {
	l := newTestLog(t)
	b := l.ReportSecurityBreach("unauthorized_access", "stolen session token", []string{"u1", "u2"}, SeverityHigh)

	want := b.DiscoveredAt.Add(48 * time.Hour)
	if !b.NotificationDeadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, b.NotificationDeadline)
	}
	if b.Status != BreachPendingNotification {
		t.Fatalf("expected pending status, got %q", b.Status)
	}
}

func TestMarkBreachNotified(t *testing.T) {
	l := newTestLog(t)
	b := l.ReportSecurityBreach("data_leak", "export bucket public", []string{"u1"}, SeverityCritical)

	l.MarkBreachNotified(b.ID, "email")

	got, ok := l.Breach(b.ID)
	if !ok {
		t.Fatalf("breach not found after notification")
	}
	if got.Status != BreachNotified {
		t.Fatalf("expected notified status, got %q", got.Status)
	}
	if got.NotifiedAt == nil || got.NotificationMethod != "email" {
		t.Fatalf("expected notification details recorded, got %+v", got)
	}
	if got.Resolved {
		t.Fatal("notification must not mark the breach resolved")
	}
}

func TestMarkBreachNotifiedUnknownID(t *testing.T) {
	l := newTestLog(t)
	l.MarkBreachNotified("missing", "email")

	if len(l.entries) != 0 {
		t.Fatalf("unknown breach id must not produce an audit entry, got %d", len(l.entries))
	}
}

func TestGenerateReportDefaultsWindow(t *testing.T) {
	l := newTestLog(t)
	l.Record("api_request", "KROGER", nil)
	l.ReportViolation(ViolationRateLimitDaily, "SPOONACULAR", "/recipes", "u2", nil)

	r := l.GenerateReport(time.Time{}, time.Time{})
	if !r.PeriodEnd.Equal(l.now()) {
		t.Fatalf("expected period end now, got %v", r.PeriodEnd)
	}
	if !r.PeriodStart.Equal(r.PeriodEnd.Add(-30 * 24 * time.Hour)) {
		t.Fatalf("expected trailing 30 day window, got start %v", r.PeriodStart)
	}
	if r.TotalViolations != 1 {
		t.Fatalf("expected 1 violation, got %d", r.TotalViolations)
	}
	if r.ViolationsByType[ViolationRateLimitDaily] != 1 {
		t.Fatalf("expected violation counted by type, got %v", r.ViolationsByType)
	}
}
