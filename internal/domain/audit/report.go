package audit

import "time"

const (
	reportViolationLimit = 100
	reportEntryLimit     = 50
	defaultReportWindow  = 30 * 24 * time.Hour
)

// Report summarises compliance activity. Statistics cover the lifetime of
// this process; the period is reported for context but entries are not
// filtered by it, since the durable log is the system of record for
// historical queries.
type Report struct {
	PeriodStart      time.Time      `json:"periodStart"`
	PeriodEnd        time.Time      `json:"periodEnd"`
	GeneratedAt      time.Time      `json:"generatedAt"`
	TotalEntries     int            `json:"totalEntries"`
	TotalViolations  int            `json:"totalViolations"`
	TotalBreaches    int            `json:"totalBreaches"`
	OpenBreaches     int            `json:"openBreaches"`
	ViolationsByType map[string]int `json:"violationsByType"`
	RecentViolations []Violation    `json:"recentViolations"`
	RecentActivity   []Entry        `json:"recentActivity"`
}

func (l *Log) GenerateReport(start, end time.Time) Report {
	now := l.now()
	if end.IsZero() {
		end = now
	}
	if start.IsZero() {
		start = end.Add(-defaultReportWindow)
	}

	entries, violations, breaches, open := l.counts()
	recent := l.RecentViolations(reportViolationLimit)

	byType := make(map[string]int)
	for _, v := range recent {
		byType[v.Type]++
	}

	return Report{
		PeriodStart:      start,
		PeriodEnd:        end,
		GeneratedAt:      now,
		TotalEntries:     entries,
		TotalViolations:  violations,
		TotalBreaches:    breaches,
		OpenBreaches:     open,
		ViolationsByType: byType,
		RecentViolations: recent,
		RecentActivity:   l.RecentEntries(reportEntryLimit),
	}
}
