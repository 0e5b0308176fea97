package ratelimit

import (
	"context"
	"sync"
)

// CounterStore tracks per-provider request counts in hourly and daily
// buckets. IncrementIfAllowed must be atomic: both limits are checked and
// both counters advance together, or neither does.
type CounterStore interface {
	IncrementIfAllowed(ctx context.Context, hourKey, dayKey string, hourlyLimit, dailyLimit int) (Usage, string, error)
	Usage(ctx context.Context, hourKey, dayKey string) (Usage, error)
	ResetHourly(ctx context.Context) error
	ResetDaily(ctx context.Context) error
}

type Usage struct {
	Hourly int `json:"hourly"`
	Daily  int `json:"daily"`
}

type MemoryCounters struct {
	mu     sync.Mutex
	hourly map[string]int
	daily  map[string]int
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{
		hourly: make(map[string]int),
		daily:  make(map[string]int),
	}
}

func (m *MemoryCounters) IncrementIfAllowed(ctx context.Context, hourKey, dayKey string, hourlyLimit, dailyLimit int) (Usage, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hour := m.hourly[hourKey]
	day := m.daily[dayKey]
	if hour >= hourlyLimit {
		return Usage{Hourly: hour, Daily: day}, ReasonHourlyExceeded, nil
	}
	if day >= dailyLimit {
		return Usage{Hourly: hour, Daily: day}, ReasonDailyExceeded, nil
	}

	m.hourly[hourKey] = hour + 1
	m.daily[dayKey] = day + 1
	return Usage{Hourly: hour + 1, Daily: day + 1}, "", nil
}

func (m *MemoryCounters) Usage(ctx context.Context, hourKey, dayKey string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Usage{Hourly: m.hourly[hourKey], Daily: m.daily[dayKey]}, nil
}

func (m *MemoryCounters) ResetHourly(ctx context.Context) error {
	m.mu.Lock()
	m.hourly = make(map[string]int)
	m.mu.Unlock()
	return nil
}

func (m *MemoryCounters) ResetDaily(ctx context.Context) error {
	m.mu.Lock()
	m.daily = make(map[string]int)
	m.mu.Unlock()
	return nil
}
