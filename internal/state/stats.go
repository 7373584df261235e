package state

import (
	"sync"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

// Stats accumulates run counters. Change counters are updated inside the
// store's commit section; the rest are updated by the poller and the alert
// engine.
type Stats struct {
	mu                sync.Mutex
	startedAt         time.Time
	totalEvents       uint64
	eventsBySensor    map[string]uint64
	notificationsSent uint64
	dispatchFailures  uint64
	lastPoll          time.Time
	pollCount         uint64
	pollFailures      uint64
	pollsSkipped      uint64
}

// StatsSnapshot is the read-only view served to the dashboard.
type StatsSnapshot struct {
	StartedAt         time.Time         `json:"started_at"`
	TotalEvents       uint64            `json:"total_events"`
	EventsBySensor    map[string]uint64 `json:"events_by_sensor"`
	NotificationsSent uint64            `json:"notifications_sent"`
	DispatchFailures  uint64            `json:"dispatch_failures"`
	LastPoll          *time.Time        `json:"last_poll"`
	PollCount         uint64            `json:"poll_count"`
	PollFailures      uint64            `json:"poll_failures"`
	PollsSkipped      uint64            `json:"polls_skipped"`
}

func newStats(startedAt time.Time) *Stats {
	return &Stats{startedAt: startedAt.UTC(), eventsBySensor: map[string]uint64{}}
}

func (s *Stats) recordChange(change Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalEvents++
	if sensor, ok := change.Current.(model.Sensor); ok {
		s.eventsBySensor[sensor.Name]++
	}
}

func (s *Stats) RecordNotification() {
	s.mu.Lock()
	s.notificationsSent++
	s.mu.Unlock()
}

func (s *Stats) RecordDispatchFailure() {
	s.mu.Lock()
	s.dispatchFailures++
	s.mu.Unlock()
}

func (s *Stats) RecordPoll(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.pollFailures++
		return
	}
	s.pollCount++
	s.lastPoll = at.UTC()
}

func (s *Stats) RecordPollSkipped() {
	s.mu.Lock()
	s.pollsSkipped++
	s.mu.Unlock()
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySensor := make(map[string]uint64, len(s.eventsBySensor))
	for name, count := range s.eventsBySensor {
		bySensor[name] = count
	}
	out := StatsSnapshot{
		StartedAt:         s.startedAt,
		TotalEvents:       s.totalEvents,
		EventsBySensor:    bySensor,
		NotificationsSent: s.notificationsSent,
		DispatchFailures:  s.dispatchFailures,
		PollCount:         s.pollCount,
		PollFailures:      s.pollFailures,
		PollsSkipped:      s.pollsSkipped,
	}
	if !s.lastPoll.IsZero() {
		last := s.lastPoll
		out.LastPoll = &last
	}
	return out
}
