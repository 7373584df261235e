package state

import (
	"sync"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const defaultRecentEvents = 100

// Event is one presence transition kept for the dashboard's activity feed.
type Event struct {
	SensorID   string    `json:"sensor_id"`
	SensorName string    `json:"sensor_name"`
	Motion     bool      `json:"motion"`
	Timestamp  time.Time `json:"timestamp"`
}

type eventLog struct {
	mu    sync.Mutex
	limit int
	items []Event
}

func newEventLog(limit int) *eventLog {
	return &eventLog{limit: limit}
}

func (l *eventLog) record(change Change) {
	sensor, ok := change.Current.(model.Sensor)
	if !ok {
		return
	}
	presence, ok := sensor.Reading.(model.Presence)
	if !ok {
		return
	}
	if prev, ok := change.Previous.(model.Sensor); ok {
		if prevPresence, ok := prev.Reading.(model.Presence); ok && prevPresence == presence {
			return
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, Event{
		SensorID:   sensor.ID,
		SensorName: sensor.Name,
		Motion:     presence.Detected,
		Timestamp:  change.At,
	})
	if len(l.items) > l.limit {
		l.items = l.items[len(l.items)-l.limit:]
	}
}

func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0, len(l.items))
	for i := len(l.items) - 1; i >= 0; i-- {
		out = append(out, l.items[i])
	}
	return out
}
