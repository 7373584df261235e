package history

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

const (
	defaultQueueSize = 512
	flushBatch       = 64
)

// DefaultCategories are the sensor categories recorded when none are
// configured.
var DefaultCategories = []model.Category{model.CategoryMotion, model.CategoryTemperature}

// Appender persists a batch of sensor readings.
type Appender interface {
	Append(ctx context.Context, sensors []model.Sensor) error
}

// Recorder is a store observer that queues sensor changes and writes them
// to the repository off the commit path.
type Recorder struct {
	repo       Appender
	logger     *slog.Logger
	categories map[model.Category]struct{}
	queue      chan model.Sensor
	dropped    atomic.Uint64
	written    atomic.Uint64
}

func NewRecorder(repo Appender, categories []model.Category, logger *slog.Logger) *Recorder {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	set := make(map[model.Category]struct{}, len(categories))
	for _, category := range categories {
		set[category] = struct{}{}
	}
	return &Recorder{
		repo:       repo,
		logger:     logger,
		categories: set,
		queue:      make(chan model.Sensor, defaultQueueSize),
	}
}

// Observe never blocks; readings are dropped when the queue is full.
func (r *Recorder) Observe(change state.Change) {
	sensor, ok := change.Current.(model.Sensor)
	if !ok || !r.Records(sensor) {
		return
	}
	select {
	case r.queue <- sensor:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("history queue full, dropping readings")
		}
	}
}

// Records reports whether a sensor value would be logged. Motion sensors
// are logged only while presence is detected.
func (r *Recorder) Records(sensor model.Sensor) bool {
	if _, ok := r.categories[sensor.Category()]; !ok {
		return false
	}
	if presence, ok := sensor.Reading.(model.Presence); ok && !presence.Detected {
		return false
	}
	return true
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) {
	batch := make([]model.Sensor, 0, flushBatch)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case sensor := <-r.queue:
					batch = append(batch, sensor)
				default:
					r.flush(batch)
					return
				}
			}
		case sensor := <-r.queue:
			batch = append(batch[:0], sensor)
		fill:
			for len(batch) < flushBatch {
				select {
				case next := <-r.queue:
					batch = append(batch, next)
				default:
					break fill
				}
			}
			r.flush(batch)
			batch = batch[:0]
		}
	}
}

func (r *Recorder) flush(batch []model.Sensor) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.repo.Append(ctx, batch); err != nil {
		r.logger.Error("history write failed", "readings", len(batch), "err", err)
		return
	}
	r.written.Add(uint64(len(batch)))
}
