// Package metrics exports run statistics in the Prometheus text format.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/micro-ha/hue-monitor/internal/eventstream"
	"github.com/micro-ha/hue-monitor/internal/state"
)

const namespace = "hue_monitor"

// StatsSource returns the current run counters.
type StatsSource interface {
	Snapshot() state.StatsSnapshot
}

// ClientCounter reports connected realtime clients.
type ClientCounter interface {
	Clients() int
}

// StreamStatus reports the event stream consumer state.
type StreamStatus interface {
	Status() eventstream.Status
}

// HistoryCounter reports history recorder throughput.
type HistoryCounter interface {
	Written() uint64
	Dropped() uint64
}

// Sources groups the collaborators sampled at scrape time. Nil fields are
// skipped.
type Sources struct {
	Stats   StatsSource
	Clients ClientCounter
	Stream  StreamStatus
	History HistoryCounter
}

type Metrics struct {
	registry       *prometheus.Registry
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	alertsFired    *prometheus.CounterVec
	eventsBySensor *prometheus.Desc
	stats          StatsSource
}

func New(src Sources) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by kind and priority.",
		}, []string{"kind", "priority"}),
		eventsBySensor: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sensor_events_total"),
			"Accepted state changes per sensor name.",
			[]string{"sensor"}, nil,
		),
		stats: src.Stats,
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.alertsFired,
	)

	if src.Stats != nil {
		stats := src.Stats
		m.registry.MustRegister(
			counterFunc("events_total", "Accepted state changes.", func() float64 {
				return float64(stats.Snapshot().TotalEvents)
			}),
			counterFunc("notifications_sent_total", "Alerts fired, including silent ones.", func() float64 {
				return float64(stats.Snapshot().NotificationsSent)
			}),
			counterFunc("dispatch_failures_total", "Push notifications that failed to send.", func() float64 {
				return float64(stats.Snapshot().DispatchFailures)
			}),
			counterFunc("polls_total", "Successful poll cycles.", func() float64 {
				return float64(stats.Snapshot().PollCount)
			}),
			counterFunc("poll_failures_total", "Failed poll cycles.", func() float64 {
				return float64(stats.Snapshot().PollFailures)
			}),
			counterFunc("polls_skipped_total", "Poll ticks skipped while a poll was in flight.", func() float64 {
				return float64(stats.Snapshot().PollsSkipped)
			}),
			gaugeFunc("last_poll_timestamp_seconds", "Unix time of the last successful poll.", func() float64 {
				last := stats.Snapshot().LastPoll
				if last == nil {
					return 0
				}
				return float64(last.UnixNano()) / float64(time.Second)
			}),
			gaugeFunc("start_time_seconds", "Unix time the process started.", func() float64 {
				return float64(stats.Snapshot().StartedAt.Unix())
			}),
			sensorCollector{m},
		)
	}
	if src.Clients != nil {
		clients := src.Clients
		m.registry.MustRegister(gaugeFunc("ws_clients", "Connected realtime clients.", func() float64 {
			return float64(clients.Clients())
		}))
	}
	if src.Stream != nil {
		stream := src.Stream
		m.registry.MustRegister(
			gaugeFunc("eventstream_connected", "1 while the controller event stream is connected.", func() float64 {
				if stream.Status().State == eventstream.StateConnected {
					return 1
				}
				return 0
			}),
			counterFunc("eventstream_connects_total", "Event stream connections established.", func() float64 {
				return float64(stream.Status().Connects)
			}),
			counterFunc("eventstream_failures_total", "Event stream sessions that ended in error.", func() float64 {
				return float64(stream.Status().Failures)
			}),
			counterFunc("eventstream_events_skipped_total", "Malformed stream events skipped.", func() float64 {
				return float64(stream.Status().EventsSkipped)
			}),
		)
	}
	if src.History != nil {
		history := src.History
		m.registry.MustRegister(
			counterFunc("history_written_total", "Sensor readings written to history.", func() float64 {
				return float64(history.Written())
			}),
			counterFunc("history_dropped_total", "Sensor readings dropped on a full history queue.", func() float64 {
				return float64(history.Dropped())
			}),
		)
	}
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AlertFired counts one fired alert.
func (m *Metrics) AlertFired(kind, priority string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(kind, priority).Inc()
}

// Middleware records request counts and durations labelled by chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

type sensorCollector struct {
	m *Metrics
}

func (c sensorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.m.eventsBySensor
}

func (c sensorCollector) Collect(ch chan<- prometheus.Metric) {
	for name, count := range c.m.stats.Snapshot().EventsBySensor {
		ch <- prometheus.MustNewConstMetric(c.m.eventsBySensor, prometheus.CounterValue, float64(count), name)
	}
}

func counterFunc(name, help string, fn func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn)
}

func gaugeFunc(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn)
}
