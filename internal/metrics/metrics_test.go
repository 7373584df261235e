package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/micro-ha/hue-monitor/internal/eventstream"
	"github.com/micro-ha/hue-monitor/internal/state"
)

type fakeStats struct {
	snap state.StatsSnapshot
}

func (f fakeStats) Snapshot() state.StatsSnapshot { return f.snap }

type fakeClients int

func (f fakeClients) Clients() int { return int(f) }

type fakeStream eventstream.Status

func (f fakeStream) Status() eventstream.Status { return eventstream.Status(f) }

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetricsExportRunStats(t *testing.T) {
	last := time.Unix(1700000000, 0).UTC()
	m := New(Sources{
		Stats: fakeStats{snap: state.StatsSnapshot{
			StartedAt:         time.Unix(1699990000, 0).UTC(),
			TotalEvents:       6,
			EventsBySensor:    map[string]uint64{"Kitchen": 6},
			NotificationsSent: 2,
			LastPoll:          &last,
			PollCount:         3,
			PollsSkipped:      1,
		}},
		Clients: fakeClients(2),
		Stream:  fakeStream{State: eventstream.StateConnected, Connects: 1},
	})
	m.AlertFired("presence", "normal")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		"hue_monitor_events_total 6",
		"hue_monitor_notifications_sent_total 2",
		"hue_monitor_polls_total 3",
		"hue_monitor_polls_skipped_total 1",
		`hue_monitor_sensor_events_total{sensor="Kitchen"} 6`,
		"hue_monitor_ws_clients 2",
		"hue_monitor_eventstream_connected 1",
		`hue_monitor_alerts_fired_total{kind="presence",priority="normal"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New(Sources{})
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/lights/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lights/7", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	body := scrape(t, m.Handler())
	want := `hue_monitor_http_requests_total{route="/api/lights/{id}",status="404"} 1`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in metrics output", want)
	}
}
