package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(context.Background(), filepath.Join(t.TempDir(), "history.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func temperatureSensor(celsius float64, at time.Time) model.Sensor {
	return model.Sensor{
		ID:          "5",
		Name:        "Hallway temp",
		Type:        "ZLLTemperature",
		Reading:     model.Temperature{Celsius: celsius, Valid: true},
		Battery:     model.IntPtr(80),
		Reachable:   true,
		LastUpdated: at,
	}
}

func TestRepositoryHistoryNewestLimitOldestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var sensors []model.Sensor
	for i := 0; i < 5; i++ {
		sensors = append(sensors, temperatureSensor(20+float64(i), base.Add(time.Duration(i)*time.Minute)))
	}
	if err := repo.Append(ctx, sensors); err != nil {
		t.Fatalf("append: %v", err)
	}

	items, err := repo.History(ctx, model.CategoryTemperature, "Hallway temp", 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(items))
	}
	if got := items[0].Values["temperature"]; got != 22.0 {
		t.Fatalf("expected oldest of last three to be 22, got %v", got)
	}
	if got := items[2].Values["temperature"]; got != 24.0 {
		t.Fatalf("expected newest to be 24, got %v", got)
	}
	if !items[2].Timestamp.Equal(base.Add(4 * time.Minute)) {
		t.Fatalf("unexpected timestamp %s", items[2].Timestamp)
	}
	if items[0].Battery == nil || *items[0].Battery != 80 || !items[0].Reachable {
		t.Fatalf("unexpected battery/reachable: %+v", items[0])
	}

	missing, err := repo.History(ctx, model.CategoryMotion, "Hallway temp", 10)
	if err != nil {
		t.Fatalf("history other category: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no readings for other category, got %d", len(missing))
	}
}

func TestRepositoryTrimsPerSensor(t *testing.T) {
	repo := newTestRepository(t)
	repo.keep = 3
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		if err := repo.Append(ctx, []model.Sensor{temperatureSensor(float64(i), base.Add(time.Duration(i)*time.Second))}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	items, err := repo.History(ctx, model.CategoryTemperature, "Hallway temp", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected trim to 3 readings, got %d", len(items))
	}
	if got := items[0].Values["temperature"]; got != 3.0 {
		t.Fatalf("expected oldest kept reading 3, got %v", got)
	}

	summaries, err := repo.Sensors(ctx)
	if err != nil {
		t.Fatalf("sensors: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Readings != 3 || summaries[0].Category != model.CategoryTemperature {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}
}

type fakeAppender struct {
	mu      sync.Mutex
	written []model.Sensor
}

func (f *fakeAppender) Append(_ context.Context, sensors []model.Sensor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, sensors...)
	return nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestRecorderFiltersCategoriesAndClearedMotion(t *testing.T) {
	sink := &fakeAppender{}
	recorder := NewRecorder(sink, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	motion := func(detected bool) model.Sensor {
		return model.Sensor{ID: "1", Name: "Kitchen", Type: "ZLLPresence", Reading: model.Presence{Detected: detected}, Reachable: true}
	}
	recorder.Observe(state.Change{Current: motion(true)})
	recorder.Observe(state.Change{Current: motion(false)})
	recorder.Observe(state.Change{Current: temperatureSensor(21, time.Now())})
	recorder.Observe(state.Change{Current: model.Sensor{ID: "9", Name: "Dimmer", Type: "ZLLSwitch", Reading: model.Switch{ButtonEvent: 1002}}})
	recorder.Observe(state.Change{Current: model.Light{ID: "3", Name: "Lamp"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recorder.Run(ctx)

	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 recorded readings, got %d", got)
	}
	if recorder.Written() != 2 {
		t.Fatalf("expected written counter 2, got %d", recorder.Written())
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	sink := &fakeAppender{}
	recorder := NewRecorder(sink, []model.Category{model.CategoryTemperature}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < defaultQueueSize+10; i++ {
		recorder.Observe(state.Change{Current: temperatureSensor(float64(i), time.Now())})
	}
	if recorder.Dropped() != 10 {
		t.Fatalf("expected 10 dropped readings, got %d", recorder.Dropped())
	}
}

func TestRecorderWritesToRepository(t *testing.T) {
	repo := newTestRepository(t)
	recorder := NewRecorder(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		recorder.Run(ctx)
		close(done)
	}()

	recorder.Observe(state.Change{Current: temperatureSensor(19.5, time.Now())})
	deadline := time.Now().Add(2 * time.Second)
	for recorder.Written() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	items, err := repo.History(context.Background(), model.CategoryTemperature, "Hallway temp", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(items) != 1 || items[0].Values["temperature"] != 19.5 {
		t.Fatalf("unexpected history: %+v", items)
	}
}
