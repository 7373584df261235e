package eventstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/hue"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

type fakeSource struct {
	mu      sync.Mutex
	streams []string
	fails   map[int]error
	opens   int
}

func (f *fakeSource) Resources(ctx context.Context) (*hue.Resolver, error) {
	_ = ctx
	return nil, nil
}

// OpenEventStream serves streams in order; attempts listed in fails and any
// attempt past the end of streams fail.
func (f *fakeSource) OpenEventStream(ctx context.Context) (io.ReadCloser, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	attempt := f.opens
	f.opens++
	if err, ok := f.fails[attempt]; ok {
		return nil, err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("dial tcp 192.168.1.2:443: connection refused")
	}
	body := f.streams[0]
	f.streams = f.streams[1:]
	return io.NopCloser(strings.NewReader(body)), nil
}

func newTestConsumer(t *testing.T, source Source) (*Consumer, *state.Store) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New(clk, logger)
	return New(source, store, clk, logger), store
}

// recordSleeps stops the consumer after n sleeps and returns the waits seen.
func recordSleeps(c *Consumer, cancel context.CancelFunc, n int) *[]time.Duration {
	waits := &[]time.Duration{}
	c.sleepFn = func(ctx context.Context, wait time.Duration) error {
		*waits = append(*waits, wait)
		if len(*waits) >= n {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	return waits
}

func TestRunBacksOffAndResetsAfterConnect(t *testing.T) {
	refused := errors.New("connection refused")
	source := &fakeSource{
		streams: []string{""},
		fails:   map[int]error{0: refused, 1: refused, 2: refused, 3: io.ErrUnexpectedEOF},
	}
	consumer, _ := newTestConsumer(t, source)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := recordSleeps(consumer, cancel, 6)

	consumer.Run(ctx)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, time.Second, 2 * time.Second}
	if len(*waits) != len(want) {
		t.Fatalf("waits = %v, want %v", *waits, want)
	}
	for i := range want {
		if (*waits)[i] != want[i] {
			t.Fatalf("waits = %v, want %v", *waits, want)
		}
	}
	status := consumer.Status()
	if status.Connects != 1 {
		t.Fatalf("Connects = %d, want 1", status.Connects)
	}
	if status.State != StateDisconnected {
		t.Fatalf("State = %q, want disconnected", status.State)
	}
}

func TestRunCapsBackoff(t *testing.T) {
	consumer, _ := newTestConsumer(t, &fakeSource{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := recordSleeps(consumer, cancel, 8)

	consumer.Run(ctx)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		if (*waits)[i] != w*time.Second {
			t.Fatalf("waits = %v", *waits)
		}
	}
	if got := consumer.Status().Failures; got != 8 {
		t.Fatalf("Failures = %d, want 8", got)
	}
}

func TestRunSkipsMalformedEventsAndAppliesUpdates(t *testing.T) {
	stream := ": hi\n\n" +
		"id: 1:0\ndata: {not json\n\n" +
		"id: 2:0\ndata: [{\"type\":\"update\",\"data\":[{\"id\":\"m1\",\"id_v1\":\"/sensors/37\",\"type\":\"motion\",\"motion\":{\"motion\":true}}]}]\n\n" +
		"id: 3:0\ndata: [{\"type\":\"update\",\"data\":[{\"id\":\"t1\",\"id_v1\":\"/sensors/99\",\"type\":\"temperature\",\"temperature\":{\"temperature\":21.5}}]}]\n\n"
	consumer, store := newTestConsumer(t, &fakeSource{streams: []string{stream}})
	store.Upsert(model.Sensor{ID: "37", Name: "Kitchen", Type: "ZLLPresence", Reading: model.Presence{}, Reachable: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	recordSleeps(consumer, cancel, 1)
	consumer.Run(ctx)

	got, ok := store.Get(model.SensorKey("37"))
	if !ok {
		t.Fatalf("Kitchen missing")
	}
	kitchen := got.(model.Sensor)
	if kitchen.Reading != (model.Presence{Detected: true}) || kitchen.Name != "Kitchen" {
		t.Fatalf("Kitchen = %#v", kitchen)
	}

	got, ok = store.Get(model.SensorKey("99"))
	if !ok {
		t.Fatalf("event for unknown sensor should create it")
	}
	created := got.(model.Sensor)
	if created.Reading != (model.Temperature{Celsius: 21.5, Valid: true}) || created.Name != "Sensor_99" {
		t.Fatalf("created = %#v", created)
	}

	status := consumer.Status()
	if status.EventsSkipped != 1 || status.EventsApplied != 2 {
		t.Fatalf("status = %#v", status)
	}
}

func TestApplyPatch(t *testing.T) {
	battery := 12
	offline := false
	if got := applyPatch(nil, hue.Update{Key: model.SensorKey("5"), Patch: hue.Patch{Battery: &battery}}); got != nil {
		t.Fatalf("battery-only update must not create a sensor, got %#v", got)
	}

	motion := model.Sensor{ID: "37", Name: "Kitchen", Reading: model.Presence{Detected: true}, Reachable: true}
	temp := 20.0
	got := applyPatch(motion, hue.Update{Key: motion.Key(), Patch: hue.Patch{Temperature: &temp, Battery: &battery, Reachable: &offline}}).(model.Sensor)
	if got.Reading != motion.Reading {
		t.Fatalf("temperature patch must not replace a presence reading: %#v", got.Reading)
	}
	if got.Battery == nil || *got.Battery != 12 || got.Reachable {
		t.Fatalf("patched sensor = %#v", got)
	}

	level := model.Sensor{ID: "39", Reading: model.LightLevel{Level: 100, Dark: true}}
	lux := 20000
	got = applyPatch(level, hue.Update{Key: level.Key(), Patch: hue.Patch{LightLevel: &lux}}).(model.Sensor)
	if got.Reading != (model.LightLevel{Level: 20000, Dark: true}) {
		t.Fatalf("light level = %#v", got.Reading)
	}

	on := true
	light := applyPatch(nil, hue.Update{Key: model.LightKey("3"), Name: "Hall", Patch: hue.Patch{On: &on}}).(model.Light)
	if !light.On || light.Name != "Hall" || !light.Reachable {
		t.Fatalf("created light = %#v", light)
	}
}
