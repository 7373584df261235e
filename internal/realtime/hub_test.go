package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

func newTestHub(t *testing.T) (*Hub, *state.Store) {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New(clk, logger)
	hub := NewHub(store, logger)
	store.Observe(hub)
	return hub, store
}

func kitchen(detected bool) model.Sensor {
	return model.Sensor{ID: "37", Name: "Kitchen", Type: "ZLLPresence", Reading: model.Presence{Detected: detected}, Reachable: true}
}

type frame struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestServeWSSendsSnapshotThenUpdates(t *testing.T) {
	hub, store := newTestHub(t)
	store.Upsert(kitchen(false))
	store.Upsert(model.Light{ID: "3", Name: "Hall", Reachable: true})

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	snap := readFrame(t, conn)
	if snap.Type != MessageSnapshot || snap.Seq != 2 {
		t.Fatalf("first frame = %s seq %d, want snapshot seq 2", snap.Type, snap.Seq)
	}
	var decoded struct {
		Sensors []map[string]any `json:"sensors"`
		Lights  []model.Light    `json:"lights"`
	}
	if err := json.Unmarshal(snap.Data, &decoded); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(decoded.Sensors) != 1 || decoded.Sensors[0]["presence"] != false || len(decoded.Lights) != 1 {
		t.Fatalf("snapshot = %s", snap.Data)
	}

	store.Upsert(kitchen(true))
	update := readFrame(t, conn)
	if update.Type != MessageUpdate || update.Seq != 3 || update.ID != "37" {
		t.Fatalf("update frame = %#v", update)
	}
	if !strings.Contains(string(update.Data), `"presence":true`) {
		t.Fatalf("update data = %s", update.Data)
	}

	hub.BroadcastRules([]model.AlertRule{{ID: "kitchen-presence-detected", SensorName: "Kitchen", Kind: model.AlertPresence}})
	if alerts := readFrame(t, conn); alerts.Type != MessageAlerts {
		t.Fatalf("expected alerts frame, got %s", alerts.Type)
	}
}

func TestSnapshotHandOffHasNoGapOrDuplicate(t *testing.T) {
	hub, store := newTestHub(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			store.Upsert(kitchen(i%2 == 0))
		}
	}()

	client, err := hub.attach()
	if err != nil {
		t.Fatalf("attach() error: %v", err)
	}
	<-done
	hub.Close()

	var seqs []uint64
	for payload := range client.send {
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		seqs = append(seqs, f.Seq)
	}
	if len(seqs) == 0 {
		t.Fatalf("expected a snapshot frame")
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence gap or duplicate after snapshot: %v", seqs)
		}
	}
	if last := seqs[len(seqs)-1]; last != 200 {
		t.Fatalf("last seq = %d, want 200", last)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub, store := newTestHub(t)
	hub.sendBuffer = 2
	slow, err := hub.attach()
	if err != nil {
		t.Fatalf("attach() error: %v", err)
	}
	hub.sendBuffer = 64
	fast, err := hub.attach()
	if err != nil {
		t.Fatalf("attach() error: %v", err)
	}

	for i := 0; i < 5; i++ {
		store.Upsert(kitchen(i%2 == 0))
	}

	if hub.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", hub.Clients())
	}
	drained := 0
	for range slow.send {
		drained++
	}
	if drained != 2 {
		t.Fatalf("slow client kept %d frames, want 2", drained)
	}
	if len(fast.send) != 6 {
		t.Fatalf("fast client queued %d frames, want 6", len(fast.send))
	}
}
