package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestComponentLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(&buf, slog.LevelInfo), "poller")
	logger.Debug("hidden")
	logger.Info("poll finished", "sensors", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["msg"] != "poll finished" || entry["component"] != "poller" || entry["service"] != "hue-monitor" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["sensors"] != float64(3) {
		t.Fatalf("sensors = %v, want 3", entry["sensors"])
	}
}
