package alerting

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

func newTestRuleSet(t *testing.T) (*RuleSet, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRuleSet(dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRuleSetLoadsJSONWithComments(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	writeFile(t, filepath.Join(dir, "alerts.json"), `{
		// motion alerts
		"sensors": [
			{"sensor_name": "Kitchen", "type": "presence", "condition": "detected", "cooldown": 10, "priority": 1, "sound": "siren", "enabled": true},
			{"sensor_name": "Kitchen", "type": "presence", "condition": "detected", "cooldown": "90s", "priority": "low", "enabled": false},
		]
	}`)

	changed, err := rules.Refresh()
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if !changed {
		t.Fatalf("first load should report a change")
	}
	got := rules.Rules()
	if len(got) != 2 {
		t.Fatalf("rules = %d, want 2", len(got))
	}
	if got[0].ID != "kitchen-presence-detected" || got[1].ID != "kitchen-presence-detected-2" {
		t.Fatalf("ids = %q, %q", got[0].ID, got[1].ID)
	}
	if got[0].Cooldown.Duration() != 10*time.Minute || got[0].Priority != model.PriorityHigh || got[0].Sound != "siren" {
		t.Fatalf("first rule = %#v", got[0])
	}
	if got[1].Cooldown.Duration() != 90*time.Second || got[1].Priority != model.PriorityLow {
		t.Fatalf("second rule = %#v", got[1])
	}

	changed, err = rules.Refresh()
	if err != nil || changed {
		t.Fatalf("unchanged file: changed=%v err=%v", changed, err)
	}
}

func TestRuleSetLoadsYAML(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	writeFile(t, filepath.Join(dir, "alerts.yaml"), `sensors:
  - sensor_name: Bedroom
    type: temperature
    condition: above
    threshold: 25
    priority: high
    cooldown: 15
    enabled: true
`)
	if _, err := rules.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	got := rules.Rules()
	if len(got) != 1 || got[0].Threshold == nil || *got[0].Threshold != 25 || got[0].Priority != model.PriorityHigh {
		t.Fatalf("rules = %#v", got)
	}

	if _, err := rules.Toggle(got[0].ID); err != nil {
		t.Fatalf("Toggle() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "alerts.yaml"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "enabled: false") || !strings.Contains(string(data), "cooldown: 15") {
		t.Fatalf("persisted yaml = %s", data)
	}
}

func TestRuleSetToggleSensorPersistsAndNotifies(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	path := filepath.Join(dir, "alerts.json")
	writeFile(t, path, `{"sensors": [
		{"sensor_name": "Kitchen", "type": "presence", "condition": "detected", "enabled": true},
		{"sensor_name": "Kitchen", "type": "offline", "enabled": false},
		{"sensor_name": "Hall", "type": "presence", "condition": "detected", "enabled": true}
	]}`)
	if _, err := rules.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	notified := 0
	rules.OnChange(func([]model.AlertRule) { notified++ })

	toggled, err := rules.ToggleSensor("Kitchen")
	if err != nil {
		t.Fatalf("ToggleSensor() error: %v", err)
	}
	if len(toggled) != 2 || toggled[0].Enabled || !toggled[1].Enabled {
		t.Fatalf("toggled = %#v", toggled)
	}
	if notified != 1 {
		t.Fatalf("OnChange calls = %d, want 1", notified)
	}

	reloaded := NewRuleSet(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := reloaded.Refresh(); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	for _, rule := range reloaded.Rules() {
		if rule.SensorName == "Hall" && !rule.Enabled {
			t.Fatalf("Hall rule should be untouched")
		}
		if rule.SensorName == "Kitchen" && rule.Kind == model.AlertPresence && rule.Enabled {
			t.Fatalf("Kitchen presence rule should be persisted disabled")
		}
	}

	if _, err := rules.ToggleSensor("Garage"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestRuleSetAutoGenerate(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	sensors := []model.Sensor{
		{ID: "37", Name: "Kitchen", Reading: model.Presence{}},
		{ID: "38", Name: "Kitchen temp", Reading: model.Temperature{}},
		{ID: "40", Name: "Hall", Reading: model.Presence{}},
	}

	wrote, err := rules.AutoGenerate(sensors)
	if err != nil || !wrote {
		t.Fatalf("AutoGenerate() = %v, %v", wrote, err)
	}
	got := rules.Rules()
	if len(got) != 2 || got[0].SensorName != "Hall" || got[0].Enabled || got[0].Cooldown.Duration() != time.Minute {
		t.Fatalf("generated = %#v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "alerts.json")); err != nil {
		t.Fatalf("alerts.json not written: %v", err)
	}

	wrote, err = rules.AutoGenerate(sensors)
	if err != nil || wrote {
		t.Fatalf("second AutoGenerate() = %v, %v", wrote, err)
	}
}

func TestRuleSetKeepsRulesOnParseError(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	path := filepath.Join(dir, "alerts.json")
	writeFile(t, path, `{"sensors": [{"sensor_name": "Kitchen", "type": "presence", "condition": "detected", "enabled": true}]}`)
	if _, err := rules.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	writeFile(t, path, `{"sensors": [{"sensor_name": "Kitchen", "priority": 9}]}`)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if _, err := rules.Refresh(); err == nil {
		t.Fatalf("expected parse error for out-of-range priority")
	}
	if len(rules.Rules()) != 1 {
		t.Fatalf("previous rules should be kept")
	}
}

func TestRuleSetDefaultsDependOnKind(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	writeFile(t, filepath.Join(dir, "alerts.json"), `{"sensors": [
		{"id": "motion", "sensor_name": "Kitchen", "type": "presence", "condition": "detected", "enabled": true},
		{"id": "clear", "sensor_name": "Kitchen", "type": "presence", "condition": "cleared", "enabled": true},
		{"id": "gone", "sensor_name": "Kitchen", "type": "offline", "enabled": true},
		{"id": "quiet", "sensor_name": "Kitchen", "type": "offline", "priority": 0, "cooldown": 0, "sound": "", "enabled": true}
	]}`)

	if _, err := rules.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	got := map[string]model.AlertRule{}
	for _, rule := range rules.Rules() {
		got[rule.ID] = rule
	}

	if got["motion"].Priority != model.PriorityNormal || got["motion"].Sound != "pushover" || got["motion"].Cooldown != nil {
		t.Fatalf("motion rule = %#v", got["motion"])
	}
	if got["clear"].Priority != model.PriorityLow || got["clear"].Sound != "" {
		t.Fatalf("cleared rule = %#v", got["clear"])
	}
	if got["gone"].Priority != model.PriorityHigh {
		t.Fatalf("offline rule priority = %s, want high", got["gone"].Priority)
	}
	quiet := got["quiet"]
	if quiet.Priority != model.PriorityNormal || quiet.Sound != "" {
		t.Fatalf("explicit values must win over defaults: %#v", quiet)
	}
	if quiet.Cooldown == nil || quiet.Cooldown.Duration() != 0 {
		t.Fatalf("explicit zero cooldown lost: %v", quiet.Cooldown)
	}
}

func TestRuleSetYAMLExplicitZeroCooldown(t *testing.T) {
	rules, dir := newTestRuleSet(t)
	writeFile(t, filepath.Join(dir, "alerts.yaml"), `sensors:
  - sensor_name: Hall
    type: presence
    condition: detected
    cooldown: 0
    enabled: true
`)
	if _, err := rules.Refresh(); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	got := rules.Rules()
	if len(got) != 1 || got[0].Cooldown == nil || got[0].Cooldown.Duration() != 0 {
		t.Fatalf("rules = %#v", got)
	}
	if got[0].Sound != "pushover" {
		t.Fatalf("sound = %q, want pushover default", got[0].Sound)
	}
}
