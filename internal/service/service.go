// Package service holds the light write path and the read views served by
// the HTTP layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/eventstream"
	"github.com/micro-ha/hue-monitor/internal/history"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

var (
	ErrLightNotFound    = errors.New("light not found")
	ErrUnknownCategory  = errors.New("unknown sensor category")
	ErrHistoryDisabled  = errors.New("sensor history disabled")
	ErrBridgeNotDefined = errors.New("bridge not configured")
)

// LightController changes light state on the controller.
type LightController interface {
	SetLightState(ctx context.Context, id string, on bool) error
}

// RuleStore is the file-backed alert rule set.
type RuleStore interface {
	Rules() []model.AlertRule
	Toggle(id string) (model.AlertRule, error)
	ToggleSensor(sensorName string) ([]model.AlertRule, error)
}

// RuleChecker reports rule validity and fire history.
type RuleChecker interface {
	Check(rule model.AlertRule) error
	LastFired(ruleID string) (time.Time, bool)
}

type HistoryReader interface {
	History(ctx context.Context, category model.Category, name string, limit int) ([]history.Reading, error)
	Sensors(ctx context.Context) ([]history.SensorSummary, error)
}

type Refresher interface {
	TriggerRefresh()
	Interval() time.Duration
}

type StreamStatus interface {
	Status() eventstream.Status
}

type ClientCounter interface {
	Clients() int
}

// Deps wires a Service. Lights, History, Stream and Clients may be nil.
type Deps struct {
	Store           *state.Store
	Lights          LightController
	Rules           RuleStore
	Engine          RuleChecker
	History         HistoryReader
	Poller          Refresher
	Stream          StreamStatus
	Clients         ClientCounter
	PushoverEnabled bool
	Clock           clock.Clock
	Logger          *slog.Logger
}

type Service struct {
	store    *state.Store
	lights   LightController
	rules    RuleStore
	engine   RuleChecker
	history  HistoryReader
	poller   Refresher
	stream   StreamStatus
	clients  ClientCounter
	pushover bool
	clock    clock.Clock
	logger   *slog.Logger
}

func New(deps Deps) *Service {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		store:    deps.Store,
		lights:   deps.Lights,
		rules:    deps.Rules,
		engine:   deps.Engine,
		history:  deps.History,
		poller:   deps.Poller,
		stream:   deps.Stream,
		clients:  deps.Clients,
		pushover: deps.PushoverEnabled,
		clock:    clk,
		logger:   deps.Logger,
	}
}

// SensorGroups maps every category to its sensors. Empty categories are
// present with an empty list.
type SensorGroups map[model.Category][]model.Sensor

func (s *Service) Sensors() SensorGroups {
	groups := make(SensorGroups, len(model.Categories))
	for _, category := range model.Categories {
		groups[category] = []model.Sensor{}
	}
	for _, sensor := range s.store.Snapshot().Sensors {
		category := sensor.Category()
		groups[category] = append(groups[category], sensor)
	}
	return groups
}

func (s *Service) Lights() []model.Light {
	return s.store.Snapshot().Lights
}

// ToggleLight flips a light on the controller and commits the new state
// through the store so observers see it like any other update.
func (s *Service) ToggleLight(ctx context.Context, id string) (model.Light, error) {
	entity, ok := s.store.Get(model.LightKey(id))
	if !ok {
		return model.Light{}, ErrLightNotFound
	}
	light, ok := entity.(model.Light)
	if !ok {
		return model.Light{}, ErrLightNotFound
	}
	if s.lights == nil {
		return model.Light{}, ErrBridgeNotDefined
	}

	target := !light.On
	if err := s.lights.SetLightState(ctx, id, target); err != nil {
		return model.Light{}, fmt.Errorf("set light %s: %w", id, err)
	}

	_, _, current := s.store.Update(model.LightKey(id), func(current model.Entity) model.Entity {
		l, ok := current.(model.Light)
		if !ok {
			return nil
		}
		l.On = target
		return l
	})
	updated, _ := current.(model.Light)
	s.logger.Info("light toggled", "light_id", id, "on", target)
	return updated, nil
}

func (s *Service) sensorNames() map[string]struct{} {
	sensors := s.store.Snapshot().Sensors
	if len(sensors) == 0 {
		return nil
	}
	names := make(map[string]struct{}, len(sensors))
	for _, sensor := range sensors {
		names[sensor.Name] = struct{}{}
	}
	return names
}

// RuleView is a rule with its evaluation status.
type RuleView struct {
	model.AlertRule
	Valid     bool       `json:"valid"`
	Error     string     `json:"error,omitempty"`
	LastFired *time.Time `json:"last_fired,omitempty"`
}

func (s *Service) Rules() []RuleView {
	rules := s.rules.Rules()
	known := s.sensorNames()
	out := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, s.ruleView(rule, known))
	}
	return out
}

func (s *Service) ToggleRule(id string) (RuleView, error) {
	rule, err := s.rules.Toggle(id)
	if err != nil {
		return RuleView{}, err
	}
	s.logger.Info("alert rule toggled", "rule_id", rule.ID, "enabled", rule.Enabled)
	return s.ruleView(rule, s.sensorNames()), nil
}

func (s *Service) ToggleSensorRules(sensorName string) ([]RuleView, error) {
	rules, err := s.rules.ToggleSensor(sensorName)
	if err != nil {
		return nil, err
	}
	known := s.sensorNames()
	out := make([]RuleView, 0, len(rules))
	for _, rule := range rules {
		out = append(out, s.ruleView(rule, known))
	}
	s.logger.Info("sensor alert rules toggled", "sensor", sensorName, "rules", len(rules))
	return out, nil
}

// ruleView flags rules naming a sensor the store has never seen. known is
// nil until the first sensor arrives, when nothing can be judged yet.
func (s *Service) ruleView(rule model.AlertRule, known map[string]struct{}) RuleView {
	view := RuleView{AlertRule: rule, Valid: true}
	if known != nil {
		if _, ok := known[rule.SensorName]; !ok {
			view.Valid = false
			view.Error = fmt.Sprintf("unknown sensor %q", rule.SensorName)
		}
	}
	if s.engine == nil {
		return view
	}
	if err := s.engine.Check(rule); err != nil {
		view.Valid = false
		view.Error = err.Error()
	}
	if at, ok := s.engine.LastFired(rule.ID); ok {
		fired := at.UTC()
		view.LastFired = &fired
	}
	return view
}

// Events returns the most recent presence transitions, newest first.
func (s *Service) Events() []state.Event {
	return s.store.RecentEvents()
}

func (s *Service) History(ctx context.Context, category, name string, limit int) ([]history.Reading, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	parsed, ok := parseCategory(category)
	if !ok {
		return nil, ErrUnknownCategory
	}
	return s.history.History(ctx, parsed, name, limit)
}

func (s *Service) HistorySensors(ctx context.Context) ([]history.SensorSummary, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Sensors(ctx)
}

func parseCategory(raw string) (model.Category, bool) {
	for _, category := range model.Categories {
		if string(category) == raw {
			return category, true
		}
	}
	return "", false
}

// StatsView is the dashboard stats payload.
type StatsView struct {
	state.StatsSnapshot
	UptimeSeconds      int64               `json:"uptime_seconds"`
	Uptime             string              `json:"uptime"`
	Sensors            int                 `json:"sensors"`
	Lights             int                 `json:"lights"`
	ActiveAlerts       int                 `json:"active_alerts"`
	ConnectedClients   int                 `json:"connected_clients"`
	Stream             *eventstream.Status `json:"stream,omitempty"`
	PushoverEnabled    bool                `json:"pushover_enabled"`
	PollingIntervalSec int64               `json:"polling_interval"`
	TopSensors         []SensorCount       `json:"top_sensors"`
}

func (s *Service) Stats() StatsView {
	stats := s.store.Stats().Snapshot()
	snap := s.store.Snapshot()
	uptime := s.clock.Now().Sub(stats.StartedAt)
	if uptime < 0 {
		uptime = 0
	}

	view := StatsView{
		StatsSnapshot:   stats,
		UptimeSeconds:   int64(uptime / time.Second),
		Uptime:          formatUptime(uptime),
		Sensors:         len(snap.Sensors),
		Lights:          len(snap.Lights),
		PushoverEnabled: s.pushover,
		TopSensors:      s.TopSensors(5),
	}
	for _, rule := range s.rules.Rules() {
		if rule.Enabled {
			view.ActiveAlerts++
		}
	}
	if s.clients != nil {
		view.ConnectedClients = s.clients.Clients()
	}
	if s.stream != nil {
		status := s.stream.Status()
		view.Stream = &status
	}
	if s.poller != nil {
		view.PollingIntervalSec = int64(s.poller.Interval() / time.Second)
	}
	return view
}

// TopSensors returns the n sensors with the most accepted events.
func (s *Service) TopSensors(n int) []SensorCount {
	counts := s.store.Stats().Snapshot().EventsBySensor
	out := make([]SensorCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, SensorCount{Name: name, Events: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type SensorCount struct {
	Name   string `json:"name"`
	Events uint64 `json:"events"`
}

// Refresh asks the poller for an immediate cycle.
func (s *Service) Refresh() {
	if s.poller != nil {
		s.poller.TriggerRefresh()
	}
}

// StreamState reports the event stream state, or disconnected when no
// consumer is running.
func (s *Service) StreamState() eventstream.State {
	if s.stream == nil {
		return eventstream.StateDisconnected
	}
	return s.stream.Status().State
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := (d - minutes*time.Minute) / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
