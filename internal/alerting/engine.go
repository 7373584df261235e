// Package alerting matches store changes against alert rules and hands
// fired alerts to the notification dispatcher.
package alerting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/micro-ha/hue-monitor/internal/clock"
	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

// RuleSource supplies the current rules on every evaluation.
type RuleSource interface {
	Rules() []model.AlertRule
}

// Dispatcher delivers fired alerts. Submit must not block.
type Dispatcher interface {
	Submit(alert model.Alert)
}

// Engine is a state.Observer. Evaluation happens inside the store's commit
// section and never performs I/O.
type Engine struct {
	rules      RuleSource
	conditions map[model.AlertKind]Condition
	dispatcher Dispatcher
	stats      *state.Stats
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	lastFired map[string]time.Time
	warned    map[string]string
	onFire    []func(rule model.AlertRule, alert model.Alert)
}

func NewEngine(rules RuleSource, dispatcher Dispatcher, stats *state.Stats, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		rules:      rules,
		conditions: DefaultConditions(),
		dispatcher: dispatcher,
		stats:      stats,
		clock:      clk,
		logger:     logger,
		lastFired:  map[string]time.Time{},
		warned:     map[string]string{},
	}
}

// OnFire registers fn to run for every fired alert, silent ones included.
// Register before the engine observes a store.
func (e *Engine) OnFire(fn func(rule model.AlertRule, alert model.Alert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFire = append(e.onFire, fn)
}

// RegisterCondition adds or replaces the condition for kind.
func (e *Engine) RegisterCondition(kind model.AlertKind, condition Condition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conditions[kind] = condition
}

func (e *Engine) Observe(change state.Change) {
	e.Evaluate(change.Previous, change.Current)
}

// Check reports why rule can never fire, or nil when it is valid.
func (e *Engine) Check(rule model.AlertRule) error {
	e.mu.Lock()
	condition, ok := e.conditions[rule.Kind]
	e.mu.Unlock()
	if !ok {
		return &RuleError{RuleID: rule.ID, Reason: "unknown alert type " + string(rule.Kind)}
	}
	if !rule.Priority.Valid() {
		return &RuleError{RuleID: rule.ID, Reason: "priority out of range"}
	}
	return condition.Validate(rule)
}

// Evaluate runs every enabled rule targeting current and returns the alerts
// that fired. Rules name sensors, so lights never match even when they share
// a sensor's name. Matches inside a rule's cooldown are dropped silently.
func (e *Engine) Evaluate(previous, current model.Entity) []model.Alert {
	if current == nil || current.Key().Kind != model.KindSensor {
		return nil
	}
	now := e.clock.Now()
	var fired []model.Alert
	for _, rule := range e.rules.Rules() {
		if !rule.Enabled || rule.SensorName != current.DisplayName() {
			continue
		}
		if err := e.Check(rule); err != nil {
			e.warnOnce(rule.ID, err)
			continue
		}
		e.mu.Lock()
		condition := e.conditions[rule.Kind]
		e.mu.Unlock()
		if !condition.Applies(current) {
			continue
		}
		message, ok := condition.Match(rule, previous, current, now)
		if !ok {
			continue
		}
		if !e.claim(rule, now) {
			e.logger.Debug("alert suppressed by cooldown", "rule_id", rule.ID, "sensor", rule.SensorName)
			continue
		}

		alert := model.Alert{
			ID:       uuid.NewString(),
			RuleID:   rule.ID,
			Sensor:   rule.SensorName,
			Title:    message.Title,
			Message:  message.Body,
			Priority: rule.Priority,
			Sound:    rule.Sound,
			FiredAt:  now.UTC(),
		}
		fired = append(fired, alert)
		if e.stats != nil {
			e.stats.RecordNotification()
		}
		e.logger.Info("alert fired", "rule_id", rule.ID, "sensor", rule.SensorName, "priority", rule.Priority.String())
		e.mu.Lock()
		hooks := e.onFire
		e.mu.Unlock()
		for _, fn := range hooks {
			fn(rule, alert)
		}
		if rule.Priority == model.PrioritySilent || e.dispatcher == nil {
			continue
		}
		e.dispatcher.Submit(alert)
	}
	return fired
}

// LastFired returns when rule id last fired. Records are kept for the life
// of the process, including while the rule is disabled.
func (e *Engine) LastFired(ruleID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.lastFired[ruleID]
	return at, ok
}

// claim records a fire at now unless the rule is still cooling down.
func (e *Engine) claim(rule model.AlertRule, now time.Time) bool {
	cooldown := DefaultCooldown(rule.Kind)
	if rule.Cooldown != nil {
		cooldown = rule.Cooldown.Duration()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[rule.ID]
	if ok && now.Sub(last) < cooldown {
		return false
	}
	e.lastFired[rule.ID] = now
	return true
}

func (e *Engine) warnOnce(ruleID string, err error) {
	e.mu.Lock()
	reason := err.Error()
	if e.warned[ruleID] == reason {
		e.mu.Unlock()
		return
	}
	e.warned[ruleID] = reason
	e.mu.Unlock()
	e.logger.Warn("skipping invalid alert rule", "rule_id", ruleID, "err", err)
}
