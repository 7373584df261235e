package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	defaultBatteryThreshold = 20.0
	defaultCooldown         = 5 * time.Minute
	defaultBatteryCooldown  = 60 * time.Minute
)

// Message is the notification text of a matched rule.
type Message struct {
	Title string
	Body  string
}

// Condition evaluates one alert kind against an entity transition. previous
// is nil when current was just created.
type Condition interface {
	// Validate rejects conditions or thresholds the kind does not support.
	Validate(rule model.AlertRule) error
	// Applies reports whether the kind can be evaluated for entity.
	Applies(entity model.Entity) bool
	Match(rule model.AlertRule, previous, current model.Entity, at time.Time) (Message, bool)
}

// DefaultConditions returns the built-in condition for every alert kind.
func DefaultConditions() map[model.AlertKind]Condition {
	return map[model.AlertKind]Condition{
		model.AlertPresence:    presenceCondition{},
		model.AlertTemperature: temperatureCondition{},
		model.AlertBattery:     batteryCondition{},
		model.AlertOffline:     offlineCondition{},
		model.AlertLightLevel:  lightLevelCondition{},
		model.AlertSwitch:      switchCondition{},
		model.AlertDaylight:    daylightCondition{},
	}
}

// DefaultCooldown is used when a rule leaves its cooldown unset.
func DefaultCooldown(kind model.AlertKind) time.Duration {
	if kind == model.AlertBattery {
		return defaultBatteryCooldown
	}
	return defaultCooldown
}

// DefaultPriority is used when a rule omits its priority.
func DefaultPriority(kind model.AlertKind, condition string) model.Priority {
	switch {
	case kind == model.AlertOffline:
		return model.PriorityHigh
	case kind == model.AlertPresence && normalized(condition) == "cleared":
		return model.PriorityLow
	default:
		return model.PriorityNormal
	}
}

// DefaultSound is used when a rule omits its sound. Only motion detection
// picks one.
func DefaultSound(kind model.AlertKind, condition string) string {
	if kind == model.AlertPresence && normalized(condition) == "detected" {
		return "pushover"
	}
	return ""
}

type presenceCondition struct{}

func (presenceCondition) Validate(rule model.AlertRule) error {
	return expectCondition(rule, "detected", "cleared")
}

func (presenceCondition) Applies(entity model.Entity) bool {
	_, ok := readingOf[model.Presence](entity)
	return ok
}

// Match is edge triggered. A sensor first seen with presence detected counts
// as a rising edge.
func (presenceCondition) Match(rule model.AlertRule, previous, current model.Entity, at time.Time) (Message, bool) {
	cur, _ := readingOf[model.Presence](current)
	prev, hadPrev := readingOf[model.Presence](previous)
	name := current.DisplayName()
	switch normalized(rule.Condition) {
	case "detected":
		if cur.Detected && !(hadPrev && prev.Detected) {
			return Message{Title: "Motion Detected", Body: fmt.Sprintf("%s at %s", name, at.Local().Format("15:04:05"))}, true
		}
	case "cleared":
		if !cur.Detected && hadPrev && prev.Detected {
			return Message{Title: "Motion Cleared", Body: "No motion at " + name}, true
		}
	}
	return Message{}, false
}

type temperatureCondition struct{}

func (temperatureCondition) Validate(rule model.AlertRule) error {
	if err := expectCondition(rule, "above", "below"); err != nil {
		return err
	}
	return requireThreshold(rule)
}

func (temperatureCondition) Applies(entity model.Entity) bool {
	_, ok := readingOf[model.Temperature](entity)
	return ok
}

func (temperatureCondition) Match(rule model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	cur, _ := readingOf[model.Temperature](current)
	if !cur.Valid {
		return Message{}, false
	}
	prev, hadPrev := readingOf[model.Temperature](previous)
	wasBeyond := hadPrev && prev.Valid && beyond(rule.Condition, prev.Celsius, *rule.Threshold)
	if !beyond(rule.Condition, cur.Celsius, *rule.Threshold) || wasBeyond {
		return Message{}, false
	}
	return Message{
		Title: "Temperature Alert",
		Body:  fmt.Sprintf("%s: %.1f°C (%s %g°C)", current.DisplayName(), cur.Celsius, normalized(rule.Condition), *rule.Threshold),
	}, true
}

type lightLevelCondition struct{}

func (lightLevelCondition) Validate(rule model.AlertRule) error {
	if err := expectCondition(rule, "above", "below"); err != nil {
		return err
	}
	return requireThreshold(rule)
}

func (lightLevelCondition) Applies(entity model.Entity) bool {
	_, ok := readingOf[model.LightLevel](entity)
	return ok
}

func (lightLevelCondition) Match(rule model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	cur, _ := readingOf[model.LightLevel](current)
	prev, hadPrev := readingOf[model.LightLevel](previous)
	wasBeyond := hadPrev && beyond(rule.Condition, float64(prev.Level), *rule.Threshold)
	if !beyond(rule.Condition, float64(cur.Level), *rule.Threshold) || wasBeyond {
		return Message{}, false
	}
	return Message{
		Title: "Light Level Alert",
		Body:  fmt.Sprintf("%s: light level %d (%s %g)", current.DisplayName(), cur.Level, normalized(rule.Condition), *rule.Threshold),
	}, true
}

type batteryCondition struct{}

func (batteryCondition) Validate(rule model.AlertRule) error {
	return expectCondition(rule, "below")
}

func (batteryCondition) Applies(entity model.Entity) bool {
	_, ok := entity.(model.Sensor)
	return ok
}

func (batteryCondition) Match(rule model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	threshold := defaultBatteryThreshold
	if rule.Threshold != nil {
		threshold = *rule.Threshold
	}
	cur := current.(model.Sensor)
	if cur.Battery == nil || float64(*cur.Battery) >= threshold {
		return Message{}, false
	}
	if prev, ok := previous.(model.Sensor); ok && prev.Battery != nil && float64(*prev.Battery) < threshold {
		return Message{}, false
	}
	return Message{Title: "Low Battery", Body: fmt.Sprintf("%s: Battery at %d%%", cur.Name, *cur.Battery)}, true
}

type offlineCondition struct{}

func (offlineCondition) Validate(rule model.AlertRule) error {
	if normalized(rule.Condition) == "" {
		return nil
	}
	return expectCondition(rule, "offline", "unreachable")
}

func (offlineCondition) Applies(entity model.Entity) bool {
	_, ok := entity.(model.Sensor)
	return ok
}

// Match needs a previous value: an entity first seen unreachable is not a
// transition.
func (offlineCondition) Match(_ model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	if previous == nil || !previous.IsReachable() || current.IsReachable() {
		return Message{}, false
	}
	return Message{Title: "Sensor Offline", Body: current.DisplayName() + " is no longer reachable"}, true
}

type switchCondition struct{}

func (switchCondition) Validate(rule model.AlertRule) error {
	return expectCondition(rule, "pressed")
}

func (switchCondition) Applies(entity model.Entity) bool {
	_, ok := readingOf[model.Switch](entity)
	return ok
}

// Match fires on every new button event. A threshold restricts the rule to
// one event code, e.g. 1002 for a short release of button 1.
func (switchCondition) Match(rule model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	cur, _ := readingOf[model.Switch](current)
	if cur.ButtonEvent == 0 {
		return Message{}, false
	}
	if prev, ok := readingOf[model.Switch](previous); ok && prev.ButtonEvent == cur.ButtonEvent {
		return Message{}, false
	}
	if rule.Threshold != nil && float64(cur.ButtonEvent) != *rule.Threshold {
		return Message{}, false
	}
	return Message{
		Title: "Switch Pressed",
		Body:  fmt.Sprintf("%s: button %d %s", current.DisplayName(), cur.ButtonEvent/1000, buttonAction(cur.ButtonEvent%1000)),
	}, true
}

type daylightCondition struct{}

func (daylightCondition) Validate(rule model.AlertRule) error {
	return expectCondition(rule, "sunrise", "sunset")
}

func (daylightCondition) Applies(entity model.Entity) bool {
	_, ok := readingOf[model.Daylight](entity)
	return ok
}

func (daylightCondition) Match(rule model.AlertRule, previous, current model.Entity, _ time.Time) (Message, bool) {
	cur, _ := readingOf[model.Daylight](current)
	prev, ok := readingOf[model.Daylight](previous)
	if !ok || prev.Daylight == cur.Daylight {
		return Message{}, false
	}
	switch normalized(rule.Condition) {
	case "sunrise":
		if cur.Daylight {
			return Message{Title: "Sunrise", Body: current.DisplayName() + " reports daylight"}, true
		}
	case "sunset":
		if !cur.Daylight {
			return Message{Title: "Sunset", Body: current.DisplayName() + " reports darkness"}, true
		}
	}
	return Message{}, false
}

func readingOf[T model.Reading](entity model.Entity) (T, bool) {
	var zero T
	sensor, ok := entity.(model.Sensor)
	if !ok {
		return zero, false
	}
	reading, ok := sensor.Reading.(T)
	return reading, ok
}

func beyond(condition string, value, threshold float64) bool {
	if normalized(condition) == "above" {
		return value > threshold
	}
	return value < threshold
}

func expectCondition(rule model.AlertRule, allowed ...string) error {
	condition := normalized(rule.Condition)
	if condition == "" && len(allowed) == 1 {
		return nil
	}
	for _, candidate := range allowed {
		if condition == candidate {
			return nil
		}
	}
	return &RuleError{RuleID: rule.ID, Reason: fmt.Sprintf("condition %q not supported for %s (want %s)", rule.Condition, rule.Kind, strings.Join(allowed, " or "))}
}

func requireThreshold(rule model.AlertRule) error {
	if rule.Threshold == nil {
		return &RuleError{RuleID: rule.ID, Reason: fmt.Sprintf("%s rule needs a threshold", rule.Kind)}
	}
	return nil
}

func buttonAction(code int) string {
	switch code {
	case 0:
		return "pressed"
	case 1:
		return "held"
	case 2:
		return "released"
	case 3:
		return "long released"
	default:
		return fmt.Sprintf("event %d", code)
	}
}

func normalized(condition string) string {
	return strings.ToLower(strings.TrimSpace(condition))
}
