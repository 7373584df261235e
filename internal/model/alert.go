package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AlertKind selects the condition family a rule evaluates.
type AlertKind string

const (
	AlertPresence    AlertKind = "presence"
	AlertTemperature AlertKind = "temperature"
	AlertBattery     AlertKind = "battery"
	AlertOffline     AlertKind = "offline"
	AlertLightLevel  AlertKind = "light_level"
	AlertSwitch      AlertKind = "switch"
	AlertDaylight    AlertKind = "daylight"
)

// Priority follows the push service scale, silent through emergency.
type Priority int

const (
	PrioritySilent    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

var priorityNames = map[Priority]string{
	PrioritySilent:    "silent",
	PriorityLow:       "low",
	PriorityNormal:    "normal",
	PriorityHigh:      "high",
	PriorityEmergency: "emergency",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "priority(" + strconv.Itoa(int(p)) + ")"
}

func (p Priority) Valid() bool {
	return p >= PrioritySilent && p <= PriorityEmergency
}

// ParsePriority accepts either a level name or its numeric value.
func ParsePriority(raw string) (Priority, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for p, name := range priorityNames {
		if name == value {
			return p, nil
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil || !Priority(n).Valid() {
		return 0, fmt.Errorf("unknown priority %q", raw)
	}
	return Priority(n), nil
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if !Priority(n).Valid() {
			return fmt.Errorf("priority %d out of range", n)
		}
		*p = Priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a number or name: %w", err)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p *Priority) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParsePriority(node.Value)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Cooldown is written as minutes (number) or a duration string such as "90s".
type Cooldown time.Duration

// NewCooldown returns d as a rule cooldown. A nil cooldown on a rule means
// the kind's default applies; a zero one never suppresses.
func NewCooldown(d time.Duration) *Cooldown {
	c := Cooldown(d)
	return &c
}

func (c Cooldown) Duration() time.Duration { return time.Duration(c) }

func (c Cooldown) MarshalJSON() ([]byte, error) {
	d := time.Duration(c)
	if d%time.Minute == 0 {
		return json.Marshal(int64(d / time.Minute))
	}
	return json.Marshal(d.String())
}

func (c Cooldown) MarshalYAML() (any, error) {
	d := time.Duration(c)
	if d%time.Minute == 0 {
		return int64(d / time.Minute), nil
	}
	return d.String(), nil
}

func (c *Cooldown) UnmarshalJSON(data []byte) error {
	var minutes float64
	if err := json.Unmarshal(data, &minutes); err == nil {
		*c = Cooldown(time.Duration(minutes * float64(time.Minute)))
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cooldown must be minutes or a duration: %w", err)
	}
	return c.parse(s)
}

func (c *Cooldown) UnmarshalYAML(node *yaml.Node) error {
	if minutes, err := strconv.ParseFloat(node.Value, 64); err == nil {
		*c = Cooldown(time.Duration(minutes * float64(time.Minute)))
		return nil
	}
	return c.parse(node.Value)
}

func (c *Cooldown) parse(raw string) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid cooldown %q: %w", raw, err)
	}
	*c = Cooldown(d)
	return nil
}

// AlertRule is one configured alert. The engine treats it as read-only apart
// from Enabled, which the dashboard may toggle.
type AlertRule struct {
	ID         string    `json:"id,omitempty" yaml:"id,omitempty"`
	SensorName string    `json:"sensor_name" yaml:"sensor_name"`
	Kind       AlertKind `json:"type" yaml:"type"`
	Condition  string    `json:"condition" yaml:"condition"`
	Threshold  *float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Cooldown   *Cooldown `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	Priority   Priority  `json:"priority" yaml:"priority"`
	Sound      string    `json:"sound,omitempty" yaml:"sound,omitempty"`
	Enabled    bool      `json:"enabled" yaml:"enabled"`
}

// Alert is a fired rule on its way to the notification dispatcher.
type Alert struct {
	ID       string    `json:"id"`
	RuleID   string    `json:"rule_id"`
	Sensor   string    `json:"sensor_name"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Priority Priority  `json:"priority"`
	Sound    string    `json:"sound,omitempty"`
	FiredAt  time.Time `json:"fired_at"`
}
