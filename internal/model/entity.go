package model

import (
	"encoding/json"
	"time"
)

// EntityKind distinguishes sensors from lights inside the state store.
type EntityKind string

const (
	KindSensor EntityKind = "sensor"
	KindLight  EntityKind = "light"
)

// Key identifies one tracked entity across poll and event paths.
type Key struct {
	Kind EntityKind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + "/" + k.ID
}

// SensorKey builds the store key for a controller sensor id.
func SensorKey(id string) Key { return Key{Kind: KindSensor, ID: id} }

// LightKey builds the store key for a controller light id.
func LightKey(id string) Key { return Key{Kind: KindLight, ID: id} }

// Entity is the value shape stored and broadcast by the state store.
// Implementations are plain values; pointer fields are never mutated in place.
type Entity interface {
	Key() Key
	DisplayName() string
	IsReachable() bool
	UpdatedAt() time.Time
	// Equivalent reports whether nothing observable differs, ignoring LastUpdated.
	Equivalent(other Entity) bool
	// Stamp returns a copy with LastUpdated set to at.
	Stamp(at time.Time) Entity
}

type Category string

const (
	CategoryMotion      Category = "motion"
	CategoryTemperature Category = "temperature"
	CategoryLightLevel  Category = "light_level"
	CategorySwitch      Category = "switch"
	CategoryDaylight    Category = "daylight"
	CategoryOther       Category = "other"
)

// Categories lists every sensor category in display order.
var Categories = []Category{
	CategoryMotion,
	CategoryTemperature,
	CategoryLightLevel,
	CategorySwitch,
	CategoryDaylight,
	CategoryOther,
}

// Reading is the category-specific value payload of a sensor. The set of
// implementations is closed to this package.
type Reading interface {
	Category() Category
	isReading()
}

type Presence struct {
	Detected bool
}

type Temperature struct {
	Celsius float64
	Valid   bool
}

type LightLevel struct {
	Level    int
	Dark     bool
	Daylight bool
}

type Switch struct {
	ButtonEvent int
}

type Daylight struct {
	Daylight bool
}

// RawState keeps the undecoded state object of an unrecognised sensor type.
type RawState struct {
	JSON string
}

func (Presence) Category() Category    { return CategoryMotion }
func (Temperature) Category() Category { return CategoryTemperature }
func (LightLevel) Category() Category  { return CategoryLightLevel }
func (Switch) Category() Category      { return CategorySwitch }
func (Daylight) Category() Category    { return CategoryDaylight }
func (RawState) Category() Category    { return CategoryOther }

func (Presence) isReading()    {}
func (Temperature) isReading() {}
func (LightLevel) isReading()  {}
func (Switch) isReading()      {}
func (Daylight) isReading()    {}
func (RawState) isReading()    {}

// Sensor is one controller sensor with its latest reading.
type Sensor struct {
	ID          string
	Name        string
	Type        string
	Reading     Reading
	Battery     *int
	Reachable   bool
	LastUpdated time.Time
}

func (s Sensor) Key() Key             { return SensorKey(s.ID) }
func (s Sensor) DisplayName() string  { return s.Name }
func (s Sensor) IsReachable() bool    { return s.Reachable }
func (s Sensor) UpdatedAt() time.Time { return s.LastUpdated }

func (s Sensor) Stamp(at time.Time) Entity {
	s.LastUpdated = at
	return s
}

// Category derives the sensor category from its reading variant.
func (s Sensor) Category() Category {
	if s.Reading == nil {
		return CategoryOther
	}
	return s.Reading.Category()
}

func (s Sensor) Equivalent(other Entity) bool {
	o, ok := other.(Sensor)
	if !ok {
		return false
	}
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.Type == o.Type &&
		s.Reading == o.Reading &&
		s.Reachable == o.Reachable &&
		equalIntPtr(s.Battery, o.Battery)
}

func (s Sensor) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":        s.ID,
		"name":      s.Name,
		"type":      s.Type,
		"category":  s.Category(),
		"battery":   s.Battery,
		"reachable": s.Reachable,
	}
	if !s.LastUpdated.IsZero() {
		out["last_updated"] = s.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	switch r := s.Reading.(type) {
	case Presence:
		out["presence"] = r.Detected
	case Temperature:
		if r.Valid {
			out["temperature"] = r.Celsius
		} else {
			out["temperature"] = nil
		}
	case LightLevel:
		out["light_level"] = r.Level
		out["dark"] = r.Dark
		out["daylight"] = r.Daylight
	case Switch:
		out["button_event"] = r.ButtonEvent
	case Daylight:
		out["daylight"] = r.Daylight
	case RawState:
		if r.JSON != "" {
			out["raw_state"] = json.RawMessage(r.JSON)
		}
	}
	return json.Marshal(out)
}

// Light is one controller light.
type Light struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Model       string    `json:"model,omitempty"`
	On          bool      `json:"on"`
	Brightness  *int      `json:"brightness"`
	Reachable   bool      `json:"reachable"`
	LastUpdated time.Time `json:"last_updated"`
}

func (l Light) Key() Key             { return LightKey(l.ID) }
func (l Light) DisplayName() string  { return l.Name }
func (l Light) IsReachable() bool    { return l.Reachable }
func (l Light) UpdatedAt() time.Time { return l.LastUpdated }

func (l Light) Stamp(at time.Time) Entity {
	l.LastUpdated = at
	return l
}

func (l Light) Equivalent(other Entity) bool {
	o, ok := other.(Light)
	if !ok {
		return false
	}
	return l.ID == o.ID &&
		l.Name == o.Name &&
		l.Type == o.Type &&
		l.Model == o.Model &&
		l.On == o.On &&
		l.Reachable == o.Reachable &&
		equalIntPtr(l.Brightness, o.Brightness)
}

// IntPtr returns a pointer to a fresh copy of v.
func IntPtr(v int) *int {
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
