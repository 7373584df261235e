package hue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/micro-ha/hue-monitor/internal/model"
)

type v1Sensor struct {
	Name   string                     `json:"name"`
	Type   string                     `json:"type"`
	State  map[string]json.RawMessage `json:"state"`
	Config struct {
		Battery   *int  `json:"battery"`
		Reachable *bool `json:"reachable"`
	} `json:"config"`
}

type v1Light struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	ModelID string `json:"modelid"`
	State   struct {
		On        bool  `json:"on"`
		Bri       *int  `json:"bri"`
		Reachable *bool `json:"reachable"`
	} `json:"state"`
}

// ParseSensors decodes the v1 /sensors object keyed by sensor id.
func ParseSensors(body []byte) ([]model.Sensor, error) {
	var raw map[string]v1Sensor
	if err := decodeV1(body, &raw); err != nil {
		return nil, classifyDecodeError("sensors", err)
	}
	sensors := make([]model.Sensor, 0, len(raw))
	for id, item := range raw {
		sensor, err := sensorFromV1(id, item)
		if err != nil {
			return nil, &PayloadError{Resource: "sensor " + id, Err: err}
		}
		sensors = append(sensors, sensor)
	}
	return sensors, nil
}

// ParseLights decodes the v1 /lights object keyed by light id.
func ParseLights(body []byte) ([]model.Light, error) {
	var raw map[string]v1Light
	if err := decodeV1(body, &raw); err != nil {
		return nil, classifyDecodeError("lights", err)
	}
	lights := make([]model.Light, 0, len(raw))
	for id, item := range raw {
		light := model.Light{
			ID:        id,
			Name:      firstNonEmpty(item.Name, "Light_"+id),
			Type:      item.Type,
			Model:     item.ModelID,
			On:        item.State.On,
			Reachable: item.State.Reachable == nil || *item.State.Reachable,
		}
		if item.State.Bri != nil {
			light.Brightness = model.IntPtr(BrightnessPercent(*item.State.Bri))
		}
		lights = append(lights, light)
	}
	return lights, nil
}

// BrightnessPercent converts the 1..254 bridge scale to 0..100.
func BrightnessPercent(bri int) int {
	return int(math.Round(float64(bri) / 254 * 100))
}

// CategoryForType maps a v1 sensor type to its category.
func CategoryForType(sensorType string) model.Category {
	switch sensorType {
	case "ZLLPresence":
		return model.CategoryMotion
	case "ZLLTemperature":
		return model.CategoryTemperature
	case "ZLLLightLevel":
		return model.CategoryLightLevel
	case "ZLLSwitch", "ZGPSwitch":
		return model.CategorySwitch
	case "Daylight":
		return model.CategoryDaylight
	default:
		if strings.Contains(sensorType, "Switch") {
			return model.CategorySwitch
		}
		return model.CategoryOther
	}
}

func sensorFromV1(id string, item v1Sensor) (model.Sensor, error) {
	sensor := model.Sensor{
		ID:        id,
		Name:      firstNonEmpty(item.Name, "Sensor_"+id),
		Type:      firstNonEmpty(item.Type, "Unknown"),
		Battery:   item.Config.Battery,
		Reachable: item.Config.Reachable == nil || *item.Config.Reachable,
	}

	state := item.State
	switch CategoryForType(sensor.Type) {
	case model.CategoryMotion:
		var presence bool
		if err := optionalField(state, "presence", &presence); err != nil {
			return sensor, err
		}
		sensor.Reading = model.Presence{Detected: presence}
	case model.CategoryTemperature:
		var temp *float64
		if err := optionalField(state, "temperature", &temp); err != nil {
			return sensor, err
		}
		reading := model.Temperature{}
		if temp != nil {
			reading = model.Temperature{Celsius: *temp / 100.0, Valid: true}
		}
		sensor.Reading = reading
	case model.CategoryLightLevel:
		var reading model.LightLevel
		if err := optionalField(state, "lightlevel", &reading.Level); err != nil {
			return sensor, err
		}
		if err := optionalField(state, "dark", &reading.Dark); err != nil {
			return sensor, err
		}
		if err := optionalField(state, "daylight", &reading.Daylight); err != nil {
			return sensor, err
		}
		sensor.Reading = reading
	case model.CategorySwitch:
		var reading model.Switch
		if err := optionalField(state, "buttonevent", &reading.ButtonEvent); err != nil {
			return sensor, err
		}
		sensor.Reading = reading
	case model.CategoryDaylight:
		var reading model.Daylight
		if err := optionalField(state, "daylight", &reading.Daylight); err != nil {
			return sensor, err
		}
		sensor.Reading = reading
	default:
		sensor.Reading = model.RawState{JSON: rawStateJSON(state)}
	}
	return sensor, nil
}

// optionalField decodes state[name] into dst, leaving dst untouched when the
// field is absent or null.
func optionalField(state map[string]json.RawMessage, name string, dst any) error {
	raw, ok := state[name]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	return nil
}

// rawStateJSON re-encodes state without the volatile lastupdated field, so an
// unchanged "other" sensor compares equal across polls.
func rawStateJSON(state map[string]json.RawMessage) string {
	if len(state) == 0 {
		return ""
	}
	trimmed := make(map[string]json.RawMessage, len(state))
	for key, value := range state {
		if key == "lastupdated" {
			continue
		}
		trimmed[key] = value
	}
	encoded, err := json.Marshal(trimmed)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// decodeV1 unmarshals body into dst, surfacing the bridge's error array
// format as *APIError.
func decodeV1(body []byte, dst any) error {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		if err := firstAPIError(body); err != nil {
			return err
		}
		return fmt.Errorf("unexpected array response")
	}
	return json.Unmarshal(body, dst)
}

func classifyDecodeError(resource string, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &PayloadError{Resource: resource, Err: err}
}

func firstAPIError(body []byte) error {
	var items []struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil
	}
	for _, item := range items {
		if item.Error != nil {
			return item.Error
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
