package eventstream

import (
	"github.com/micro-ha/hue-monitor/internal/hue"
	"github.com/micro-ha/hue-monitor/internal/model"
)

// applyPatch returns current with the event's fields applied. Unknown
// entities are created only when the event carries a reading; returning nil
// discards the update.
func applyPatch(current model.Entity, update hue.Update) model.Entity {
	switch update.Key.Kind {
	case model.KindSensor:
		var sensor model.Sensor
		if current == nil {
			if !update.Patch.HasValue() {
				return nil
			}
			sensor = newSensor(update)
		} else {
			existing, ok := current.(model.Sensor)
			if !ok {
				return nil
			}
			sensor = existing
		}
		return patchSensor(sensor, update.Patch)
	case model.KindLight:
		var light model.Light
		if current == nil {
			if !update.Patch.HasValue() {
				return nil
			}
			light = model.Light{ID: update.Key.ID, Name: nameOr(update.Name, "Light_"+update.Key.ID), Reachable: true}
		} else {
			existing, ok := current.(model.Light)
			if !ok {
				return nil
			}
			light = existing
		}
		return patchLight(light, update.Patch)
	default:
		return nil
	}
}

func newSensor(update hue.Update) model.Sensor {
	sensor := model.Sensor{
		ID:        update.Key.ID,
		Name:      nameOr(update.Name, "Sensor_"+update.Key.ID),
		Reachable: true,
	}
	patch := update.Patch
	switch {
	case patch.Presence != nil:
		sensor.Type = "ZLLPresence"
		sensor.Reading = model.Presence{}
	case patch.Temperature != nil:
		sensor.Type = "ZLLTemperature"
		sensor.Reading = model.Temperature{}
	case patch.LightLevel != nil:
		sensor.Type = "ZLLLightLevel"
		sensor.Reading = model.LightLevel{}
	case patch.ButtonEvent != nil:
		sensor.Type = "ZLLSwitch"
		sensor.Reading = model.Switch{}
	}
	return sensor
}

// patchSensor only touches the reading that matches the sensor's category.
func patchSensor(sensor model.Sensor, patch hue.Patch) model.Sensor {
	switch reading := sensor.Reading.(type) {
	case model.Presence:
		if patch.Presence != nil {
			sensor.Reading = model.Presence{Detected: *patch.Presence}
		}
	case model.Temperature:
		if patch.Temperature != nil {
			sensor.Reading = model.Temperature{Celsius: *patch.Temperature, Valid: true}
		}
	case model.LightLevel:
		if patch.LightLevel != nil {
			reading.Level = *patch.LightLevel
			sensor.Reading = reading
		}
	case model.Switch:
		if patch.ButtonEvent != nil {
			sensor.Reading = model.Switch{ButtonEvent: *patch.ButtonEvent}
		}
	}
	if patch.Battery != nil {
		sensor.Battery = model.IntPtr(*patch.Battery)
	}
	if patch.Reachable != nil {
		sensor.Reachable = *patch.Reachable
	}
	return sensor
}

func patchLight(light model.Light, patch hue.Patch) model.Light {
	if patch.On != nil {
		light.On = *patch.On
	}
	if patch.Brightness != nil {
		light.Brightness = model.IntPtr(*patch.Brightness)
	}
	if patch.Reachable != nil {
		light.Reachable = *patch.Reachable
	}
	return light
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
