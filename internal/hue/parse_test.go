package hue

import (
	"errors"
	"testing"

	"github.com/micro-ha/hue-monitor/internal/model"
)

func TestParseSensorsMapsCategories(t *testing.T) {
	body := []byte(`{
		"37": {"name": "Kitchen", "type": "ZLLPresence", "state": {"presence": true, "lastupdated": "2024-01-01T10:00:00"}, "config": {"battery": 87, "reachable": true}},
		"38": {"name": "Kitchen temp", "type": "ZLLTemperature", "state": {"temperature": 2150}, "config": {"reachable": true}},
		"39": {"name": "Kitchen lux", "type": "ZLLLightLevel", "state": {"lightlevel": 12000, "dark": false, "daylight": true}, "config": {}},
		"5": {"name": "Dimmer", "type": "ZLLSwitch", "state": {"buttonevent": 1002}, "config": {"battery": 100}},
		"1": {"name": "Daylight", "type": "Daylight", "state": {"daylight": true}, "config": {}},
		"90": {"name": "Generic", "type": "CLIPGenericStatus", "state": {"status": 3, "lastupdated": "2024-01-01T10:00:00"}, "config": {"reachable": false}}
	}`)

	sensors, err := ParseSensors(body)
	if err != nil {
		t.Fatalf("ParseSensors() error: %v", err)
	}
	byID := map[string]model.Sensor{}
	for _, s := range sensors {
		byID[s.ID] = s
	}
	if len(byID) != 6 {
		t.Fatalf("expected 6 sensors, got %d", len(byID))
	}

	kitchen := byID["37"]
	if kitchen.Reading != (model.Presence{Detected: true}) {
		t.Fatalf("Kitchen reading = %#v", kitchen.Reading)
	}
	if kitchen.Battery == nil || *kitchen.Battery != 87 {
		t.Fatalf("Kitchen battery = %v, want 87", kitchen.Battery)
	}
	if got := byID["38"].Reading; got != (model.Temperature{Celsius: 21.5, Valid: true}) {
		t.Fatalf("temperature reading = %#v", got)
	}
	if got := byID["39"].Reading; got != (model.LightLevel{Level: 12000, Daylight: true}) {
		t.Fatalf("light level reading = %#v", got)
	}
	if !byID["39"].Reachable {
		t.Fatalf("sensor without reachable flag should default to reachable")
	}
	if got := byID["5"].Reading; got != (model.Switch{ButtonEvent: 1002}) {
		t.Fatalf("switch reading = %#v", got)
	}
	if got := byID["1"].Category(); got != model.CategoryDaylight {
		t.Fatalf("daylight category = %q", got)
	}
	generic := byID["90"]
	if generic.Category() != model.CategoryOther || generic.Reachable {
		t.Fatalf("generic sensor = %#v", generic)
	}
	if raw, ok := generic.Reading.(model.RawState); !ok || raw.JSON != `{"status":3}` {
		t.Fatalf("raw state = %#v", generic.Reading)
	}
}

func TestParseSensorsUnauthorizedReturnsAPIError(t *testing.T) {
	body := []byte(`[{"error": {"type": 1, "address": "/sensors", "description": "unauthorized user"}}]`)
	_, err := ParseSensors(body)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Type != 1 || apiErr.Description != "unauthorized user" {
		t.Fatalf("unexpected api error: %#v", apiErr)
	}
	if IsRetryable(err) {
		t.Fatalf("api error must not be retryable")
	}
}

func TestParseSensorsMalformedPayload(t *testing.T) {
	_, err := ParseSensors([]byte(`{"37": {"type": "ZLLPresence", "state": {"presence": "yes"}}}`))
	var payloadErr *PayloadError
	if !errors.As(err, &payloadErr) {
		t.Fatalf("expected *PayloadError, got %v", err)
	}
}

func TestParseLightsConvertsBrightness(t *testing.T) {
	body := []byte(`{
		"3": {"name": "Hall", "type": "Extended color light", "modelid": "LCT015", "state": {"on": true, "bri": 254, "reachable": true}},
		"4": {"name": "Plug", "type": "On/Off plug-in unit", "state": {"on": false, "reachable": false}}
	}`)
	lights, err := ParseLights(body)
	if err != nil {
		t.Fatalf("ParseLights() error: %v", err)
	}
	byID := map[string]model.Light{}
	for _, l := range lights {
		byID[l.ID] = l
	}
	hall := byID["3"]
	if !hall.On || hall.Brightness == nil || *hall.Brightness != 100 || hall.Model != "LCT015" {
		t.Fatalf("hall = %#v", hall)
	}
	plug := byID["4"]
	if plug.Brightness != nil || plug.Reachable {
		t.Fatalf("plug = %#v", plug)
	}
}

func TestBrightnessPercent(t *testing.T) {
	cases := map[int]int{1: 0, 127: 50, 254: 100}
	for bri, want := range cases {
		if got := BrightnessPercent(bri); got != want {
			t.Fatalf("BrightnessPercent(%d) = %d, want %d", bri, got, want)
		}
	}
}
