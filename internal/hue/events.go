package hue

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/micro-ha/hue-monitor/internal/model"
)

// Patch carries the fields one event changes. Nil fields are untouched.
type Patch struct {
	Presence    *bool
	Temperature *float64
	LightLevel  *int
	ButtonEvent *int
	Battery     *int
	Reachable   *bool
	On          *bool
	Brightness  *int
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// HasValue reports whether the patch carries a reading or light state, which
// is enough to create an entity the poller has not seen yet.
func (p Patch) HasValue() bool {
	return p.Presence != nil || p.Temperature != nil || p.LightLevel != nil ||
		p.ButtonEvent != nil || p.On != nil || p.Brightness != nil
}

// Update is one entity change decoded from the event stream.
type Update struct {
	Key      model.Key
	Resource string
	Name     string
	Patch    Patch
}

type streamEvent struct {
	Type string            `json:"type"`
	Data []json.RawMessage `json:"data"`
}

type streamResource struct {
	ID    string `json:"id"`
	IDV1  string `json:"id_v1"`
	Type  string `json:"type"`
	Owner *struct {
		RID string `json:"rid"`
	} `json:"owner"`

	Motion *struct {
		Motion *bool `json:"motion"`
		Report *struct {
			Motion *bool `json:"motion"`
		} `json:"motion_report"`
	} `json:"motion"`
	Temperature *struct {
		Temperature *float64 `json:"temperature"`
		Report      *struct {
			Temperature *float64 `json:"temperature"`
		} `json:"temperature_report"`
	} `json:"temperature"`
	Light *struct {
		LightLevel *int `json:"light_level"`
		Report     *struct {
			LightLevel *int `json:"light_level"`
		} `json:"light_level_report"`
	} `json:"light"`
	Button *struct {
		LastEvent string `json:"last_event"`
		Report    *struct {
			Event string `json:"event"`
		} `json:"button_report"`
	} `json:"button"`
	PowerState *struct {
		BatteryLevel *int `json:"battery_level"`
	} `json:"power_state"`
	Status string `json:"status"`
	On     *struct {
		On *bool `json:"on"`
	} `json:"on"`
	Dimming *struct {
		Brightness *float64 `json:"brightness"`
	} `json:"dimming"`
}

// v1 button events are <control id>*1000 + one of these codes.
var buttonCodes = map[string]int{
	"initial_press": 0,
	"repeat":        1,
	"long_press":    1,
	"short_release": 2,
	"long_release":  3,
}

// DecodeEvents turns one SSE data payload into entity updates. A payload that
// is not valid JSON yields a *PayloadError; resources that are unknown or
// carry nothing relevant are skipped.
func DecodeEvents(data string, resolver *Resolver) ([]Update, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, nil
	}
	var events []streamEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, &PayloadError{Resource: "event", Err: err}
	}

	var updates []Update
	for _, event := range events {
		if event.Type != "update" && event.Type != "add" {
			continue
		}
		for _, raw := range event.Data {
			var res streamResource
			if err := json.Unmarshal(raw, &res); err != nil {
				return updates, &PayloadError{Resource: "event resource", Err: err}
			}
			updates = append(updates, decodeResource(res, resolver)...)
		}
	}
	return updates, nil
}

func decodeResource(res streamResource, resolver *Resolver) []Update {
	var patch Patch
	switch res.Type {
	case "motion":
		if res.Motion == nil {
			return nil
		}
		patch.Presence = res.Motion.Motion
		if patch.Presence == nil && res.Motion.Report != nil {
			patch.Presence = res.Motion.Report.Motion
		}
	case "temperature":
		if res.Temperature == nil {
			return nil
		}
		patch.Temperature = res.Temperature.Temperature
		if patch.Temperature == nil && res.Temperature.Report != nil {
			patch.Temperature = res.Temperature.Report.Temperature
		}
	case "light_level":
		if res.Light == nil {
			return nil
		}
		patch.LightLevel = res.Light.LightLevel
		if patch.LightLevel == nil && res.Light.Report != nil {
			patch.LightLevel = res.Light.Report.LightLevel
		}
	case "button":
		if res.Button == nil {
			return nil
		}
		name := res.Button.LastEvent
		if res.Button.Report != nil && res.Button.Report.Event != "" {
			name = res.Button.Report.Event
		}
		code, ok := buttonCodes[name]
		if !ok {
			return nil
		}
		controlID := resolver.ControlID(res.ID)
		if controlID == 0 {
			controlID = 1
		}
		patch.ButtonEvent = model.IntPtr(controlID*1000 + code)
	case "light":
		if res.On != nil {
			patch.On = res.On.On
		}
		if res.Dimming != nil && res.Dimming.Brightness != nil {
			patch.Brightness = model.IntPtr(int(math.Round(*res.Dimming.Brightness)))
		}
	case "device_power":
		if res.PowerState == nil || res.PowerState.BatteryLevel == nil {
			return nil
		}
		patch.Battery = res.PowerState.BatteryLevel
		return ownerUpdates(res, resolver, patch, model.KindSensor)
	case "zigbee_connectivity":
		if res.Status == "" {
			return nil
		}
		reachable := res.Status == "connected"
		patch.Reachable = &reachable
		return ownerUpdates(res, resolver, patch, "")
	default:
		return nil
	}
	if patch.Empty() {
		return nil
	}

	key, ok := KeyFromV1(res.IDV1)
	if !ok {
		key, ok = resolver.Key(res.ID)
	}
	if !ok {
		return nil
	}
	return []Update{{Key: key, Resource: res.Type, Name: resolver.Name(res.ID), Patch: patch}}
}

// ownerUpdates fans a device-level resource out to every v1 entity the
// device owns, optionally limited to one kind.
func ownerUpdates(res streamResource, resolver *Resolver, patch Patch, kind model.EntityKind) []Update {
	owner := resolver.Owner(res.ID)
	if res.Owner != nil && res.Owner.RID != "" {
		owner = res.Owner.RID
	}
	if owner == "" {
		return nil
	}
	var updates []Update
	for _, key := range resolver.Children(owner) {
		if kind != "" && key.Kind != kind {
			continue
		}
		updates = append(updates, Update{Key: key, Resource: res.Type, Patch: patch})
	}
	return updates
}

func (u Update) String() string {
	return fmt.Sprintf("%s %s", u.Resource, u.Key)
}
