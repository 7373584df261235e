package hue

import (
	"encoding/json"
	"strings"

	"github.com/micro-ha/hue-monitor/internal/model"
)

// resourceRef is the part of a CLIP v2 resource needed to route its events.
type resourceRef struct {
	Type      string
	Key       model.Key
	HasKey    bool
	Owner     string
	Name      string
	ControlID int
}

// Resolver maps CLIP v2 resource ids to the v1 entities the poller tracks.
// A nil Resolver resolves nothing; events then rely on their own id_v1.
type Resolver struct {
	resources map[string]resourceRef
	children  map[string][]model.Key
}

type v2Resource struct {
	ID    string `json:"id"`
	IDV1  string `json:"id_v1"`
	Type  string `json:"type"`
	Owner *struct {
		RID   string `json:"rid"`
		RType string `json:"rtype"`
	} `json:"owner"`
	Metadata *struct {
		Name      string `json:"name"`
		ControlID int    `json:"control_id"`
	} `json:"metadata"`
}

type v2Envelope struct {
	Errors []struct {
		Description string `json:"description"`
	} `json:"errors"`
	Data []json.RawMessage `json:"data"`
}

// ParseResources indexes the /clip/v2/resource listing.
func ParseResources(body []byte) (*Resolver, error) {
	var envelope v2Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &PayloadError{Resource: "clip resources", Err: err}
	}
	if len(envelope.Errors) > 0 && len(envelope.Data) == 0 {
		return nil, &APIError{Address: "/clip/v2/resource", Description: envelope.Errors[0].Description}
	}

	resolver := &Resolver{
		resources: make(map[string]resourceRef, len(envelope.Data)),
		children:  map[string][]model.Key{},
	}
	for _, raw := range envelope.Data {
		var res v2Resource
		if err := json.Unmarshal(raw, &res); err != nil || res.ID == "" {
			continue
		}
		ref := resourceRef{Type: res.Type}
		ref.Key, ref.HasKey = KeyFromV1(res.IDV1)
		if res.Owner != nil {
			ref.Owner = res.Owner.RID
		}
		if res.Metadata != nil {
			ref.Name = res.Metadata.Name
			ref.ControlID = res.Metadata.ControlID
		}
		resolver.resources[res.ID] = ref
	}
	for _, ref := range resolver.resources {
		if ref.Owner == "" || !ref.HasKey || ref.Type == "device" {
			continue
		}
		resolver.addChild(ref.Owner, ref.Key)
	}
	return resolver, nil
}

func (r *Resolver) addChild(owner string, key model.Key) {
	for _, existing := range r.children[owner] {
		if existing == key {
			return
		}
	}
	r.children[owner] = append(r.children[owner], key)
}

// Len reports how many resources are indexed.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.resources)
}

// Key resolves a resource id to its v1 entity key.
func (r *Resolver) Key(rid string) (model.Key, bool) {
	if r == nil {
		return model.Key{}, false
	}
	ref, ok := r.resources[rid]
	if !ok || !ref.HasKey {
		return model.Key{}, false
	}
	return ref.Key, true
}

// Owner returns the device id owning a resource.
func (r *Resolver) Owner(rid string) string {
	if r == nil {
		return ""
	}
	return r.resources[rid].Owner
}

// Name returns the display name of the device owning a resource.
func (r *Resolver) Name(rid string) string {
	if r == nil {
		return ""
	}
	ref := r.resources[rid]
	if ref.Name != "" {
		return ref.Name
	}
	if ref.Owner != "" {
		return r.resources[ref.Owner].Name
	}
	return ""
}

// ControlID returns the button number of a button resource, 0 when unknown.
func (r *Resolver) ControlID(rid string) int {
	if r == nil {
		return 0
	}
	return r.resources[rid].ControlID
}

// Children lists the v1 entities belonging to a device.
func (r *Resolver) Children(owner string) []model.Key {
	if r == nil {
		return nil
	}
	out := make([]model.Key, len(r.children[owner]))
	copy(out, r.children[owner])
	return out
}

// KeyFromV1 converts an id_v1 path such as "/sensors/37" into a store key.
func KeyFromV1(idV1 string) (model.Key, bool) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(idV1), "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return model.Key{}, false
	}
	switch parts[0] {
	case "sensors":
		return model.SensorKey(parts[1]), true
	case "lights":
		return model.LightKey(parts[1]), true
	default:
		return model.Key{}, false
	}
}
