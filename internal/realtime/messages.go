package realtime

import (
	"encoding/json"

	"github.com/micro-ha/hue-monitor/internal/model"
	"github.com/micro-ha/hue-monitor/internal/state"
)

const (
	MessageSnapshot = "snapshot"
	MessageUpdate   = "update"
	MessageAlerts   = "alerts"
)

// snapshotMessage is the first frame every client receives.
type snapshotMessage struct {
	Type string         `json:"type"`
	Seq  uint64         `json:"seq"`
	Data state.Snapshot `json:"data"`
}

// updateMessage carries the full new value of one entity.
type updateMessage struct {
	Type   string           `json:"type"`
	Seq    uint64           `json:"seq"`
	Entity model.EntityKind `json:"entity"`
	ID     string           `json:"id"`
	Data   model.Entity     `json:"data"`
}

type alertsMessage struct {
	Type string `json:"type"`
	Data struct {
		Sensors []model.AlertRule `json:"sensors"`
	} `json:"data"`
}

func encodeSnapshot(snap state.Snapshot) ([]byte, error) {
	return json.Marshal(snapshotMessage{Type: MessageSnapshot, Seq: snap.Seq, Data: snap})
}

func encodeUpdate(change state.Change) ([]byte, error) {
	return json.Marshal(updateMessage{
		Type:   MessageUpdate,
		Seq:    change.Seq,
		Entity: change.Key.Kind,
		ID:     change.Key.ID,
		Data:   change.Current,
	})
}

func encodeAlerts(rules []model.AlertRule) ([]byte, error) {
	msg := alertsMessage{Type: MessageAlerts}
	msg.Data.Sensors = rules
	if msg.Data.Sensors == nil {
		msg.Data.Sensors = []model.AlertRule{}
	}
	return json.Marshal(msg)
}
