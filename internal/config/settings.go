package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/micro-ha/hue-monitor/internal/model"
)

// Settings mirrors settings.json.
type Settings struct {
	BridgeIP        string               `json:"bridge_ip"`
	APIKey          string               `json:"api_key"`
	PollingInterval int                  `json:"polling_interval"`
	Pushover        model.PushoverConfig `json:"pushover"`
	Web             WebConfig            `json:"web"`
}

// ReadSettings loads path. A missing file yields zero Settings and found
// false. Comments and trailing commas are accepted.
func ReadSettings(path string) (Settings, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(jsonc.ToJSON(data), &settings); err != nil {
		return Settings{}, true, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return settings, true, nil
}
