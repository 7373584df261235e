package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/micro-ha/hue-monitor/internal/model"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var ruleFileNames = []struct {
	name   string
	format string
}{
	{name: "alerts.json", format: formatJSON},
	{name: "alerts.yaml", format: formatYAML},
	{name: "alerts.yml", format: formatYAML},
}

// ruleFile is the on-disk shape: {"sensors": [rule, ...]}.
type ruleFile struct {
	Sensors []model.AlertRule `json:"sensors" yaml:"sensors"`
}

// ruleKeys is ruleFile decoded loosely, to tell absent keys from zero values.
type ruleKeys struct {
	Sensors []map[string]any `json:"sensors" yaml:"sensors"`
}

// RuleSet is the file-backed alert configuration. Readers get a copy of the
// current rules; Refresh picks up edits made outside the process.
type RuleSet struct {
	dir    string
	logger *slog.Logger

	mu       sync.RWMutex
	path     string
	format   string
	rules    []model.AlertRule
	modTime  time.Time
	size     int64
	exists   bool
	onChange []func(rules []model.AlertRule)
}

func NewRuleSet(dir string, logger *slog.Logger) *RuleSet {
	return &RuleSet{dir: dir, logger: logger}
}

// OnChange registers fn to run after every reload or toggle that changes
// the rules.
func (r *RuleSet) OnChange(fn func(rules []model.AlertRule)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Rules returns a copy of the current rules.
func (r *RuleSet) Rules() []model.AlertRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRules(r.rules)
}

// Exists reports whether a rules file was found on the last refresh.
func (r *RuleSet) Exists() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exists
}

func (r *RuleSet) Path() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.path == "" {
		return filepath.Join(r.dir, ruleFileNames[0].name)
	}
	return r.path
}

// Refresh re-reads the rules file when it changed on disk. A parse error
// keeps the previous rules.
func (r *RuleSet) Refresh() (bool, error) {
	path, format, info, err := r.locate()
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if info == nil {
		changed := r.exists || len(r.rules) > 0
		r.exists = false
		r.path, r.format = "", ""
		r.rules = nil
		r.modTime, r.size = time.Time{}, 0
		r.mu.Unlock()
		if changed {
			r.notify()
		}
		return changed, nil
	}
	if r.exists && path == r.path && info.ModTime().Equal(r.modTime) && info.Size() == r.size {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read alert rules: %w", err)
	}
	rules, err := decodeRules(data, format)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	r.mu.Lock()
	changed := !r.exists || !reflect.DeepEqual(rules, r.rules)
	r.exists = true
	r.path, r.format = path, format
	r.rules = rules
	r.modTime, r.size = info.ModTime(), info.Size()
	r.mu.Unlock()
	if changed {
		r.notify()
	}
	return changed, nil
}

// Watch refreshes the rules every interval until ctx is cancelled.
func (r *RuleSet) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		changed, err := r.Refresh()
		if err != nil {
			r.logger.Warn("alert rules reload failed", "err", err)
			continue
		}
		if changed {
			r.logger.Info("alert rules reloaded", "rules", len(r.Rules()))
		}
	}
}

// Toggle flips the enabled flag of one rule and persists the result.
func (r *RuleSet) Toggle(id string) (model.AlertRule, error) {
	var toggled model.AlertRule
	err := r.mutate(func(rules []model.AlertRule) error {
		for i := range rules {
			if rules[i].ID == id {
				rules[i].Enabled = !rules[i].Enabled
				toggled = rules[i]
				return nil
			}
		}
		return ErrRuleNotFound
	})
	return toggled, err
}

// ToggleSensor flips every rule targeting sensorName and persists the result.
func (r *RuleSet) ToggleSensor(sensorName string) ([]model.AlertRule, error) {
	var toggled []model.AlertRule
	err := r.mutate(func(rules []model.AlertRule) error {
		for i := range rules {
			if rules[i].SensorName == sensorName {
				rules[i].Enabled = !rules[i].Enabled
				toggled = append(toggled, rules[i])
			}
		}
		if len(toggled) == 0 {
			return ErrRuleNotFound
		}
		return nil
	})
	return toggled, err
}

// AutoGenerate writes one disabled presence rule per motion sensor when no
// rules file exists yet. It reports whether a file was written.
func (r *RuleSet) AutoGenerate(sensors []model.Sensor) (bool, error) {
	if _, _, info, err := r.locate(); err != nil || info != nil {
		return false, err
	}
	var rules []model.AlertRule
	for _, sensor := range sensors {
		if sensor.Category() != model.CategoryMotion {
			continue
		}
		rules = append(rules, model.AlertRule{
			SensorName: sensor.Name,
			Kind:       model.AlertPresence,
			Condition:  "detected",
			Cooldown:   model.NewCooldown(time.Minute),
			Priority:   model.PriorityNormal,
			Sound:      "pushover",
		})
	}
	if len(rules) == 0 {
		return false, nil
	}
	sortRulesByName(rules)
	assignIDs(rules)

	path := filepath.Join(r.dir, ruleFileNames[0].name)
	if err := writeRules(path, formatJSON, rules); err != nil {
		return false, err
	}
	if _, err := r.Refresh(); err != nil {
		return true, err
	}
	r.logger.Info("generated alert rules", "path", path, "rules", len(rules))
	return true, nil
}

func (r *RuleSet) mutate(fn func(rules []model.AlertRule) error) error {
	r.mu.Lock()
	rules := cloneRules(r.rules)
	if err := fn(rules); err != nil {
		r.mu.Unlock()
		return err
	}
	path, format := r.path, r.format
	if path == "" {
		path, format = filepath.Join(r.dir, ruleFileNames[0].name), formatJSON
	}
	if err := writeRules(path, format, rules); err != nil {
		r.mu.Unlock()
		return err
	}
	r.rules = rules
	r.path, r.format, r.exists = path, format, true
	if info, err := os.Stat(path); err == nil {
		r.modTime, r.size = info.ModTime(), info.Size()
	}
	r.mu.Unlock()
	r.notify()
	return nil
}

func (r *RuleSet) notify() {
	r.mu.RLock()
	listeners := append([]func([]model.AlertRule){}, r.onChange...)
	rules := cloneRules(r.rules)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(cloneRules(rules))
	}
}

func (r *RuleSet) locate() (string, string, fs.FileInfo, error) {
	for _, candidate := range ruleFileNames {
		path := filepath.Join(r.dir, candidate.name)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", "", nil, fmt.Errorf("stat alert rules: %w", err)
		}
		return path, candidate.format, info, nil
	}
	return "", "", nil, nil
}

func decodeRules(data []byte, format string) ([]model.AlertRule, error) {
	var (
		file ruleFile
		keys ruleKeys
	)
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return nil, err
		}
	default:
		data = jsonc.ToJSON(data)
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &keys); err != nil {
			return nil, err
		}
	}
	for i := range file.Sensors {
		rule := &file.Sensors[i]
		rule.Kind = model.AlertKind(normalized(string(rule.Kind)))
		var raw map[string]any
		if i < len(keys.Sensors) {
			raw = keys.Sensors[i]
		}
		if raw["priority"] == nil {
			rule.Priority = DefaultPriority(rule.Kind, rule.Condition)
		}
		if raw["sound"] == nil {
			rule.Sound = DefaultSound(rule.Kind, rule.Condition)
		}
	}
	assignIDs(file.Sensors)
	return file.Sensors, nil
}

func writeRules(path, format string, rules []model.AlertRule) error {
	file := ruleFile{Sensors: rules}
	if file.Sensors == nil {
		file.Sensors = []model.AlertRule{}
	}
	var (
		data []byte
		err  error
	)
	switch format {
	case formatYAML:
		data, err = yaml.Marshal(file)
	default:
		data, err = json.MarshalIndent(file, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode alert rules: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write alert rules: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace alert rules: %w", err)
	}
	return nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// assignIDs gives every rule without an id a stable one derived from its
// target, so fire records survive reloads.
func assignIDs(rules []model.AlertRule) {
	seen := map[string]int{}
	for _, rule := range rules {
		if rule.ID != "" {
			seen[rule.ID]++
		}
	}
	for i := range rules {
		if rules[i].ID != "" {
			continue
		}
		base := slugPattern.ReplaceAllString(strings.ToLower(rules[i].SensorName+"-"+string(rules[i].Kind)+"-"+rules[i].Condition), "-")
		base = strings.Trim(base, "-")
		id := base
		for n := 2; seen[id] > 0; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		seen[id]++
		rules[i].ID = id
	}
}

func sortRulesByName(rules []model.AlertRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].SensorName < rules[j].SensorName
	})
}

func cloneRules(rules []model.AlertRule) []model.AlertRule {
	if rules == nil {
		return nil
	}
	out := make([]model.AlertRule, len(rules))
	for i, rule := range rules {
		if rule.Threshold != nil {
			threshold := *rule.Threshold
			rule.Threshold = &threshold
		}
		if rule.Cooldown != nil {
			rule.Cooldown = model.NewCooldown(rule.Cooldown.Duration())
		}
		out[i] = rule
	}
	return out
}
