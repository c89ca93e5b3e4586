package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "config.ini"

// LoadFromPath reads a configuration file (INI, YAML or JSON) and returns the
// validated Config. Format is detected by extension (.ini/.cfg, .yaml/.yml,
// .json) or, failing that, by content.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Load(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// Load parses configuration from bytes. ext is the file extension used as a
// format hint; empty means detect from content.
func Load(data []byte, ext string) (*Config, error) {
	vals, err := parse(data, strings.ToLower(ext))
	if err != nil {
		return nil, err
	}
	return fromValues(vals)
}

// values is the format-neutral form of a configuration file:
// section → key → raw string. List-valued keys are space separated.
type values map[string]map[string]string

func (v values) get(section, key string) (string, bool) {
	s, ok := v[section]
	if !ok {
		return "", false
	}
	val, ok := s[key]
	return strings.TrimSpace(val), ok
}

func parse(data []byte, ext string) (values, error) {
	switch ext {
	case ".ini", ".cfg", ".conf":
		return parseINI(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".json":
		return parseJSON(data)
	}
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return parseJSON(data)
	case strings.HasPrefix(trimmed, "["), strings.HasPrefix(trimmed, ";"), strings.HasPrefix(trimmed, "#") && strings.Contains(trimmed, "\n["):
		return parseINI(data)
	default:
		return parseYAML(data)
	}
}

func parseINI(data []byte) (values, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		Insensitive:         false,
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return nil, fmt.Errorf("parse config ini: %w", err)
	}
	out := make(values)
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		m := make(map[string]string)
		for _, k := range sec.Keys() {
			m[k.Name()] = k.Value()
		}
		out[sec.Name()] = m
	}
	return out, nil
}

func parseYAML(data []byte) (values, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return flatten(raw), nil
}

func parseJSON(data []byte) (values, error) {
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}
	return flatten(raw), nil
}

// flatten turns structured YAML/JSON scalars and lists into the INI-style
// strings the rest of the loader works on.
func flatten(raw map[string]map[string]any) values {
	out := make(values, len(raw))
	for section, kv := range raw {
		m := make(map[string]string, len(kv))
		for k, v := range kv {
			m[k] = scalar(v)
		}
		out[section] = m
	}
	return out
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, scalar(e))
		}
		return strings.Join(parts, " ")
	case float64:
		// JSON numbers arrive as float64; integers must not grow a ".0".
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, " ")
	default:
		return fmt.Sprint(x)
	}
}
