package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mukut03/agents/config"
	"github.com/mukut03/agents/framework"
)

// readConfigMap deserializes agent.yaml into a generic map for dotted lookups.
func readConfigMap(path string) (map[string]any, error) {
	data := map[string]any{}
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(bytes, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// writeConfigMap persists the config map back to YAML, creating directories.
func writeConfigMap(path string, data map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	bytes, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0o644)
}

// configMap renders cfg with its yaml tags so dotted keys match agent.yaml.
func configMap(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// getConfigValue traverses a nested map using dotted notation.
func getConfigValue(data map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := m[part]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

// setConfigValue mutates/creates nested keys referenced via dotted notation.
func setConfigValue(data map[string]any, key string, value any) error {
	parts := strings.Split(key, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			current[part] = value
			return nil
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	return nil
}

// coerceConfigValue converts raw into the type config.Default() holds at key.
// Unknown keys and whole sections are rejected.
func coerceConfigValue(key, raw string) (any, error) {
	defaults, err := configMap(config.Default())
	if err != nil {
		return nil, err
	}
	current, ok := getConfigValue(defaults, key)
	if !ok {
		return nil, &framework.ConfigError{Field: key, Message: "unknown config key"}
	}
	invalid := func(kind string) error {
		return &framework.ConfigError{Field: key, Message: fmt.Sprintf("expects %s, got %q", kind, raw)}
	}
	switch current.(type) {
	case map[string]any:
		return nil, &framework.ConfigError{Field: key, Message: "is a section, set one of its keys"}
	case bool:
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, invalid("true or false")
	case int:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, invalid("an integer")
		}
		return i, nil
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, invalid("a number")
		}
		return f, nil
	default:
		return raw, nil
	}
}

// prettyValue renders nested values in a human-readable one-line format.
func prettyValue(v any) string {
	switch value := v.(type) {
	case []any:
		var parts []string
		for _, item := range value {
			parts = append(parts, prettyValue(item))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		b, _ := yaml.Marshal(value)
		return strings.TrimSpace(string(b))
	default:
		return fmt.Sprint(value)
	}
}
