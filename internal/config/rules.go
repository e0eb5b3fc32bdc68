package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/settings"
)

// Rules file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

const defaultRuleKind = "trigger"

var (
	// errRulesList is returned when the file has no rules list.
	errRulesList = errors.New("rules file needs a rules list")
	// errRuleID is returned for a missing or repeated rule id.
	errRuleID = errors.New("rule needs a unique positive id")
	// errUnknownFormat is returned for unsupported file extensions.
	errUnknownFormat = errors.New("unknown rules file format")
)

// LoadRules reads a rules file. An empty path yields no rules.
func LoadRules(path string) ([]*domain.Rule, error) {
	if path == "" {
		return nil, nil
	}

	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	return ParseRules(ExpandEnv(data), format)
}

// FormatOf picks the rules format from a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", errUnknownFormat, path)
	}
}

// ParseRules decodes a rules document. Malformed conditions and actions do not
// fail the load, they parse into variants that never match or always error.
func ParseRules(data []byte, format string) ([]*domain.Rule, error) {
	var doc map[string]any

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal rules: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownFormat, format)
	}

	list, ok := doc["rules"].([]any)
	if !ok {
		return nil, errRulesList
	}

	rules := make([]*domain.Rule, 0, len(list))
	seen := make(map[int64]struct{}, len(list))

	for i, item := range list {
		rule, err := parseRule(item)
		if err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i+1, err)
		}

		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule #%d: %w", i+1, errRuleID)
		}

		seen[rule.ID] = struct{}{}
		rules = append(rules, rule)
	}

	return rules, nil
}

func parseRule(raw any) (*domain.Rule, error) {
	node := settings.AsMap(raw)
	if node == nil {
		return nil, fmt.Errorf("rule is %T, not an object", raw)
	}

	id, ok := settings.AsInt(node["id"])
	if !ok || id <= 0 {
		return nil, errRuleID
	}

	definition := settings.AsMap(node["definition"])
	if definition == nil {
		definition = make(map[string]any, 2)

		for _, key := range []string{"when", "then"} {
			if v, ok := node[key]; ok {
				definition[key] = v
			}
		}
	} else {
		definition = maps.Clone(definition)
	}

	when, then := domain.ParseDefinition(definition)

	rule := &domain.Rule{
		ID:         int64(id),
		Name:       stringOr(node["name"], fmt.Sprintf("rule-%d", id)),
		Kind:       stringOr(node["kind"], defaultRuleKind),
		Enabled:    true,
		When:       when,
		Then:       then,
		Definition: definition,
	}

	if enabled, ok := node["enabled"].(bool); ok {
		rule.Enabled = enabled
	}

	if priority, ok := settings.AsInt(node["priority"]); ok {
		rule.Priority = priority
	}

	if cooldown, ok := settings.AsInt(node["cooldown_seconds"]); ok && cooldown > 0 {
		rule.CooldownSeconds = &cooldown
	}

	return rule, nil
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}

	return def
}
