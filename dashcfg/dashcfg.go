// Package dashcfg loads the declarative document that decides which overview
// panels exist. Documents keep the historical string convention ("1" means
// enabled); Config turns it into typed flags once, at load time.
package dashcfg

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is an immutable, flattened view of a dashboard document.
type Config struct {
	values   map[string]string
	enabled  map[string]bool
	sections map[string]bool
}

// Empty returns a config with no keys; every panel is absent.
func Empty() Config {
	return FromMap(nil)
}

// FromMap builds a config from dotted keys, e.g.
// {"ui.overview.cards.dosings": "1"}.
func FromMap(doc map[string]string) Config {
	cfg := Config{
		values:   make(map[string]string, len(doc)),
		enabled:  make(map[string]bool, len(doc)),
		sections: make(map[string]bool),
	}
	for key, value := range doc {
		key = normalizeKey(key)
		if key == "" {
			continue
		}
		cfg.values[key] = value
		cfg.enabled[key] = value == "1"
		for i := strings.LastIndexByte(key, '.'); i > 0; i = strings.LastIndexByte(key[:i], '.') {
			cfg.sections[key[:i]] = true
		}
	}
	return cfg
}

// Load reads a YAML document from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dashcfg: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse flattens a YAML document. Nested mappings join their keys with "."
// so both section style and dotted style are accepted:
//
//	ui.overview.charts:
//	  implied_growth_rate: "1"
//	ui.overview.cards.dosings: "1"
func Parse(data []byte) (Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Config{}, fmt.Errorf("dashcfg: parse: %w", err)
	}
	flat := make(map[string]string)
	if len(root.Content) == 0 {
		return FromMap(flat), nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return Config{}, fmt.Errorf("dashcfg: parse: top level must be a mapping, got %s", kindName(doc.Kind))
	}
	if err := flatten("", doc, flat); err != nil {
		return Config{}, err
	}
	return FromMap(flat), nil
}

func flatten(prefix string, node *yaml.Node, out map[string]string) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]
		key := keyNode.Value
		if prefix != "" {
			key = prefix + "." + key
		}
		switch valueNode.Kind {
		case yaml.MappingNode:
			if err := flatten(key, valueNode, out); err != nil {
				return err
			}
		case yaml.ScalarNode:
			if valueNode.Tag == "!!null" {
				continue
			}
			out[key] = valueNode.Value
		case yaml.AliasNode:
			if valueNode.Alias != nil && valueNode.Alias.Kind == yaml.ScalarNode {
				out[key] = valueNode.Alias.Value
			}
		default:
			// Sequences carry no flag semantics; keep the raw text for parameters.
			var items []string
			for _, item := range valueNode.Content {
				items = append(items, item.Value)
			}
			out[key] = strings.Join(items, ",")
		}
	}
	return nil
}

// Enabled reports whether key holds exactly "1".
func (c Config) Enabled(key string) bool {
	return c.enabled[normalizeKey(key)]
}

// Value returns the raw string stored at key.
func (c Config) Value(key string) (string, bool) {
	v, ok := c.values[normalizeKey(key)]
	return v, ok
}

// Float parses the value at key as a number.
func (c Config) Float(key string) (float64, bool) {
	v, ok := c.Value(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// HasSection reports whether any key lives under the dotted prefix.
func (c Config) HasSection(prefix string) bool {
	return c.sections[normalizeKey(prefix)]
}

// Truthy reports whether key is set to something other than an empty or false
// word, or names a section that holds at least one key.
func (c Config) Truthy(key string) bool {
	key = normalizeKey(key)
	if v, ok := c.values[key]; ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no", "off":
			return false
		default:
			return true
		}
	}
	return c.sections[key]
}

// Keys returns all keys in sorted order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the raw dotted document, the form written back to disk.
func (c Config) Map() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func normalizeKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), ".")
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "mapping"
	}
}
