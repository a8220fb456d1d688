package config

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Khoshtrip/backend/types"
)

// Parser gives dotted-path access to the effective configuration, e.g.
// "cache.fan_out.product" or "store.redis.query_timeout".
type Parser struct {
	data map[string]interface{}
}

func NewParser(config *types.ServiceConfig) *Parser {
	parser := &Parser{data: make(map[string]interface{})}

	raw, err := yaml.Marshal(config)
	if err != nil {
		return parser
	}

	if err = yaml.Unmarshal(raw, &parser.data); err != nil {
		parser.data = make(map[string]interface{})
	}

	return parser
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	if value := p.lookup(path); value != nil {
		return value
	}
	return defaultValue
}

func (p *Parser) GetAs(path string, target interface{}) error {
	value := p.lookup(path)
	if value == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	raw, err := yaml.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal config value")
	}

	if err = yaml.Unmarshal(raw, target); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "path %s: %v", path, err)
	}

	return nil
}

// Paths lists every leaf path in sorted order.
func (p *Parser) Paths() []string {
	var paths []string
	collectPaths(p.data, "", &paths)
	sort.Strings(paths)
	return paths
}

func collectPaths(node interface{}, prefix string, paths *[]string) {
	m, ok := node.(map[string]interface{})
	if !ok || len(m) == 0 {
		if prefix != "" {
			*paths = append(*paths, prefix)
		}
		return
	}

	for key, child := range m {
		next := key
		if prefix != "" {
			next = prefix + "." + key
		}
		collectPaths(child, next, paths)
	}
}

func (p *Parser) lookup(path string) interface{} {
	if path == "" {
		return p.data
	}

	var current interface{} = p.data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}

		current, ok = m[part]
		if !ok || current == nil {
			return nil
		}
	}

	return current
}
