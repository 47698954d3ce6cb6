package config

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

const redacted = "********"

// secretPaths are masked in every value returned by Parser.Describe.
var secretPaths = []string{
	"admin.token",
	"persistence.encryption_key",
	"storage.redis.password",
}

// Parser resolves dotted paths such as "persistence.backups.max_backups"
// against the YAML document of a ServiceConfig. Numeric segments index
// sequences.
type Parser struct {
	root   *yaml.Node
	masked *yaml.Node
}

func NewParser(config *types.ServiceConfig) (*Parser, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	root, err := encodeNode(config)
	if err != nil {
		return nil, err
	}

	masked, err := encodeNode(config)
	if err != nil {
		return nil, err
	}

	for _, path := range secretPaths {
		node := find(masked, path)
		if node == nil || node.Kind != yaml.ScalarNode || node.Value == "" {
			continue
		}
		node.Tag = "!!str"
		node.Style = 0
		node.Value = redacted
	}

	return &Parser{root: root, masked: masked}, nil
}

func encodeNode(config *types.ServiceConfig) (*yaml.Node, error) {
	node := &yaml.Node{}
	if err := node.Encode(config); err != nil {
		return nil, types.WrapError(err, "failed to encode config")
	}
	return node, nil
}

func (p *Parser) GetValue(path string, defaultValue interface{}) interface{} {
	value, ok := decode(p.root, path)
	if !ok {
		return defaultValue
	}
	return value
}

func (p *Parser) GetAs(path string, target interface{}) error {
	node := find(p.root, path)
	if node == nil {
		return types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}

	return types.WrapError(node.Decode(target), "failed to decode config value")
}

// Describe returns the value at path with secrets masked.
func (p *Parser) Describe(path string) (interface{}, error) {
	value, ok := decode(p.masked, path)
	if !ok {
		return nil, types.Errorf(types.ErrConfigNotFound, "path: %s", path)
	}
	return value, nil
}

// Paths lists every leaf path in document order.
func (p *Parser) Paths() []string {
	paths := make([]string, 0, 64)
	walk(p.root, "", &paths)
	return paths
}

func decode(root *yaml.Node, path string) (interface{}, bool) {
	node := find(root, path)
	if node == nil {
		return nil, false
	}

	var value interface{}
	if err := node.Decode(&value); err != nil {
		return nil, false
	}
	return value, true
}

func find(root *yaml.Node, path string) *yaml.Node {
	current := root
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			current = child(current, part)
			if current == nil {
				return nil
			}
		}
	}

	if current.ShortTag() == "!!null" {
		return nil
	}
	return current
}

func child(node *yaml.Node, part string) *yaml.Node {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == part {
				return node.Content[i+1]
			}
		}
	case yaml.SequenceNode:
		index, err := strconv.Atoi(part)
		if err == nil && index >= 0 && index < len(node.Content) {
			return node.Content[index]
		}
	}
	return nil
}

func walk(node *yaml.Node, prefix string, paths *[]string) {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			walk(node.Content[i+1], join(prefix, node.Content[i].Value), paths)
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			walk(item, join(prefix, strconv.Itoa(i)), paths)
		}
	default:
		if prefix != "" && node.ShortTag() != "!!null" {
			*paths = append(*paths, prefix)
		}
	}
}

func join(prefix, part string) string {
	if prefix == "" {
		return part
	}
	return prefix + "." + part
}
