// Package catalog loads the event type catalog: an ordered mapping from event type keys to the
// parameters an analyst expects each event to send.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vitalik-svt/tomata/internal/errs"
)

// Param is one expected parameter of an event type.
type Param struct {
	Key     string
	Value   string
	Comment string
}

// Entry is one event type with its parameters in source order.
type Entry struct {
	EventType string
	Params    []Param
}

// Catalog is an ordered set of event types.
type Catalog struct {
	entries []Entry
	index   map[string]int
}

type paramYAML struct {
	Key     string `yaml:"key"`
	Value   any    `yaml:"value"`
	Comment string `yaml:"comment"`
}

// Load reads and parses the catalog file. It is meant to be called on every use so that edits
// to the file show up without a restart.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read events mapper %s: %v", errs.ErrConfiguration, path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML mapping of event type -> list of {key, value, comment}.
func Parse(data []byte) (*Catalog, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse events mapper: %v", errs.ErrConfiguration, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("%w: events mapper is empty", errs.ErrConfiguration)
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: events mapper must be a mapping", errs.ErrConfiguration)
	}

	c := &Catalog{index: make(map[string]int, len(mapping.Content)/2)}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		keyNode, valueNode := mapping.Content[i], mapping.Content[i+1]
		eventType := strings.TrimSpace(keyNode.Value)
		if eventType == "" {
			return nil, fmt.Errorf("%w: empty event type at line %d", errs.ErrConfiguration, keyNode.Line)
		}
		if _, dup := c.index[eventType]; dup {
			return nil, fmt.Errorf("%w: duplicate event type %q", errs.ErrConfiguration, eventType)
		}

		var raw []paramYAML
		if valueNode.Kind != yaml.SequenceNode && !isNull(valueNode) {
			return nil, fmt.Errorf("%w: event type %q must list parameters", errs.ErrConfiguration, eventType)
		}
		if err := valueNode.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: event type %q: %v", errs.ErrConfiguration, eventType, err)
		}

		entry := Entry{EventType: eventType, Params: make([]Param, 0, len(raw))}
		for j, p := range raw {
			if strings.TrimSpace(p.Key) == "" {
				return nil, fmt.Errorf("%w: event type %q parameter %d has no key", errs.ErrConfiguration, eventType, j)
			}
			entry.Params = append(entry.Params, Param{
				Key:     p.Key,
				Value:   scalarText(p.Value),
				Comment: strings.TrimSpace(p.Comment),
			})
		}
		c.index[eventType] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	return c, nil
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.Tag == "!!null"
}

func scalarText(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// Keys returns event types in source order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.entries))
	for i, entry := range c.entries {
		out[i] = entry.EventType
	}
	return out
}

func (c *Catalog) Has(eventType string) bool {
	_, ok := c.index[eventType]
	return ok
}

// Text renders the parameters of one event type, or reports false for an unknown type.
func (c *Catalog) Text(eventType string) (string, bool) {
	i, ok := c.index[eventType]
	if !ok {
		return "", false
	}
	return renderParams(c.entries[i].Params), true
}

// RenderAsText renders every event type into its display string.
func (c *Catalog) RenderAsText() map[string]string {
	out := make(map[string]string, len(c.entries))
	for _, entry := range c.entries {
		out[entry.EventType] = renderParams(entry.Params)
	}
	return out
}

// MapperJSON is the serialized form of RenderAsText stored as a document's events_mapper.
func (c *Catalog) MapperJSON() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(c.RenderAsText()); err != nil {
		return "", fmt.Errorf("encode events mapper: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// renderParams writes one "key: value" line per parameter, with " // comment" when present.
func renderParams(params []Param) string {
	lines := make([]string, 0, len(params))
	for _, p := range params {
		line := p.Key + ": " + p.Value
		if p.Comment != "" {
			line += " // " + p.Comment
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
