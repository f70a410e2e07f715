package autoinstall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tiendc/go-deepcopy"
	"sigs.k8s.io/yaml"
)

// baseSchema is the only validation the core performs on an autoinstall
// file. Stage sections are opaque here; unknown top-level keys are allowed so
// stages can own their own formats.
const baseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "version": {
      "type": "integer",
      "minimum": 1,
      "maximum": 1
    },
    "interactive-sections": {
      "type": "array",
      "items": {
        "type": "string"
      }
    }
  },
  "required": ["version"],
  "additionalProperties": true
}`

var compileBaseSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(baseSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal base schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("autoinstall.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add base schema resource: %w", err)
	}
	schema, err := compiler.Compile("autoinstall.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile base schema: %w", err)
	}
	return schema, nil
})

// Config is one parsed, validated autoinstall tree. It is immutable after
// Load; stages get deep copies of their sections.
type Config struct {
	version             int
	tree                map[string]any
	interactiveSections []string
}

// Load parses and validates autoinstall YAML.
func Load(data []byte) (*Config, error) {
	jsonBytes, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse autoinstall: %w", err)
	}

	schema, err := compileBaseSchema()
	if err != nil {
		return nil, err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("parse autoinstall: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("autoinstall does not match schema: %w", err)
	}

	var tree map[string]any
	if err := json.Unmarshal(jsonBytes, &tree); err != nil {
		return nil, fmt.Errorf("parse autoinstall: %w", err)
	}

	cfg := &Config{tree: tree}

	// The schema guarantees an integral version.
	cfg.version = int(tree["version"].(float64))

	if raw, ok := tree["interactive-sections"]; ok {
		sections := raw.([]any)
		cfg.interactiveSections = make([]string, 0, len(sections))
		for _, s := range sections {
			cfg.interactiveSections = append(cfg.interactiveSections, s.(string))
		}
	}

	return cfg, nil
}

func (c *Config) Version() int {
	return c.version
}

// Interactive reports whether this config asks for an interactive run.
func (c *Config) Interactive() bool {
	return len(c.interactiveSections) > 0
}

// InteractiveSections returns the raw interactive-sections list, nil when the
// key is absent. An empty list is distinct from an absent one.
func (c *Config) InteractiveSections() []string {
	if c.interactiveSections == nil {
		return nil
	}
	out := make([]string, len(c.interactiveSections))
	copy(out, c.interactiveSections)
	return out
}

// SectionInteractive reports whether the config names key as interactive.
// A list that is exactly ["*"] covers every section; a "*" mixed into a
// longer list only matches a section literally named "*".
func (c *Config) SectionInteractive(key string) bool {
	if len(c.interactiveSections) == 1 && c.interactiveSections[0] == "*" {
		return true
	}
	for _, s := range c.interactiveSections {
		if s == key {
			return true
		}
	}
	return false
}

// HasSection reports whether a top-level section is present.
func (c *Config) HasSection(key string) bool {
	_, ok := c.tree[key]
	return ok
}

// Section returns a deep copy of one top-level section so stages can ingest
// it without aliasing the shared tree.
func (c *Config) Section(key string) (any, bool, error) {
	raw, ok := c.tree[key]
	if !ok {
		return nil, false, nil
	}
	var section any
	if err := deepcopy.Copy(&section, &raw); err != nil {
		return nil, true, fmt.Errorf("copy %s section: %w", key, err)
	}
	return section, true, nil
}

// DecodeSection unmarshals one section into out through its JSON form.
// Returns false when the section is absent.
func (c *Config) DecodeSection(key string, out any) (bool, error) {
	raw, ok := c.tree[key]
	if !ok {
		return false, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return true, fmt.Errorf("marshal %s section: %w", key, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return true, fmt.Errorf("decode %s section: %w", key, err)
	}
	return true, nil
}
