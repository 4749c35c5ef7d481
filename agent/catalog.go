package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sashabaranov/go-openai"
	"github.com/tailscale/hujson"
)

type entry struct {
	tool   Tool
	spec   ToolSpec
	schema *jsonschema.Schema
}

// Catalog is an ordered set of tools addressed by case-insensitive name.
// It is filled once at startup and only read afterwards.
type Catalog struct {
	entries map[string]*entry
	order   []string
}

func NewCatalog(tools ...Tool) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*entry)}
	for _, tool := range tools {
		if err := c.register(tool); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	spec := tool.Spec()
	key := toolKey(spec.Name)
	if key == "" {
		return fmt.Errorf("tool name is empty")
	}
	if _, exists := c.entries[key]; exists {
		return fmt.Errorf("tool %s already registered", spec.Name)
	}
	e := &entry{tool: tool, spec: spec}
	if len(spec.Parameters) > 0 {
		schema, err := compileSchema(key, spec.Parameters)
		if err != nil {
			return fmt.Errorf("tool %s: %w", spec.Name, err)
		}
		e.schema = schema
	}
	c.entries[key] = e
	c.order = append(c.order, key)
	return nil
}

// Select returns a catalog restricted to names, in the order given.
func (c *Catalog) Select(names []string) (*Catalog, error) {
	out := &Catalog{entries: make(map[string]*entry)}
	for _, name := range names {
		key := toolKey(name)
		if key == "" {
			continue
		}
		e, ok := c.entries[key]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		if _, dup := out.entries[key]; dup {
			continue
		}
		out.entries[key] = e
		out.order = append(out.order, key)
	}
	return out, nil
}

func (c *Catalog) Lookup(name string) (Tool, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.entries[toolKey(name)]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Specs returns tool specifications in registration order.
func (c *Catalog) Specs() []ToolSpec {
	if c == nil {
		return nil
	}
	specs := make([]ToolSpec, 0, len(c.order))
	for _, key := range c.order {
		specs = append(specs, c.entries[key].spec)
	}
	return specs
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Validate checks model supplied arguments against the tool's parameter
// schema. Arguments may use relaxed JSON (comments, trailing commas).
func (c *Catalog) Validate(name, params string) error {
	e, ok := c.entries[toolKey(name)]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if e.schema == nil {
		return nil
	}
	value, err := DecodeParams(params)
	if err != nil {
		return err
	}
	if err := e.schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (c *Catalog) definitions() []openai.Tool {
	if c.Len() == 0 {
		return nil
	}
	defs := make([]openai.Tool, 0, len(c.order))
	for _, key := range c.order {
		spec := c.entries[key].spec
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	return defs
}

// DecodeParams parses relaxed JSON tool arguments into generic values.
// Blank input decodes to an empty object.
func DecodeParams(params string) (any, error) {
	if strings.TrimSpace(params) == "" {
		return map[string]any{}, nil
	}
	std, err := hujson.Standardize([]byte(params))
	if err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	var out any
	if err := json.Unmarshal(std, &out); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return out, nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	resourceID := "inmemory://tools/" + name
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func toolKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
