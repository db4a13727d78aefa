package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var validTypes = map[string]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true,
	TypeBoolean: true, TypeArray: true, TypeObject: true,
}

// jsonSchema строит JSON Schema объекта параметров
func (t *Tool) jsonSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := make([]string, 0)
	for _, p := range t.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(t *Tool) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(t.jsonSchema())
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("https://spaceai.local/tools/%s.schema.json", t.Name)

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// withDefaults возвращает копию параметров, дополненную значениями по умолчанию
func (t *Tool) withDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(t.Parameters))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range t.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

// normalize приводит значения к тому виду, который дает encoding/json:
// валидатор понимает только map[string]any, []any, string, json.Number, bool и nil.
func normalize(params map[string]any) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("parameters are not JSON-serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
