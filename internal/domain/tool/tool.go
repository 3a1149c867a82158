// Package tool defines tool descriptors and structured tool results.
package tool

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNotFound is returned when a namespaced tool name is not registered.
var ErrNotFound = errors.New("tool not found")

// Separator joins the service name and the operation in a namespaced tool name.
const Separator = "_"

// EmptyOutput is the text rendered for a successful call that returned nothing.
const EmptyOutput = "tool executed successfully"

// Descriptor describes one tool the model may call.
type Descriptor struct {
	Name        string          `json:"name"`
	Service     string          `json:"service"`
	Operation   string          `json:"operation"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// QualifiedName returns the namespaced name "<service>_<operation>".
func QualifiedName(service, operation string) string {
	return service + Separator + operation
}

// Schema returns the input schema decoded into a map. An empty schema yields
// an object schema that accepts any mapping.
func (d *Descriptor) Schema() map[string]any {
	out := map[string]any{}
	if len(d.InputSchema) > 0 {
		_ = json.Unmarshal(d.InputSchema, &out)
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// Properties returns the "properties" object of the input schema.
func (d *Descriptor) Properties() map[string]any {
	props, _ := d.Schema()["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	}
	return props
}

// Required returns the "required" list of the input schema.
func (d *Descriptor) Required() []string {
	raw, _ := d.Schema()["required"].([]any)
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Result is the structured output of a tool call. Text is the human-readable
// rendering handed to the model; Data is the optional machine payload.
type Result struct {
	Text    string          `json:"text"`
	Data    json.RawMessage `json:"data,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// ErrorResult returns a failed Result carrying msg.
func ErrorResult(msg string) Result {
	return Result{Text: msg, IsError: true}
}

// Rendered returns the text shown to the model, never empty.
func (r Result) Rendered() string {
	if strings.TrimSpace(r.Text) == "" && !r.IsError {
		return EmptyOutput
	}
	return r.Text
}

// Field decodes the Data payload and returns the string value at key.
func (r Result) Field(key string) string {
	if len(r.Data) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
