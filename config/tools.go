package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AltairaLabs/realtime-voice/protocol"
)

// Tool is a function offered to the model. The client does not run code:
// a call with valid arguments is answered with Response.
type Tool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
	Response    string         `yaml:"response,omitempty"`
}

// ErrUnknownTool is returned for calls to a tool that is not configured.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentsError describes arguments that do not match a tool's schema.
type ArgumentsError struct {
	Tool   string
	Issues []string
}

func (e *ArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %s: %s", e.Tool, strings.Join(e.Issues, "; "))
}

// ToolSet holds the configured tools with their compiled schemas.
type ToolSet struct {
	tools   []Tool
	schemas map[string]*gojsonschema.Schema
	params  map[string]json.RawMessage
}

// NewToolSet compiles every tool's parameter schema. Names must be unique
// and parameters, when present, must be a JSON schema of type object.
func NewToolSet(tools []Tool) (*ToolSet, error) {
	ts := &ToolSet{
		tools:   tools,
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
		params:  make(map[string]json.RawMessage, len(tools)),
	}

	var errs []error
	for i, t := range tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
			continue
		}
		if _, dup := ts.params[t.Name]; dup {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name))
			continue
		}

		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if typ, _ := params["type"].(string); typ != "object" {
			errs = append(errs, fmt.Errorf("tool %s: parameters must be a schema of type object", t.Name))
			continue
		}

		raw, err := json.Marshal(params)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: failed to encode parameters: %w", t.Name, err))
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			errs = append(errs, fmt.Errorf("tool %s: invalid parameters schema: %w", t.Name, err))
			continue
		}
		ts.params[t.Name] = raw
		ts.schemas[t.Name] = schema
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ts, nil
}

// Len returns the number of tools.
func (ts *ToolSet) Len() int {
	return len(ts.tools)
}

// Definitions returns the tools in session.update form.
func (ts *ToolSet) Definitions() []protocol.Tool {
	if len(ts.tools) == 0 {
		return nil
	}
	defs := make([]protocol.Tool, 0, len(ts.tools))
	for _, t := range ts.tools {
		defs = append(defs, protocol.Tool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  ts.params[t.Name],
		})
	}
	return defs
}

// Call validates arguments, the JSON the model produced, against the
// tool's schema and returns the configured response.
func (ts *ToolSet) Call(name, arguments string) (string, error) {
	schema, ok := ts.schemas[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(arguments))
	if err != nil {
		return "", fmt.Errorf("validation error for tool %s: %w", name, err)
	}
	if !result.Valid() {
		issues := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			issues[i] = desc.String()
		}
		return "", &ArgumentsError{Tool: name, Issues: issues}
	}

	for _, t := range ts.tools {
		if t.Name == name {
			if t.Response == "" {
				return `{"ok":true}`, nil
			}
			return t.Response, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
}
