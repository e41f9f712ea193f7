package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherTool() Tool {
	return Tool{
		Name:        "get_weather",
		Description: "Current weather for a city",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"city"},
		},
		Response: `{"temp_c":21}`,
	}
}

func TestNewToolSet(t *testing.T) {
	ts, err := NewToolSet([]Tool{weatherTool(), {Name: "ping"}})
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Len())

	defs := ts.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "get_weather", defs[0].Name)

	var params map[string]any
	require.NoError(t, json.Unmarshal(defs[1].Parameters, &params))
	assert.Equal(t, "object", params["type"])
}

func TestNewToolSet_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		tools []Tool
		want  string
	}{
		{"missing name", []Tool{{}}, "name is required"},
		{"duplicate", []Tool{{Name: "a"}, {Name: "a"}}, `duplicate tool "a"`},
		{"not an object", []Tool{{Name: "a", Parameters: map[string]any{"type": "string"}}}, "type object"},
		{
			"bad schema",
			[]Tool{{Name: "a", Parameters: map[string]any{"type": "object", "properties": "nope"}}},
			"invalid parameters schema",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewToolSet(tt.tools)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestToolSet_Call(t *testing.T) {
	ts, err := NewToolSet([]Tool{weatherTool(), {Name: "ping"}})
	require.NoError(t, err)

	out, err := ts.Call("get_weather", `{"city":"Oslo"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp_c":21}`, out)

	out, err = ts.Call("ping", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)

	_, err = ts.Call("get_weather", `{"town":"Oslo"}`)
	var argErr *ArgumentsError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "get_weather", argErr.Tool)
	assert.NotEmpty(t, argErr.Issues)

	_, err = ts.Call("nope", "{}")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = ts.Call("get_weather", `{not json`)
	assert.Error(t, err)
}

func TestValidate_Tools(t *testing.T) {
	cfg := Default()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Tools = []Tool{{Name: "a"}, {Name: "a"}}
	assert.ErrorContains(t, cfg.Validate(), "duplicate tool")
}
