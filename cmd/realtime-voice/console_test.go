package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/realtime-voice/config"
	"github.com/AltairaLabs/realtime-voice/protocol"
)

func TestErrorOutput(t *testing.T) {
	assert.JSONEq(t, `{"error":"boom"}`, errorOutput(errors.New("boom")))
}

func TestConsole_Refresh(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(&out, nil)

	items := []protocol.Item{
		{ID: "u1", Type: protocol.ItemTypeMessage, Role: protocol.RoleUser,
			Content: []protocol.ContentPart{{Type: protocol.ContentInputAudio, Transcript: "hi there"}}},
		{ID: "a1", Type: protocol.ItemTypeMessage, Role: protocol.RoleAssistant,
			Content: []protocol.ContentPart{{Type: protocol.ContentAudio, Transcript: "Hel"}}},
	}
	assert.Empty(t, con.refresh(items))

	items[1].Content[0].Transcript = "Hello!"
	con.refresh(items)
	con.refresh(items)

	assert.Equal(t, "you: hi there\nassistant: Hello!", out.String())
}

func TestConsole_FunctionCalls(t *testing.T) {
	tools, err := config.NewToolSet([]config.Tool{{
		Name: "get_time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"zone": map[string]any{"type": "string"}},
			"required":   []any{"zone"},
		},
		Response: `{"time":"12:00"}`,
	}})
	require.NoError(t, err)

	var out bytes.Buffer
	con := newConsole(&out, tools)

	call := protocol.Item{
		ID: "fc1", Type: protocol.ItemTypeFunctionCall, CallID: "call_1",
		Name: "get_time", Arguments: `{"zone":"UTC"}`,
	}
	assert.Empty(t, con.refresh([]protocol.Item{call}), "in-progress calls are not answered")

	call.Status = "completed"
	calls := con.refresh([]protocol.Item{call})
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].CallID)
	assert.JSONEq(t, `{"time":"12:00"}`, calls[0].Output)
	assert.Contains(t, out.String(), `[tool] get_time({"zone":"UTC"})`)

	assert.Empty(t, con.refresh([]protocol.Item{call}), "calls are answered once")

	bad := protocol.Item{ID: "fc2", Type: protocol.ItemTypeFunctionCall, CallID: "call_2",
		Name: "get_time", Arguments: `{}`, Status: "completed"}
	calls = con.refresh([]protocol.Item{call, bad})
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Output, "invalid arguments")
}

func TestConsole_UnknownToolWithoutToolSet(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(&out, nil)
	calls := con.refresh([]protocol.Item{{
		ID: "fc1", Type: protocol.ItemTypeFunctionCall, CallID: "call_1", Name: "x", Status: "completed",
	}})
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Output, "unknown tool")
}

func TestConsole_ServerError(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(&out, nil)
	con.refresh([]protocol.Item{{ID: "a1", Type: protocol.ItemTypeMessage, Role: protocol.RoleAssistant,
		Content: []protocol.ContentPart{{Type: protocol.ContentText, Text: "partial"}}}})

	con.serverError(protocol.ErrorDetail{Type: "invalid_request_error", Code: "bad", Message: "nope"})
	con.serverError(protocol.ErrorDetail{Type: "server_error", Message: "oops"})
	con.notice("disconnected")

	assert.Equal(t, "assistant: partial\n"+
		"[error] invalid_request_error (bad): nope\n"+
		"[error] server_error: oops\n"+
		"* disconnected\n", out.String())
}
