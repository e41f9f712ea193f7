package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerEvent_SessionCreated(t *testing.T) {
	raw := `{"event_id":"e1","type":"session.created","session":{"id":"sess_1","object":"realtime.session","voice":"alloy","turn_detection":{"type":"server_vad","threshold":0.5}}}`

	ev, err := ParseServerEvent([]byte(raw))
	require.NoError(t, err)

	created, ok := ev.(*SessionCreatedEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, TypeSessionCreated, created.EventType())
	assert.Equal(t, "sess_1", created.Session.ID)
	assert.Equal(t, "alloy", created.Session.Voice)
	require.NotNil(t, created.Session.TurnDetection)
	assert.Equal(t, "server_vad", created.Session.TurnDetection.Type)
}

func TestParseServerEvent_Variants(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`, &ErrorEvent{}},
		{`{"type":"conversation.created","conversation":{"id":"conv_1"}}`, &ConversationCreatedEvent{}},
		{`{"type":"conversation.item.created","item":{"id":"item_1","type":"message"}}`, &ConversationItemCreatedEvent{}},
		{`{"type":"conversation.item.deleted","item_id":"item_1"}`, &ConversationItemDeletedEvent{}},
		{`{"type":"input_audio_buffer.speech_started","audio_start_ms":10}`, &SpeechStartedEvent{}},
		{`{"type":"input_audio_buffer.speech_stopped","audio_end_ms":20}`, &SpeechStoppedEvent{}},
		{`{"type":"response.audio.delta","item_id":"i","delta":"AAA="}`, &ResponseDeltaEvent{}},
		{`{"type":"response.audio_transcript.done","item_id":"i","transcript":"hi"}`, &ResponseDeltaEvent{}},
		{`{"type":"response.output_item.done","item":{"id":"i","type":"message"}}`, &ResponseOutputItemEvent{}},
		{`{"type":"response.function_call_arguments.done","call_id":"c","arguments":"{}"}`, &FunctionCallArgumentsEvent{}},
		{`{"type":"rate_limits.updated","rate_limits":[{"name":"requests","limit":10}]}`, &RateLimitsUpdatedEvent{}},
	}
	for _, tt := range tests {
		ev, err := ParseServerEvent([]byte(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.IsType(t, tt.want, ev, tt.raw)
	}
}

func TestParseServerEvent_UnknownTypeIsPreserved(t *testing.T) {
	raw := `{"type":"response.brand_new","x":1}`
	ev, err := ParseServerEvent([]byte(raw))
	require.NoError(t, err)

	unknown, ok := ev.(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "response.brand_new", unknown.EventType())
	assert.JSONEq(t, raw, string(unknown.Raw))
}

func TestParseServerEvent_Malformed(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"event_id":"x"}`))
	assert.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"type":"session.created","session":"nope"}`))
	assert.Error(t, err)
}

func TestClientEventsCarryTypeAndID(t *testing.T) {
	events := []ClientEvent{
		NewSessionUpdate(Session{Voice: "alloy"}),
		NewInputAudioAppend([]byte{1, 2}),
		NewInputAudioCommit(),
		NewInputAudioClear(),
		NewItemCreate(Message(RoleUser, "hi")),
		NewItemTruncate("item_1", 0, 1500),
		NewItemDelete("item_1"),
		NewResponseCreate(nil),
		NewResponseCancel(),
	}
	seen := map[string]bool{}
	for _, ev := range events {
		assert.True(t, strings.HasPrefix(ev.ID(), "evt_"))
		assert.False(t, seen[ev.ID()], "duplicate id %s", ev.ID())
		seen[ev.ID()] = true

		data, err := MarshalEvent(ev)
		require.NoError(t, err)
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, ev.EventType(), decoded["type"])
	}
}

func TestInputAudioAppendEncodesBase64(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	ev := NewInputAudioAppend(pcm)
	decoded, err := base64.StdEncoding.DecodeString(ev.Audio)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

func TestSessionUpdateSendsNullTurnDetection(t *testing.T) {
	data, err := MarshalEvent(NewSessionUpdate(Session{Voice: "echo"}))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"turn_detection":null`)
	assert.NotContains(t, string(data), `"id"`)
}

func TestMessageContentTypes(t *testing.T) {
	user := Message(RoleUser, "hello")
	assert.Equal(t, ItemTypeMessage, user.Type)
	assert.Equal(t, ContentInputText, user.Content[0].Type)

	assistant := Message(RoleAssistant, "hello")
	assert.Equal(t, ContentText, assistant.Content[0].Type)

	out := FunctionCallOutput("call_1", `{"ok":true}`)
	assert.Equal(t, ItemTypeFunctionCallOutput, out.Type)
	assert.Equal(t, "call_1", out.CallID)
}

func TestSessionCloneIsDeep(t *testing.T) {
	create := true
	orig := &Session{
		ID:            "sess_1",
		Modalities:    []string{"text", "audio"},
		TurnDetection: &TurnDetection{Type: "server_vad", CreateResponse: &create},
		Tools:         []Tool{{Type: "function", Name: "f", Parameters: json.RawMessage(`{"type":"object"}`)}},
	}
	c := orig.Clone()
	c.Modalities[0] = "audio"
	c.TurnDetection.Type = "none"
	*c.TurnDetection.CreateResponse = false
	c.Tools[0].Parameters[0] = '['

	assert.Equal(t, "text", orig.Modalities[0])
	assert.Equal(t, "server_vad", orig.TurnDetection.Type)
	assert.True(t, *orig.TurnDetection.CreateResponse)
	assert.Equal(t, byte('{'), orig.Tools[0].Parameters[0])
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestItemCloneSharesNoContent(t *testing.T) {
	it := Message(RoleUser, "a")
	c := it.Clone()
	c.Content[0].Text = "b"
	assert.Equal(t, "a", it.Content[0].Text)
}

func TestErrorDetailError(t *testing.T) {
	assert.Equal(t, "invalid_request_error (bad_param): nope",
		ErrorDetail{Type: "invalid_request_error", Code: "bad_param", Message: "nope"}.Error())
	assert.Equal(t, "server_error: boom", ErrorDetail{Type: "server_error", Message: "boom"}.Error())
}
