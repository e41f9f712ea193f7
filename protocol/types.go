// Package protocol defines the OpenAI Realtime wire format: the session
// and conversation item data model plus typed client and server events.
package protocol

import (
	"encoding/json"
	"slices"
)

// Role identifies who authored a message item.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Content part types.
const (
	ContentInputText  = "input_text"
	ContentInputAudio = "input_audio"
	ContentText       = "text"
	ContentAudio      = "audio"
)

// Audio formats understood by the service.
const (
	AudioFormatPCM16    = "pcm16"
	AudioFormatG711ULaw = "g711_ulaw"
	AudioFormatG711ALaw = "g711_alaw"
)

// DefaultSampleRate is the sample rate of pcm16 audio on the wire.
const DefaultSampleRate = 24000

// Session is the server-side configuration of a realtime session. It is
// received in session.created/session.updated and sent back, without its
// server-assigned identity, in session.update.
//
// TurnDetection deliberately has no omitempty: a nil value is sent as
// null, which disables server VAD.
type Session struct {
	ID                      string               `json:"id,omitempty"`
	Object                  string               `json:"object,omitempty"`
	Model                   string               `json:"model,omitempty"`
	ExpiresAt               int64                `json:"expires_at,omitempty"`
	Modalities              []string             `json:"modalities,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection"`
	Tools                   []Tool               `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
	Temperature             float64              `json:"temperature,omitempty"`
	MaxResponseOutputTokens any                  `json:"max_response_output_tokens,omitempty"`
}

// TranscriptionConfig enables transcription of user audio.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Modalities = slices.Clone(s.Modalities)
	if s.InputAudioTranscription != nil {
		t := *s.InputAudioTranscription
		c.InputAudioTranscription = &t
	}
	if s.TurnDetection != nil {
		td := *s.TurnDetection
		if td.CreateResponse != nil {
			v := *td.CreateResponse
			td.CreateResponse = &v
		}
		c.TurnDetection = &td
	}
	if s.Tools != nil {
		c.Tools = make([]Tool, len(s.Tools))
		for i, tool := range s.Tools {
			tool.Parameters = slices.Clone(tool.Parameters)
			c.Tools[i] = tool
		}
	}
	return &c
}

// Item is an entry in the conversation log. Type selects which fields are
// meaningful: messages carry Role and Content, function calls carry Name,
// CallID and Arguments, and function call outputs carry CallID and Output.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      Role          `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ContentPart is one piece of message content.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Clone returns a copy of it that shares no content storage.
func (it Item) Clone() Item {
	it.Content = slices.Clone(it.Content)
	return it
}

// Message builds a text message item for role. User and system messages use
// input_text content; assistant messages use text content.
func Message(role Role, text string) Item {
	partType := ContentInputText
	if role == RoleAssistant {
		partType = ContentText
	}
	return Item{
		Type:    ItemTypeMessage,
		Role:    role,
		Content: []ContentPart{{Type: partType, Text: text}},
	}
}

// FunctionCallOutput builds an item carrying the result of a function call.
func FunctionCallOutput(callID, output string) Item {
	return Item{
		Type:   ItemTypeFunctionCallOutput,
		CallID: callID,
		Output: output,
	}
}

// ResponseConfig overrides session defaults for a single response.
type ResponseConfig struct {
	Modalities        []string `json:"modalities,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	OutputAudioFormat string   `json:"output_audio_format,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	ToolChoice        string   `json:"tool_choice,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	MaxOutputTokens   any      `json:"max_output_tokens,omitempty"`
}

// ErrorDetail describes a server-reported error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Error implements error so details can be wrapped when convenient.
func (e ErrorDetail) Error() string {
	if e.Code != "" {
		return e.Type + " (" + e.Code + "): " + e.Message
	}
	return e.Type + ": " + e.Message
}
