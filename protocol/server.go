package protocol

import (
	"encoding/json"
	"fmt"
)

// Server event types.
const (
	TypeError                         = "error"
	TypeSessionCreated                = "session.created"
	TypeSessionUpdated                = "session.updated"
	TypeConversationCreated           = "conversation.created"
	TypeConversationItemCreated       = "conversation.item.created"
	TypeConversationItemDeleted       = "conversation.item.deleted"
	TypeConversationItemTruncated     = "conversation.item.truncated"
	TypeInputTranscriptionCompleted   = "conversation.item.input_audio_transcription.completed"
	TypeInputTranscriptionFailed      = "conversation.item.input_audio_transcription.failed"
	TypeInputAudioBufferCommitted     = "input_audio_buffer.committed"
	TypeInputAudioBufferCleared       = "input_audio_buffer.cleared"
	TypeInputAudioBufferSpeechStarted = "input_audio_buffer.speech_started"
	TypeInputAudioBufferSpeechStopped = "input_audio_buffer.speech_stopped"
	TypeResponseCreated               = "response.created"
	TypeResponseDone                  = "response.done"
	TypeResponseOutputItemAdded       = "response.output_item.added"
	TypeResponseOutputItemDone        = "response.output_item.done"
	TypeResponseContentPartAdded      = "response.content_part.added"
	TypeResponseContentPartDone       = "response.content_part.done"
	TypeResponseTextDelta             = "response.text.delta"
	TypeResponseTextDone              = "response.text.done"
	TypeResponseAudioDelta            = "response.audio.delta"
	TypeResponseAudioDone             = "response.audio.done"
	TypeResponseAudioTranscriptDelta  = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone   = "response.audio_transcript.done"
	TypeResponseFunctionCallArgsDelta = "response.function_call_arguments.delta"
	TypeResponseFunctionCallArgsDone  = "response.function_call_arguments.done"
	TypeRateLimitsUpdated             = "rate_limits.updated"
)

// ServerEvent is any event received from the server.
type ServerEvent interface {
	EventType() string
}

// ServerHeader is embedded in every server event.
type ServerHeader struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

// EventType returns the wire type of the event.
func (h ServerHeader) EventType() string { return h.Type }

// UnknownEvent carries a server event of a type this package does not model.
type UnknownEvent struct {
	ServerHeader
	Raw json.RawMessage `json:"-"`
}

// ErrorEvent reports a protocol-level error.
type ErrorEvent struct {
	ServerHeader
	Error ErrorDetail `json:"error"`
}

// SessionCreatedEvent is the first event of every connection.
type SessionCreatedEvent struct {
	ServerHeader
	Session Session `json:"session"`
}

// SessionUpdatedEvent confirms a session.update.
type SessionUpdatedEvent struct {
	ServerHeader
	Session Session `json:"session"`
}

// Conversation identifies the server-side conversation.
type Conversation struct {
	ID     string `json:"id"`
	Object string `json:"object,omitempty"`
}

// ConversationCreatedEvent announces the conversation.
type ConversationCreatedEvent struct {
	ServerHeader
	Conversation Conversation `json:"conversation"`
}

// ConversationItemCreatedEvent confirms an item was added.
type ConversationItemCreatedEvent struct {
	ServerHeader
	PreviousItemID string `json:"previous_item_id"`
	Item           Item   `json:"item"`
}

// ConversationItemDeletedEvent confirms an item was removed.
type ConversationItemDeletedEvent struct {
	ServerHeader
	ItemID string `json:"item_id"`
}

// ConversationItemTruncatedEvent confirms an assistant audio item was truncated.
type ConversationItemTruncatedEvent struct {
	ServerHeader
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// InputTranscriptionCompletedEvent provides the transcript of user audio.
type InputTranscriptionCompletedEvent struct {
	ServerHeader
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// InputTranscriptionFailedEvent reports that user audio could not be transcribed.
type InputTranscriptionFailedEvent struct {
	ServerHeader
	ItemID       string      `json:"item_id"`
	ContentIndex int         `json:"content_index"`
	Error        ErrorDetail `json:"error"`
}

// InputAudioBufferCommittedEvent confirms the input buffer was committed.
type InputAudioBufferCommittedEvent struct {
	ServerHeader
	PreviousItemID string `json:"previous_item_id"`
	ItemID         string `json:"item_id"`
}

// InputAudioBufferClearedEvent confirms the input buffer was cleared.
type InputAudioBufferClearedEvent struct {
	ServerHeader
}

// SpeechStartedEvent is sent when server VAD detects user speech.
type SpeechStartedEvent struct {
	ServerHeader
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// SpeechStoppedEvent is sent when server VAD detects the end of user speech.
type SpeechStoppedEvent struct {
	ServerHeader
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// Response describes a model response.
type Response struct {
	ID            string          `json:"id"`
	Object        string          `json:"object,omitempty"`
	Status        string          `json:"status"`
	StatusDetails json.RawMessage `json:"status_details,omitempty"`
	Output        []Item          `json:"output,omitempty"`
	Usage         *Usage          `json:"usage,omitempty"`
}

// Usage reports token usage for a response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ResponseCreatedEvent indicates a response is starting.
type ResponseCreatedEvent struct {
	ServerHeader
	Response Response `json:"response"`
}

// ResponseDoneEvent indicates a response finished.
type ResponseDoneEvent struct {
	ServerHeader
	Response Response `json:"response"`
}

// ResponseOutputItemEvent is used for response.output_item.added and .done.
type ResponseOutputItemEvent struct {
	ServerHeader
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

// ResponseContentPartEvent is used for response.content_part.added and .done.
type ResponseContentPartEvent struct {
	ServerHeader
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

// ResponseDeltaEvent carries an incremental chunk of text, transcript or
// base64 audio. Delta holds the chunk; the Done variants set Text or
// Transcript instead.
type ResponseDeltaEvent struct {
	ServerHeader
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta,omitempty"`
	Text         string `json:"text,omitempty"`
	Transcript   string `json:"transcript,omitempty"`
}

// FunctionCallArgumentsEvent is used for response.function_call_arguments.delta and .done.
type FunctionCallArgumentsEvent struct {
	ServerHeader
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Name        string `json:"name,omitempty"`
	Delta       string `json:"delta,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
}

// RateLimitsUpdatedEvent provides rate limit information.
type RateLimitsUpdatedEvent struct {
	ServerHeader
	RateLimits []RateLimit `json:"rate_limits"`
}

// RateLimit contains rate limit details.
type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

// ParseServerEvent decodes a raw message into its typed event. Messages
// with an unrecognised type decode to *UnknownEvent rather than failing,
// so new server events never break the stream.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var base ServerHeader
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode server event: %w", err)
	}
	if base.Type == "" {
		return nil, fmt.Errorf("decode server event: missing type")
	}

	var ev ServerEvent
	switch base.Type {
	case TypeError:
		ev = &ErrorEvent{}
	case TypeSessionCreated:
		ev = &SessionCreatedEvent{}
	case TypeSessionUpdated:
		ev = &SessionUpdatedEvent{}
	case TypeConversationCreated:
		ev = &ConversationCreatedEvent{}
	case TypeConversationItemCreated:
		ev = &ConversationItemCreatedEvent{}
	case TypeConversationItemDeleted:
		ev = &ConversationItemDeletedEvent{}
	case TypeConversationItemTruncated:
		ev = &ConversationItemTruncatedEvent{}
	case TypeInputTranscriptionCompleted:
		ev = &InputTranscriptionCompletedEvent{}
	case TypeInputTranscriptionFailed:
		ev = &InputTranscriptionFailedEvent{}
	case TypeInputAudioBufferCommitted:
		ev = &InputAudioBufferCommittedEvent{}
	case TypeInputAudioBufferCleared:
		ev = &InputAudioBufferClearedEvent{}
	case TypeInputAudioBufferSpeechStarted:
		ev = &SpeechStartedEvent{}
	case TypeInputAudioBufferSpeechStopped:
		ev = &SpeechStoppedEvent{}
	case TypeResponseCreated:
		ev = &ResponseCreatedEvent{}
	case TypeResponseDone:
		ev = &ResponseDoneEvent{}
	case TypeResponseOutputItemAdded, TypeResponseOutputItemDone:
		ev = &ResponseOutputItemEvent{}
	case TypeResponseContentPartAdded, TypeResponseContentPartDone:
		ev = &ResponseContentPartEvent{}
	case TypeResponseTextDelta, TypeResponseTextDone,
		TypeResponseAudioDelta, TypeResponseAudioDone,
		TypeResponseAudioTranscriptDelta, TypeResponseAudioTranscriptDone:
		ev = &ResponseDeltaEvent{}
	case TypeResponseFunctionCallArgsDelta, TypeResponseFunctionCallArgsDone:
		ev = &FunctionCallArgumentsEvent{}
	case TypeRateLimitsUpdated:
		ev = &RateLimitsUpdatedEvent{}
	default:
		return &UnknownEvent{ServerHeader: base, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", base.Type, err)
	}
	return ev, nil
}
