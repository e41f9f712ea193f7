package protocol

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
)

// Client event types.
const (
	TypeSessionUpdate            = "session.update"
	TypeInputAudioBufferAppend   = "input_audio_buffer.append"
	TypeInputAudioBufferCommit   = "input_audio_buffer.commit"
	TypeInputAudioBufferClear    = "input_audio_buffer.clear"
	TypeConversationItemCreate   = "conversation.item.create"
	TypeConversationItemTruncate = "conversation.item.truncate"
	TypeConversationItemDelete   = "conversation.item.delete"
	TypeResponseCreate           = "response.create"
	TypeResponseCancel           = "response.cancel"
)

// ClientEvent is any event the client sends to the server.
type ClientEvent interface {
	EventType() string
	ID() string
}

// ClientHeader is embedded in every client event.
type ClientHeader struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

// EventType returns the wire type of the event.
func (h ClientHeader) EventType() string { return h.Type }

// ID returns the client-assigned event id.
func (h ClientHeader) ID() string { return h.EventID }

func header(eventType string) ClientHeader {
	return ClientHeader{EventID: NewEventID(), Type: eventType}
}

// NewEventID returns a unique client event id.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// MarshalEvent encodes a client event for the wire.
func MarshalEvent(ev ClientEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// SessionUpdateEvent updates session configuration.
type SessionUpdateEvent struct {
	ClientHeader
	Session Session `json:"session"`
}

// NewSessionUpdate builds a session.update for s.
func NewSessionUpdate(s Session) *SessionUpdateEvent {
	return &SessionUpdateEvent{ClientHeader: header(TypeSessionUpdate), Session: s}
}

// InputAudioBufferAppendEvent appends audio to the input buffer.
type InputAudioBufferAppendEvent struct {
	ClientHeader
	Audio string `json:"audio"`
}

// NewInputAudioAppend base64-encodes pcm into an input_audio_buffer.append.
func NewInputAudioAppend(pcm []byte) *InputAudioBufferAppendEvent {
	return &InputAudioBufferAppendEvent{
		ClientHeader: header(TypeInputAudioBufferAppend),
		Audio:        base64.StdEncoding.EncodeToString(pcm),
	}
}

// InputAudioBufferCommitEvent commits the audio buffer as a user item.
type InputAudioBufferCommitEvent struct {
	ClientHeader
}

// NewInputAudioCommit builds an input_audio_buffer.commit.
func NewInputAudioCommit() *InputAudioBufferCommitEvent {
	return &InputAudioBufferCommitEvent{ClientHeader: header(TypeInputAudioBufferCommit)}
}

// InputAudioBufferClearEvent discards uncommitted input audio.
type InputAudioBufferClearEvent struct {
	ClientHeader
}

// NewInputAudioClear builds an input_audio_buffer.clear.
func NewInputAudioClear() *InputAudioBufferClearEvent {
	return &InputAudioBufferClearEvent{ClientHeader: header(TypeInputAudioBufferClear)}
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	ClientHeader
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// NewItemCreate builds a conversation.item.create appending item.
func NewItemCreate(item Item) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{ClientHeader: header(TypeConversationItemCreate), Item: item}
}

// ConversationItemTruncateEvent trims an assistant audio item to what the
// user actually heard.
type ConversationItemTruncateEvent struct {
	ClientHeader
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// NewItemTruncate builds a conversation.item.truncate.
func NewItemTruncate(itemID string, contentIndex, audioEndMs int) *ConversationItemTruncateEvent {
	return &ConversationItemTruncateEvent{
		ClientHeader: header(TypeConversationItemTruncate),
		ItemID:       itemID,
		ContentIndex: contentIndex,
		AudioEndMs:   audioEndMs,
	}
}

// ConversationItemDeleteEvent removes an item from the conversation.
type ConversationItemDeleteEvent struct {
	ClientHeader
	ItemID string `json:"item_id"`
}

// NewItemDelete builds a conversation.item.delete.
func NewItemDelete(itemID string) *ConversationItemDeleteEvent {
	return &ConversationItemDeleteEvent{ClientHeader: header(TypeConversationItemDelete), ItemID: itemID}
}

// ResponseCreateEvent asks the model to respond.
type ResponseCreateEvent struct {
	ClientHeader
	Response *ResponseConfig `json:"response,omitempty"`
}

// NewResponseCreate builds a response.create; cfg may be nil.
func NewResponseCreate(cfg *ResponseConfig) *ResponseCreateEvent {
	return &ResponseCreateEvent{ClientHeader: header(TypeResponseCreate), Response: cfg}
}

// ResponseCancelEvent cancels an in-progress response.
type ResponseCancelEvent struct {
	ClientHeader
}

// NewResponseCancel builds a response.cancel.
func NewResponseCancel() *ResponseCancelEvent {
	return &ResponseCancelEvent{ClientHeader: header(TypeResponseCancel)}
}
