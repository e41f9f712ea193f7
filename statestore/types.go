package statestore

import (
	"time"

	"github.com/AltairaLabs/realtime-voice/protocol"
)

// defaultTTLHours is the default TTL for stored conversations (24 hours).
const defaultTTLHours = 24

// ConversationState is a persisted snapshot of one conversation.
type ConversationState struct {
	ID        string            `json:"id"`                   // Server-assigned conversation ID
	SessionID string            `json:"session_id,omitempty"` // Session that produced the snapshot
	Session   *protocol.Session `json:"session,omitempty"`    // Last confirmed session config
	Items     []protocol.Item   `json:"items"`                // Item log in server order
	UpdatedAt time.Time         `json:"updated_at"`           // Time of the last save
	Metadata  map[string]string `json:"metadata,omitempty"`   // Caller-supplied labels
}

// Clone returns a deep copy of s.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Session = s.Session.Clone()
	if s.Items != nil {
		out.Items = make([]protocol.Item, len(s.Items))
		for i, it := range s.Items {
			out.Items[i] = it.Clone()
		}
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
