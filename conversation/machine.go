// Package conversation holds the client-side mirror of a realtime
// conversation and the transition function that keeps it in sync with
// server events.
package conversation

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"

	"github.com/AltairaLabs/realtime-voice/protocol"
)

// Change is a bit set naming which parts of State an event modified.
type Change uint32

// Change bits.
const (
	ChangeConnected Change = 1 << iota
	ChangeSession
	ChangeConversation
	ChangeItems
	ChangeUserSpeaking
	ChangePlaying
	ChangeVoice
)

var changeNames = []string{"connected", "session", "conversation", "items", "user_speaking", "playing", "voice"}

// Has reports whether c includes every bit of o.
func (c Change) Has(o Change) bool {
	return c&o == o && o != 0
}

// String lists the set bits, e.g. "connected|session".
func (c Change) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for i, name := range changeNames {
		if c&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// AudioChunk is decoded assistant audio destined for playback.
type AudioChunk struct {
	ItemID       string
	ContentIndex int
	Data         []byte
}

// Delta is the outcome of applying one event.
type Delta struct {
	Changes Change
	// Err is set for server-reported errors; it belongs on the error channel.
	Err *protocol.ErrorDetail
	// Audio is set for assistant audio deltas.
	Audio *AudioChunk
	// SpeechStarted is set when server VAD detected the user starting to speak.
	SpeechStarted bool
}

// State is a snapshot of the conversation.
type State struct {
	ConversationID string
	Session        *protocol.Session
	Items          []protocol.Item
	Connected      bool
	UserSpeaking   bool
}

// Machine applies server events to conversation state. It is owned by a
// single goroutine and is not safe for concurrent use.
type Machine struct {
	state State
	index map[string]int
}

// NewMachine returns a machine in the initial, disconnected state.
func NewMachine() *Machine {
	return &Machine{index: make(map[string]int)}
}

// Apply folds ev into the state. Events the machine does not model leave
// the state untouched and yield an empty Delta.
func (m *Machine) Apply(ev protocol.ServerEvent) Delta {
	switch e := ev.(type) {
	case *protocol.ErrorEvent:
		detail := e.Error
		return Delta{Err: &detail}

	case *protocol.SessionCreatedEvent:
		d := m.SetConnected(true)
		m.state.Session = (&e.Session).Clone()
		d.Changes |= ChangeSession
		return d

	case *protocol.SessionUpdatedEvent:
		m.state.Session = (&e.Session).Clone()
		return Delta{Changes: ChangeSession}

	case *protocol.ConversationCreatedEvent:
		if m.state.ConversationID != "" {
			return Delta{}
		}
		m.state.ConversationID = e.Conversation.ID
		return Delta{Changes: ChangeConversation}

	case *protocol.ConversationItemCreatedEvent:
		return m.appendItem(e.Item)

	case *protocol.ConversationItemDeletedEvent:
		return m.deleteItem(e.ItemID)

	case *protocol.ConversationItemTruncatedEvent:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) {
			p.Transcript = ""
		})

	case *protocol.InputTranscriptionCompletedEvent:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) {
			p.Transcript = e.Transcript
		})

	case *protocol.InputTranscriptionFailedEvent:
		detail := e.Error
		return Delta{Err: &detail}

	case *protocol.SpeechStartedEvent:
		d := m.SetUserSpeaking(true)
		d.SpeechStarted = true
		return d

	case *protocol.SpeechStoppedEvent:
		return m.SetUserSpeaking(false)

	case *protocol.ResponseOutputItemEvent:
		if e.EventType() != protocol.TypeResponseOutputItemDone {
			return Delta{}
		}
		return m.replaceItem(e.Item)

	case *protocol.ResponseContentPartEvent:
		if e.EventType() != protocol.TypeResponseContentPartAdded {
			return Delta{}
		}
		return m.addPart(e.ItemID, e.ContentIndex, e.Part)

	case *protocol.ResponseDeltaEvent:
		return m.applyResponseDelta(e)

	case *protocol.FunctionCallArgumentsEvent:
		return m.updateItem(e.ItemID, func(it *protocol.Item) {
			if e.EventType() == protocol.TypeResponseFunctionCallArgsDone {
				it.Arguments = e.Arguments
			} else {
				it.Arguments += e.Delta
			}
		})

	default:
		return Delta{}
	}
}

func (m *Machine) applyResponseDelta(e *protocol.ResponseDeltaEvent) Delta {
	switch e.EventType() {
	case protocol.TypeResponseAudioDelta:
		data, err := base64.StdEncoding.DecodeString(e.Delta)
		if err != nil {
			return Delta{Err: &protocol.ErrorDetail{
				Type:    "client_error",
				Code:    "invalid_audio",
				Message: fmt.Sprintf("undecodable audio delta for item %s: %v", e.ItemID, err),
				EventID: e.EventID,
			}}
		}
		return Delta{Audio: &AudioChunk{ItemID: e.ItemID, ContentIndex: e.ContentIndex, Data: data}}
	case protocol.TypeResponseAudioTranscriptDelta:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) { p.Transcript += e.Delta })
	case protocol.TypeResponseAudioTranscriptDone:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) { p.Transcript = e.Transcript })
	case protocol.TypeResponseTextDelta:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) { p.Text += e.Delta })
	case protocol.TypeResponseTextDone:
		return m.updatePart(e.ItemID, e.ContentIndex, func(p *protocol.ContentPart) { p.Text = e.Text })
	default:
		return Delta{}
	}
}

// SetConnected records the transport connection state.
func (m *Machine) SetConnected(connected bool) Delta {
	if m.state.Connected == connected {
		return Delta{}
	}
	m.state.Connected = connected
	return Delta{Changes: ChangeConnected}
}

// SetUserSpeaking records whether the user is speaking, as seen by local
// voice activity detection.
func (m *Machine) SetUserSpeaking(speaking bool) Delta {
	if m.state.UserSpeaking == speaking {
		return Delta{}
	}
	m.state.UserSpeaking = speaking
	return Delta{Changes: ChangeUserSpeaking}
}

func (m *Machine) appendItem(item protocol.Item) Delta {
	if item.ID != "" {
		if _, dup := m.index[item.ID]; dup {
			return Delta{}
		}
		m.index[item.ID] = len(m.state.Items)
	}
	m.state.Items = append(m.state.Items, item.Clone())
	return Delta{Changes: ChangeItems}
}

func (m *Machine) deleteItem(id string) Delta {
	pos, ok := m.index[id]
	if !ok {
		return Delta{}
	}
	m.state.Items = slices.Delete(m.state.Items, pos, pos+1)
	delete(m.index, id)
	for i := pos; i < len(m.state.Items); i++ {
		if itemID := m.state.Items[i].ID; itemID != "" {
			m.index[itemID] = i
		}
	}
	return Delta{Changes: ChangeItems}
}

func (m *Machine) replaceItem(item protocol.Item) Delta {
	pos, ok := m.index[item.ID]
	if !ok {
		return Delta{}
	}
	m.state.Items[pos] = item.Clone()
	return Delta{Changes: ChangeItems}
}

func (m *Machine) updateItem(id string, fn func(*protocol.Item)) Delta {
	pos, ok := m.index[id]
	if !ok {
		return Delta{}
	}
	fn(&m.state.Items[pos])
	return Delta{Changes: ChangeItems}
}

func (m *Machine) updatePart(id string, contentIndex int, fn func(*protocol.ContentPart)) Delta {
	pos, ok := m.index[id]
	if !ok {
		return Delta{}
	}
	content := m.state.Items[pos].Content
	if contentIndex < 0 || contentIndex >= len(content) {
		return Delta{}
	}
	fn(&content[contentIndex])
	return Delta{Changes: ChangeItems}
}

func (m *Machine) addPart(id string, contentIndex int, part protocol.ContentPart) Delta {
	return m.updateItem(id, func(it *protocol.Item) {
		if contentIndex == len(it.Content) {
			it.Content = append(it.Content, part)
		}
	})
}

// Connected reports whether the transport is up.
func (m *Machine) Connected() bool { return m.state.Connected }

// UserSpeaking reports whether server or local VAD last saw the user speaking.
func (m *Machine) UserSpeaking() bool { return m.state.UserSpeaking }

// ConversationID returns the conversation id, empty until conversation.created.
func (m *Machine) ConversationID() string { return m.state.ConversationID }

// Session returns a copy of the current session, or nil before session.created.
func (m *Machine) Session() *protocol.Session { return m.state.Session.Clone() }

// Items returns a copy of the item log, or nil when it is empty.
func (m *Machine) Items() []protocol.Item {
	if len(m.state.Items) == 0 {
		return nil
	}
	out := make([]protocol.Item, len(m.state.Items))
	for i, it := range m.state.Items {
		out[i] = it.Clone()
	}
	return out
}

// Item returns a copy of the item with the given id.
func (m *Machine) Item(id string) (protocol.Item, bool) {
	pos, ok := m.index[id]
	if !ok {
		return protocol.Item{}, false
	}
	return m.state.Items[pos].Clone(), true
}

// Snapshot returns a deep copy of the whole state.
func (m *Machine) Snapshot() State {
	return State{
		ConversationID: m.state.ConversationID,
		Session:        m.Session(),
		Items:          m.Items(),
		Connected:      m.state.Connected,
		UserSpeaking:   m.state.UserSpeaking,
	}
}
