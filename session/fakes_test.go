package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// fakeTransport is an in-memory transport.Transport.
type fakeTransport struct {
	events chan protocol.ServerEvent
	sent   chan protocol.ClientEvent

	mu           sync.Mutex
	connectErr   error
	sendErr      error
	sendErrFor   string
	closed       bool
	closeCalls   int
	err          error
	onDisconnect []func(error)
	endOnce      sync.Once
}

var _ transport.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan protocol.ServerEvent, 64),
		sent:   make(chan protocol.ClientEvent, 256),
	}
}

func (f *fakeTransport) Connect(context.Context) error { return f.connectErr }

func (f *fakeTransport) Events() <-chan protocol.ServerEvent { return f.events }

func (f *fakeTransport) Send(_ context.Context, ev protocol.ClientEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.sendErr != nil && (f.sendErrFor == "" || f.sendErrFor == ev.EventType()) {
		return f.sendErr
	}
	f.sent <- ev
	return nil
}

func (f *fakeTransport) OnDisconnect(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = append(f.onDisconnect, fn)
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closeCalls++
	f.mu.Unlock()
	f.end(nil)
	return nil
}

func (f *fakeTransport) emit(ev protocol.ServerEvent) {
	f.events <- ev
}

// end closes the stream the way a transport does when the peer goes away.
func (f *fakeTransport) end(err error) {
	f.endOnce.Do(func() {
		f.mu.Lock()
		f.err = err
		fns := f.onDisconnect
		f.mu.Unlock()
		close(f.events)
		for _, fn := range fns {
			fn(err)
		}
	})
}

// dropConnection fires the disconnect callbacks without ending the event
// stream, as a transport does when it notices the loss before its reader.
func (f *fakeTransport) dropConnection(err error) {
	f.mu.Lock()
	f.err = err
	fns := f.onDisconnect
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// nextSent waits for the next event the session sent.
func (f *fakeTransport) nextSent(t *testing.T) protocol.ClientEvent {
	t.Helper()
	select {
	case ev := <-f.sent:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a sent event")
		return nil
	}
}

// nextSentOfType skips events of other types, such as captured audio.
func (f *fakeTransport) nextSentOfType(t *testing.T, eventType string) protocol.ClientEvent {
	t.Helper()
	for {
		ev := f.nextSent(t)
		if ev.EventType() == eventType {
			return ev
		}
	}
}

func (f *fakeTransport) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-f.sent:
		t.Fatalf("unexpected event sent: %s", ev.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeOutput struct {
	format audio.Format

	mu      sync.Mutex
	written int
	gate    chan struct{}
	flushCh chan struct{}
	starts  int
	stops   int
	stopErr error
}

func newFakeOutput(f audio.Format) *fakeOutput {
	return &fakeOutput{format: f, flushCh: make(chan struct{})}
}

// holdPlayback makes Write block until flushed, keeping audio "playing".
func (f *fakeOutput) holdPlayback() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *fakeOutput) Format() audio.Format { return f.format }

func (f *fakeOutput) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeOutput) Write(ctx context.Context, _ audio.Buffer) error {
	f.mu.Lock()
	gate, flushCh := f.gate, f.flushCh
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-flushCh:
			return audio.ErrFlushed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written++
	return nil
}

func (f *fakeOutput) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.flushCh)
	f.flushCh = make(chan struct{})
}

func (f *fakeOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeOutput) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type fakeCapture struct {
	format audio.Format

	mu       sync.Mutex
	onBuffer func(audio.Buffer)
	starts   int
	stops    int
	startErr error
}

func (f *fakeCapture) Format() audio.Format { return f.format }

func (f *fakeCapture) Start(_ int, onBuffer func(audio.Buffer)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.onBuffer = onBuffer
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onBuffer = nil
	return nil
}

func (f *fakeCapture) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func (f *fakeCapture) emit(buf audio.Buffer) bool {
	f.mu.Lock()
	fn := f.onBuffer
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(buf)
	return true
}

// pcm16 returns frames of mono PCM16 at a constant sample value.
func pcm16(frames int, value int16) []byte {
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		//nolint:gosec // test samples are in int16 range
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

func header(eventType string) protocol.ServerHeader {
	return protocol.ServerHeader{Type: eventType}
}

func sessionCreated(id, voice string) *protocol.SessionCreatedEvent {
	return &protocol.SessionCreatedEvent{
		ServerHeader: header(protocol.TypeSessionCreated),
		Session:      protocol.Session{ID: id, Object: "realtime.session", Voice: voice, ExpiresAt: 42},
	}
}

func conversationCreated(id string) *protocol.ConversationCreatedEvent {
	return &protocol.ConversationCreatedEvent{
		ServerHeader: header(protocol.TypeConversationCreated),
		Conversation: protocol.Conversation{ID: id},
	}
}

func itemCreated(id string) *protocol.ConversationItemCreatedEvent {
	return &protocol.ConversationItemCreatedEvent{
		ServerHeader: header(protocol.TypeConversationItemCreated),
		Item:         protocol.Item{ID: id, Type: protocol.ItemTypeMessage},
	}
}

func itemDeleted(id string) *protocol.ConversationItemDeletedEvent {
	return &protocol.ConversationItemDeletedEvent{
		ServerHeader: header(protocol.TypeConversationItemDeleted),
		ItemID:       id,
	}
}

func audioDelta(itemID string, pcm []byte) *protocol.ResponseDeltaEvent {
	return &protocol.ResponseDeltaEvent{
		ServerHeader: header(protocol.TypeResponseAudioDelta),
		ItemID:       itemID,
		Delta:        base64.StdEncoding.EncodeToString(pcm),
	}
}

func speechStarted() *protocol.SpeechStartedEvent {
	return &protocol.SpeechStartedEvent{ServerHeader: header(protocol.TypeInputAudioBufferSpeechStarted)}
}

// newTestSession starts a session on a fake transport and closes it when
// the test ends.
func newTestSession(t *testing.T, cfg Config) (*Session, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	s, err := New(context.Background(), tr, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, tr
}

// connect makes the fake server announce a session and waits for it.
func connect(t *testing.T, s *Session, tr *fakeTransport) {
	t.Helper()
	tr.emit(sessionCreated("sess_1", "alloy"))
	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
