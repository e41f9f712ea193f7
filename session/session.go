// Package session is the realtime conversation engine. A Session owns a
// transport connection, mirrors the server's conversation state and, while
// voice handling is active, streams microphone audio out and plays model
// audio back with barge-in.
//
// All conversation state is owned by a single actor goroutine. Public
// methods reach it by message passing, so they are safe to call from any
// goroutine, including a UI thread.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AltairaLabs/realtime-voice/conversation"
	"github.com/AltairaLabs/realtime-voice/events"
	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/statestore"
	"github.com/AltairaLabs/realtime-voice/telemetry"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// Change names the parts of session state an update touched.
type Change = conversation.Change

// Session is a live realtime conversation. Create one with New or Dial and
// release it with Close. A Session is not reusable after its stream ends.
type Session struct {
	cfg       Config
	transport transport.Transport
	tracer    trace.Tracer
	baseCtx   context.Context
	created   time.Time

	// Owned by the actor goroutine.
	machine     *conversation.Machine
	voice       *voice
	logCtx      context.Context
	streamEnded bool

	cmds      chan func()
	bargeIn   chan string
	speech    chan bool
	outbound  chan protocol.ClientEvent
	persistCh chan *statestore.ConversationState

	errors  *events.Broadcaster[protocol.ErrorDetail]
	updates *events.Broadcaster[Change]

	ready     chan struct{}
	readyOnce sync.Once

	ended  atomic.Bool
	closed atomic.Bool

	ctx            context.Context
	cancel         context.CancelFunc
	consumerCancel context.CancelFunc
	actorDone      chan struct{}
	group          errgroup.Group
	closeOnce      sync.Once
	closeErr       error
}

// New connects tr and starts the session. ctx bounds the connect only; the
// session lives until Close.
func New(ctx context.Context, tr transport.Transport, cfg Config) (*Session, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		cfg:       cfg,
		transport: tr,
		tracer:    telemetry.Tracer(cfg.TracerProvider),
		baseCtx:   logger.WithComponent(context.WithoutCancel(ctx), "session"),
		created:   time.Now(),
		machine:   conversation.NewMachine(),
		cmds:      make(chan func()),
		bargeIn:   make(chan string, 1),
		speech:    make(chan bool, 1),
		outbound:  make(chan protocol.ClientEvent, cfg.OutboundQueueSize),
		persistCh: make(chan *statestore.ConversationState, 1),
		errors:    events.NewBroadcaster[protocol.ErrorDetail](),
		updates:   events.NewBroadcaster[Change](),
		ready:     make(chan struct{}),
		actorDone: make(chan struct{}),
	}

	spanCtx, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanConnect)
	err := tr.Connect(spanCtx)
	telemetry.End(span, err)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s.logCtx = s.baseCtx
	s.ctx, s.cancel = context.WithCancel(s.baseCtx)
	consumerCtx, consumerCancel := context.WithCancel(s.ctx)
	s.consumerCancel = consumerCancel

	s.group.Go(func() error { s.run(); return nil })
	s.group.Go(func() error { s.consume(consumerCtx); return nil })
	s.group.Go(func() error { s.sendOutbound(); return nil })
	s.group.Go(func() error { s.persistLoop(); return nil })

	// The callback may run before the last events are consumed, so sends
	// fail fast and connected drops without waiting for the stream to drain.
	tr.OnDisconnect(func(error) {
		s.ended.Store(true)
		s.post(s.ctx, s.streamEndedLocked)
	})

	return s, nil
}

// Dial opens a WebSocket transport with wsCfg and starts a session on it.
func Dial(ctx context.Context, wsCfg transport.Config, cfg Config) (*Session, error) {
	return New(ctx, transport.NewWebSocket(wsCfg), cfg)
}

// run is the actor loop. It is the only goroutine that touches machine and voice.
func (s *Session) run() {
	defer close(s.actorDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case reason := <-s.bargeIn:
			s.bargeInLocked(reason)
		case speaking := <-s.speech:
			s.userSpeechLocked(speaking)
		}
	}
}

// do runs fn on the actor and waits for it. Once the actor has exited the
// state is quiescent and fn runs on the caller.
func (s *Session) do(fn func()) {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
		<-done
	case <-s.actorDone:
		fn()
	}
}

// post hands fn to the actor without waiting for it to run.
func (s *Session) post(ctx context.Context, fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-s.actorDone:
		return false
	}
}

// consume forwards inbound events to the actor in arrival order.
func (s *Session) consume(ctx context.Context) {
	in := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				s.post(ctx, s.streamEndedLocked)
				return
			}
			if !s.post(ctx, func() { s.applyLocked(ev) }) {
				return
			}
		}
	}
}

func (s *Session) applyLocked(ev protocol.ServerEvent) {
	d := s.machine.Apply(ev)
	if s.streamEnded && s.machine.Connected() {
		// session.created read before a disconnect that was handled first.
		s.machine.SetConnected(false)
		d.Changes &^= conversation.ChangeConnected
	}

	if d.Err != nil {
		prometheus.RecordServerError(d.Err.Type)
		logger.WarnContext(s.logCtx, "realtime server error",
			"type", d.Err.Type, "code", d.Err.Code, "message", d.Err.Message)
		s.errors.Publish(*d.Err)
	}

	if created, ok := ev.(*protocol.SessionCreatedEvent); ok && !s.streamEnded {
		s.readyOnce.Do(func() {
			prometheus.RecordConnect(time.Since(s.created))
			prometheus.SessionConnected(true)
			s.logCtx = logger.WithSessionID(s.logCtx, created.Session.ID)
			logger.InfoContext(s.logCtx, "realtime session created",
				"model", created.Session.Model, "voice", created.Session.Voice)
			close(s.ready)
		})
	}
	if d.Changes.Has(conversation.ChangeConversation) {
		s.logCtx = logger.WithConversationID(s.logCtx, s.machine.ConversationID())
	}

	if d.Audio != nil {
		s.playLocked(d.Audio)
	}
	if d.SpeechStarted {
		s.bargeInLocked(prometheus.ReasonUserSpeech)
	}

	if d.Changes&(conversation.ChangeItems|conversation.ChangeConversation|conversation.ChangeSession) != 0 {
		s.persistLocked()
	}
	if d.Changes != 0 {
		s.updates.Publish(d.Changes)
	}
}

// streamEndedLocked runs once per session, from whichever of the event
// stream or the disconnect callback reports the end first.
func (s *Session) streamEndedLocked() {
	s.ended.Store(true)
	if s.streamEnded {
		return
	}
	s.streamEnded = true
	wasConnected := s.machine.Connected()
	d := s.machine.SetConnected(false)
	if wasConnected {
		prometheus.SessionConnected(false)
	}
	if err := s.transport.Err(); err != nil {
		logger.WarnContext(s.logCtx, "realtime session disconnected", "error", err)
	} else {
		logger.InfoContext(s.logCtx, "realtime session disconnected")
	}
	if d.Changes != 0 {
		s.updates.Publish(d.Changes)
	}
}

// Ready is closed once the server has sent session.created.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// WaitForConnection blocks until the session is connected, polling at
// ConnectionPollInterval. It fails with ErrNotConnected if the stream ends
// first, and with ctx's error if ctx is done first.
func (s *Session) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ConnectionPollInterval)
	defer ticker.Stop()

	for {
		if s.Connected() {
			return nil
		}
		if s.ended.Load() {
			return ErrNotConnected
		}
		if s.closed.Load() {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ID returns the conversation id, empty until conversation.created.
func (s *Session) ID() string {
	var id string
	s.do(func() { id = s.machine.ConversationID() })
	return id
}

// Session returns a copy of the server-confirmed session, or nil before
// session.created.
func (s *Session) Session() *protocol.Session {
	var sess *protocol.Session
	s.do(func() { sess = s.machine.Session() })
	return sess
}

// Entries returns a snapshot of the item log in server order.
func (s *Session) Entries() []protocol.Item {
	var items []protocol.Item
	s.do(func() { items = s.machine.Items() })
	return items
}

// Snapshot returns the whole conversation state at once.
func (s *Session) Snapshot() conversation.State {
	var st conversation.State
	s.do(func() { st = s.machine.Snapshot() })
	return st
}

// Connected reports whether session.created has been seen and the stream
// has not ended.
func (s *Session) Connected() bool {
	var connected bool
	s.do(func() { connected = s.machine.Connected() })
	return connected
}

// IsUserSpeaking reports whether server or local VAD last saw the user
// speaking.
func (s *Session) IsUserSpeaking() bool {
	var speaking bool
	s.do(func() { speaking = s.machine.UserSpeaking() })
	return speaking
}

// SubscribeErrors returns a channel of server-reported errors and a
// function to unsubscribe. The channel is closed by Close.
func (s *Session) SubscribeErrors() (<-chan protocol.ErrorDetail, func()) {
	return s.errors.Subscribe(events.DefaultBuffer)
}

// SubscribeUpdates returns a channel of state change notifications and a
// function to unsubscribe. The channel is closed by Close.
func (s *Session) SubscribeUpdates() (<-chan Change, func()) {
	return s.updates.Subscribe(events.DefaultBuffer)
}

// Close tears the session down: it stops consuming inbound events, stops
// voice handling and waits for the audio devices to stop, closes the
// subscription channels and finally closes the transport. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.consumerCancel()

		var voiceErr error
		s.do(func() { voiceErr = s.stopVoiceLocked() })

		s.errors.Close()
		s.updates.Close()

		s.cancel()
		<-s.actorDone
		close(s.outbound)
		close(s.persistCh)

		transportErr := s.transport.Close()
		_ = s.group.Wait()

		if s.machine.Connected() {
			s.machine.SetConnected(false)
			prometheus.SessionConnected(false)
		}
		s.closeErr = errors.Join(voiceErr, transportErr)
		logger.InfoContext(s.logCtx, "realtime session closed")
	})
	return s.closeErr
}
