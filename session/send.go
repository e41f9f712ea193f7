package session

import (
	"context"
	"errors"
	"time"

	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
	"github.com/AltairaLabs/realtime-voice/protocol"
	"github.com/AltairaLabs/realtime-voice/telemetry"
	"github.com/AltairaLabs/realtime-voice/transport"
)

// engineSendTimeout bounds each event the session sends on its own behalf.
const engineSendTimeout = 5 * time.Second

// Send forwards ev to the server. Transport errors are returned unchanged;
// once the stream has ended Send fails fast with ErrNotConnected.
func (s *Session) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.ended.Load() {
		return ErrNotConnected
	}
	err := s.transport.Send(ctx, ev)
	if errors.Is(err, transport.ErrNotConnected) {
		return ErrNotConnected
	}
	return err
}

// SendAudio appends pcm, in the wire format, to the server's input audio
// buffer. With commit set it then commits the buffer, but only if the
// append succeeded.
func (s *Session) SendAudio(ctx context.Context, pcm []byte, commit bool) error {
	if err := s.Send(ctx, protocol.NewInputAudioAppend(pcm)); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	return s.Send(ctx, protocol.NewInputAudioCommit())
}

// SendText adds a text message from role and asks for a response. When
// voice handling is active any playing audio is interrupted first, so new
// input always preempts the model.
func (s *Session) SendText(ctx context.Context, role protocol.Role, text string, cfg *protocol.ResponseConfig) (err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanSendText, telemetry.AttrRole.String(string(role)))
	defer func() { telemetry.End(span, err) }()

	if s.HandlingVoice() {
		if err := s.interrupt(ctx, prometheus.ReasonTextInput); err != nil {
			return err
		}
	}
	if err := s.Send(ctx, protocol.NewItemCreate(protocol.Message(role, text))); err != nil {
		return err
	}
	return s.Send(ctx, protocol.NewResponseCreate(cfg))
}

// SendFunctionOutput returns the result of a function call to the model.
// No response is requested; callers that want one send response.create.
func (s *Session) SendFunctionOutput(ctx context.Context, callID, output string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanSendFunction)
	defer func() { telemetry.End(span, err) }()

	return s.Send(ctx, protocol.NewItemCreate(protocol.FunctionCallOutput(callID, output)))
}

// UpdateSession applies mutate to a copy of the current session and sends
// it as session.update. Server-assigned identity is stripped before
// sending. It fails with ErrSessionNotFound before session.created.
func (s *Session) UpdateSession(ctx context.Context, mutate func(*protocol.Session)) (err error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, telemetry.SpanUpdateSession)
	defer func() { telemetry.End(span, err) }()

	if s.closed.Load() {
		return ErrClosed
	}
	current := s.Session()
	if current == nil {
		return ErrSessionNotFound
	}
	if mutate != nil {
		mutate(current)
	}
	current.ID = ""
	current.Object = ""
	current.ExpiresAt = 0
	return s.Send(ctx, protocol.NewSessionUpdate(*current))
}

// enqueueOutbound queues an event the session sends on its own behalf. It
// never blocks; when the queue is full the event is dropped.
func (s *Session) enqueueOutbound(ev protocol.ClientEvent) {
	select {
	case s.outbound <- ev:
	default:
		logger.WarnContext(s.logCtx, "dropping engine event: outbound queue full", "type", ev.EventType())
	}
}

func (s *Session) sendOutbound() {
	for ev := range s.outbound {
		ctx, cancel := context.WithTimeout(s.baseCtx, engineSendTimeout)
		if err := s.Send(ctx, ev); err != nil && !errors.Is(err, ErrClosed) {
			logger.WarnContext(s.baseCtx, "engine event send failed", "type", ev.EventType(), "error", err)
		}
		cancel()
	}
}
