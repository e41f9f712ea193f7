// Package transport carries realtime protocol events between a session and
// the remote model.
//
// Transport owns socket-level concerns (dial, retry, heartbeat, framing,
// close handshake) and hands the session fully parsed protocol events. It
// never interprets event semantics.
package transport

import (
	"context"
	"errors"

	"github.com/AltairaLabs/realtime-voice/protocol"
)

// Errors returned by transports.
var (
	// ErrNotConnected is returned by Send before Connect succeeds or after the
	// stream has ended.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned when the transport has been closed locally.
	ErrClosed = errors.New("transport: closed")
)

// Transport is a bidirectional realtime event stream.
//
// Events delivers inbound events in the order they were received. The
// channel is closed when the stream ends, whether the remote closed it, the
// connection failed or Close was called. Err reports the terminal error once
// the channel is closed; nil means a graceful close.
type Transport interface {
	// Connect opens the stream. It must be called once before Send.
	Connect(ctx context.Context) error

	// Events returns the inbound event stream. The same channel is returned
	// on every call and it is not restartable.
	Events() <-chan protocol.ServerEvent

	// Send writes one client event. Sends are serialized in call order.
	Send(ctx context.Context, ev protocol.ClientEvent) error

	// OnDisconnect registers fn to be called at most once when the stream
	// ends. err is nil for a graceful close.
	OnDisconnect(fn func(err error))

	// Err returns the terminal stream error, if any.
	Err() error

	// Close shuts the stream down. It is safe to call more than once.
	Close() error
}
