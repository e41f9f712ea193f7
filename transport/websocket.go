package transport

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
	"github.com/AltairaLabs/realtime-voice/protocol"
)

// Default connection constants.
const (
	DefaultDialTimeout       = 10 * time.Second
	DefaultWriteWait         = 10 * time.Second
	DefaultMaxMessageSize    = 16 * 1024 * 1024 // 16MB
	DefaultMaxRetries        = 3
	DefaultRetryBackoffBase  = 1 * time.Second
	DefaultRetryBackoffMax   = 30 * time.Second
	DefaultCloseGracePeriod  = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultEventBuffer       = 64
)

// jitterFactor is the +-25% jitter applied to backoff delays.
const jitterFactor = 0.25

// jitterPrecision is the granularity for crypto/rand jitter generation.
const jitterPrecision = 1000

// jitterHalfPrecision normalizes jitter output to the range [-1, 1].
const jitterHalfPrecision = jitterPrecision / 2

// Config configures a WebSocket transport.
type Config struct {
	// URL is the WebSocket endpoint URL.
	URL string

	// Headers are sent during the handshake in addition to credential headers.
	Headers http.Header

	// Credential authenticates the handshake. Optional.
	Credential Credential

	// DialTimeout is the handshake timeout. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// WriteWait is the write deadline for each message. Defaults to DefaultWriteWait.
	WriteWait time.Duration

	// MaxMessageSize is the read limit. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// MaxRetries is the number of connection attempts made by Connect.
	// Defaults to DefaultMaxRetries.
	MaxRetries int

	// RetryBackoffBase is the initial backoff delay. Defaults to DefaultRetryBackoffBase.
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the backoff delay. Defaults to DefaultRetryBackoffMax.
	RetryBackoffMax time.Duration

	// CloseGracePeriod is the deadline for writing the close frame.
	// Defaults to DefaultCloseGracePeriod.
	CloseGracePeriod time.Duration

	// HeartbeatInterval is the ping period. Zero uses DefaultHeartbeatInterval,
	// a negative value disables pings.
	HeartbeatInterval time.Duration

	// EventBuffer is the capacity of the inbound event channel.
	// Defaults to DefaultEventBuffer.
	EventBuffer int
}

func (c *Config) defaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.WriteWait == 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffBase == 0 {
		c.RetryBackoffBase = DefaultRetryBackoffBase
	}
	if c.RetryBackoffMax == 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
}

// WebSocket is a Transport over a single WebSocket connection. It is not
// reusable: once the stream ends a new WebSocket must be created.
type WebSocket struct {
	cfg Config

	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	conn    *websocket.Conn
	started bool
	ended   bool
	closed  bool
	err     error
	closeCh chan struct{}

	events   chan protocol.ServerEvent
	readDone chan struct{}

	disconnectMu sync.Mutex
	disconnected bool
	onDisconnect []func(error)
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket creates a WebSocket transport. Call Connect to open it.
func NewWebSocket(cfg Config) *WebSocket {
	cfg.defaults()
	return &WebSocket{
		cfg:      cfg,
		closeCh:  make(chan struct{}),
		events:   make(chan protocol.ServerEvent, cfg.EventBuffer),
		readDone: make(chan struct{}),
	}
}

// Connect dials the endpoint, retrying with exponential backoff and jitter
// up to MaxRetries attempts, then starts the read loop and heartbeat.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return ErrClosed
	case w.started:
		w.mu.Unlock()
		return fmt.Errorf("transport: already connected")
	}
	w.mu.Unlock()

	ctx = logger.WithComponent(ctx, "transport")

	var lastErr error
	backoff := w.cfg.RetryBackoffBase

	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := w.dial(ctx)
		if err == nil {
			return w.start(ctx, conn)
		}
		lastErr = err

		logger.WarnContext(ctx, "connection attempt failed",
			"attempt", attempt, "maxAttempts", w.cfg.MaxRetries, "error", lastErr)

		if attempt < w.cfg.MaxRetries {
			delay := calculateBackoff(backoff, w.cfg.RetryBackoffMax)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > w.cfg.RetryBackoffMax {
				backoff = w.cfg.RetryBackoffMax
			}
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", w.cfg.MaxRetries, lastErr)
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := w.cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if w.cfg.Credential != nil {
		if err := w.cfg.Credential.Apply(ctx, headers); err != nil {
			return nil, fmt.Errorf("failed to apply %s credential: %w", w.cfg.Credential.Type(), err)
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	logger.Connection(ctx, "connecting", w.cfg.URL)

	conn, resp, err := dialer.DialContext(ctx, w.cfg.URL, headers)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
			logger.ErrorContext(ctx, "WebSocket dial failed", "error", err, "status", resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(w.cfg.MaxMessageSize)
	return conn, nil
}

func (w *WebSocket) start(ctx context.Context, conn *websocket.Conn) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	w.conn = conn
	w.started = true
	w.mu.Unlock()

	// The stream outlives the dial context.
	loopCtx := context.WithoutCancel(ctx)

	logger.Connection(ctx, "connected", w.cfg.URL)
	go w.readLoop(loopCtx, conn)
	if w.cfg.HeartbeatInterval > 0 {
		go w.heartbeatLoop(loopCtx, w.cfg.HeartbeatInterval)
	}
	return nil
}

// Events returns the inbound event stream.
func (w *WebSocket) Events() <-chan protocol.ServerEvent {
	return w.events
}

// Send JSON-encodes ev and writes it as a text frame.
func (w *WebSocket) Send(ctx context.Context, ev protocol.ClientEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	switch {
	case w.closed:
		w.mu.Unlock()
		return ErrClosed
	case w.conn == nil || w.ended:
		w.mu.Unlock()
		return ErrNotConnected
	}
	conn := w.conn
	w.mu.Unlock()

	data, err := protocol.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	start := time.Now()
	err = w.write(ctx, conn, data)
	prometheus.RecordOutboundEvent(ev.EventType(), err, time.Since(start))
	if err != nil {
		return err
	}
	logger.Event(ctx, "send", ev.EventType(), "event_id", ev.ID(), "bytes", len(data))
	return nil
}

func (w *WebSocket) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	deadline := time.Now().Add(w.cfg.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// OnDisconnect registers fn to run once when the stream ends. If the stream
// has already ended fn runs immediately.
func (w *WebSocket) OnDisconnect(fn func(err error)) {
	if fn == nil {
		return
	}
	w.disconnectMu.Lock()
	if !w.disconnected {
		w.onDisconnect = append(w.onDisconnect, fn)
		w.disconnectMu.Unlock()
		return
	}
	w.disconnectMu.Unlock()
	fn(w.Err())
}

// Err returns the terminal stream error.
func (w *WebSocket) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	var streamErr error
	defer func() { w.finish(ctx, streamErr) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			streamErr = w.classify(err)
			return
		}

		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			logger.WarnContext(ctx, "dropping malformed server event", "error", err, "bytes", len(data))
			continue
		}
		prometheus.RecordInboundEvent(ev.EventType())
		logger.Event(ctx, "recv", ev.EventType(), "bytes", len(data))

		select {
		case w.events <- ev:
		case <-w.closeCh:
			return
		}
	}
}

// classify maps a read error to the terminal stream error. Local closes and
// normal close frames end the stream gracefully.
func (w *WebSocket) classify(err error) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (w *WebSocket) finish(ctx context.Context, err error) {
	w.mu.Lock()
	w.ended = true
	w.err = err
	w.mu.Unlock()

	close(w.events)
	close(w.readDone)

	if err != nil {
		logger.Connection(ctx, "failed", w.cfg.URL, "error", err)
	} else {
		logger.Connection(ctx, "closed", w.cfg.URL)
	}
	w.fireDisconnect(err)
}

func (w *WebSocket) fireDisconnect(err error) {
	w.disconnectMu.Lock()
	if w.disconnected {
		w.disconnectMu.Unlock()
		return
	}
	w.disconnected = true
	fns := w.onDisconnect
	w.onDisconnect = nil
	w.disconnectMu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (w *WebSocket) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			return
		case <-w.readDone:
			return
		case <-ticker.C:
			if !w.sendPing(ctx) {
				return
			}
		}
	}
}

func (w *WebSocket) sendPing(ctx context.Context) bool {
	w.mu.Lock()
	if w.closed || w.ended || w.conn == nil {
		w.mu.Unlock()
		return false
	}
	conn := w.conn
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteWait)); err != nil {
		logger.WarnContext(ctx, "failed to set write deadline for ping", "error", err)
		return true // non-fatal
	}
	if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logger.WarnContext(ctx, "ping failed", "error", err)
		return false
	}
	return true
}

// Close sends a close frame, closes the socket and waits for the read loop
// to drain. The event channel is closed when Close returns.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	conn := w.conn
	started := w.started
	w.mu.Unlock()

	if !started {
		w.finish(context.Background(), nil)
		return nil
	}

	w.writeMu.Lock()
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.CloseGracePeriod))
	_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
	w.writeMu.Unlock()

	err := conn.Close()
	<-w.readDone
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// calculateBackoff computes a backoff duration with +-25% jitter, capped at maxDelay.
func calculateBackoff(base, maxDelay time.Duration) time.Duration {
	delay := float64(base)
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	n, _ := rand.Int(rand.Reader, big.NewInt(jitterPrecision))
	jitter := delay * jitterFactor * (float64(n.Int64())/jitterHalfPrecision - 1)
	result := delay + jitter
	if result < 0 {
		result = float64(base)
	}
	if result > float64(maxDelay) {
		result = float64(maxDelay)
	}
	return time.Duration(math.Max(result, 0))
}
