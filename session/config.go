package session

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/statestore"
)

// Defaults for Config.
const (
	DefaultConnectionPollInterval = 500 * time.Millisecond
	DefaultOutboundQueueSize      = 16
	DefaultPersistTimeout         = 5 * time.Second
)

// Config configures a Session. Every field is optional; a session without
// devices handles text only.
type Config struct {
	// Capture is the microphone used while voice handling is active.
	Capture audio.CaptureDevice

	// Output is the speaker used while voice handling is active.
	Output audio.OutputDevice

	// WireFormat is the audio format exchanged with the server. Defaults to
	// audio.WireFormat (24kHz mono pcm16).
	WireFormat audio.Format

	// ChunkFrames is the capture callback size. Defaults to audio.DefaultChunkFrames.
	ChunkFrames int

	// CaptureQueueSize bounds captured audio awaiting send.
	CaptureQueueSize int

	// ConnectionPollInterval is the WaitForConnection poll period.
	ConnectionPollInterval time.Duration

	// LocalVAD enables client-side voice activity detection on captured
	// audio. It requires a mono pcm16 wire format.
	LocalVAD *audio.VADParams

	// Interruption decides whether speech found by LocalVAD interrupts
	// playback. The zero value interrupts immediately; speech is tracked
	// either way.
	Interruption audio.InterruptionStrategy

	// Store, if set, receives a snapshot of the conversation whenever it changes.
	Store statestore.Store

	// StoreMetadata is attached to every stored snapshot.
	StoreMetadata map[string]string

	// PersistTimeout bounds each Store.Save call.
	PersistTimeout time.Duration

	// OutboundQueueSize bounds events the session sends on its own behalf,
	// such as truncation after a barge-in.
	OutboundQueueSize int

	// TracerProvider receives session spans. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

func (c *Config) defaults() {
	if c.WireFormat == (audio.Format{}) {
		c.WireFormat = audio.WireFormat
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = audio.DefaultChunkFrames
	}
	if c.CaptureQueueSize <= 0 {
		c.CaptureQueueSize = audio.DefaultCaptureQueueSize
	}
	if c.ConnectionPollInterval <= 0 {
		c.ConnectionPollInterval = DefaultConnectionPollInterval
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = DefaultOutboundQueueSize
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
}

func (c *Config) validate() error {
	if err := c.WireFormat.Validate(); err != nil {
		return fmt.Errorf("invalid wire format: %w", err)
	}
	if c.LocalVAD != nil {
		if err := c.LocalVAD.Validate(); err != nil {
			return fmt.Errorf("invalid local VAD: %w", err)
		}
		if c.WireFormat.Channels != 1 || c.WireFormat.Encoding != audio.EncodingPCM16 {
			return fmt.Errorf("local VAD requires mono pcm16 wire audio, got %s", c.WireFormat)
		}
	}
	return nil
}
