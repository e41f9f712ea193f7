package audio

import (
	"context"
	"errors"
)

// ErrFlushed is returned by OutputDevice.Write when a pending write was
// discarded by Flush.
var ErrFlushed = errors.New("audio: output flushed")

// CaptureDevice is a microphone-like input.
type CaptureDevice interface {
	// Format is the native format of delivered buffers.
	Format() Format

	// Start begins delivering buffers of framesPerBuffer frames to onBuffer.
	// onBuffer runs on the device's real-time thread and must return quickly.
	// The device may reuse buf.Data once onBuffer returns.
	Start(framesPerBuffer int, onBuffer func(Buffer)) error

	// Stop halts delivery. onBuffer is not called after Stop returns.
	Stop() error
}

// OutputDevice is a speaker-like sink.
type OutputDevice interface {
	// Format is the format Write expects.
	Format() Format

	// Start prepares the device for playback.
	Start() error

	// Write blocks until buf has been rendered, ctx is done, or Flush
	// discards it (returning ErrFlushed).
	Write(ctx context.Context, buf Buffer) error

	// Flush stops playback immediately and discards anything not yet rendered.
	Flush()

	// Stop halts the device. It returns once the device has stopped.
	Stop() error
}
