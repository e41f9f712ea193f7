// Package audio moves PCM audio between local devices and the realtime
// wire format.
//
// The capture side converts device buffers on the device's real-time
// thread and hands them to an asynchronous sender without blocking. The
// playback side converts inbound audio, queues it and renders it in order,
// and can be interrupted at any point so that queued speech is discarded
// immediately.
//
// Key types:
//   - Format, Buffer and Segment describe PCM data.
//   - Converter resamples, remixes and re-encodes buffers between formats.
//   - PlaybackQueue is the FIFO whose non-emptiness defines "playing".
//   - CapturePipeline and PlaybackPipeline wire devices to the session.
//   - SimpleVAD and InterruptionHandler provide optional local barge-in.
package audio
