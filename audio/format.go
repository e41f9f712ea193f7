package audio

import (
	"errors"
	"fmt"
	"time"
)

// Standard sample rates.
const (
	SampleRate16kHz = 16000
	SampleRate24kHz = 24000
	SampleRate44kHz = 44100
	SampleRate48kHz = 48000
)

// DefaultChunkFrames is the number of frames requested per capture callback.
const DefaultChunkFrames = 4096

const maxChannels = 8

// Encoding is the sample encoding of interleaved PCM data.
type Encoding int

const (
	// EncodingPCM16 is signed 16-bit little-endian PCM.
	EncodingPCM16 Encoding = iota + 1
	// EncodingFloat32 is 32-bit little-endian IEEE float PCM in [-1, 1].
	EncodingFloat32
)

// BytesPerSample returns the size of one sample, or 0 for unknown encodings.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCM16:
		return 2
	case EncodingFloat32:
		return 4
	default:
		return 0
	}
}

// String returns a human-readable representation of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// WireFormat is the audio format exchanged with the realtime service:
// 24 kHz mono PCM16.
var WireFormat = Format{SampleRate: SampleRate24kHz, Channels: 1, Encoding: EncodingPCM16}

// PCM16 returns a PCM16 format.
func PCM16(sampleRate, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, Encoding: EncodingPCM16}
}

// Float32 returns a Float32 format.
func Float32(sampleRate, channels int) Format {
	return Format{SampleRate: sampleRate, Channels: channels, Encoding: EncodingFloat32}
}

// ErrInvalidFormat is returned by Format.Validate.
var ErrInvalidFormat = errors.New("audio: invalid format")

// Validate checks that f describes audio this package can process.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	}
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: encoding %d", ErrInvalidFormat, int(f.Encoding))
	}
	return nil
}

// FrameSize is the number of bytes in one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// Duration returns the playback time of frames frames.
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// String renders f as e.g. "24000Hz/1ch/pcm16".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// Buffer is a block of interleaved PCM frames. Ownership of Data moves with
// the Buffer; receivers may keep it.
type Buffer struct {
	Format Format
	Data   []byte
}

// Frames returns the number of whole frames in b.
func (b Buffer) Frames() int {
	fs := b.Format.FrameSize()
	if fs == 0 {
		return 0
	}
	return len(b.Data) / fs
}

// Duration returns the playback time of b.
func (b Buffer) Duration() time.Duration {
	return b.Format.Duration(b.Frames())
}

// Segment is a unit of queued playback audio. ItemID names the
// conversation item the audio belongs to.
type Segment struct {
	Seq    uint64
	ItemID string
	Buffer Buffer
}
