package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrConverterInitializationFailed is returned when no conversion exists
	// between two formats.
	ErrConverterInitializationFailed = errors.New("audio: converter initialization failed")

	// ErrFormatMismatch is returned when a buffer does not match the
	// converter's source format.
	ErrFormatMismatch = errors.New("audio: buffer format does not match converter source")

	// ErrPartialFrame is returned when buffer data is not a whole number of frames.
	ErrPartialFrame = errors.New("audio: buffer holds a partial frame")
)

const pcm16Scale = 32768.0

// ConversionError explains why a converter could not be built.
type ConversionError struct {
	Src    Format
	Dst    Format
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("audio: cannot convert %s to %s: %s", e.Src, e.Dst, e.Reason)
}

// Unwrap makes ConversionError match ErrConverterInitializationFailed.
func (e *ConversionError) Unwrap() error {
	return ErrConverterInitializationFailed
}

// Converter converts buffers from one Format to another. It resamples with
// linear interpolation, maps mono to N channels by duplication and N
// channels to mono by averaging, and converts between PCM16 and Float32.
//
// A Converter reuses internal scratch space and is not safe for concurrent
// use; give each audio direction its own.
type Converter struct {
	src, dst Format

	decoded []float64
	mixed   []float64
	sampled []float64
}

// NewConverter negotiates a conversion from src to dst. It returns an error
// wrapping ErrConverterInitializationFailed when either format is invalid
// or the channel layouts cannot be mapped.
func NewConverter(src, dst Format) (*Converter, error) {
	if err := src.Validate(); err != nil {
		return nil, &ConversionError{Src: src, Dst: dst, Reason: "source: " + err.Error()}
	}
	if err := dst.Validate(); err != nil {
		return nil, &ConversionError{Src: src, Dst: dst, Reason: "target: " + err.Error()}
	}
	if src.Channels != dst.Channels && src.Channels != 1 && dst.Channels != 1 {
		return nil, &ConversionError{
			Src:    src,
			Dst:    dst,
			Reason: fmt.Sprintf("no channel mapping from %d to %d", src.Channels, dst.Channels),
		}
	}
	return &Converter{src: src, dst: dst}, nil
}

// Source returns the format the converter accepts.
func (c *Converter) Source() Format { return c.src }

// Target returns the format the converter produces.
func (c *Converter) Target() Format { return c.dst }

// Convert converts in to the target format. When source and target are
// equal the input buffer is returned unchanged without copying.
func (c *Converter) Convert(in Buffer) (Buffer, error) {
	if err := c.check(in); err != nil {
		return Buffer{}, err
	}
	if c.src == c.dst {
		return in, nil
	}
	return c.convert(nil, in), nil
}

// ConvertInto is Convert writing into dst when it has room, so callers on
// a real-time thread can reuse output buffers. The result never aliases
// in.Data, even when source and target are equal.
func (c *Converter) ConvertInto(dst []byte, in Buffer) (Buffer, error) {
	if err := c.check(in); err != nil {
		return Buffer{}, err
	}
	if c.src == c.dst {
		return Buffer{Format: c.dst, Data: append(dst[:0], in.Data...)}, nil
	}
	return c.convert(dst, in), nil
}

func (c *Converter) check(in Buffer) error {
	if in.Format != c.src {
		return fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, in.Format, c.src)
	}
	if len(in.Data)%c.src.FrameSize() != 0 {
		return fmt.Errorf("%w: %d bytes at %d bytes per frame", ErrPartialFrame, len(in.Data), c.src.FrameSize())
	}
	return nil
}

func (c *Converter) convert(dst []byte, in Buffer) Buffer {
	frames := in.Frames()
	if frames == 0 {
		if dst == nil {
			dst = []byte{}
		}
		return Buffer{Format: c.dst, Data: dst[:0]}
	}

	c.decoded = decode(grow(c.decoded, frames*c.src.Channels), in.Data, c.src.Encoding)
	samples := c.decoded

	if c.src.Channels != c.dst.Channels {
		c.mixed = remix(grow(c.mixed, frames*c.dst.Channels), samples, c.src.Channels, c.dst.Channels)
		samples = c.mixed
	}

	outFrames := frames
	if c.src.SampleRate != c.dst.SampleRate {
		outFrames = destinationFrames(frames, c.src.SampleRate, c.dst.SampleRate)
		c.sampled = grow(c.sampled, outFrames*c.dst.Channels)
		resampleLinear(c.sampled, samples, c.dst.Channels, c.src.SampleRate, c.dst.SampleRate, outFrames)
		samples = c.sampled
	}

	n := outFrames * c.dst.FrameSize()
	var out []byte
	if cap(dst) >= n {
		out = dst[:n]
	} else {
		capacity := DestinationCapacity(frames, c.src.SampleRate, c.dst.SampleRate)
		out = make([]byte, n, capacity*c.dst.FrameSize())
	}
	encode(out, samples, c.dst.Encoding)
	return Buffer{Format: c.dst, Data: out}
}

// Convert converts in to target with a single-use converter.
func Convert(in Buffer, target Format) (Buffer, error) {
	c, err := NewConverter(in.Format, target)
	if err != nil {
		return Buffer{}, err
	}
	return c.Convert(in)
}

func grow(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

func decode(dst []float64, data []byte, enc Encoding) []float64 {
	switch enc {
	case EncodingPCM16:
		for i := range dst {
			//nolint:gosec // PCM16 samples use the full int16 range
			dst[i] = float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / pcm16Scale
		}
	case EncodingFloat32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return dst
}

func encode(dst []byte, samples []float64, enc Encoding) {
	switch enc {
	case EncodingPCM16:
		for i, v := range samples {
			s := math.Round(v * pcm16Scale)
			if s > math.MaxInt16 {
				s = math.MaxInt16
			} else if s < math.MinInt16 {
				s = math.MinInt16
			}
			//nolint:gosec // clamped to int16 range above
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(s)))
		}
	case EncodingFloat32:
		for i, v := range samples {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(float32(v)))
		}
	}
}

// remix maps interleaved samples from srcCh to dstCh channels. One side is
// always mono; NewConverter rejects anything else.
func remix(dst, src []float64, srcCh, dstCh int) []float64 {
	frames := len(src) / srcCh
	switch {
	case srcCh == 1:
		for f := 0; f < frames; f++ {
			for ch := 0; ch < dstCh; ch++ {
				dst[f*dstCh+ch] = src[f]
			}
		}
	case dstCh == 1:
		for f := 0; f < frames; f++ {
			var sum float64
			for ch := 0; ch < srcCh; ch++ {
				sum += src[f*srcCh+ch]
			}
			dst[f] = sum / float64(srcCh)
		}
	}
	return dst
}
