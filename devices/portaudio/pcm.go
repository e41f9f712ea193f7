// Package portaudio adapts PortAudio streams to audio.CaptureDevice and
// audio.OutputDevice. The device code needs cgo and is only built with the
// portaudio build tag; without it Open reports ErrUnavailable.
package portaudio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// DefaultFramesPerBuffer is 20ms at 24kHz. Flush takes effect within one
// buffer, so this bounds interruption latency on output.
const DefaultFramesPerBuffer = 480

// ErrUnavailable is returned when the binary was built without PortAudio.
var ErrUnavailable = errors.New("portaudio: support not compiled in (build with -tags portaudio)")

// ErrDeviceNotFound is returned when a named device does not exist.
var ErrDeviceNotFound = errors.New("portaudio: device not found")

// DeviceInfo describes an audio device.
type DeviceInfo struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// findDevice returns the index of the device named name that supports the
// requested direction. Matching is case-insensitive; an exact match wins
// over a prefix match.
func findDevice(devices []DeviceInfo, name string, input bool) (int, error) {
	usable := func(d DeviceInfo) bool {
		if input {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}

	prefix := -1
	for i, d := range devices {
		if !usable(d) {
			continue
		}
		if strings.EqualFold(d.Name, name) {
			return i, nil
		}
		if prefix < 0 && strings.HasPrefix(strings.ToLower(d.Name), strings.ToLower(name)) {
			prefix = i
		}
	}
	if prefix >= 0 {
		return prefix, nil
	}
	return -1, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// encodePCM16 appends samples to dst as little-endian bytes.
func encodePCM16(dst []byte, samples []int16) []byte {
	for _, s := range samples {
		//nolint:gosec // bit-preserving int16 to uint16
		dst = binary.LittleEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// decodePCM16 fills dst from little-endian bytes and zeroes the remainder.
// It returns the number of samples decoded.
func decodePCM16(dst []int16, data []byte) int {
	n := min(len(dst), len(data)/2)
	for i := 0; i < n; i++ {
		//nolint:gosec // bit-preserving uint16 to int16
		dst[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	clear(dst[n:])
	return n
}
