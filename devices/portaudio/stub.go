//go:build !portaudio

package portaudio

import "github.com/AltairaLabs/realtime-voice/audio"

// Init reports ErrUnavailable.
func Init() (terminate func() error, err error) {
	return nil, ErrUnavailable
}

// ListDevices reports ErrUnavailable.
func ListDevices() ([]DeviceInfo, error) {
	return nil, ErrUnavailable
}

// OpenCapture reports ErrUnavailable.
func OpenCapture(string, int) (audio.CaptureDevice, error) {
	return nil, ErrUnavailable
}

// OpenOutput reports ErrUnavailable.
func OpenOutput(string, int, int) (audio.OutputDevice, error) {
	return nil, ErrUnavailable
}
