//go:build portaudio

package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/AltairaLabs/realtime-voice/audio"
	"github.com/AltairaLabs/realtime-voice/logger"
)

// Init initializes PortAudio. Call the returned function on exit.
func Init() (terminate func() error, err error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return pa.Terminate, nil
}

// ListDevices returns every device PortAudio knows about.
func ListDevices() ([]DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	out := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		out[i] = DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
	}
	return out, nil
}

func lookup(name string, input bool) (*pa.DeviceInfo, error) {
	if name == "" {
		if input {
			return pa.DefaultInputDevice()
		}
		return pa.DefaultOutputDevice()
	}
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	infos := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		infos[i] = DeviceInfo{Name: d.Name, MaxInputChannels: d.MaxInputChannels, MaxOutputChannels: d.MaxOutputChannels}
	}
	i, err := findDevice(infos, name, input)
	if err != nil {
		return nil, err
	}
	return devices[i], nil
}

// capture is a mono pcm16 microphone.
type capture struct {
	device *pa.DeviceInfo
	format audio.Format

	mu     sync.Mutex
	stream *pa.Stream
}

// OpenCapture selects the input device called name, or the default input
// when name is empty, capturing mono pcm16 at sampleRate.
func OpenCapture(name string, sampleRate int) (audio.CaptureDevice, error) {
	dev, err := lookup(name, true)
	if err != nil {
		return nil, err
	}
	return &capture{device: dev, format: audio.PCM16(sampleRate, 1)}, nil
}

func (c *capture) Format() audio.Format { return c.format }

func (c *capture) Start(framesPerBuffer int, onBuffer func(audio.Buffer)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}

	params := pa.LowLatencyParameters(c.device, nil)
	params.Input.Channels = c.format.Channels
	params.SampleRate = float64(c.format.SampleRate)
	params.FramesPerBuffer = framesPerBuffer

	format := c.format
	scratch := make([]byte, 0, framesPerBuffer*format.FrameSize())
	stream, err := pa.OpenStream(params, func(in []int16) {
		scratch = encodePCM16(scratch[:0], in)
		onBuffer(audio.Buffer{Format: format, Data: scratch})
	})
	if err != nil {
		return fmt.Errorf("failed to open input stream on %s: %w", c.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	c.stream = stream
	logger.Debug("portaudio capture started", "device", c.device.Name, "format", format.String())
	return nil
}

// Stop waits for any running callback, so onBuffer is not called after it returns.
func (c *capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil
	return errors.Join(stream.Stop(), stream.Close())
}

// output is a blocking-write speaker.
type output struct {
	device *pa.DeviceInfo
	format audio.Format

	mu     sync.Mutex
	stream *pa.Stream
	buf    []int16

	flushes atomic.Uint64
}

// OpenOutput selects the output device called name, or the default output
// when name is empty, playing mono pcm16 at sampleRate. Writes are issued
// in blocks of framesPerBuffer frames.
func OpenOutput(name string, sampleRate, framesPerBuffer int) (audio.OutputDevice, error) {
	dev, err := lookup(name, false)
	if err != nil {
		return nil, err
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &output{
		device: dev,
		format: audio.PCM16(sampleRate, 1),
		buf:    make([]int16, framesPerBuffer),
	}, nil
}

func (o *output) Format() audio.Format { return o.format }

func (o *output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream != nil {
		return nil
	}

	params := pa.LowLatencyParameters(nil, o.device)
	params.Output.Channels = o.format.Channels
	params.SampleRate = float64(o.format.SampleRate)
	params.FramesPerBuffer = len(o.buf)

	stream, err := pa.OpenStream(params, o.buf)
	if err != nil {
		return fmt.Errorf("failed to open output stream on %s: %w", o.device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	o.stream = stream
	logger.Debug("portaudio output started", "device", o.device.Name, "format", o.format.String())
	return nil
}

// Write plays buf one block at a time, checking for a flush between blocks.
// The final block is padded with silence.
func (o *output) Write(ctx context.Context, buf audio.Buffer) error {
	gen := o.flushes.Load()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return errors.New("portaudio: output not started")
	}

	data := buf.Data
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.flushes.Load() != gen {
			return audio.ErrFlushed
		}
		n := decodePCM16(o.buf, data)
		data = data[n*2:]
		if n == 0 {
			break
		}
		if err := o.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}
	return nil
}

// Flush makes the pending Write return ErrFlushed at its next block.
func (o *output) Flush() {
	o.flushes.Add(1)
}

func (o *output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stream == nil {
		return nil
	}
	stream := o.stream
	o.stream = nil
	return errors.Join(stream.Stop(), stream.Close())
}
