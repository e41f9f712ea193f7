package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
)

// DefaultCaptureQueueSize bounds the hand-off between the capture callback
// and the sender.
const DefaultCaptureQueueSize = 32

// ErrNotHandlingVoice is returned when capture is started before voice
// handling has been enabled.
var ErrNotHandlingVoice = errors.New("audio: voice handling is not active")

// CaptureSink receives converted capture buffers on the sender goroutine.
// It may block on network I/O. buf.Data is reused once the sink returns.
type CaptureSink func(ctx context.Context, buf Buffer)

// CaptureConfig configures a CapturePipeline.
type CaptureConfig struct {
	// Target is the format buffers are converted to. Defaults to WireFormat.
	Target Format
	// ChunkFrames is the number of frames per device callback. Defaults to DefaultChunkFrames.
	ChunkFrames int
	// QueueSize bounds buffered, unsent audio. Defaults to DefaultCaptureQueueSize.
	QueueSize int
}

func (c *CaptureConfig) defaults() {
	if c.Target == (Format{}) {
		c.Target = WireFormat
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = DefaultChunkFrames
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultCaptureQueueSize
	}
}

// CapturePipeline converts captured device audio to the wire format and
// hands it to a sender goroutine. The device callback never blocks: when
// the sender falls behind, buffers are dropped and counted.
type CapturePipeline struct {
	device CaptureDevice
	conv   *Converter
	sink   CaptureSink
	cfg    CaptureConfig
	out    chan Buffer

	// ring holds reusable conversion outputs. Only the device thread
	// touches ring and next; a slot is handed to the sender only through out.
	ring [][]byte
	next int

	listening atomic.Bool
	dropped   atomic.Uint64
	dropLog   rate.Sometimes

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapturePipeline builds a pipeline for device. It fails with an error
// wrapping ErrConverterInitializationFailed when the device format cannot
// be converted to the target.
func NewCapturePipeline(device CaptureDevice, cfg CaptureConfig, sink CaptureSink) (*CapturePipeline, error) {
	cfg.defaults()
	conv, err := NewConverter(device.Format(), cfg.Target)
	if err != nil {
		return nil, err
	}
	// Queued buffers, the one in the sink and the one being filled.
	ring := make([][]byte, cfg.QueueSize+2)
	size := DestinationCapacity(cfg.ChunkFrames, device.Format().SampleRate, cfg.Target.SampleRate) * cfg.Target.FrameSize()
	for i := range ring {
		ring[i] = make([]byte, 0, size)
	}
	return &CapturePipeline{
		device:  device,
		conv:    conv,
		sink:    sink,
		cfg:     cfg,
		out:     make(chan Buffer, cfg.QueueSize),
		ring:    ring,
		dropLog: rate.Sometimes{Interval: time.Second},
	}, nil
}

// Start installs the capture callback and starts the sender. Starting an
// already listening pipeline does nothing.
func (p *CapturePipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listening.Load() {
		return nil
	}

	// Audio queued before a previous Stop belongs to an old turn.
	for len(p.out) > 0 {
		<-p.out
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.listening.Store(true)
	if err := p.device.Start(p.cfg.ChunkFrames, p.onCaptured); err != nil {
		p.listening.Store(false)
		cancel()
		return err
	}
	p.cancel = cancel
	p.done = done
	go p.send(runCtx, done)

	logger.DebugContext(ctx, "capture started",
		"device_format", p.device.Format().String(),
		"target_format", p.cfg.Target.String(),
		"chunk_frames", p.cfg.ChunkFrames)
	return nil
}

// Stop removes the capture callback and stops the sender. It is safe to
// call when the pipeline never started.
func (p *CapturePipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.listening.Load() {
		return nil
	}
	p.listening.Store(false)
	err := p.device.Stop()
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	return err
}

// IsListening reports whether the capture callback is installed.
func (p *CapturePipeline) IsListening() bool {
	return p.listening.Load()
}

// Dropped returns the number of buffers dropped since creation.
func (p *CapturePipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// onCaptured runs on the device thread. It converts raw into the next ring
// slot and hands it off without blocking; it never touches the network.
// A slot is only advanced past once the sender owns it.
func (p *CapturePipeline) onCaptured(raw Buffer) {
	if !p.listening.Load() {
		return
	}
	buf, err := p.conv.ConvertInto(p.ring[p.next], raw)
	if err != nil {
		prometheus.RecordCaptureBuffer(prometheus.CaptureFailed)
		p.dropLog.Do(func() {
			logger.Warn("dropping captured audio: conversion failed", "error", err)
		})
		return
	}
	p.ring[p.next] = buf.Data[:0]
	select {
	case p.out <- buf:
		p.next = (p.next + 1) % len(p.ring)
	default:
		n := p.dropped.Add(1)
		prometheus.RecordCaptureBuffer(prometheus.CaptureDropped)
		p.dropLog.Do(func() {
			logger.Warn("dropping captured audio: sender is behind", "dropped_total", n)
		})
	}
}

func (p *CapturePipeline) send(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case buf := <-p.out:
			p.sink(ctx, buf)
			prometheus.RecordCaptureBuffer(prometheus.CaptureSent)
		}
	}
}
