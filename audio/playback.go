package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AltairaLabs/realtime-voice/logger"
	"github.com/AltairaLabs/realtime-voice/metrics/prometheus"
)

// Interruption describes what an interrupt discarded.
type Interruption struct {
	// WasPlaying reports whether anything was queued.
	WasPlaying bool
	// ItemID is the item whose audio was at the head of the queue.
	ItemID string
	// Played is how much of ItemID's audio had been rendered.
	Played time.Duration
	// Discarded is the number of segments removed from the queue.
	Discarded int
}

// PlaybackPipeline converts inbound audio to the output device format,
// queues it and renders it in order on its own goroutine.
type PlaybackPipeline struct {
	device OutputDevice
	queue  *PlaybackQueue
	conv   *Converter

	mu           sync.Mutex
	playedItem   string
	playedFrames int
	cancel       context.CancelFunc
	done         chan struct{}

	dropLog rate.Sometimes
}

// NewPlaybackPipeline builds a pipeline that accepts audio in source
// format. It fails with an error wrapping ErrConverterInitializationFailed
// when source cannot be converted to the device format.
func NewPlaybackPipeline(device OutputDevice, source Format) (*PlaybackPipeline, error) {
	conv, err := NewConverter(source, device.Format())
	if err != nil {
		return nil, err
	}
	return &PlaybackPipeline{
		device:  device,
		queue:   NewPlaybackQueue(),
		conv:    conv,
		dropLog: rate.Sometimes{Interval: time.Second},
	}, nil
}

// Queue exposes the playback queue, mainly for observing playing state.
func (p *PlaybackPipeline) Queue() *PlaybackQueue {
	return p.queue
}

// IsPlaying reports whether audio is queued or being rendered.
func (p *PlaybackPipeline) IsPlaying() bool {
	return p.queue.IsPlaying()
}

// Start starts the output device and the render loop. Starting a running
// pipeline does nothing.
func (p *PlaybackPipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	if err := p.device.Start(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.render(runCtx, p.done)
	return nil
}

// Stop discards queued audio, stops the render loop and then the device.
// It returns once the device has stopped and is safe to call repeatedly.
func (p *PlaybackPipeline) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}

	p.discard()
	cancel()
	<-done
	return p.device.Stop()
}

// Enqueue converts pcm, received in the source format for itemID, and
// queues it for playback. A buffer that fails conversion is dropped and
// logged; the error is returned for callers that care. Enqueue must not be
// called concurrently with itself.
func (p *PlaybackPipeline) Enqueue(itemID string, pcm []byte) error {
	buf, err := p.conv.Convert(Buffer{Format: p.conv.Source(), Data: pcm})
	if err != nil {
		prometheus.RecordPlaybackSegments(prometheus.PlaybackFailed, 1)
		p.dropLog.Do(func() {
			logger.Warn("dropping inbound audio: conversion failed", "item_id", itemID, "error", err)
		})
		return err
	}
	if buf.Frames() == 0 {
		return nil
	}
	p.queue.Push(Segment{ItemID: itemID, Buffer: buf})
	return nil
}

// Interrupt stops playback at once and clears the queue, so IsPlaying is
// false when it returns. The result names the item that was audible and
// how much of it had been rendered.
func (p *PlaybackPipeline) Interrupt() Interruption {
	dropped := p.discard()
	if len(dropped) == 0 {
		return Interruption{}
	}

	itemID := dropped[0].ItemID
	p.mu.Lock()
	var frames int
	if p.playedItem == itemID {
		frames = p.playedFrames
	}
	p.playedItem, p.playedFrames = "", 0
	p.mu.Unlock()

	return Interruption{
		WasPlaying: true,
		ItemID:     itemID,
		Played:     p.device.Format().Duration(frames),
		Discarded:  len(dropped),
	}
}

func (p *PlaybackPipeline) discard() []Segment {
	dropped := p.queue.Clear()
	p.device.Flush()
	prometheus.RecordPlaybackSegments(prometheus.PlaybackDiscarded, len(dropped))
	return dropped
}

func (p *PlaybackPipeline) render(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		seg, ok := p.queue.PopForRender()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.queue.Ready():
				continue
			}
		}

		err := p.device.Write(ctx, seg.Buffer)
		switch {
		case err == nil:
			if p.queue.Release(seg.Seq) {
				p.mu.Lock()
				if p.playedItem != seg.ItemID {
					p.playedItem, p.playedFrames = seg.ItemID, 0
				}
				p.playedFrames += seg.Buffer.Frames()
				p.mu.Unlock()
				prometheus.RecordPlaybackSegments(prometheus.PlaybackPlayed, 1)
			}
		case errors.Is(err, ErrFlushed), errors.Is(err, context.Canceled):
			p.queue.Release(seg.Seq)
		default:
			p.queue.Release(seg.Seq)
			prometheus.RecordPlaybackSegments(prometheus.PlaybackFailed, 1)
			p.dropLog.Do(func() {
				logger.Warn("audio output write failed", "item_id", seg.ItemID, "error", err)
			})
		}
	}
}
