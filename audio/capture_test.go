package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	bufs []Buffer
	gate chan struct{}
}

func (s *recordingSink) sink(ctx context.Context, buf Buffer) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufs = append(s.bufs, buf)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bufs)
}

func TestCapturePipeline_ConvertsToWireFormat(t *testing.T) {
	dev := &fakeCapture{format: PCM16(48000, 1)}
	rec := &recordingSink{}
	p, err := NewCapturePipeline(dev, CaptureConfig{}, rec.sink)
	require.NoError(t, err)

	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()
	assert.Equal(t, DefaultChunkFrames, dev.frames)

	require.True(t, dev.emit(Buffer{Format: dev.format, Data: make([]byte, DefaultChunkFrames*2)}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, WireFormat, rec.bufs[0].Format)
	assert.Equal(t, DefaultChunkFrames/2, rec.bufs[0].Frames())
}

func TestCapturePipeline_StartIsIdempotent(t *testing.T) {
	dev := &fakeCapture{format: WireFormat}
	p, err := NewCapturePipeline(dev, CaptureConfig{ChunkFrames: 1024}, (&recordingSink{}).sink)
	require.NoError(t, err)

	require.NoError(t, p.Start(t.Context()))
	require.NoError(t, p.Start(t.Context()))
	assert.True(t, p.IsListening())
	assert.Equal(t, 1, dev.starts)
	assert.Equal(t, 1024, dev.frames)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsListening())
	assert.False(t, dev.emit(Buffer{Format: WireFormat, Data: make([]byte, 4)}))
}

func TestCapturePipeline_StopWhenNeverStarted(t *testing.T) {
	dev := &fakeCapture{format: WireFormat}
	p, err := NewCapturePipeline(dev, CaptureConfig{}, (&recordingSink{}).sink)
	require.NoError(t, err)
	assert.NoError(t, p.Stop())
	assert.Equal(t, 0, dev.stops)
}

func TestCapturePipeline_CallbackNeverBlocks(t *testing.T) {
	dev := &fakeCapture{format: WireFormat}
	rec := &recordingSink{gate: make(chan struct{})}
	p, err := NewCapturePipeline(dev, CaptureConfig{QueueSize: 2}, rec.sink)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			dev.emit(Buffer{Format: WireFormat, Data: make([]byte, 64)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("capture callback blocked on a stalled sender")
	}

	// One buffer may be held by the stalled sink and two by the queue.
	assert.GreaterOrEqual(t, p.Dropped(), uint64(7))
	close(rec.gate)
	require.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestCapturePipeline_ConversionFailureDropsBuffer(t *testing.T) {
	dev := &fakeCapture{format: PCM16(48000, 1)}
	rec := &recordingSink{}
	p, err := NewCapturePipeline(dev, CaptureConfig{}, rec.sink)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	dev.emit(Buffer{Format: PCM16(44100, 1), Data: make([]byte, 8)})
	dev.emit(Buffer{Format: dev.format, Data: make([]byte, 8)})
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCapturePipeline_Errors(t *testing.T) {
	_, err := NewCapturePipeline(&fakeCapture{format: PCM16(48000, 2)}, CaptureConfig{Target: PCM16(24000, 4)}, nil)
	assert.ErrorIs(t, err, ErrConverterInitializationFailed)

	dev := &fakeCapture{format: WireFormat, startErr: errors.New("mic busy")}
	p, err := NewCapturePipeline(dev, CaptureConfig{}, (&recordingSink{}).sink)
	require.NoError(t, err)
	assert.EqualError(t, p.Start(t.Context()), "mic busy")
	assert.False(t, p.IsListening())
	assert.NoError(t, p.Stop())
}

func TestCapturePipeline_SameFormatDropsPartialFrame(t *testing.T) {
	dev := &fakeCapture{format: WireFormat}
	rec := &recordingSink{}
	p, err := NewCapturePipeline(dev, CaptureConfig{}, rec.sink)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	require.True(t, dev.emit(Buffer{Format: WireFormat, Data: []byte{1, 2, 3}}))
	require.True(t, dev.emit(Buffer{Format: WireFormat, Data: pcm16Frames(7, 8)}))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.bufs[0].Frames())
}

func TestCapturePipeline_DoesNotAliasDeviceBuffer(t *testing.T) {
	dev := &fakeCapture{format: WireFormat}
	gate := make(chan struct{})
	var (
		mu  sync.Mutex
		got [][]byte
	)
	sink := func(ctx context.Context, buf Buffer) {
		<-gate
		mu.Lock()
		defer mu.Unlock()
		got = append(got, append([]byte(nil), buf.Data...))
	}
	p, err := NewCapturePipeline(dev, CaptureConfig{ChunkFrames: 4, QueueSize: 8}, sink)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	// The device reuses one buffer, as a real-time driver does.
	raw := make([]byte, 8)
	for i := 0; i < 5; i++ {
		copy(raw, pcm16Frames(int16(i), int16(i), int16(i), int16(i)))
		require.True(t, dev.emit(Buffer{Format: WireFormat, Data: raw}))
	}
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, data := range got {
		assert.Equal(t, pcm16Frames(int16(i), int16(i), int16(i), int16(i)), data, "buffer %d", i)
	}
	assert.Zero(t, p.Dropped())
}
