package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaybackPipeline_ConvertsAndPlaysInOrder(t *testing.T) {
	out := newFakeOutput(PCM16(48000, 1))
	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	require.NoError(t, p.Enqueue("item_1", pcm16Frames(make([]int16, 240)...)))
	require.NoError(t, p.Enqueue("item_1", pcm16Frames(make([]int16, 480)...)))

	require.Eventually(t, func() bool { return out.writtenCount() == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !p.IsPlaying() }, time.Second, 5*time.Millisecond)

	out.mu.Lock()
	defer out.mu.Unlock()
	assert.Equal(t, 480, out.written[0].Frames())
	assert.Equal(t, 960, out.written[1].Frames())
	assert.Equal(t, PCM16(48000, 1), out.written[0].Format)
}

func TestPlaybackPipeline_InterruptClearsImmediately(t *testing.T) {
	out := newFakeOutput(WireFormat)
	out.gate = make(chan struct{}, 1)
	out.gate <- struct{}{} // let exactly one segment through

	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	for i := 0; i < 4; i++ {
		require.NoError(t, p.Enqueue("item_1", make([]byte, 2400*2)))
	}
	require.Eventually(t, func() bool { return out.writtenCount() == 1 && p.Queue().Len() == 3 },
		time.Second, 5*time.Millisecond)
	assert.True(t, p.IsPlaying())

	res := p.Interrupt()
	assert.False(t, p.IsPlaying())
	assert.True(t, res.WasPlaying)
	assert.Equal(t, "item_1", res.ItemID)
	assert.Equal(t, 3, res.Discarded)
	assert.Equal(t, 100*time.Millisecond, res.Played)

	out.mu.Lock()
	assert.GreaterOrEqual(t, out.flushes, 1)
	out.mu.Unlock()

	again := p.Interrupt()
	assert.False(t, again.WasPlaying)
}

func TestPlaybackPipeline_PlayedResetsPerItem(t *testing.T) {
	out := newFakeOutput(WireFormat)
	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)
	require.NoError(t, p.Start(t.Context()))
	defer p.Stop()

	require.NoError(t, p.Enqueue("item_1", make([]byte, 2400*2)))
	require.Eventually(t, func() bool { return out.writtenCount() == 1 && !p.IsPlaying() }, time.Second, 5*time.Millisecond)

	out.mu.Lock()
	out.gate = make(chan struct{})
	out.mu.Unlock()
	require.NoError(t, p.Enqueue("item_2", make([]byte, 2400*2)))

	res := p.Interrupt()
	assert.Equal(t, "item_2", res.ItemID)
	assert.Zero(t, res.Played)
}

func TestPlaybackPipeline_DropsUnconvertibleAudio(t *testing.T) {
	out := newFakeOutput(WireFormat)
	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)

	err = p.Enqueue("item_1", []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrPartialFrame)
	assert.False(t, p.IsPlaying())
	assert.Zero(t, p.Queue().Len())

	assert.NoError(t, p.Enqueue("item_1", nil))
	assert.False(t, p.IsPlaying())
}

func TestPlaybackPipeline_InitFailure(t *testing.T) {
	_, err := NewPlaybackPipeline(newFakeOutput(PCM16(48000, 6)), PCM16(24000, 2))
	assert.True(t, errors.Is(err, ErrConverterInitializationFailed))
}

func TestPlaybackPipeline_StartStop(t *testing.T) {
	out := newFakeOutput(WireFormat)
	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)

	assert.NoError(t, p.Stop(), "stop before start is safe")

	require.NoError(t, p.Start(t.Context()))
	require.NoError(t, p.Start(t.Context()))
	assert.Equal(t, 1, out.starts)

	out.mu.Lock()
	out.gate = make(chan struct{})
	out.mu.Unlock()
	require.NoError(t, p.Enqueue("item_1", make([]byte, 20)))

	require.NoError(t, p.Stop())
	assert.False(t, p.IsPlaying())
	assert.Equal(t, 1, out.stops)
	assert.NoError(t, p.Stop())
	assert.Equal(t, 1, out.stops)
}

func TestPlaybackPipeline_StartError(t *testing.T) {
	out := newFakeOutput(WireFormat)
	out.startErr = errors.New("no device")
	p, err := NewPlaybackPipeline(out, WireFormat)
	require.NoError(t, err)
	assert.EqualError(t, p.Start(t.Context()), "no device")
	assert.NoError(t, p.Stop())
}
