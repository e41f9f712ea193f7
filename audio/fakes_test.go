package audio

import (
	"context"
	"sync"
)

type fakeOutput struct {
	format Format

	mu       sync.Mutex
	written  []Buffer
	gate     chan struct{}
	flushCh  chan struct{}
	flushes  int
	starts   int
	stops    int
	startErr error
}

func newFakeOutput(f Format) *fakeOutput {
	return &fakeOutput{format: f, flushCh: make(chan struct{})}
}

func (f *fakeOutput) Format() Format { return f.format }

func (f *fakeOutput) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeOutput) Write(ctx context.Context, buf Buffer) error {
	f.mu.Lock()
	gate, flushCh := f.gate, f.flushCh
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-flushCh:
			return ErrFlushed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, buf)
	return nil
}

func (f *fakeOutput) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.flushCh)
	f.flushCh = make(chan struct{})
	f.flushes++
}

func (f *fakeOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeOutput) writtenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

type fakeCapture struct {
	format Format

	mu       sync.Mutex
	onBuffer func(Buffer)
	frames   int
	starts   int
	stops    int
	startErr error
}

func (f *fakeCapture) Format() Format { return f.format }

func (f *fakeCapture) Start(framesPerBuffer int, onBuffer func(Buffer)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.frames = framesPerBuffer
	f.onBuffer = onBuffer
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.onBuffer = nil
	return nil
}

// emit plays the role of the device thread delivering one buffer.
func (f *fakeCapture) emit(buf Buffer) bool {
	f.mu.Lock()
	fn := f.onBuffer
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(buf)
	return true
}
