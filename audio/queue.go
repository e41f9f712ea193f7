package audio

import (
	"slices"
	"sync"
)

// PlaybackQueue is the FIFO of audio segments awaiting or undergoing
// playback. A segment stays queued from Push until the renderer releases
// it, so IsPlaying, which is defined as "the queue is non-empty", stays
// true while the last segment is audible.
//
// Observers are told about empty/non-empty transitions. A notification is
// never delivered after a newer one, so observers always settle on the
// current state. They run synchronously and must not mutate the queue.
type PlaybackQueue struct {
	mu        sync.Mutex
	segments  []Segment
	handedOut int
	nextSeq   uint64

	transitions uint64

	notifyMu  sync.Mutex
	delivered uint64
	observers map[int]func(playing bool)
	nextObsID int

	ready chan struct{}
}

// NewPlaybackQueue creates an empty queue.
func NewPlaybackQueue() *PlaybackQueue {
	return &PlaybackQueue{
		observers: make(map[int]func(bool)),
		ready:     make(chan struct{}, 1),
	}
}

// Push appends seg, assigning it a sequence number, and returns the stored segment.
func (q *PlaybackQueue) Push(seg Segment) Segment {
	q.mu.Lock()
	q.nextSeq++
	seg.Seq = q.nextSeq
	wasEmpty := len(q.segments) == 0
	q.segments = append(q.segments, seg)
	q.unlockAndNotify(wasEmpty)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return seg
}

// PopForRender hands the oldest segment not yet given to the renderer. The
// segment remains queued until Release is called with its Seq.
func (q *PlaybackQueue) PopForRender() (Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handedOut >= len(q.segments) {
		return Segment{}, false
	}
	seg := q.segments[q.handedOut]
	q.handedOut++
	return seg, true
}

// Release removes a rendered segment. It reports false when the segment is
// no longer queued, typically because Clear discarded it mid-render.
func (q *PlaybackQueue) Release(seq uint64) bool {
	q.mu.Lock()
	idx := -1
	for i := 0; i < q.handedOut; i++ {
		if q.segments[i].Seq == seq {
			idx = i
			break
		}
	}
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.segments = slices.Delete(q.segments, idx, idx+1)
	q.handedOut--
	q.unlockAndNotify(false)
	return true
}

// Clear discards every queued segment, including one being rendered, and
// returns them oldest first.
func (q *PlaybackQueue) Clear() []Segment {
	q.mu.Lock()
	wasEmpty := len(q.segments) == 0
	dropped := q.segments
	q.segments = nil
	q.handedOut = 0
	q.unlockAndNotify(wasEmpty)
	return dropped
}

// unlockAndNotify releases mu and, if the emptiness of the queue changed,
// notifies observers. Transitions are numbered under mu so a stale one that
// loses the race to notifyMu is skipped.
func (q *PlaybackQueue) unlockAndNotify(wasEmpty bool) {
	isEmpty := len(q.segments) == 0
	if wasEmpty == isEmpty {
		q.mu.Unlock()
		return
	}
	q.transitions++
	seq := q.transitions
	q.mu.Unlock()

	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if seq <= q.delivered {
		return
	}
	q.delivered = seq
	for _, fn := range q.observers {
		fn(!isEmpty)
	}
}

// Len returns the number of queued segments.
func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.segments)
}

// IsEmpty reports whether nothing is queued.
func (q *PlaybackQueue) IsEmpty() bool {
	return q.Len() == 0
}

// IsPlaying reports whether any segment is awaiting or undergoing playback.
func (q *PlaybackQueue) IsPlaying() bool {
	return !q.IsEmpty()
}

// Ready is signalled after Push so a renderer can wait for work.
func (q *PlaybackQueue) Ready() <-chan struct{} {
	return q.ready
}

// Observe registers fn to be called with the new playing state after every
// emptiness transition. The returned function unregisters it.
func (q *PlaybackQueue) Observe(fn func(playing bool)) (cancel func()) {
	q.notifyMu.Lock()
	id := q.nextObsID
	q.nextObsID++
	q.observers[id] = fn
	q.notifyMu.Unlock()

	return func() {
		q.notifyMu.Lock()
		delete(q.observers, id)
		q.notifyMu.Unlock()
	}
}
